package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Service signs and verifies user session tokens. Account creation and login
// live in the identity service; this side only consumes the tokens.
type Service struct {
	issuer string
	secret []byte
	ttl    time.Duration
}

func NewService(issuer string, secret []byte, ttl time.Duration) *Service {
	return &Service{issuer: issuer, secret: secret, ttl: ttl}
}

func (s *Service) Sign(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user_id is required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

// ParseToken returns the user id carried in a valid token.
func (s *Service) ParseToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Issuer != s.issuer || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// SubjectUnverified reads the user id from a token without checking its
// signature. Clients use it to know whose updates to accept; the server
// still verifies every token it receives.
func SubjectUnverified(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
