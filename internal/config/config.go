package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string
	DBDSN           string
	JWTIssuer       string
	JWTSecret       string
	JWTTTL          time.Duration
	InternalToken   string
	WebSocketOrigin string
	ProfectMode     string
	LogLevel        string
	AutoMigrate     bool
	RedisAddr       string
	RedisPassword   string
	RelayChannel    string
	KafkaBrokers    []string
	KafkaAuditTopic string
	MessagesFile    string
	WSWriteTimeout  time.Duration
	WSHandshakeWait time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment values win.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		c.JWTTTL = 24 * time.Hour
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		missing = append(missing, "WS_ORIGIN")
	}
	c.ProfectMode = strings.ToLower(strings.TrimSpace(os.Getenv("PROFECT_MODE")))
	if c.ProfectMode == "" {
		c.ProfectMode = "development"
	}
	if c.ProfectMode != "development" && c.ProfectMode != "production" {
		return c, errors.New("invalid PROFECT_MODE: use development or production")
	}
	c.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))

	autoMigrate := os.Getenv("AUTO_MIGRATE")
	if autoMigrate == "" {
		c.AutoMigrate = c.ProfectMode == "development"
	} else {
		b, err := strconv.ParseBool(autoMigrate)
		if err != nil {
			return c, errors.New("invalid AUTO_MIGRATE")
		}
		c.AutoMigrate = b
	}

	c.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	c.RelayChannel = strings.TrimSpace(os.Getenv("RESTRICTION_RELAY_CHANNEL"))
	if c.RelayChannel == "" {
		c.RelayChannel = "restriction_events"
	}
	c.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	c.KafkaAuditTopic = strings.TrimSpace(os.Getenv("KAFKA_AUDIT_TOPIC"))
	if c.KafkaAuditTopic == "" {
		c.KafkaAuditTopic = "restriction.audit"
	}
	c.MessagesFile = strings.TrimSpace(os.Getenv("RESTRICTION_MESSAGES_FILE"))

	var err error
	if c.WSWriteTimeout, err = durationOr("WS_WRITE_TIMEOUT", 10*time.Second); err != nil {
		return c, err
	}
	if c.WSHandshakeWait, err = durationOr("WS_HANDSHAKE_TIMEOUT", 10*time.Second); err != nil {
		return c, err
	}
	if c.ShutdownTimeout, err = durationOr("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return c, err
	}

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	if d <= 0 {
		return 0, errors.New(key + " must be positive")
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(item); v != "" {
			out = append(out, v)
		}
	}
	return out
}
