package eligibility

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lv-restrict/internal/httputil"
	"lv-restrict/internal/restriction"
)

const (
	EligibilityPath = "/v1/withdrawal/eligibility"
	SettingsPath    = "/v1/restrictions/settings"
)

// Sources fetches the two views the aggregator merges.
type Sources interface {
	Eligibility(ctx context.Context) (restriction.EligibilityView, error)
	Settings(ctx context.Context) (restriction.SettingsView, error)
}

// HTTPSources reads both views from the API with a bearer token.
type HTTPSources struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSources(baseURL, token string, client *http.Client) *HTTPSources {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSources{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (s *HTTPSources) Eligibility(ctx context.Context) (restriction.EligibilityView, error) {
	var v restriction.EligibilityView
	err := s.get(ctx, EligibilityPath, &v)
	return v, err
}

func (s *HTTPSources) Settings(ctx context.Context) (restriction.SettingsView, error) {
	var v restriction.SettingsView
	err := s.get(ctx, SettingsPath, &v)
	return v, err
}

func (s *HTTPSources) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var e httputil.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("get %s: %d %s", path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
