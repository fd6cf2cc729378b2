// Package validation talks to the external credential validation service. The
// service is a black box: it answers pass/fail plus advisory warnings and is
// never consulted again once a deployment is underway.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Request carries the credentials to validate
type Request struct {
	Cloud       string            `json:"cloud"`
	Credentials map[string]string `json:"credentials"`
	Region      string            `json:"region,omitempty"`
}

// Result is the validation outcome
type Result struct {
	Valid    bool     `json:"valid"`
	Message  string   `json:"message,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Client is a thin HTTP wrapper around the validation service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a validation client
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "validation").Logger(),
	}
}

// ValidateCredentials checks the credentials against the validation service
func (c *Client) ValidateCredentials(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal validation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build validation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("validation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("validation service returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode validation response: %w", err)
	}

	c.logger.Info().
		Str("cloud", req.Cloud).
		Bool("valid", result.Valid).
		Int("warnings", len(result.Warnings)).
		Msg("Credentials validated")

	return &result, nil
}
