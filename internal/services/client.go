// Package services implements HTTP clients for the two external
// collaborators: the annotation service that reads receipt files and
// the matching service that proposes movement/receipt pairs. Both
// clients speak JSON over POST, carry binary payloads as base64, and
// translate every failure mode into a transport error.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// ClientConfig holds configuration shared by the collaborator clients
type ClientConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultClientConfig returns a configuration with sensible defaults
func DefaultClientConfig(baseURL string) *ClientConfig {
	return &ClientConfig{
		BaseURL: baseURL,
		Timeout: 60 * time.Second,
	}
}

// Validate validates the client configuration
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "base_url", nil)
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "base_url", err)
	}
	if c.Timeout <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "timeout", nil)
	}
	return nil
}

// httpClient is the shared request machinery for both collaborators
type httpClient struct {
	config *ClientConfig
	client *http.Client
	logger logger.Logger
}

func newHTTPClient(config *ClientConfig, component string) (*httpClient, error) {
	if config == nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, component, nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &httpClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.GetGlobalLogger().WithComponent(component),
	}, nil
}

// postJSON sends the request body and decodes the response into out.
// Network failures, timeouts, non-2xx statuses and undecodable bodies
// all surface as transport errors against the endpoint.
func (hc *httpClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	endpoint := strings.TrimRight(hc.config.BaseURL, "/") + path

	encoded, err := json.Marshal(body)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "request encoding", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return errors.TransportError(errors.CodeConnectionFailed, endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := hc.client.Do(req)
	if err != nil {
		return hc.transportError(endpoint, err)
	}
	defer resp.Body.Close()

	hc.logger.WithFields(logger.Fields{
		"endpoint": endpoint,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("Collaborator call finished")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.TransportError(errors.CodeBadResponse, endpoint,
			fmt.Errorf("unexpected status %d", resp.StatusCode)).
			WithContext("status", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return hc.transportError(endpoint, err)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return errors.TransportError(errors.CodeBadResponse, endpoint, err)
	}

	return nil
}

func (hc *httpClient) transportError(endpoint string, err error) *errors.ReconcilerError {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.TransportError(errors.CodeTimeout, endpoint, err)
	}
	if ctxErr := contextCause(err); ctxErr != nil {
		return errors.TransportError(errors.CodeTimeout, endpoint, err)
	}
	return errors.TransportError(errors.CodeConnectionFailed, endpoint, err)
}

func contextCause(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	if stderrors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return nil
}
