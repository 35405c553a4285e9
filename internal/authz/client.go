package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the authorization microservice that owns role and
// campus policy. It implements Authorizer.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip short-circuits every check to "allowed" for local
	// development without the authorization service.
	Skip bool
}

// New creates a client. Authorization checks sit on the hot check-in
// path, so the timeout is short.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

// CanAccessPerson asks whether the current principal may check in the
// given person.
func (c *Client) CanAccessPerson(ctx context.Context, personID string) (bool, error) {
	if personID == "" {
		return false, nil
	}
	return c.check(ctx, "/access/person", map[string]string{"person_id": personID})
}

// CanAccessLocation asks whether the current principal may operate
// the given location.
func (c *Client) CanAccessLocation(ctx context.Context, locationID string) (bool, error) {
	if locationID == "" {
		return false, nil
	}
	return c.check(ctx, "/access/location", map[string]string{"location_id": locationID})
}

func (c *Client) check(ctx context.Context, path string, payload map[string]string) (bool, error) {
	if c.Skip {
		return true, nil
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("authz service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("authz service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Allowed, nil
}

// Health checks if the authorization service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("authz service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("authz service unhealthy: %s", resp.Status)
	}
	return nil
}
