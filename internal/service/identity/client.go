package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Profile is the slice of the identity collaborator the runtime needs: a
// display name resolved once at session creation and not touched again
// during the run.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Client talks to the external identity/profile collaborator.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient builds the client; a nil client is valid and resolves every user
// to an empty display name (handlers treat identity as best-effort).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Lookup resolves a user profile by id.
func (c *Client) Lookup(ctx context.Context, userID string) (Profile, error) {
	endpoint := c.baseURL + "/v1/profiles/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build profile request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("profile lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Profile{}, fmt.Errorf("profile %q not found", userID)
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("profile lookup returned status %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("decode profile response: %w", err)
	}
	return profile, nil
}
