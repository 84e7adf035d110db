package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Credential is a short-lived, scope-limited token authorizing a single
// session's connection to the voice-model provider.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the credential can no longer authorize a dial.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Issuer obtains session-scoped credentials from the external issuance
// collaborator.
type Issuer interface {
	Issue(ctx context.Context, sessionID, scope string) (Credential, error)
}

// HTTPIssuer is the production issuer client.
type HTTPIssuer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPIssuer builds an issuer against the collaborator's base URL.
func NewHTTPIssuer(baseURL string, timeout time.Duration) *HTTPIssuer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPIssuer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type issueRequest struct {
	SessionID string `json:"sessionId"`
	Scope     string `json:"scope"`
}

// Issue requests a fresh ephemeral credential. Any failure maps to
// ErrCredentialUnavailable: the caller aborts session start rather than
// retrying here.
func (i *HTTPIssuer) Issue(ctx context.Context, sessionID, scope string) (Credential, error) {
	payload, err := json.Marshal(issueRequest{SessionID: sessionID, Scope: scope})
	if err != nil {
		return Credential{}, fmt.Errorf("marshal issue request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/v1/credentials", bytes.NewReader(payload))
	if err != nil {
		return Credential{}, fmt.Errorf("build issue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Credential{}, fmt.Errorf("%w: issuer returned status %d", ErrCredentialUnavailable, resp.StatusCode)
	}

	var cred Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return Credential{}, fmt.Errorf("%w: decode response: %v", ErrCredentialUnavailable, err)
	}
	if cred.Token == "" {
		return Credential{}, fmt.Errorf("%w: issuer returned empty token", ErrCredentialUnavailable)
	}
	return cred, nil
}
