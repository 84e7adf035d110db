package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type synthRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type synthResponse struct {
	AudioData string `json:"audioData"`
	Format    string `json:"format,omitempty"`
}

// Synthesize renders agent text to audio through the provider's
// request/response endpoint. It sits outside the streaming state machine:
// failure degrades the turn to text-only instead of failing the session.
func (a *Adapter) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("synthesis text is empty")
	}

	payload, err := json.Marshal(synthRequest{Text: text, Voice: voiceID})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.SynthURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesis returned status %d", resp.StatusCode)
	}

	var body synthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode synthesis response: %w", err)
	}
	if body.AudioData == "" {
		return nil, fmt.Errorf("synthesis returned empty audio")
	}

	audio, err := base64.StdEncoding.DecodeString(body.AudioData)
	if err != nil {
		return nil, fmt.Errorf("decode synthesis audio: %w", err)
	}
	return audio, nil
}
