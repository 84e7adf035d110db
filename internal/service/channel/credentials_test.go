package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPIssuerIssuesCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/credentials" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req issueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.SessionID != "s1" || req.Scope != "voice-session" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(Credential{
			Token:     "ephemeral-token",
			ExpiresAt: time.Now().Add(time.Minute).UTC(),
		})
	}))
	defer server.Close()

	issuer := NewHTTPIssuer(server.URL, time.Second)
	cred, err := issuer.Issue(context.Background(), "s1", "voice-session")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if cred.Token != "ephemeral-token" {
		t.Fatalf("token = %q", cred.Token)
	}
	if cred.Expired(time.Now()) {
		t.Fatal("fresh credential reports expired")
	}
}

func TestHTTPIssuerMapsFailuresToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer server.Close()

	issuer := NewHTTPIssuer(server.URL, time.Second)
	if _, err := issuer.Issue(context.Background(), "s1", "voice-session"); !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("err = %v, want ErrCredentialUnavailable", err)
	}
}

func TestHTTPIssuerRejectsEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Credential{})
	}))
	defer server.Close()

	issuer := NewHTTPIssuer(server.URL, time.Second)
	if _, err := issuer.Issue(context.Background(), "s1", "voice-session"); !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("err = %v, want ErrCredentialUnavailable", err)
	}
}

func TestCredentialExpiry(t *testing.T) {
	now := time.Now()
	cred := Credential{Token: "t", ExpiresAt: now.Add(time.Minute)}
	if cred.Expired(now) {
		t.Fatal("credential expired before its deadline")
	}
	if !cred.Expired(now.Add(2 * time.Minute)) {
		t.Fatal("credential still valid past its deadline")
	}

	// No deadline means the issuer manages revocation out of band.
	if (Credential{Token: "t"}).Expired(now) {
		t.Fatal("credential without deadline reports expired")
	}
}
