package creds

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// urlWriter captures the consent URL that Obtain prints.
type urlWriter chan string

func (w urlWriter) Write(p []byte) (int, error) {
	w <- string(p)
	return len(p), nil
}

func TestLocalConsent_Obtain(t *testing.T) {
	t.Parallel()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		if got := r.FormValue("code"); got != "test-auth-code" {
			t.Errorf("code: got %q, want %q", got, "test-auth-code")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "consent-access-token",
			"refresh_token": "consent-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer tokenSrv.Close()

	printed := make(urlWriter, 1)
	lc := &LocalConsent{
		cfg: &oauth2.Config{
			ClientID:     "test-client",
			ClientSecret: "test-secret",
			Endpoint: oauth2.Endpoint{
				AuthURL:  "http://auth.invalid/consent",
				TokenURL: tokenSrv.URL,
			},
		},
		out: printed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type result struct {
		tok *oauth2.Token
		err error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := lc.Obtain(ctx)
		done <- result{tok, err}
	}()

	// Parse the redirect target and state out of the printed consent URL,
	// then play the role of the browser redirect.
	var output string
	select {
	case output = <-printed:
	case <-ctx.Done():
		t.Fatal("Obtain never printed the consent URL")
	}

	line := output[strings.Index(output, "http://auth.invalid"):]
	authURL, err := url.Parse(strings.TrimSpace(line))
	if err != nil {
		t.Fatalf("failed to parse printed consent URL: %v", err)
	}
	redirect := authURL.Query().Get("redirect_uri")
	state := authURL.Query().Get("state")
	if redirect == "" || state == "" {
		t.Fatalf("consent URL missing redirect_uri or state: %s", authURL)
	}

	resp, err := http.Get(redirect + "?state=" + url.QueryEscape(state) + "&code=test-auth-code")
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("callback status: got %d, want %d", resp.StatusCode, http.StatusOK)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Obtain: unexpected error: %v", res.err)
	}
	if res.tok.AccessToken != "consent-access-token" {
		t.Errorf("access token: got %q, want %q", res.tok.AccessToken, "consent-access-token")
	}
	if res.tok.RefreshToken != "consent-refresh-token" {
		t.Errorf("refresh token: got %q, want %q", res.tok.RefreshToken, "consent-refresh-token")
	}
}

func TestLocalConsent_StateMismatchFails(t *testing.T) {
	t.Parallel()

	printed := make(urlWriter, 1)
	lc := &LocalConsent{
		cfg: &oauth2.Config{
			ClientID: "test-client",
			Endpoint: oauth2.Endpoint{
				AuthURL:  "http://auth.invalid/consent",
				TokenURL: "http://unused.invalid/token",
			},
		},
		out: printed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := lc.Obtain(ctx)
		done <- err
	}()

	output := <-printed
	line := output[strings.Index(output, "http://auth.invalid"):]
	authURL, err := url.Parse(strings.TrimSpace(line))
	if err != nil {
		t.Fatalf("failed to parse printed consent URL: %v", err)
	}
	redirect := authURL.Query().Get("redirect_uri")

	resp, err := http.Get(redirect + "?state=forged&code=whatever")
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("callback status: got %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	if err := <-done; err == nil {
		t.Fatal("expected error on state mismatch, got nil")
	}
}

func TestLocalConsent_ContextCancelUnblocks(t *testing.T) {
	t.Parallel()

	printed := make(urlWriter, 1)
	lc := &LocalConsent{
		cfg: &oauth2.Config{
			ClientID: "test-client",
			Endpoint: oauth2.Endpoint{
				AuthURL:  "http://auth.invalid/consent",
				TokenURL: "http://unused.invalid/token",
			},
		},
		out: printed,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := lc.Obtain(ctx)
		done <- err
	}()

	<-printed // flow is up and waiting
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error, got nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Obtain did not return after context cancellation")
	}
}
