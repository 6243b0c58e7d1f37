package creds

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"golang.org/x/oauth2"
)

// LocalConsent completes the OAuth2 authorization-code flow by printing the
// consent URL, listening on a localhost callback, and blocking until the
// browser redirect delivers the authorization code. The wait is bounded only
// by the context; the operator completes or aborts the flow externally.
type LocalConsent struct {
	cfg *oauth2.Config
	out io.Writer
}

// NewLocalConsent creates a consent completer that prints the consent URL to
// stdout.
func NewLocalConsent(cfg *oauth2.Config) *LocalConsent {
	return &LocalConsent{cfg: cfg, out: os.Stdout}
}

// Obtain runs one consent round trip and exchanges the received code for a
// token. The callback listener binds an ephemeral localhost port so the
// redirect URL never collides with another process.
func (l *LocalConsent) Obtain(ctx context.Context) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to open callback listener: %w", err)
	}
	defer ln.Close()

	// The redirect URL depends on the ephemeral port, so the config is
	// copied per flow rather than mutated.
	cfg := *l.cfg
	cfg.RedirectURL = fmt.Sprintf("http://%s/callback", ln.Addr().String())

	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state parameter: %w", err)
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback" {
			http.NotFound(w, r)
			return
		}
		if r.FormValue("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errCh <- fmt.Errorf("consent callback state mismatch")
			return
		}
		code := r.FormValue("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- fmt.Errorf("consent callback carried no authorization code")
			return
		}
		fmt.Fprintln(w, "Authorization received. You can close this tab.")
		codeCh <- code
	})}
	go srv.Serve(ln)
	defer srv.Close()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Fprintf(l.out, "Open the following URL in your browser to authorize access:\n%s\n", authURL)

	select {
	case code := <-codeCh:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// randomState returns an unguessable state parameter for one consent flow.
func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
