// Package creds owns the access-token lifecycle: it loads the on-disk token
// cache, refreshes expired tokens, falls back to interactive consent, and
// persists the result. It is the only writer of the token cache file.
package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// tokenExpiryBuffer is the time before actual expiry when a cached token is
// treated as expired, so a token does not run out mid-request.
const tokenExpiryBuffer = 5 * time.Minute

// CredentialError reports that no usable credential could be produced.
// It is fatal to the run: nothing downstream can execute without auth.
type CredentialError struct {
	Msg string
	Err error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("credential error: %s", e.Msg)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// ConsentCompleter completes an interactive consent flow and returns the
// granted token. The real implementation blocks on an out-of-band browser
// approval; tests substitute a fake that returns instantly.
type ConsentCompleter interface {
	Obtain(ctx context.Context) (*oauth2.Token, error)
}

// mode is the auth variant, resolved once at construction.
type mode int

const (
	interactiveConsent mode = iota
	serviceIdentity
)

// Store produces valid, non-expired tokens for the current run, hiding the
// difference between first-use interactive consent and silent reuse.
type Store struct {
	mode      mode
	tokenPath string
	oauth     *oauth2.Config // interactive mode
	jwt       *jwt.Config    // service-identity mode
	consent   ConsentCompleter
	now       func() time.Time
}

// ParseClientFile reads an OAuth client secrets file (as downloaded from the
// provider console) into an oauth2.Config for the given scopes.
func ParseClientFile(path string, scopes ...string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &CredentialError{Msg: fmt.Sprintf("failed to read OAuth client file %s", path), Err: err}
	}
	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, &CredentialError{Msg: "failed to parse OAuth client file", Err: err}
	}
	return cfg, nil
}

// NewInteractive creates a Store for the interactive-consent variant. The
// consent completer may be nil in non-interactive environments, in which
// case Acquire fails once the cached token can no longer be used.
func NewInteractive(cfg *oauth2.Config, tokenPath string, consent ConsentCompleter) *Store {
	return &Store{
		mode:      interactiveConsent,
		tokenPath: tokenPath,
		oauth:     cfg,
		consent:   consent,
		now:       time.Now,
	}
}

// NewServiceIdentity creates a Store for the service-identity variant: a
// service-account key is exchanged for tokens, optionally impersonating the
// given subject. No token cache file and no interactive path are involved.
func NewServiceIdentity(keyJSON []byte, subject string, scopes ...string) (*Store, error) {
	cfg, err := google.JWTConfigFromJSON(keyJSON, scopes...)
	if err != nil {
		return nil, &CredentialError{Msg: "failed to parse service account key", Err: err}
	}
	cfg.Subject = subject
	return &Store{
		mode: serviceIdentity,
		jwt:  cfg,
		now:  time.Now,
	}, nil
}

// Acquire returns a valid token. For the interactive variant: a cached,
// non-expired token is reused; an expired token with a refresh token is
// refreshed and re-persisted; a failed refresh deletes the stale cache and
// falls through to interactive consent; no cache at all goes straight to
// consent. All failures are reported as CredentialError.
func (s *Store) Acquire(ctx context.Context) (*oauth2.Token, error) {
	if s.mode == serviceIdentity {
		tok, err := s.jwt.TokenSource(ctx).Token()
		if err != nil {
			return nil, &CredentialError{Msg: "service identity token exchange failed", Err: err}
		}
		return tok, nil
	}

	tok, err := s.readCache()
	if err == nil && s.usable(tok) {
		slog.Debug("reusing cached token", "path", s.tokenPath)
		return tok, nil
	}

	if err == nil && tok.RefreshToken != "" {
		refreshed, rerr := s.oauth.TokenSource(ctx, tok).Token()
		if rerr == nil {
			slog.Info("refreshed expired token")
			if werr := s.writeCache(refreshed); werr != nil {
				return nil, &CredentialError{Msg: "failed to persist refreshed token", Err: werr}
			}
			return refreshed, nil
		}
		slog.Warn("token refresh failed, falling back to interactive consent", "error", rerr)
		if rmErr := os.Remove(s.tokenPath); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("failed to delete stale token cache", "path", s.tokenPath, "error", rmErr)
		}
	}

	if s.consent == nil {
		return nil, &CredentialError{Msg: "no usable cached token and interactive consent is unavailable"}
	}

	slog.Info("starting interactive consent flow")
	tok, err = s.consent.Obtain(ctx)
	if err != nil {
		return nil, &CredentialError{Msg: "interactive consent failed", Err: err}
	}
	if err := s.writeCache(tok); err != nil {
		return nil, &CredentialError{Msg: "failed to persist token", Err: err}
	}
	return tok, nil
}

// Validate reports whether a usable credential is already present, without
// any network I/O. Used as a fast pre-flight check.
func (s *Store) Validate() bool {
	if s.mode == serviceIdentity {
		return s.jwt != nil
	}
	tok, err := s.readCache()
	return err == nil && s.usable(tok)
}

// TokenSource returns a source that defers acquisition to the store: the
// first Token call runs the full Acquire path, later calls reuse the result
// while it stays valid and re-acquire (refresh) through the store after.
func (s *Store) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, storeTokenSource{ctx: ctx, store: s})
}

type storeTokenSource struct {
	ctx   context.Context
	store *Store
}

func (ts storeTokenSource) Token() (*oauth2.Token, error) {
	return ts.store.Acquire(ts.ctx)
}

// usable reports whether a token can still be sent on the wire.
func (s *Store) usable(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return s.now().Add(tokenExpiryBuffer).Before(tok.Expiry)
}

// readCache loads the token cache file. Invalid JSON is reported as an
// error and treated by Acquire the same as an absent cache.
func (s *Store) readCache() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.tokenPath)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("invalid token cache: %w", err)
	}
	return tok, nil
}

// writeCache persists the token cache file, overwriting any previous one.
func (s *Store) writeCache(tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.tokenPath, data, 0600)
}
