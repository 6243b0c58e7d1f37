// Package telegram implements a Sink that delivers digests through the
// Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/inbox-triage-lite/internal/notify"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// subjectLimit truncates long subject lines in the digest body.
const subjectLimit = 80

// Config holds the configuration for creating a Notifier.
type Config struct {
	BotToken string
	ChatID   string
}

// Notifier sends digests as HTML-formatted messages to one Telegram chat.
type Notifier struct {
	chatID     string
	apiURL     string
	httpClient *http.Client
}

// New creates a Telegram Notifier with the given configuration.
func New(cfg Config) *Notifier {
	return &Notifier{
		chatID:     cfg.ChatID,
		apiURL:     fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", cfg.BotToken),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// newWithOverrides creates a Notifier with a custom API URL and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, apiURL string, client *http.Client) *Notifier {
	return &Notifier{
		chatID:     cfg.ChatID,
		apiURL:     apiURL,
		httpClient: client,
	}
}

// SendSummary delivers the digest as one HTML message.
func (n *Notifier) SendSummary(ctx context.Context, d *notify.Digest) error {
	return n.send(ctx, formatHTML(d))
}

// SendAlert delivers a short standalone notice.
func (n *Notifier) SendAlert(ctx context.Context, text string) error {
	return n.send(ctx, "⚠️ <b>"+html.EscapeString(text)+"</b>")
}

// Name returns the sink name.
func (n *Notifier) Name() string {
	return "telegram"
}

// send posts one message to the Bot API with retry for transient failures
// and Retry-After respect for HTTP 429.
func (n *Notifier) send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    n.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return &notify.NotifierError{Sink: "telegram", Msg: "failed to marshal request", Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Telegram API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}

		err := n.doSend(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		apiErr, ok := err.(*apiError)
		if !ok || !apiErr.transient {
			return &notify.NotifierError{Sink: "telegram", Msg: "delivery failed", Err: err}
		}

		delay := backoffDelay(attempt)
		if apiErr.retryAfter > 0 {
			delay = apiErr.retryAfter
			slog.Info("rate limited by Telegram API", "retry_after", delay)
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return &notify.NotifierError{Sink: "telegram", Msg: "context cancelled during retry wait", Err: err}
		}
	}

	return &notify.NotifierError{
		Sink: "telegram",
		Msg:  fmt.Sprintf("delivery failed after %d retries", maxRetries),
		Err:  lastErr,
	}
}

// doSend performs a single sendMessage request.
func (n *Notifier) doSend(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &apiError{message: fmt.Sprintf("HTTP request failed: %v", err), transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var apiResp struct {
		Description string `json:"description"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	message := string(body)
	retryAfter := time.Duration(0)
	if jsonErr := json.Unmarshal(body, &apiResp); jsonErr == nil && apiResp.Description != "" {
		message = apiResp.Description
		retryAfter = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
	}
	if retryAfter == 0 {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}

	return classifyStatus(resp.StatusCode, message, retryAfter)
}

// apiError is a Bot API failure classified for retry decisions.
type apiError struct {
	message    string
	statusCode int
	transient  bool
	retryAfter time.Duration
}

func (e *apiError) Error() string {
	return fmt.Sprintf("Telegram API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyStatus categorizes an HTTP error response for retry decisions.
// Client errors (bad token, bad chat id, malformed HTML) do not fix
// themselves and are permanent; rate limits and server errors are retried.
func classifyStatus(statusCode int, message string, retryAfter time.Duration) *apiError {
	err := &apiError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	}
	return err
}

// formatHTML renders the digest as a Telegram HTML message.
func formatHTML(d *notify.Digest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\U0001f4ec <b>Inbox digest</b> — %d unread\n", d.Total)
	for _, g := range d.Groups {
		fmt.Fprintf(&b, "\n<b>%s</b> (%d)\n", html.EscapeString(g.Category), g.Count)
		for _, item := range g.Items {
			fmt.Fprintf(&b, "• %s — %s\n",
				html.EscapeString(item.Sender),
				html.EscapeString(truncate(item.Subject, subjectLimit)),
			)
		}
	}

	return b.String()
}

// truncate shortens s to at most n runes, appending an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
