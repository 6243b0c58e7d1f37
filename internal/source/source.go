// Package source defines the interface for message-source backends.
package source

import (
	"context"
	"fmt"

	"github.com/shineum/inbox-triage-lite/internal/email"
)

// Source is the contract a mail backend must implement. Fetching supplies
// the batch; the three mutations are applied per message by the
// orchestrator according to each rule's action.
type Source interface {
	// FetchUnread returns up to limit unread messages in provider order.
	FetchUnread(ctx context.Context, limit int64) ([]email.Message, error)

	// MarkAsRead clears the unread state of one message.
	MarkAsRead(ctx context.Context, id string) error

	// AddLabel attaches the named label to one message, creating the label
	// if the provider does not know it yet.
	AddLabel(ctx context.Context, id string, label string) error

	// MoveToTrash moves one message to the trash.
	MoveToTrash(ctx context.Context, id string) error
}

// ProviderError reports a failed call to the message source. Fetch-time
// failures are fatal to the run; mutation failures are recorded per message.
type ProviderError struct {
	Op        string
	MessageID string
	Err       error
}

func (e *ProviderError) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("provider error: %s on message %s: %v", e.Op, e.MessageID, e.Err)
	}
	return fmt.Sprintf("provider error: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
