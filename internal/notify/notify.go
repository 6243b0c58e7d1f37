// Package notify defines the interface for digest delivery backends.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Line is one message entry in a digest group.
type Line struct {
	Sender  string
	Subject string
}

// Group holds the digest entries of one category.
type Group struct {
	Category string
	Count    int
	Items    []Line
}

// Digest is the grouped, human-readable summary of one run. Groups are
// ordered by ruleset precedence with Uncategorized last; items keep provider
// fetch order.
type Digest struct {
	Total     int
	Generated time.Time
	Groups    []Group
}

// Sink is the interface that digest delivery backends must implement.
// Delivery failure is never fatal to a run; the orchestrator logs it and
// records it in the run result.
type Sink interface {
	// SendSummary delivers the digest of one run.
	SendSummary(ctx context.Context, d *Digest) error

	// SendAlert delivers a short standalone notice (e.g. "no new messages").
	SendAlert(ctx context.Context, text string) error

	// Name returns the human-readable name of this sink.
	Name() string
}

// NotifierError reports a failed delivery attempt through a sink.
type NotifierError struct {
	Sink string
	Msg  string
	Err  error
}

func (e *NotifierError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notifier error (%s): %s: %v", e.Sink, e.Msg, e.Err)
	}
	return fmt.Sprintf("notifier error (%s): %s", e.Sink, e.Msg)
}

func (e *NotifierError) Unwrap() error {
	return e.Err
}
