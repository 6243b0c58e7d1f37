// Package triage drives the fetch → categorize → notify pipeline for one
// run, enforcing per-message failure isolation and the run state machine.
package triage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/oauth2"

	"github.com/shineum/inbox-triage-lite/internal/email"
	"github.com/shineum/inbox-triage-lite/internal/notify"
	"github.com/shineum/inbox-triage-lite/internal/notify/console"
	"github.com/shineum/inbox-triage-lite/internal/rules"
	"github.com/shineum/inbox-triage-lite/internal/source"
)

// State is the orchestrator's position in the run state machine.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateFetching
	StateCategorizing
	StateMutating
	StateReporting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateFetching:
		return "fetching"
	case StateCategorizing:
		return "categorizing"
	case StateMutating:
		return "mutating"
	case StateReporting:
		return "reporting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Authenticator produces a valid credential for the run. Failure is fatal:
// the orchestrator aborts before touching the message source.
type Authenticator interface {
	Acquire(ctx context.Context) (*oauth2.Token, error)
}

// Classifier assigns one category per message. The rule engine never
// returns an error; the error return allows alternative classifiers to fail
// per message without aborting the batch.
type Classifier interface {
	Classify(m email.Message) (email.CategorizedMessage, error)
	Categories() []string
	ActionFor(category string) rules.Action
}

// ItemError records one per-message failure without aborting the run.
type ItemError struct {
	ID    string
	Stage string
	Err   error
}

// RunResult is the aggregate output of one pipeline execution. It is built
// by Run and discarded at process exit.
type RunResult struct {
	// Total is the number of messages fetched.
	Total int
	// Groups maps category name to its messages in provider fetch order.
	Groups map[string][]email.CategorizedMessage
	// CategoryOrder lists the non-empty categories in ruleset precedence
	// order, Uncategorized last.
	CategoryOrder []string
	// Errors collects the per-message failures of the run.
	Errors []ItemError
}

// Config holds the collaborators and options for creating an Orchestrator.
type Config struct {
	Auth       Authenticator
	Classifier Classifier
	Source     source.Source
	Sink       notify.Sink
	// DryRunWriter receives the digest in dry-run mode; defaults to os.Stdout.
	DryRunWriter io.Writer
}

// Orchestrator sequences one batch run. It is not safe for concurrent use;
// the pipeline is a single-threaded batch job by design.
type Orchestrator struct {
	auth       Authenticator
	classifier Classifier
	src        source.Source
	sink       notify.Sink
	dryRunOut  io.Writer
	state      State
}

// New creates an Orchestrator in the Idle state.
func New(cfg Config) *Orchestrator {
	out := cfg.DryRunWriter
	if out == nil {
		out = os.Stdout
	}
	return &Orchestrator{
		auth:       cfg.Auth,
		classifier: cfg.Classifier,
		src:        cfg.Source,
		sink:       cfg.Sink,
		dryRunOut:  out,
		state:      StateIdle,
	}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	return o.state
}

// Run executes one pipeline pass: authenticate, fetch up to limit unread
// messages, classify each independently, apply rule actions (skipped in
// dry-run), and deliver the digest. Authentication and fetch failures abort
// the run; everything after is isolated per message and recorded in the
// result. In dry-run mode no mutation and no sink call happens; the digest
// goes to the dry-run writer instead.
func (o *Orchestrator) Run(ctx context.Context, limit int64, dryRun bool) (*RunResult, error) {
	o.state = StateAuthenticating
	if _, err := o.auth.Acquire(ctx); err != nil {
		o.state = StateFailed
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	o.state = StateFetching
	msgs, err := o.src.FetchUnread(ctx, limit)
	if err != nil {
		o.state = StateFailed
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	slog.Info("fetched unread messages", "count", len(msgs), "limit", limit)

	o.state = StateCategorizing
	res := &RunResult{
		Total:  len(msgs),
		Groups: make(map[string][]email.CategorizedMessage),
	}
	for _, m := range msgs {
		cm, err := o.classifier.Classify(m)
		if err != nil {
			slog.Warn("failed to classify message", "id", m.ID, "error", err)
			res.Errors = append(res.Errors, ItemError{ID: m.ID, Stage: "categorize", Err: err})
			continue
		}
		slog.Debug("classified message",
			"id", m.ID,
			"category", cm.Category,
			"reason", cm.Reason,
		)
		res.Groups[cm.Category] = append(res.Groups[cm.Category], cm)
	}
	for _, cat := range o.classifier.Categories() {
		if len(res.Groups[cat]) > 0 {
			res.CategoryOrder = append(res.CategoryOrder, cat)
		}
	}

	if !dryRun {
		o.state = StateMutating
		for _, cat := range res.CategoryOrder {
			for _, cm := range res.Groups[cat] {
				o.applyAction(ctx, cm, res)
			}
		}
	}

	o.state = StateReporting
	digest := buildDigest(res)

	switch {
	case dryRun:
		// The console-only path: the configured sink is never called.
		console.NewWithWriter(o.dryRunOut).SendSummary(ctx, digest)
	case len(msgs) == 0:
		if err := o.sink.SendAlert(ctx, "No new messages"); err != nil {
			slog.Error("failed to send alert", "sink", o.sink.Name(), "error", err)
			res.Errors = append(res.Errors, ItemError{Stage: "notify", Err: err})
		}
	default:
		if err := o.sink.SendSummary(ctx, digest); err != nil {
			// Notification failure is non-fatal: the triage work itself
			// succeeded and the result is still reported to the caller.
			slog.Error("failed to send summary", "sink", o.sink.Name(), "error", err)
			res.Errors = append(res.Errors, ItemError{Stage: "notify", Err: err})
		}
	}

	o.state = StateDone
	slog.Info("run complete",
		"total", res.Total,
		"categories", len(res.CategoryOrder),
		"errors", len(res.Errors),
	)
	return res, nil
}

// applyAction performs the mutation a rule's action asks for. Each mutation
// is attempted at most once and failure never aborts the batch.
func (o *Orchestrator) applyAction(ctx context.Context, cm email.CategorizedMessage, res *RunResult) {
	id := cm.Message.ID

	record := func(err error) {
		slog.Warn("mutation failed",
			"id", id,
			"category", cm.Category,
			"error", err,
		)
		res.Errors = append(res.Errors, ItemError{ID: id, Stage: "mutate", Err: err})
	}

	switch o.classifier.ActionFor(cm.Category) {
	case rules.ActionArchive:
		if err := o.src.MarkAsRead(ctx, id); err != nil {
			record(err)
			return
		}
		if err := o.src.AddLabel(ctx, id, cm.Category); err != nil {
			record(err)
		}
	case rules.ActionTrash:
		if err := o.src.MoveToTrash(ctx, id); err != nil {
			record(err)
		}
	case rules.ActionIgnore:
		if err := o.src.MarkAsRead(ctx, id); err != nil {
			record(err)
		}
	case rules.ActionNotify:
		// Digest-only: the message stays untouched.
	}
}
