// Package console implements a Sink that prints digests to standard output.
// It is also what the orchestrator uses directly in dry-run mode.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/inbox-triage-lite/internal/notify"
)

// Notifier prints digests to stdout in a human-readable format.
type Notifier struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a console Notifier that writes to os.Stdout.
func New() *Notifier {
	return &Notifier{writer: os.Stdout}
}

// NewWithWriter creates a console Notifier that writes to the given writer.
// This is useful for testing and for the dry-run path.
func NewWithWriter(w io.Writer) *Notifier {
	return &Notifier{writer: w}
}

// SendSummary prints the digest in a readable block format.
func (n *Notifier) SendSummary(_ context.Context, d *notify.Digest) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "INBOX DIGEST — %d unread message(s)\n", d.Total)

	for _, g := range d.Groups {
		fmt.Fprintf(&b, "\n%s (%d)\n", g.Category, g.Count)
		for _, item := range g.Items {
			fmt.Fprintf(&b, "  - %s: %s\n", item.Sender, item.Subject)
		}
	}

	b.WriteString("========================================\n")

	fmt.Fprint(n.writer, b.String())
	return nil
}

// SendAlert prints a short standalone notice.
func (n *Notifier) SendAlert(_ context.Context, text string) error {
	fmt.Fprintf(n.writer, "ALERT: %s\n", text)
	return nil
}

// Name returns the sink name.
func (n *Notifier) Name() string {
	return "console"
}
