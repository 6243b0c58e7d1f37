// Package gmailapi implements a Source backed by the Gmail REST API.
package gmailapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/shineum/inbox-triage-lite/internal/email"
	"github.com/shineum/inbox-triage-lite/internal/source"
)

// user is the Gmail API shorthand for the authenticated account.
const user = "me"

// Scopes are the Gmail permissions the triage pipeline needs: modify covers
// reading the inbox plus label and trash mutations.
var Scopes = []string{gmail.GmailModifyScope}

// Client fetches and mutates messages through the Gmail API. All calls use
// the token source it was constructed with; auth failures surface as
// ProviderError from the failing call.
type Client struct {
	svc *gmail.Service
	// labelIDs caches label name to id lookups within one run.
	labelIDs map[string]string
}

// New creates a Gmail client on top of a token source. Construction does not
// perform network I/O; the first API call does.
func New(ctx context.Context, ts oauth2.TokenSource) (*Client, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Client{svc: svc, labelIDs: make(map[string]string)}, nil
}

// FetchUnread lists up to limit unread inbox messages and resolves each to a
// Message snapshot. A message whose detail fetch fails is skipped with a
// warning; a failing list call fails the whole fetch.
func (c *Client) FetchUnread(ctx context.Context, limit int64) ([]email.Message, error) {
	list, err := c.svc.Users.Messages.List(user).
		LabelIds("INBOX", "UNREAD").
		MaxResults(limit).
		Context(ctx).
		Do()
	if err != nil {
		return nil, &source.ProviderError{Op: "fetch_unread", Err: err}
	}

	msgs := make([]email.Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		full, err := c.svc.Users.Messages.Get(user, ref.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject").
			Context(ctx).
			Do()
		if err != nil {
			slog.Warn("skipping message that could not be fetched", "id", ref.Id, "error", err)
			continue
		}
		msgs = append(msgs, parseMessage(full))
	}

	slog.Debug("fetched unread messages", "count", len(msgs), "limit", limit)
	return msgs, nil
}

// MarkAsRead removes the UNREAD label from one message.
func (c *Client) MarkAsRead(ctx context.Context, id string) error {
	_, err := c.svc.Users.Messages.Modify(user, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return &source.ProviderError{Op: "mark_as_read", MessageID: id, Err: err}
	}
	return nil
}

// AddLabel attaches the named label to one message, creating the label on
// first use and caching the name-to-id mapping for the rest of the run.
func (c *Client) AddLabel(ctx context.Context, id string, label string) error {
	labelID, err := c.labelID(ctx, label)
	if err != nil {
		return &source.ProviderError{Op: "add_label", MessageID: id, Err: err}
	}
	_, err = c.svc.Users.Messages.Modify(user, id, &gmail.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return &source.ProviderError{Op: "add_label", MessageID: id, Err: err}
	}
	return nil
}

// MoveToTrash moves one message to the trash.
func (c *Client) MoveToTrash(ctx context.Context, id string) error {
	_, err := c.svc.Users.Messages.Trash(user, id).Context(ctx).Do()
	if err != nil {
		return &source.ProviderError{Op: "move_to_trash", MessageID: id, Err: err}
	}
	return nil
}

// labelID resolves a label name to its id, creating the label if the
// mailbox does not have it.
func (c *Client) labelID(ctx context.Context, name string) (string, error) {
	if id, ok := c.labelIDs[name]; ok {
		return id, nil
	}

	list, err := c.svc.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to list labels: %w", err)
	}
	for _, l := range list.Labels {
		if l.Name == name {
			c.labelIDs[name] = l.Id
			return l.Id, nil
		}
	}

	created, err := c.svc.Users.Labels.Create(user, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create label %q: %w", name, err)
	}
	slog.Info("created label", "name", name, "id", created.Id)
	c.labelIDs[name] = created.Id
	return created.Id, nil
}

// parseMessage turns a Gmail API message into the pipeline's Message
// snapshot. InternalDate is the provider's receipt timestamp in Unix
// milliseconds and is more reliable than parsing the Date header.
func parseMessage(m *gmail.Message) email.Message {
	msg := email.Message{
		ID:      m.Id,
		Snippet: m.Snippet,
		Labels:  m.LabelIds,
	}
	if m.InternalDate > 0 {
		msg.Received = time.UnixMilli(m.InternalDate)
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			switch h.Name {
			case "From":
				msg.Sender = h.Value
			case "Subject":
				msg.Subject = h.Value
			}
		}
	}
	return msg
}
