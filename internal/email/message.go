// Package email defines the core message data model used throughout the triage pipeline.
package email

import "time"

// Message is an immutable snapshot of one inbound mail item as fetched from
// the message source. The triage core never mutates it.
type Message struct {
	ID       string
	Sender   string
	Subject  string
	Snippet  string
	Received time.Time
	Labels   []string
}

// CategorizedMessage pairs a Message with the category assigned to it and
// the matching rule's priority, for stable sorting and grouping.
type CategorizedMessage struct {
	Message  Message
	Category string
	Priority int
	// Reason describes which matcher won, for debug logs and the digest.
	Reason string
}
