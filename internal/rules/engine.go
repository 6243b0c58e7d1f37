package rules

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/shineum/inbox-triage-lite/internal/email"
)

// compiledRule is one rule with its patterns compiled and its sender
// matchers normalized to lowercase.
type compiledRule struct {
	name     string
	priority int
	action   Action
	patterns []*regexp.Regexp
	senders  []string
}

// Engine classifies messages against a compiled ruleset. It is read-only
// after construction and safe to reuse across a whole batch.
type Engine struct {
	rules   []compiledRule // sorted by priority, declaration order breaks ties
	actions map[string]Action
}

// Compile validates a ruleset and compiles its patterns. Rules without an
// explicit priority get their declaration position as priority. It returns
// a ConfigError on duplicate category names, empty names, unknown actions,
// or patterns that do not compile.
func Compile(rs []Rule) (*Engine, error) {
	e := &Engine{
		rules:   make([]compiledRule, 0, len(rs)),
		actions: make(map[string]Action, len(rs)),
	}

	for i, r := range rs {
		if r.Name == "" {
			return nil, &ConfigError{Msg: fmt.Sprintf("rule at position %d has no category name", i)}
		}
		if r.Name == Uncategorized {
			return nil, &ConfigError{Msg: fmt.Sprintf("category name %q is reserved", Uncategorized)}
		}
		if _, dup := e.actions[r.Name]; dup {
			return nil, &ConfigError{Msg: fmt.Sprintf("duplicate category name %q", r.Name)}
		}

		action := r.Action
		if action == "" {
			action = ActionNotify
		}
		switch action {
		case ActionNotify, ActionArchive, ActionTrash, ActionIgnore:
		default:
			return nil, &ConfigError{Msg: fmt.Sprintf("category %q has unknown action %q", r.Name, r.Action)}
		}

		priority := i
		if r.Priority != nil {
			priority = *r.Priority
		}

		cr := compiledRule{
			name:     r.Name,
			priority: priority,
			action:   action,
			patterns: make([]*regexp.Regexp, 0, len(r.Patterns)),
			senders:  make([]string, 0, len(r.Senders)),
		}
		for _, p := range r.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, &ConfigError{Msg: fmt.Sprintf("category %q has invalid pattern %q", r.Name, p), Err: err}
			}
			cr.patterns = append(cr.patterns, re)
		}
		for _, s := range r.Senders {
			cr.senders = append(cr.senders, strings.ToLower(strings.TrimSpace(s)))
		}

		e.rules = append(e.rules, cr)
		e.actions[r.Name] = action
	}

	// Stable sort keeps declaration order for equal priorities.
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].priority < e.rules[j].priority
	})

	return e, nil
}

// Classify assigns exactly one category to a message: the first rule to
// match in ascending priority order wins, and no match falls back to
// Uncategorized. It is deterministic, performs no I/O, and never fails; a
// missing subject or snippet is treated as an empty string.
//
// The error return exists for the Classifier contract so alternative
// (non-rule-based) classifiers can report failures; this engine always
// returns a nil error.
func (e *Engine) Classify(m email.Message) (email.CategorizedMessage, error) {
	text := strings.ToLower(m.Subject + " " + m.Snippet)
	sender := extractAddress(m.Sender)

	for _, r := range e.rules {
		if reason, ok := r.match(sender, text); ok {
			return email.CategorizedMessage{
				Message:  m,
				Category: r.name,
				Priority: r.priority,
				Reason:   reason,
			}, nil
		}
	}

	return email.CategorizedMessage{
		Message:  m,
		Category: Uncategorized,
		Priority: math.MaxInt,
		Reason:   "no rule matched",
	}, nil
}

// Categories returns the category names in precedence order, with
// Uncategorized always last. Used to order the digest.
func (e *Engine) Categories() []string {
	names := make([]string, 0, len(e.rules)+1)
	for _, r := range e.rules {
		names = append(names, r.name)
	}
	return append(names, Uncategorized)
}

// ActionFor returns the action of the rule that defines the given category.
// Uncategorized and unknown categories map to notify.
func (e *Engine) ActionFor(category string) Action {
	if a, ok := e.actions[category]; ok {
		return a
	}
	return ActionNotify
}

// match reports whether the rule matches. A sender hit is sufficient and
// skips pattern evaluation for this rule.
func (r *compiledRule) match(sender, text string) (string, bool) {
	for _, allowed := range r.senders {
		if senderMatches(sender, allowed) {
			return fmt.Sprintf("sender matched %q", allowed), true
		}
	}
	for _, p := range r.patterns {
		if p.MatchString(text) {
			return fmt.Sprintf("pattern matched %q", p.String()), true
		}
	}
	return "", false
}

// senderMatches compares a lowercase sender address against one matcher:
// "@domain" and bare "domain" entries match any address at that domain,
// full addresses match exactly.
func senderMatches(sender, allowed string) bool {
	switch {
	case allowed == "":
		return false
	case strings.HasPrefix(allowed, "@"):
		return strings.HasSuffix(sender, allowed)
	case strings.Contains(allowed, "@"):
		return sender == allowed
	default:
		return strings.HasSuffix(sender, "@"+allowed)
	}
}

// extractAddress pulls the bare address out of a "Display Name <addr>"
// sender header, lowercased.
func extractAddress(sender string) string {
	if i := strings.LastIndexByte(sender, '<'); i >= 0 {
		if j := strings.IndexByte(sender[i:], '>'); j > 0 {
			return strings.ToLower(strings.TrimSpace(sender[i+1 : i+j]))
		}
	}
	return strings.ToLower(strings.TrimSpace(sender))
}
