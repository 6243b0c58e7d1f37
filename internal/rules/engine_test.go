package rules

import (
	"errors"
	"math"
	"testing"

	"github.com/shineum/inbox-triage-lite/internal/email"
)

func intPtr(i int) *int { return &i }

// triageRules mirrors the documented example ruleset: Infra beats Learning
// on priority, Noise is declared last without an explicit priority.
func triageRules() []Rule {
	return []Rule{
		{Name: "Infra", Priority: intPtr(1), Patterns: []string{"maintenance", "incident"}, Senders: []string{"status-ovhcloud.com"}},
		{Name: "Learning", Priority: intPtr(5), Patterns: []string{"docker", "llm"}},
		{Name: "Noise", Senders: []string{"@promo.example.com"}, Action: ActionIgnore},
	}
}

func mustCompile(t *testing.T, rs []Rule) *Engine {
	t.Helper()
	e, err := Compile(rs)
	if err != nil {
		t.Fatalf("Compile: unexpected error: %v", err)
	}
	return e
}

func classify(t *testing.T, e *Engine, m email.Message) email.CategorizedMessage {
	t.Helper()
	cm, err := e.Classify(m)
	if err != nil {
		t.Fatalf("Classify: unexpected error: %v", err)
	}
	return cm
}

func TestCompile_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rules []Rule
	}{
		{
			name: "duplicate category name",
			rules: []Rule{
				{Name: "Infra", Patterns: []string{"maintenance"}},
				{Name: "Infra", Patterns: []string{"incident"}},
			},
		},
		{
			name:  "empty category name",
			rules: []Rule{{Patterns: []string{"x"}}},
		},
		{
			name:  "reserved category name",
			rules: []Rule{{Name: Uncategorized}},
		},
		{
			name:  "invalid pattern",
			rules: []Rule{{Name: "Broken", Patterns: []string{"[unclosed"}}},
		},
		{
			name:  "unknown action",
			rules: []Rule{{Name: "Infra", Action: "shred"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Compile(tt.rules)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	e := mustCompile(t, triageRules())

	tests := []struct {
		name       string
		msg        email.Message
		wantCat    string
		wantPrio   int
	}{
		{
			name:     "sender domain match",
			msg:      email.Message{ID: "1", Sender: "noreply@status-ovhcloud.com", Subject: "Maintenance notice"},
			wantCat:  "Infra",
			wantPrio: 1,
		},
		{
			name:     "pattern match in subject",
			msg:      email.Message{ID: "2", Sender: "digest@medium.com", Subject: "12 Docker Best Practices"},
			wantCat:  "Learning",
			wantPrio: 5,
		},
		{
			name:     "pattern match in snippet",
			msg:      email.Message{ID: "3", Sender: "digest@medium.com", Subject: "Weekly roundup", Snippet: "Running an LLM at home"},
			wantCat:  "Learning",
			wantPrio: 5,
		},
		{
			name:     "no match falls back to Uncategorized",
			msg:      email.Message{ID: "4", Sender: "friend@example.org", Subject: "Lunch tomorrow?"},
			wantCat:  Uncategorized,
			wantPrio: math.MaxInt,
		},
		{
			name:     "display name form of sender",
			msg:      email.Message{ID: "5", Sender: "OVH Status <alerts@status-ovhcloud.com>", Subject: "All clear"},
			wantCat:  "Infra",
			wantPrio: 1,
		},
		{
			name:     "at-prefixed domain matcher",
			msg:      email.Message{ID: "6", Sender: "deals@promo.example.com", Subject: "80% off"},
			wantCat:  "Noise",
			wantPrio: 2, // position-based default for the third rule
		},
		{
			name:     "empty subject and snippet degrade to Uncategorized",
			msg:      email.Message{ID: "7", Sender: "someone@example.org"},
			wantCat:  Uncategorized,
			wantPrio: math.MaxInt,
		},
		{
			name:     "matching is case-insensitive",
			msg:      email.Message{ID: "8", Sender: "x@example.org", Subject: "INCIDENT report"},
			wantCat:  "Infra",
			wantPrio: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify(t, e, tt.msg)
			if got.Category != tt.wantCat {
				t.Errorf("category: got %q, want %q", got.Category, tt.wantCat)
			}
			if got.Priority != tt.wantPrio {
				t.Errorf("priority: got %d, want %d", got.Priority, tt.wantPrio)
			}
		})
	}
}

func TestClassify_PriorityPrecedence(t *testing.T) {
	t.Parallel()

	// The message matches both rules; the lower priority value must win
	// regardless of declaration order.
	e := mustCompile(t, []Rule{
		{Name: "Learning", Priority: intPtr(5), Patterns: []string{"docker"}},
		{Name: "Infra", Priority: intPtr(1), Patterns: []string{"incident"}},
	})

	got := classify(t, e, email.Message{ID: "1", Subject: "Docker incident postmortem"})
	if got.Category != "Infra" {
		t.Errorf("category: got %q, want %q", got.Category, "Infra")
	}
}

func TestClassify_DeclarationOrderBreaksTies(t *testing.T) {
	t.Parallel()

	e := mustCompile(t, []Rule{
		{Name: "First", Priority: intPtr(3), Patterns: []string{"report"}},
		{Name: "Second", Priority: intPtr(3), Patterns: []string{"report"}},
	})

	got := classify(t, e, email.Message{ID: "1", Subject: "Quarterly report"})
	if got.Category != "First" {
		t.Errorf("category: got %q, want %q (first-declared wins ties)", got.Category, "First")
	}
}

func TestClassify_SenderShortCircuitsPatterns(t *testing.T) {
	t.Parallel()

	// The rule's patterns do not match, but the sender does: the sender hit
	// alone must be sufficient.
	e := mustCompile(t, []Rule{
		{Name: "Infra", Patterns: []string{"willnevermatchanything"}, Senders: []string{"@status.example.com"}},
	})

	got := classify(t, e, email.Message{ID: "1", Sender: "bot@status.example.com", Subject: "Hello"})
	if got.Category != "Infra" {
		t.Errorf("category: got %q, want %q", got.Category, "Infra")
	}
	if got.Reason == "" || got.Reason == "no rule matched" {
		t.Errorf("reason: got %q, want a sender-match reason", got.Reason)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	t.Parallel()

	e := mustCompile(t, triageRules())
	msg := email.Message{ID: "1", Sender: "noreply@status-ovhcloud.com", Subject: "Maintenance notice"}

	first := classify(t, e, msg)
	for i := 0; i < 10; i++ {
		if got := classify(t, e, msg); got.Category != first.Category {
			t.Fatalf("run %d: category changed from %q to %q", i, first.Category, got.Category)
		}
	}
}

func TestCategories_Order(t *testing.T) {
	t.Parallel()

	e := mustCompile(t, []Rule{
		{Name: "Learning", Priority: intPtr(5)},
		{Name: "Infra", Priority: intPtr(1)},
		{Name: "Noise", Priority: intPtr(9)},
	})

	got := e.Categories()
	want := []string{"Infra", "Learning", "Noise", Uncategorized}
	if len(got) != len(want) {
		t.Fatalf("categories: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("categories[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestActionFor(t *testing.T) {
	t.Parallel()

	e := mustCompile(t, triageRules())

	tests := []struct {
		category string
		want     Action
	}{
		{category: "Infra", want: ActionNotify},
		{category: "Noise", want: ActionIgnore},
		{category: Uncategorized, want: ActionNotify},
		{category: "NeverDefined", want: ActionNotify},
	}

	for _, tt := range tests {
		if got := e.ActionFor(tt.category); got != tt.want {
			t.Errorf("ActionFor(%q): got %q, want %q", tt.category, got, tt.want)
		}
	}
}
