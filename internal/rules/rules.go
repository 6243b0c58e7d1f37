// Package rules implements the categorization rule engine: a ruleset is
// compiled once per run and then evaluated against each fetched message.
package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Uncategorized is the reserved fallback category returned when no rule matches.
const Uncategorized = "Uncategorized"

// Action tells the orchestrator what to do with a message after it has been
// assigned to a category. The engine itself never acts on it.
type Action string

const (
	// ActionNotify includes the message in the digest and leaves it untouched.
	ActionNotify Action = "notify"
	// ActionArchive marks the message as read and labels it with its category.
	ActionArchive Action = "archive"
	// ActionTrash moves the message to the trash.
	ActionTrash Action = "trash"
	// ActionIgnore marks the message as read without labeling it.
	ActionIgnore Action = "ignore"
)

// Rule is one category definition from the ruleset file.
type Rule struct {
	// Name is the category assigned to matching messages. Unique per ruleset.
	Name string `yaml:"name"`
	// Patterns are case-insensitive regular expressions matched against the
	// concatenated subject and snippet.
	Patterns []string `yaml:"patterns"`
	// Senders match the sender address: either an exact address or an
	// "@domain" suffix.
	Senders []string `yaml:"senders"`
	// Priority orders evaluation; lower values are evaluated first and win
	// ties. When omitted, the rule's position in the file is used.
	Priority *int `yaml:"priority"`
	// Action defaults to notify.
	Action Action `yaml:"action"`
}

// ruleFile is the on-disk shape of the ruleset. A YAML sequence keeps the
// declaration order, which breaks priority ties.
type ruleFile struct {
	Categories []Rule `yaml:"categories"`
}

// ConfigError reports a missing or malformed ruleset. It is fatal at
// startup, before any network I/O happens.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ruleset config error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("ruleset config error: %s", e.Msg)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadFile reads a ruleset from a YAML file and returns the rules in
// declaration order.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("failed to read ruleset file %s", path), Err: err}
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("failed to parse ruleset file %s", path), Err: err}
	}

	if len(rf.Categories) == 0 {
		return nil, &ConfigError{Msg: fmt.Sprintf("ruleset file %s defines no categories", path)}
	}

	return rf.Categories, nil
}
