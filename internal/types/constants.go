// Package types provides type-safe constants for the updater.
//
// This package centralizes the enumerated types used throughout the codebase,
// replacing magic strings with typed constants that provide compile-time safety
// and validation methods.
package types

import (
	"fmt"
	"strings"
	"time"
)

// RuleKind identifies how a protection rule matches a relative path.
type RuleKind string

const (
	// RuleExact matches one relative path exactly.
	RuleExact RuleKind = "exact"
	// RulePrefix matches every path under a directory prefix ending in "/".
	RulePrefix RuleKind = "prefix"
	// RuleGlob matches paths against a shell-style pattern.
	RuleGlob RuleKind = "glob"
)

// AllRuleKinds returns all valid rule kinds in evaluation order.
func AllRuleKinds() []RuleKind {
	return []RuleKind{RuleExact, RulePrefix, RuleGlob}
}

// Validate checks if the RuleKind is a valid value.
func (k RuleKind) Validate() error {
	switch k {
	case RuleExact, RulePrefix, RuleGlob:
		return nil
	case "":
		return fmt.Errorf("rule kind is required")
	default:
		return fmt.Errorf("invalid rule kind '%s' (must be exact, prefix, or glob)", k)
	}
}

// String returns the string representation of the RuleKind.
func (k RuleKind) String() string {
	return string(k)
}

// Outcome is the terminal result of one update attempt.
type Outcome string

const (
	// OutcomeSucceeded means the update was applied and the version persisted.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed means the attempt failed before any live file was touched.
	OutcomeFailed Outcome = "failed"
	// OutcomeRolledBack means the apply failed and the backup was restored.
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeRollbackFailed means restoring the backup failed as well.
	OutcomeRollbackFailed Outcome = "rollback_failed"
)

// AllOutcomes returns all valid outcomes.
func AllOutcomes() []Outcome {
	return []Outcome{OutcomeSucceeded, OutcomeFailed, OutcomeRolledBack, OutcomeRollbackFailed}
}

// Validate checks if the Outcome is a valid value.
func (o Outcome) Validate() error {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeRolledBack, OutcomeRollbackFailed:
		return nil
	case "":
		return fmt.Errorf("outcome is required")
	default:
		return fmt.Errorf("invalid outcome '%s'", o)
	}
}

// String returns the string representation of the Outcome.
func (o Outcome) String() string {
	return string(o)
}

// IsSuccess returns true for outcomes that leave the installation consistent
// and current.
func (o Outcome) IsSuccess() bool {
	return o == OutcomeSucceeded
}

// ParseOutcome parses a string into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	if err := o.Validate(); err != nil {
		return "", err
	}
	return o, nil
}

// LogFormat selects the log formatter.
type LogFormat string

const (
	LogFormatText   LogFormat = "text"
	LogFormatJSON   LogFormat = "json"
	LogFormatLogfmt LogFormat = "logfmt"
)

// ParseLogFormat parses a string into a LogFormat. Empty means text.
func ParseLogFormat(s string) (LogFormat, error) {
	switch f := LogFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return LogFormatText, nil
	case LogFormatText, LogFormatJSON, LogFormatLogfmt:
		return f, nil
	default:
		return "", fmt.Errorf("invalid log format '%s' (must be text, json, or logfmt)", s)
	}
}

// Duration is a time.Duration that decodes from strings such as "10s" in
// YAML, TOML, and JSON alike.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}
