package slug

import (
	"fmt"
	"strings"
)

// DefaultMaxLength bounds sanitized slugs so they stay usable as DNS labels
// and URL path segments.
const DefaultMaxLength = 63

// DefaultMinLength is the shortest slug accepted by default rules.
const DefaultMinLength = 3

// Sanitize normalizes a human-chosen tenant name into slug form: lowercase,
// spaces and underscores become hyphens, everything outside [a-z0-9-] is
// dropped, runs of hyphens collapse to one, and the result is trimmed and
// truncated to maxLength. A maxLength <= 0 uses DefaultMaxLength.
func Sanitize(raw string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '_' || r == '-':
			return '-'
		default:
			return -1
		}
	}, s)

	// Collapse repeated separators.
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")

	if len(s) > maxLength {
		s = strings.Trim(s[:maxLength], "-")
	}

	return s
}

// RejectReason identifies why a candidate slug failed validation.
type RejectReason string

const (
	ReasonEmpty    RejectReason = "empty"
	ReasonTooShort RejectReason = "too_short"
	ReasonReserved RejectReason = "reserved"
)

// ValidationError describes a rejected slug candidate.
type ValidationError struct {
	Candidate string
	Reason    RejectReason
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonEmpty:
		return "slug is empty after sanitization"
	case ReasonTooShort:
		return fmt.Sprintf("slug %q is too short", e.Candidate)
	case ReasonReserved:
		return fmt.Sprintf("slug %q is a reserved identifier", e.Candidate)
	default:
		return fmt.Sprintf("slug %q is invalid", e.Candidate)
	}
}

// IsValidationError reports whether err is a slug validation failure.
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// Rules holds the validation configuration. The reserved set and length
// bounds are deployment configuration, not a compiled-in contract.
type Rules struct {
	MinLength int      `yaml:"min_length"`
	MaxLength int      `yaml:"max_length"`
	Reserved  []string `yaml:"reserved"`
}

// DefaultRules returns the rules used when no configuration is supplied.
func DefaultRules() Rules {
	return Rules{
		MinLength: DefaultMinLength,
		MaxLength: DefaultMaxLength,
		Reserved: []string{
			"admin", "api", "app", "auth", "billing", "dashboard", "docs",
			"help", "internal", "login", "logout", "metrics", "root",
			"settings", "signup", "status", "support", "system", "www",
		},
	}
}

// Validator validates sanitized slug candidates against a rule set.
type Validator struct {
	rules    Rules
	reserved map[string]struct{}
}

// NewValidator creates a Validator from the given rules. Zero-valued length
// bounds fall back to the defaults.
func NewValidator(rules Rules) *Validator {
	if rules.MinLength <= 0 {
		rules.MinLength = DefaultMinLength
	}
	if rules.MaxLength <= 0 {
		rules.MaxLength = DefaultMaxLength
	}
	reserved := make(map[string]struct{}, len(rules.Reserved))
	for _, w := range rules.Reserved {
		reserved[strings.ToLower(w)] = struct{}{}
	}
	return &Validator{rules: rules, reserved: reserved}
}

// MaxLength exposes the configured upper bound so callers can sanitize with
// the same limit the validator enforces.
func (v *Validator) MaxLength() int {
	return v.rules.MaxLength
}

// Validate checks a sanitized candidate. It returns nil for acceptable slugs
// and a *ValidationError otherwise.
func (v *Validator) Validate(candidate string) error {
	if candidate == "" {
		return &ValidationError{Candidate: candidate, Reason: ReasonEmpty}
	}
	if len(candidate) < v.rules.MinLength {
		return &ValidationError{Candidate: candidate, Reason: ReasonTooShort}
	}
	if _, ok := v.reserved[candidate]; ok {
		return &ValidationError{Candidate: candidate, Reason: ReasonReserved}
	}
	return nil
}
