package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"qwork_backend/platform/apperr"
)

// Justification thresholds used when no configuration overrides them.
const (
	DefaultMinJustification       = 10
	DefaultMinForcedJustification = 50
)

// JustificationRules holds the minimum lengths for inactivation reasons.
type JustificationRules struct {
	Min       int
	ForcedMin int
}

// DefaultJustificationRules returns the 10/50 character thresholds.
func DefaultJustificationRules() JustificationRules {
	return JustificationRules{Min: DefaultMinJustification, ForcedMin: DefaultMinForcedJustification}
}

// Required returns the minimum length for the given override flag.
func (r JustificationRules) Required(force bool) int {
	if force {
		return r.ForcedMin
	}
	return r.Min
}

// Validate trims text and checks it against the threshold for force.
// Length is measured in characters, not bytes.
func (r JustificationRules) Validate(text string, force bool) (string, error) {
	trimmed := strings.TrimSpace(text)
	required := r.Required(force)
	got := utf8.RuneCountInString(trimmed)
	if got >= required {
		return trimmed, nil
	}

	msg := fmt.Sprintf("a justificativa deve ter no mínimo %d caracteres", required)
	if force {
		msg = fmt.Sprintf("inativação forçada exige justificativa com no mínimo %d caracteres", required)
	}
	return "", apperr.Validation(msg).WithDetails(map[string]any{
		"field":     "justificativa",
		"minLength": required,
		"length":    got,
		"forcar":    force,
	})
}
