package harness

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxInputSize caps an input at this many runes.
const DefaultMaxInputSize = 20000

// Guardrails enforces the input checks that run before any remote call.
type Guardrails struct {
	marker       string // required substring of a first-round input
	maxInputSize int    // in runes, 0 disables
}

// NewGuardrails creates guardrails for the given format marker and size cap.
func NewGuardrails(marker string, maxInputSize int) *Guardrails {
	return &Guardrails{marker: marker, maxInputSize: maxInputSize}
}

// ValidateInput checks text for the given round. The format marker is only
// required on the first round so follow-up questions can be free-form.
func (g *Guardrails) ValidateInput(text string, firstRound bool) error {
	if strings.TrimSpace(text) == "" {
		return validationError(MsgEmptyInput)
	}
	if g.maxInputSize > 0 && utf8.RuneCountInString(text) > g.maxInputSize {
		return validationError(MsgInputTooLarge)
	}
	if firstRound && g.marker != "" && !strings.Contains(text, g.marker) {
		return validationError(MsgInvalidFormat)
	}
	return nil
}

// ValidateNotBlank is the round-independent part of ValidateInput.
func (g *Guardrails) ValidateNotBlank(text string) error {
	if strings.TrimSpace(text) == "" {
		return validationError(MsgEmptyInput)
	}
	return nil
}
