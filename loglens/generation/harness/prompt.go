package harness

import (
	"strings"
	"sync"

	ports "github.com/ZanzyTHEbar/loglens/loglens/generation/harness/ports"
)

// Placeholder marks where the input is substituted into a template.
const Placeholder = "%s"

// Templates holds the two instruction templates. Each carries a single Placeholder.
type Templates struct {
	First    string
	FollowUp string
}

// PromptBuilder renders the round-specific prompt for the completion endpoint.
type PromptBuilder struct {
	mu        sync.RWMutex
	templates Templates
}

func NewPromptBuilder(t Templates) *PromptBuilder { return &PromptBuilder{templates: t} }

// SetTemplates swaps the templates used by subsequent Build calls.
func (b *PromptBuilder) SetTemplates(t Templates) {
	b.mu.Lock()
	b.templates = t
	b.mu.Unlock()
}

// Templates returns the templates currently in use.
func (b *PromptBuilder) Templates() Templates {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.templates
}

// Build fills the first-round or follow-up template with input. Follow-up
// prompts are prefixed with contextText; first-round prompts never are.
func (b *PromptBuilder) Build(input, contextText string, firstRound bool, meta map[string]string) ports.PromptInput {
	t := b.Templates()

	var prompt string
	if firstRound {
		prompt = fill(t.First, input)
	} else {
		prompt = contextText + fill(t.FollowUp, input)
	}

	return ports.PromptInput{
		Messages: []ports.PromptMessage{{Role: "user", Content: prompt}},
		Meta:     meta,
	}
}

// fill replaces the first placeholder only, so a "%s" inside input is left alone.
func fill(template, input string) string {
	return strings.Replace(template, Placeholder, input, 1)
}
