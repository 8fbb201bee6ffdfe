package models

import (
	"strings"

	"github.com/google/uuid"
)

// Slot names the template placeholders the assembler knows how to fill.
const (
	SlotBusinessContext = "business_context"
	SlotSchemaContext   = "schema_context"
	SlotRules           = "rules"
	SlotExamples        = "examples"
	SlotQuestion        = "question"
)

// TemplateSlot is one named placeholder in a prompt template.
type TemplateSlot struct {
	Name     string `json:"name" yaml:"name"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// PromptTemplate is a reusable prompt skeleton. Placeholders appear in the
// body as {{name}}. Templates are immutable once selected for a request.
type PromptTemplate struct {
	ID      uuid.UUID      `json:"id" yaml:"id"`
	Name    string         `json:"name" yaml:"name"`
	Body    string         `json:"body" yaml:"body"`
	Slots   []TemplateSlot `json:"slots" yaml:"slots"`
	Intents []IntentType   `json:"intents,omitempty" yaml:"intents,omitempty"`
	Domains []string       `json:"domains,omitempty" yaml:"domains,omitempty"`

	// Synthesized marks templates built dynamically for one request rather
	// than drawn from the corpus.
	Synthesized bool `json:"synthesized,omitempty" yaml:"-"`
}

// Placeholder returns the literal placeholder text for a slot name.
func Placeholder(slot string) string {
	return "{{" + slot + "}}"
}

// HasSlot reports whether the template declares the named slot.
func (t *PromptTemplate) HasSlot(name string) bool {
	for _, s := range t.Slots {
		if s.Name == name {
			return true
		}
	}
	return false
}

// OverheadText returns the template body with all placeholders removed,
// which is what the fixed template text costs before any section is added.
func (t *PromptTemplate) OverheadText() string {
	body := t.Body
	for _, s := range t.Slots {
		body = strings.ReplaceAll(body, Placeholder(s.Name), "")
	}
	return body
}

// MatchesIntent reports whether the template is tagged for the given intent.
// Templates with no intent tags match any intent.
func (t *PromptTemplate) MatchesIntent(intent IntentType) bool {
	if len(t.Intents) == 0 {
		return true
	}
	for _, i := range t.Intents {
		if i == intent {
			return true
		}
	}
	return false
}
