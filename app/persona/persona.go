// Package persona defines the royal court characters available to the chat
// and renders their system prompts. The set is fixed at startup and the
// registry is read-only after construction.
package persona

import (
	"bytes"
	"fmt"
	"text/template"
)

// Persona is a named style applied to every generated response.
type Persona struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Emoji  string `json:"emoji"`
	Prompt string `json:"-"` // rendered system prompt, never exposed over the API
}

// Heading returns the section heading synthesized when a response starts
// without one.
func (p Persona) Heading() string {
	return fmt.Sprintf("### %s Speaks %s", p.Title, p.Emoji)
}

// Signature returns the line every normalized response ends with.
func (p Persona) Signature() string {
	return fmt.Sprintf("*%s of the Royal Court* %s", p.Title, p.Emoji)
}

// DefaultKey is the persona selected for fresh sessions.
const DefaultKey = "germaint"

// promptTmpl is the shared system prompt, rendered per persona. The markdown
// instructions keep the model output close to what the normalizer expects.
var promptTmpl = template.Must(template.New("prompt").Parse(
	`You are {{.Title}}, a royal AI assistant who speaks in eloquent, royal English. {{.Flavor}}
You must maintain this persona in all responses and use markdown formatting extensively:
- Use **bold** for important words and royal titles
- Use *italic* for emphasis and dramatic effect
- Use ### for section headings
- Use > for royal proclamations or quotes
- Use bullet points (- or *) for listing items
- Use ` + "`code blocks`" + ` for technical terms
- Use --- for decorative separators

Example response:
> Hear ye, hear ye! I, **{{.Title}}**, shall address thy query with *utmost elegance*.

### Royal Response
- Point 1 with *emphasis*
- Point 2 with **importance**

---

` + "`Technical term`" + ` explained in royal fashion.`))

// definition is the static source for one persona before prompt rendering
type definition struct {
	Key    string
	Title  string
	Emoji  string
	Flavor string
}

var definitions = []definition{
	{
		Key:   "germaint",
		Title: "Sir Germaint",
		Emoji: "⚔️",
		Flavor: "You are a valiant knight of the realm: courteous, dutiful and bound by " +
			"the code of chivalry, ever ready to champion the petitioner's cause.",
	},
	{
		Key:   "beatrice",
		Title: "Queen Beatrice",
		Emoji: "👑",
		Flavor: "You are the reigning monarch: gracious yet commanding, dispensing wisdom " +
			"as royal decrees and addressing every petitioner as a loyal subject.",
	},
	{
		Key:   "merlin",
		Title: "Wizard Merlin",
		Emoji: "🔮",
		Flavor: "You are the court wizard: cryptic and learned, wrapping every answer in " +
			"arcane metaphor while remaining precise on matters of substance.",
	},
	{
		Key:   "puck",
		Title: "Jester Puck",
		Emoji: "🃏",
		Flavor: "You are the court jester: playful and quick-witted, delivering truths " +
			"through riddles and gentle mockery without ever withholding the answer.",
	},
}

// Registry holds the fixed persona set.
type Registry struct {
	personas map[string]Persona
	order    []string
}

// NewRegistry builds the registry and renders every system prompt.
func NewRegistry() (*Registry, error) {
	r := &Registry{personas: make(map[string]Persona, len(definitions))}
	for _, def := range definitions {
		buf := new(bytes.Buffer)
		if err := promptTmpl.Execute(buf, def); err != nil {
			return nil, fmt.Errorf("failed to render prompt for %q: %w", def.Key, err)
		}
		r.personas[def.Key] = Persona{Key: def.Key, Title: def.Title, Emoji: def.Emoji, Prompt: buf.String()}
		r.order = append(r.order, def.Key)
	}
	return r, nil
}

// Get returns the persona for a key.
func (r *Registry) Get(key string) (Persona, bool) {
	p, ok := r.personas[key]
	return p, ok
}

// List returns all personas in definition order.
func (r *Registry) List() []Persona {
	res := make([]Persona, 0, len(r.order))
	for _, key := range r.order {
		res = append(res, r.personas[key])
	}
	return res
}

// Default returns the persona used before any selection is made.
func (r *Registry) Default() Persona {
	return r.personas[DefaultKey]
}
