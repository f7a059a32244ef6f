// Package catalog holds the fixed set of personas and reference invocations.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"grimoire/internal/domain"
)

//go:embed catalog.yaml
var embedded []byte

type document struct {
	Personas    []domain.Persona    `yaml:"personas"`
	Invocations []domain.Invocation `yaml:"invocations"`
}

// Catalog is an ordered, read-only persona and invocation list.
type Catalog struct {
	personas    []domain.Persona
	byName      map[string]int
	invocations []domain.Invocation
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(embedded)
}

// Parse decodes a YAML catalog document.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if len(doc.Personas) == 0 {
		return nil, errors.New("catalog: no personas defined")
	}

	c := &Catalog{
		personas:    doc.Personas,
		byName:      make(map[string]int, len(doc.Personas)),
		invocations: doc.Invocations,
	}
	for i, p := range doc.Personas {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("catalog: persona %d has no name", i)
		}
		if strings.TrimSpace(p.Instruction) == "" {
			return nil, fmt.Errorf("catalog: persona %q has no instruction", name)
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("catalog: duplicate persona %q", name)
		}
		c.byName[name] = i
	}
	return c, nil
}

// Personas returns the personas in catalog order.
func (c *Catalog) Personas() []domain.Persona {
	out := make([]domain.Persona, len(c.personas))
	copy(out, c.personas)
	return out
}

// Persona looks a persona up by its exact name.
func (c *Catalog) Persona(name string) (domain.Persona, bool) {
	i, ok := c.byName[strings.TrimSpace(name)]
	if !ok {
		return domain.Persona{}, false
	}
	return c.personas[i], true
}

// Invocations returns every invocation in catalog order.
func (c *Catalog) Invocations() []domain.Invocation {
	out := make([]domain.Invocation, len(c.invocations))
	copy(out, c.invocations)
	return out
}

// SearchInvocations matches term case-insensitively against title or text.
// A blank term matches everything.
func (c *Catalog) SearchInvocations(term string) []domain.Invocation {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return c.Invocations()
	}
	var out []domain.Invocation
	for _, inv := range c.invocations {
		if strings.Contains(strings.ToLower(inv.Title), needle) ||
			strings.Contains(strings.ToLower(inv.Text), needle) {
			out = append(out, inv)
		}
	}
	return out
}
