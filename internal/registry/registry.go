// Package registry builds the canonical list of simulatable machine steps
// from the model catalog.
package registry

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sebastiankruger/factory-twin/internal/catalog"
	"github.com/sebastiankruger/factory-twin/internal/core"
)

const (
	// BaseDuration is the scripted duration of the first step, in seconds
	BaseDuration = 12.0
	// DurationStep is added per position in the 4-step variety cycle
	DurationStep = 4.0
)

// Registry is the immutable set of machine steps derived from a catalog
type Registry struct {
	steps    []core.MachineStep
	byID     map[string]core.MachineStep
	byBaseID map[string][]core.MachineStep
}

// Build derives the registry from the catalog in declaration order.
// Entries are validated first; an invalid entry fails the whole build.
func Build(entries []catalog.ModelCatalogEntry) (*Registry, error) {
	if err := catalog.ValidateModels(entries); err != nil {
		return nil, err
	}

	r := &Registry{
		steps:    make([]core.MachineStep, 0, len(entries)),
		byID:     make(map[string]core.MachineStep, len(entries)),
		byBaseID: make(map[string][]core.MachineStep),
	}

	occurrences := make(map[string]int)
	for index, entry := range entries {
		baseID := strings.TrimSpace(entry.ID)
		occurrences[baseID]++
		occurrence := occurrences[baseID]

		id := baseID
		if occurrence > 1 {
			id = fmt.Sprintf("%s-%d", baseID, occurrence)
		}
		// A later base id may literally equal an earlier generated id
		// (e.g. "press-2"); keep counting until the id is free.
		for _, taken := r.byID[id]; taken; _, taken = r.byID[id] {
			occurrences[baseID]++
			occurrence = occurrences[baseID]
			id = fmt.Sprintf("%s-%d", baseID, occurrence)
		}

		name := DisplayName(baseID)
		if occurrence > 1 {
			name = fmt.Sprintf("%s %d", name, occurrence)
		}

		step := core.MachineStep{
			ID:             id,
			BaseID:         baseID,
			Name:           name,
			ModelReference: entry.Src,
			Duration:       BaseDuration + float64(index%4)*DurationStep,
			Occurrence:     occurrence,
		}

		r.steps = append(r.steps, step)
		r.byID[id] = step
		r.byBaseID[baseID] = append(r.byBaseID[baseID], step)
	}

	return r, nil
}

// DisplayName turns a base id such as "mixer_tank" into "Mixer Tank"
func DisplayName(baseID string) string {
	words := strings.FieldsFunc(baseID, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	if len(words) == 0 {
		return baseID
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}

// Steps returns a copy of all steps in catalog order
func (r *Registry) Steps() []core.MachineStep {
	out := make([]core.MachineStep, len(r.steps))
	copy(out, r.steps)
	return out
}

// Len returns the number of steps
func (r *Registry) Len() int {
	return len(r.steps)
}

// ByID returns the step with the exact step id
func (r *Registry) ByID(id string) (core.MachineStep, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// ByBaseID returns all occurrences of a base id in catalog order
func (r *Registry) ByBaseID(baseID string) []core.MachineStep {
	steps := r.byBaseID[baseID]
	out := make([]core.MachineStep, len(steps))
	copy(out, steps)
	return out
}

// FirstByBaseID returns the first occurrence of a base id
func (r *Registry) FirstByBaseID(baseID string) (core.MachineStep, bool) {
	steps := r.byBaseID[baseID]
	if len(steps) == 0 {
		return core.MachineStep{}, false
	}
	return steps[0], true
}
