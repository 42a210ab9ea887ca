// Package scene maps machine names from the sensor stream onto 3D scene
// objects and projects tooltip anchors into screen space.
//
// Sensor names and asset ids drift independently, so resolution first
// consults an alias table and only then falls back to fuzzy containment on
// normalized names.
package scene

import (
	"strings"
	"unicode"
)

// SceneHandle is a renderer-side object
type SceneHandle interface {
	// StepID is the machine step id the object was tagged with, or ""
	StepID() string
	// WorldBounds is the object's world-space bounding box
	WorldBounds() Box3
}

// ObjectSet holds scene objects by id, keeping insertion order so that
// "first match" is deterministic
type ObjectSet struct {
	ids  []string
	byID map[string]SceneHandle
}

func NewObjectSet() *ObjectSet {
	return &ObjectSet{byID: make(map[string]SceneHandle)}
}

// Add registers h under id, replacing an existing object with the same id
func (s *ObjectSet) Add(id string, h SceneHandle) {
	if _, exists := s.byID[id]; !exists {
		s.ids = append(s.ids, id)
	}
	s.byID[id] = h
}

func (s *ObjectSet) Get(id string) (SceneHandle, bool) {
	h, ok := s.byID[id]
	return h, ok
}

func (s *ObjectSet) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s *ObjectSet) Len() int { return len(s.ids) }

// AliasRule maps external machine names onto candidate object ids. A rule
// applies when the name's base key equals Key or contains any Keyword.
type AliasRule struct {
	Key        string
	Keywords   []string
	Candidates []string
}

// DefaultAliases covers the known naming drift between the sensor stream and
// the scene assets
var DefaultAliases = []AliasRule{
	{Key: "weightning", Keywords: []string{"weigh"}, Candidates: []string{"weightning"}},
}

// Match is a resolved scene object
type Match struct {
	ObjectID string
	Handle   SceneHandle
	// Fuzzy is set when the object was found by containment rather than alias
	Fuzzy bool
}

// Resolver resolves external machine names against a set of scene objects
type Resolver struct {
	aliases []AliasRule
}

func NewResolver(aliases []AliasRule) *Resolver {
	return &Resolver{aliases: aliases}
}

// Resolve returns the scene object for an external machine name
func (r *Resolver) Resolve(name string, objects *ObjectSet) (Match, bool) {
	if objects == nil || objects.Len() == 0 || strings.TrimSpace(name) == "" {
		return Match{}, false
	}

	key := BaseKey(name)
	for _, rule := range r.aliases {
		if !rule.applies(key) {
			continue
		}
		for _, candidate := range rule.Candidates {
			if m, ok := findCandidate(candidate, objects); ok {
				return m, true
			}
		}
	}

	needle := Normalize(name)
	if needle == "" {
		return Match{}, false
	}
	for _, id := range objects.ids {
		hay := Normalize(id)
		if hay == "" {
			continue
		}
		if strings.Contains(hay, needle) || strings.Contains(needle, hay) {
			return Match{ObjectID: id, Handle: objects.byID[id], Fuzzy: true}, true
		}
	}
	return Match{}, false
}

func (rule AliasRule) applies(key string) bool {
	if key == rule.Key {
		return true
	}
	for _, kw := range rule.Keywords {
		if kw != "" && strings.Contains(key, kw) {
			return true
		}
	}
	return false
}

func findCandidate(candidate string, objects *ObjectSet) (Match, bool) {
	if h, ok := objects.byID[candidate]; ok {
		return Match{ObjectID: candidate, Handle: h}, true
	}
	for _, id := range objects.ids {
		if strings.EqualFold(id, candidate) {
			return Match{ObjectID: id, Handle: objects.byID[id]}, true
		}
	}
	for _, id := range objects.ids {
		h := objects.byID[id]
		if tag := h.StepID(); tag != "" && strings.EqualFold(tag, candidate) {
			return Match{ObjectID: id, Handle: h}, true
		}
	}
	return Match{}, false
}

// BaseKey lowercases name and strips a trailing "-NN" suffix
func BaseKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	i := strings.LastIndexByte(key, '-')
	if i <= 0 || i == len(key)-1 {
		return key
	}
	for _, r := range key[i+1:] {
		if r < '0' || r > '9' {
			return key
		}
	}
	return key[:i]
}

// Normalize keeps only letters, lowercased
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
