package reactive

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
)

var ErrNotMapping = errors.New("value is not a mapping")

// Scope is the accessor over a plain mapping. Reads made while an effect is
// recording register that effect under the fully qualified path, writes mark
// the path pending. Non array mappings read through a scope come back as
// nested scopes so that their members are tracked too.
type Scope struct {
	t      *Tracker
	data   map[string]any
	prefix string
}

// NewScope wraps data. id disambiguates same named keys of different scope
// instances and must be unique per tracker.
func (t *Tracker) NewScope(data map[string]any, id int) *Scope {
	if data == nil {
		data = map[string]any{}
	}
	return &Scope{t: t, data: data, prefix: strconv.Itoa(id) + "."}
}

func (s *Scope) Get(key string) any {
	v := s.data[key]
	if !s.t.reactive {
		return v
	}
	if m, ok := v.(map[string]any); ok {
		return &Scope{t: s.t, data: m, prefix: s.prefix + key + "."}
	}
	s.t.track(s.prefix + key)
	return v
}

func (s *Scope) Set(key string, value any) {
	s.data[key] = value
	s.t.write(s.prefix + key)
}

// Merge sets every key of fragment, in key order.
func (s *Scope) Merge(fragment map[string]any) {
	keys := make([]string, 0, len(fragment))
	for k := range fragment {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		s.Set(k, fragment[k])
	}
}

// Lookup walks a dotted path through nested scopes.
func (s *Scope) Lookup(path ...string) (any, error) {
	var cur any = s
	for i, key := range path {
		switch next := cur.(type) {
		case *Scope:
			cur = next.Get(key)
		case map[string]any:
			cur = next[key]
		default:
			return nil, fmt.Errorf("%w at %q", ErrNotMapping, path[:i])
		}
	}
	return cur, nil
}

// Raw returns the backing mapping without tracking.
func (s *Scope) Raw() map[string]any { return s.data }

func (s *Scope) Prefix() string { return s.prefix }
