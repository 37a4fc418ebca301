// Package capability models optional host features a contract may require.
//
// A module is admissible only if every capability it requires is contained
// in the host's available set.
package capability

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Well-known capability names.
const (
	Iterator = "iterator"
	Staking  = "staking"
	Stargate = "stargate"
)

// Set is an unordered collection of capability names.
// A Set is not safe for concurrent mutation; the cache only reads it after construction.
type Set struct {
	s mapset.Set[string]
}

// New creates a set from names, ignoring blanks.
func New(names ...string) Set {
	s := mapset.NewThreadUnsafeSet[string]()
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			s.Add(n)
		}
	}
	return Set{s: s}
}

// FromCSV parses a comma separated list such as "iterator,staking".
func FromCSV(csv string) Set {
	return New(strings.Split(csv, ",")...)
}

func (s Set) set() mapset.Set[string] {
	if s.s == nil {
		return mapset.NewThreadUnsafeSet[string]()
	}
	return s.s
}

func (s Set) Contains(name string) bool {
	return s.s != nil && s.s.Contains(name)
}

func (s Set) Len() int {
	if s.s == nil {
		return 0
	}
	return s.s.Cardinality()
}

// List returns the names in sorted order.
func (s Set) List() []string {
	if s.s == nil {
		return []string{}
	}
	out := s.s.ToSlice()
	sort.Strings(out)
	return out
}

// String returns the sorted CSV form, the inverse of FromCSV.
func (s Set) String() string {
	return strings.Join(s.List(), ",")
}

// Union returns a new set with the names of both sets.
func (s Set) Union(other Set) Set {
	return Set{s: s.set().Union(other.set())}
}

// Missing returns every name of required that is absent from available, sorted.
func Missing(required, available Set) []string {
	diff := required.set().Difference(available.set()).ToSlice()
	sort.Strings(diff)
	return diff
}

// IsSubset reports whether required is contained in available.
func IsSubset(required, available Set) bool {
	return required.set().IsSubset(available.set())
}
