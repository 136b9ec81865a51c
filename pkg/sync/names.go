package sync

import (
	"sort"
	"strings"
)

// NameDelimiter separates names in the plain-text name lists exchanged during
// a probe. Names containing it aren't escaped.
const NameDelimiter = "|"

// FileEntry is a single file in a collection.
type FileEntry struct {
	Name string
	Data []byte
}

// NameSet is a set of file names.
type NameSet map[string]struct{}

// NewNameSet returns a NameSet containing `names`.
func NewNameSet(names ...string) NameSet {
	set := NameSet{}
	for _, name := range names {
		set.Add(name)
	}
	return set
}

// Add inserts name into the set.
func (set NameSet) Add(name string) {
	set[name] = struct{}{}
}

// Has returns whether name is in the set.
func (set NameSet) Has(name string) bool {
	_, ok := set[name]
	return ok
}

// Sorted returns the names in lexical order.
func (set NameSet) Sorted() []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Join returns the names joined by NameDelimiter. The order is unspecified
// by the protocol, but sorted here so that the output is stable.
func (set NameSet) Join() string {
	return strings.Join(set.Sorted(), NameDelimiter)
}

// ParseNames splits a NameDelimiter separated list into a NameSet. An empty
// list is an empty set, and empty segments are skipped since names are never
// empty.
func ParseNames(list string) NameSet {
	set := NameSet{}
	if list == "" {
		return set
	}

	for _, name := range strings.Split(list, NameDelimiter) {
		if name == "" {
			continue
		}
		set.Add(name)
	}
	return set
}
