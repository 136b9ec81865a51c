package sync

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Index is the in-memory mapping from file name to contents for one peer.
// Its name set is always exactly the key set of the mapping.
//
// Updates are linearized per name, so concurrent updates to the same name
// are last-write-wins, while updates to different names don't contend.
type Index struct {
	files *xsync.MapOf[string, []byte]
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{files: xsync.NewMapOf[string, []byte]()}
}

// Put inserts or overwrites the entry. The Index takes ownership of
// `f.Data`: callers must not modify it afterwards.
func (idx *Index) Put(f FileEntry) {
	idx.files.Store(f.Name, f.Data)
}

// PutIfAbsent inserts the entry unless the name is already indexed, and
// returns whether it was inserted.
func (idx *Index) PutIfAbsent(f FileEntry) bool {
	_, loaded := idx.files.LoadOrStore(f.Name, f.Data)
	return !loaded
}

// Get returns the contents of the file with the given name.
func (idx *Index) Get(name string) ([]byte, bool) {
	return idx.files.Load(name)
}

// Len returns the number of indexed files.
func (idx *Index) Len() int {
	return idx.files.Size()
}

// Names returns a copy of the indexed name set.
func (idx *Index) Names() NameSet {
	names := NameSet{}
	idx.files.Range(func(name string, _ []byte) bool {
		names.Add(name)
		return true
	})
	return names
}

// Snapshot returns a copy of the name to contents mapping. The contents
// slices are shared with the Index, and must be treated as read-only.
func (idx *Index) Snapshot() map[string][]byte {
	snapshot := map[string][]byte{}
	idx.files.Range(func(name string, data []byte) bool {
		snapshot[name] = data
		return true
	})
	return snapshot
}

// Entries returns the indexed entries for `names`, and the subset of `names`
// that isn't indexed.
func (idx *Index) Entries(names NameSet) (entries []FileEntry, absent NameSet) {
	absent = NameSet{}
	for _, name := range names.Sorted() {
		data, ok := idx.files.Load(name)
		if !ok {
			absent.Add(name)
			continue
		}
		entries = append(entries, FileEntry{Name: name, Data: data})
	}
	return entries, absent
}
