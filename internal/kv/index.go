package kv

import "sync"

// Index is the in-memory mirror of the log: a key/value map guarded by a
// readers-writer lock. Readers may proceed in parallel; mutation (set and
// delete, including those applied during replay) takes the writer side.
// Index exposes no iteration to callers outside this package.
type Index struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{data: make(map[string][]byte)}
}

// Get returns a copy of the value for key, and whether it was present.
func (ix *Index) Get(key string) ([]byte, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	v, ok := ix.data[key]
	if !ok {
		return nil, false
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true
}

// Set installs value for key, replacing any existing entry.
func (ix *Index) Set(key string, value []byte) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	ix.data[key] = cp
}

// Delete removes key. A missing key is a no-op.
func (ix *Index) Delete(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.data, key)
}

// Apply installs the effect of a single replayed record: SET writes,
// DELETE removes, a DELETE of a missing key is a no-op.
func (ix *Index) Apply(rec Record) {
	switch rec.Kind {
	case RecordSet:
		ix.Set(rec.Key, rec.Value)
	case RecordDelete:
		ix.Delete(rec.Key)
	}
}

// Len reports the number of live keys, used by tests and by the engine's
// startup log line.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.data)
}
