package rbac

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Registry owns the mutable user store and its flat-file persistence. The
// in-memory map is guarded by mu; the write-temp-then-rename sequence is
// serialized by fileMu so concurrent persists cannot interleave and a crash
// mid-write leaves either the old or the new complete file.
type Registry struct {
	path string

	mu    sync.RWMutex
	users map[int64]UserEntry

	fileMu sync.Mutex
}

// OpenRegistry loads the user store. A missing or corrupt file is a
// non-recoverable startup error.
func OpenRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: read users file %s: %w", path, err)
	}
	var stored map[string]UserEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("rbac: parse users file %s: %w", path, err)
	}
	users := make(map[int64]UserEntry, len(stored))
	for key, entry := range stored {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rbac: invalid principal key %q in %s", key, path)
		}
		users[id] = entry
	}
	return &Registry{path: path, users: users}, nil
}

// Get returns the stored entry for a principal.
func (r *Registry) Get(id int64) (UserEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.users[id]
	return entry, ok
}

// Set stores the entry for a principal in memory. Call Persist afterwards to
// make the change durable.
func (r *Registry) Set(id int64, entry UserEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = entry
}

// Len returns the number of stored principals.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// IDsAtLevel returns every principal stored at exactly the given level.
func (r *Registry) IDsAtLevel(level int) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []int64
	for id, entry := range r.users {
		if entry.Level == level {
			ids = append(ids, id)
		}
	}
	return ids
}

// Persist writes the full current state to a temporary file in the target
// directory and atomically renames it over the destination. The snapshot is
// taken under the file gate, so the persist that runs last always captures
// every mutation that preceded it.
func (r *Registry) Persist() error {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	r.mu.RLock()
	snapshot := make(map[string]UserEntry, len(r.users))
	for id, entry := range r.users {
		snapshot[strconv.FormatInt(id, 10)] = entry
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("rbac: encode users: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".users-*.tmp")
	if err != nil {
		return fmt.Errorf("rbac: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("rbac: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rbac: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rbac: replace users file: %w", err)
	}
	return nil
}
