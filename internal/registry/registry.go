package registry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// state is the on-disk shape of the registry file.
type state struct {
	ActiveChats []string `json:"active_chats"`
}

// Registry is the set of Telegram chats subscribed to forwarded content.
// Every mutation rewrites the backing file in full; the in-memory set is the
// source of truth for the running process, so a failed write is logged and
// not rolled back.
type Registry struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	chats map[string]struct{}
}

// Load reads the state file at path. A missing file yields an empty registry;
// a malformed file is logged and also yields an empty registry. Neither is
// fatal.
func Load(path string, logger *slog.Logger) *Registry {
	r := &Registry{
		path:   path,
		logger: logger,
		chats:  make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("cannot read state file", "path", path, "err", err)
		}
		return r
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		logger.Error("malformed state file, starting with empty registry", "path", path, "err", err)
		return r
	}

	for _, id := range st.ActiveChats {
		r.chats[id] = struct{}{}
	}
	logger.Info("registry state loaded", "path", path, "chats", len(r.chats))
	return r
}

// Add registers a destination chat. Returns false when the chat was already
// active; the state file is rewritten only on an actual change.
func (r *Registry) Add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[id]; ok {
		return false
	}
	r.chats[id] = struct{}{}
	r.persist()
	return true
}

// Remove deregisters a destination chat. Returns false when the chat was not
// active.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[id]; !ok {
		return false
	}
	delete(r.chats, id)
	r.persist()
	return true
}

// Snapshot returns a sorted copy of the active chat ids, safe to iterate
// while the registry mutates.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.chats))
	for id := range r.chats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of active chats.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats)
}

// persist rewrites the whole state file. Caller must hold r.mu.
func (r *Registry) persist() {
	ids := make([]string, 0, len(r.chats))
	for id := range r.chats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.Marshal(state{ActiveChats: ids})
	if err != nil {
		r.logger.Error("cannot marshal registry state", "err", err)
		return
	}

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			r.logger.Error("cannot create state directory", "dir", dir, "err", err)
			return
		}
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		r.logger.Error("cannot write state file", "path", r.path, "err", err)
	}
}
