package bot

import (
	"context"

	"github.com/warden-bot/warden/internal/rbac"
	"github.com/warden-bot/warden/internal/telegram"
)

// HandlerFunc is the uniform command handler signature. The rbac handle is
// nil for commands registered without the identity gate.
type HandlerFunc func(ctx context.Context, svc *rbac.Service, msg *telegram.Message, principal int64) error

// Entry binds a command name to its required action, description, and
// handler.
type Entry struct {
	Name        string
	Action      string
	Description string
	// GateIdentity controls whether the rbac handle is threaded to the
	// handler. Handlers own the permission check itself; ungated commands
	// simply never see the engine.
	GateIdentity bool
	Handler      HandlerFunc
}

// Registry is a pure routing table from command name to Entry. It holds no
// conversation state. Registration order is preserved for listings;
// re-registering a name replaces the previous binding in place.
type Registry struct {
	entries map[string]Entry
	order   []string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register binds an entry. Last registration wins.
func (r *Registry) Register(entry Entry) {
	if _, exists := r.entries[entry.Name]; !exists {
		r.order = append(r.order, entry.Name)
	}
	r.entries[entry.Name] = entry
}

// Get returns the entry for a command name.
func (r *Registry) Get(name string) (Entry, bool) {
	entry, ok := r.entries[name]
	return entry, ok
}

// Entries returns a snapshot of all entries in registration order.
func (r *Registry) Entries() []Entry {
	snapshot := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		snapshot = append(snapshot, r.entries[name])
	}
	return snapshot
}

// Dispatch looks up name and invokes its handler. Returns false when no
// entry matches, letting the caller fall through to other event handling.
func (r *Registry) Dispatch(ctx context.Context, name string, svc *rbac.Service, msg *telegram.Message, principal int64) (bool, error) {
	entry, ok := r.entries[name]
	if !ok {
		return false, nil
	}
	if !entry.GateIdentity {
		svc = nil
	}
	return true, entry.Handler(ctx, svc, msg, principal)
}
