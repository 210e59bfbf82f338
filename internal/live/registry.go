package live

import (
	"sync"

	"go.uber.org/zap"

	"github.com/chessclass/live-server/internal/obslog"
)

// Transport is the opaque handle a connection is reached through. The
// implementation must serialize its own writes; the registry never
// holds its lock across a write.
type Transport interface {
	WriteJSON(v any) error
	Close(code int, reason string) error
}

// Registry tracks which identity is currently reachable and how. One
// connection per identity: a later Connect for the same identity
// replaces the old handle, which is not closed in-band.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Transport

	// onFailure runs the full disconnect cleanup when a delivery
	// fails; wired by the Router at composition time.
	onFailure func(identity string)
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Transport)}
}

// SetFailureHandler installs the cleanup invoked when a send fails.
// Must be called before the registry starts receiving traffic.
func (r *Registry) SetFailureHandler(fn func(identity string)) {
	r.onFailure = fn
}

// Connect registers or overwrites the reachable handle for identity.
func (r *Registry) Connect(identity string, t Transport) {
	r.mu.Lock()
	r.conns[identity] = t
	r.mu.Unlock()
	obslog.L().Info("conn_register", zap.String("identity", identity))
}

// Remove drops the handle for identity, if any. Idempotent.
func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	_, had := r.conns[identity]
	delete(r.conns, identity)
	r.mu.Unlock()
	if had {
		obslog.L().Info("conn_remove", zap.String("identity", identity))
	}
}

// Release drops the handle for identity only if it is still t, and
// reports whether it did. A handle replaced by a newer Connect is left
// alone, so a stale reader loop cannot tear down a reconnection.
func (r *Registry) Release(identity string, t Transport) bool {
	r.mu.Lock()
	cur, ok := r.conns[identity]
	if !ok || cur != t {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, identity)
	r.mu.Unlock()
	obslog.L().Info("conn_remove", zap.String("identity", identity))
	return true
}

// Reachable reports whether identity has a registered handle.
func (r *Registry) Reachable(identity string) bool {
	r.mu.RLock()
	_, ok := r.conns[identity]
	r.mu.RUnlock()
	return ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}

// Send delivers event to identity's current handle. A failed write is
// treated as that peer's disconnect: the handle is removed and the
// failure handler runs. Callers must not assume delivery.
func (r *Registry) Send(identity string, event any) bool {
	r.mu.RLock()
	t, ok := r.conns[identity]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := t.WriteJSON(event); err != nil {
		obslog.L().Warn("conn_send_failed", zap.String("identity", identity), zap.Error(err))
		r.Remove(identity)
		if r.onFailure != nil {
			r.onFailure(identity)
		}
		return false
	}
	return true
}

// BroadcastSession delivers event to both participants independently.
// Partial delivery is allowed and is not itself an error.
func (r *Registry) BroadcastSession(g GameSession, event any) {
	r.Send(g.White, event)
	r.Send(g.Black, event)
}
