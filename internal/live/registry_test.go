package live

import (
	"errors"
	"sync"
	"testing"
)

type fakeTransport struct {
	mu     sync.Mutex
	events []any
	fail   bool
	closed bool
}

func (f *fakeTransport) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("peer gone")
	}
	f.events = append(f.events, v)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) all() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.events...)
}

func (f *fakeTransport) last() any {
	evs := f.all()
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

func TestRegistrySendAndRemove(t *testing.T) {
	r := NewRegistry()
	ft := &fakeTransport{}
	r.Connect("alice", ft)

	if !r.Reachable("alice") {
		t.Fatalf("alice should be reachable")
	}
	if !r.Send("alice", PongEvent{Type: "pong"}) {
		t.Fatalf("send failed")
	}
	if len(ft.all()) != 1 {
		t.Fatalf("expected 1 event, got %d", len(ft.all()))
	}

	r.Remove("alice")
	if r.Send("alice", PongEvent{Type: "pong"}) {
		t.Fatalf("send to removed identity should report false")
	}
	r.Remove("alice") // idempotent
}

func TestRegistryConnectOverwrites(t *testing.T) {
	r := NewRegistry()
	old := &fakeTransport{}
	fresh := &fakeTransport{}
	r.Connect("alice", old)
	r.Connect("alice", fresh)

	r.Send("alice", PongEvent{Type: "pong"})
	if len(old.all()) != 0 {
		t.Fatalf("stale transport received event")
	}
	if len(fresh.all()) != 1 {
		t.Fatalf("fresh transport missed event")
	}
	if r.Count() != 1 {
		t.Fatalf("expected one connection, got %d", r.Count())
	}
}

func TestReleaseIgnoresReplacedTransport(t *testing.T) {
	r := NewRegistry()
	old := &fakeTransport{}
	fresh := &fakeTransport{}
	r.Connect("alice", old)
	r.Connect("alice", fresh)

	if r.Release("alice", old) {
		t.Fatalf("stale transport released the live registration")
	}
	if !r.Send("alice", PongEvent{Type: "pong"}) {
		t.Fatalf("send failed after stale release")
	}
	if len(fresh.all()) != 1 {
		t.Fatalf("live transport missed event after stale release")
	}

	if !r.Release("alice", fresh) {
		t.Fatalf("live transport not released")
	}
	if r.Reachable("alice") {
		t.Fatalf("identity reachable after release")
	}
	r.Release("alice", fresh) // idempotent
}

func TestRegistrySendFailureTriggersCleanup(t *testing.T) {
	r := NewRegistry()
	var cleaned []string
	r.SetFailureHandler(func(identity string) { cleaned = append(cleaned, identity) })

	r.Connect("alice", &fakeTransport{fail: true})
	if r.Send("alice", PongEvent{Type: "pong"}) {
		t.Fatalf("failed write should report false")
	}
	if len(cleaned) != 1 || cleaned[0] != "alice" {
		t.Fatalf("failure handler not invoked: %v", cleaned)
	}
	if r.Reachable("alice") {
		t.Fatalf("failed transport should be removed")
	}
}

func TestBroadcastSessionPartialDelivery(t *testing.T) {
	r := NewRegistry()
	r.SetFailureHandler(func(string) {})
	ft := &fakeTransport{}
	r.Connect("bob", ft)

	g := GameSession{White: "alice", Black: "bob"}
	r.BroadcastSession(g, PongEvent{Type: "pong"})
	if len(ft.all()) != 1 {
		t.Fatalf("reachable participant missed broadcast")
	}
}
