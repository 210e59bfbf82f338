package live

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeFinalizer struct {
	mu    sync.Mutex
	store *Store
	calls []string // "id/reason"
}

func (f *fakeFinalizer) Finalize(ctx context.Context, sessionID, reason string) error {
	f.mu.Lock()
	f.calls = append(f.calls, sessionID+"/"+reason)
	f.mu.Unlock()
	return f.store.Evict(sessionID)
}

func newTestRouter() (*Router, *Registry, *Store, *Queue) {
	registry := NewRegistry()
	store := NewStore()
	queue := NewQueue()
	router := NewRouter(registry, store, queue, nil, time.Minute, time.Second)
	return router, registry, store, queue
}

func connectPair(r *Registry) (*fakeTransport, *fakeTransport) {
	a, b := &fakeTransport{}, &fakeTransport{}
	r.Connect("alice", a)
	r.Connect("bob", b)
	return a, b
}

func findStart(t *testing.T, ft *fakeTransport) GameStartEvent {
	t.Helper()
	for _, ev := range ft.all() {
		if start, ok := ev.(GameStartEvent); ok {
			return start
		}
	}
	t.Fatalf("no game_start received")
	return GameStartEvent{}
}

func startMatchedGame(t *testing.T, router *Router, a, b *fakeTransport) GameStartEvent {
	t.Helper()
	ctx := context.Background()
	router.HandleEvent(ctx, "alice", Inbound{Type: EventFindMatch, Elo: 1200})
	router.HandleEvent(ctx, "bob", Inbound{Type: EventFindMatch, Elo: 1500})

	sa, sb := findStart(t, a), findStart(t, b)
	if sa.GameID != sb.GameID {
		t.Fatalf("different game ids: %q vs %q", sa.GameID, sb.GameID)
	}
	if sa.YourColor == sb.YourColor {
		t.Fatalf("colors not complementary: both %s", sa.YourColor)
	}
	return sa
}

func TestMatchmakingFlowDeliversGameStart(t *testing.T) {
	router, registry, store, _ := newTestRouter()
	a, b := connectPair(registry)

	start := startMatchedGame(t, router, a, b)
	if start.White == start.Black {
		t.Fatalf("participants collapsed: %+v", start)
	}
	if start.Private {
		t.Fatalf("queue match must not be private")
	}
	if _, ok := store.SessionFor("alice"); !ok {
		t.Fatalf("alice not indexed to session")
	}
}

func TestMoveBroadcastAndOutOfTurnError(t *testing.T) {
	router, registry, store, _ := newTestRouter()
	a, b := connectPair(registry)
	start := startMatchedGame(t, router, a, b)
	ctx := context.Background()

	snap, _ := store.Get(start.GameID)
	white := snap.PlayerOf(White)
	black := snap.PlayerOf(Black)
	whiteFT, blackFT := a, b
	if white == "bob" {
		whiteFT, blackFT = b, a
	}

	// Black tries to move first: error to black only, no broadcast.
	before := len(whiteFT.all())
	router.HandleEvent(ctx, black, Inbound{Type: EventMove, GameID: start.GameID, Move: ptrMove(testMove("e5"))})
	if _, ok := blackFT.last().(ErrorEvent); !ok {
		t.Fatalf("expected error event, got %T", blackFT.last())
	}
	if len(whiteFT.all()) != before {
		t.Fatalf("rejected move leaked to opponent")
	}

	// White moves: both sides see it.
	router.HandleEvent(ctx, white, Inbound{Type: EventMove, GameID: start.GameID, Move: ptrMove(testMove("e4"))})
	for _, ft := range []*fakeTransport{whiteFT, blackFT} {
		mv, ok := ft.last().(MoveEvent)
		if !ok {
			t.Fatalf("expected move event, got %T", ft.last())
		}
		if mv.Player != white || mv.CurrentTurn != Black {
			t.Fatalf("unexpected move event: %+v", mv)
		}
	}
}

func TestResignBroadcastsGameEndAndFinalizes(t *testing.T) {
	router, registry, store, _ := newTestRouter()
	fin := &fakeFinalizer{store: store}
	router.AttachFinalizer(fin)
	a, b := connectPair(registry)
	start := startMatchedGame(t, router, a, b)
	ctx := context.Background()

	router.HandleEvent(ctx, "alice", Inbound{Type: EventGameAction, GameID: start.GameID, Action: "resign"})

	for _, ft := range []*fakeTransport{a, b} {
		end, ok := ft.last().(GameEndEvent)
		if !ok {
			t.Fatalf("expected game_end, got %T", ft.last())
		}
		if end.Reason != ReasonResignation || end.Winner != "bob" {
			t.Fatalf("unexpected end event: %+v", end)
		}
	}
	if len(fin.calls) != 1 || fin.calls[0] != start.GameID+"/"+ReasonResignation {
		t.Fatalf("finalizer calls: %v", fin.calls)
	}
	if _, err := store.Get(start.GameID); err == nil {
		t.Fatalf("session should be evicted after finalization")
	}
}

func TestDrawOfferRoutedToOpponent(t *testing.T) {
	router, registry, _, _ := newTestRouter()
	a, b := connectPair(registry)
	start := startMatchedGame(t, router, a, b)
	ctx := context.Background()

	router.HandleEvent(ctx, "alice", Inbound{Type: EventGameAction, GameID: start.GameID, Action: "offer_draw"})
	offer, ok := b.last().(DrawOfferEvent)
	if !ok || offer.From != "alice" {
		t.Fatalf("expected draw offer from alice, got %T %+v", b.last(), b.last())
	}

	router.HandleEvent(ctx, "bob", Inbound{Type: EventGameAction, GameID: start.GameID, Action: "decline_draw"})
	declined, ok := a.last().(DrawDeclinedEvent)
	if !ok || declined.From != "bob" {
		t.Fatalf("expected decline from bob, got %T", a.last())
	}

	router.HandleEvent(ctx, "bob", Inbound{Type: EventGameAction, GameID: start.GameID, Action: "accept_draw"})
	end, ok := a.last().(GameEndEvent)
	if !ok || end.Result != ResultDraw || end.Reason != ReasonAgreement {
		t.Fatalf("expected agreed draw, got %T %+v", a.last(), a.last())
	}
}

func TestChatBroadcastToBothParticipants(t *testing.T) {
	router, registry, _, _ := newTestRouter()
	a, b := connectPair(registry)
	start := startMatchedGame(t, router, a, b)
	ctx := context.Background()

	router.HandleEvent(ctx, "alice", Inbound{Type: EventChat, GameID: start.GameID, Message: "good luck"})
	for _, ft := range []*fakeTransport{a, b} {
		chat, ok := ft.last().(ChatEvent)
		if !ok || chat.Player != "alice" || chat.Message != "good luck" {
			t.Fatalf("chat not broadcast: %T %+v", ft.last(), ft.last())
		}
	}

	// game_id is optional; the sender's session is used when absent.
	router.HandleEvent(ctx, "bob", Inbound{Type: EventChat, Message: "thanks"})
	chat, ok := a.last().(ChatEvent)
	if !ok || chat.Player != "bob" || chat.Message != "thanks" {
		t.Fatalf("fallback chat not delivered: %T %+v", a.last(), a.last())
	}

	// An outsider naming the game gets an error, not delivery.
	c := &fakeTransport{}
	registry.Connect("carol", c)
	before := len(b.all())
	router.HandleEvent(ctx, "carol", Inbound{Type: EventChat, GameID: start.GameID, Message: "hi"})
	if _, ok := c.last().(ErrorEvent); !ok {
		t.Fatalf("expected error for outsider chat, got %T", c.last())
	}
	if len(b.all()) != before {
		t.Fatalf("outsider chat leaked into the game")
	}
}

func TestFindMatchRequeuesFreeSideWhenPairingFails(t *testing.T) {
	router, registry, _, queue := newTestRouter()
	a, b := connectPair(registry)
	c := &fakeTransport{}
	registry.Connect("carol", c)
	ctx := context.Background()

	// alice and bob are mid-game; carol waits in the queue.
	startMatchedGame(t, router, a, b)
	router.HandleEvent(ctx, "carol", Inbound{Type: EventFindMatch, Elo: 1100})

	// bob seeks while busy: bob gets the error, carol keeps her slot.
	router.HandleEvent(ctx, "bob", Inbound{Type: EventFindMatch, Elo: 1500})
	if _, ok := b.last().(ErrorEvent); !ok {
		t.Fatalf("busy seeker should get an error, got %T", b.last())
	}
	if queue.Waiting() != 1 {
		t.Fatalf("free side lost its queue slot: waiting=%d", queue.Waiting())
	}
	if _, ok := c.last().(ErrorEvent); ok {
		t.Fatalf("queued player should not see the busy error")
	}

	// A fresh seeker still pairs with carol.
	d := &fakeTransport{}
	registry.Connect("dave", d)
	router.HandleEvent(ctx, "dave", Inbound{Type: EventFindMatch, Elo: 1300})
	if findStart(t, c).GameID != findStart(t, d).GameID {
		t.Fatalf("requeued player did not pair")
	}
}

func TestPingAndUnknownType(t *testing.T) {
	router, registry, _, _ := newTestRouter()
	ft := &fakeTransport{}
	registry.Connect("alice", ft)
	ctx := context.Background()

	router.HandleEvent(ctx, "alice", Inbound{Type: EventPing})
	if _, ok := ft.last().(PongEvent); !ok {
		t.Fatalf("expected pong, got %T", ft.last())
	}

	router.HandleEvent(ctx, "alice", Inbound{Type: "teleport"})
	if _, ok := ft.last().(ErrorEvent); !ok {
		t.Fatalf("expected error for unknown type, got %T", ft.last())
	}
}

func TestCancelMatch(t *testing.T) {
	router, registry, _, queue := newTestRouter()
	ft := &fakeTransport{}
	registry.Connect("alice", ft)
	ctx := context.Background()

	router.HandleEvent(ctx, "alice", Inbound{Type: EventFindMatch, Elo: 1200})
	router.HandleEvent(ctx, "alice", Inbound{Type: EventCancelMatch})
	if _, ok := ft.last().(MatchCancelledEvent); !ok {
		t.Fatalf("expected match_cancelled, got %T", ft.last())
	}
	if queue.Waiting() != 0 {
		t.Fatalf("identity still queued after cancel")
	}
}

func TestDisconnectPausesAndNotifiesOnce(t *testing.T) {
	router, registry, store, _ := newTestRouter()
	a, b := connectPair(registry)
	start := startMatchedGame(t, router, a, b)

	router.Disconnect("alice")

	if registry.Reachable("alice") {
		t.Fatalf("disconnected identity still reachable")
	}
	note, ok := b.last().(OpponentDisconnectedEvent)
	if !ok {
		t.Fatalf("expected opponent_disconnected, got %T", b.last())
	}
	if note.Message == "" {
		t.Fatalf("empty disconnect message")
	}
	snap, err := store.Get(start.GameID)
	if err != nil || snap.Status != StatusPaused {
		t.Fatalf("session not paused: %v %+v", err, snap)
	}

	// Second disconnect is a no-op: no duplicate notification.
	before := len(b.all())
	router.Disconnect("alice")
	if len(b.all()) != before {
		t.Fatalf("duplicate disconnect notification")
	}
}

func TestDisconnectCascadeTerminates(t *testing.T) {
	router, registry, store, _ := newTestRouter()
	a, b := connectPair(registry)
	start := startMatchedGame(t, router, a, b)

	// Both peers fail from here on; alice's disconnect notification to
	// bob fails and cascades into bob's cleanup without recursing.
	a.mu.Lock()
	a.fail = true
	a.mu.Unlock()
	b.mu.Lock()
	b.fail = true
	b.mu.Unlock()

	router.Disconnect("alice")

	if registry.Reachable("bob") {
		t.Fatalf("failed opponent transport should be removed")
	}
	snap, err := store.Get(start.GameID)
	if err != nil || snap.Status != StatusPaused {
		t.Fatalf("session not paused after cascade: %v", err)
	}
}

func TestSweepFinishesAbandonedSession(t *testing.T) {
	registry := NewRegistry()
	store := NewStore()
	queue := NewQueue()
	router := NewRouter(registry, store, queue, nil, time.Millisecond, time.Hour)
	fin := &fakeFinalizer{store: store}
	router.AttachFinalizer(fin)
	a, b := connectPair(registry)
	start := startMatchedGame(t, router, a, b)

	snap, _ := store.Get(start.GameID)
	black := snap.PlayerOf(Black)

	router.Disconnect(black)
	time.Sleep(5 * time.Millisecond)
	router.sweep(context.Background())

	if len(fin.calls) != 1 || fin.calls[0] != start.GameID+"/"+ReasonAbandonment {
		t.Fatalf("finalizer calls: %v", fin.calls)
	}
	whiteFT := a
	if snap.PlayerOf(White) == "bob" {
		whiteFT = b
	}
	end, ok := whiteFT.last().(GameEndEvent)
	if !ok {
		t.Fatalf("expected game_end, got %T", whiteFT.last())
	}
	if end.Reason != ReasonAbandonment || end.Winner != snap.PlayerOf(White) {
		t.Fatalf("reachable participant should win: %+v", end)
	}
}

func TestCreateDirectGame(t *testing.T) {
	router, registry, _, _ := newTestRouter()
	a, b := connectPair(registry)
	ctx := context.Background()

	if _, err := router.CreateDirectGame(ctx, "alice", "ghost", 1200, 1000); err != ErrOpponentUnreachable {
		t.Fatalf("expected ErrOpponentUnreachable, got %v", err)
	}

	snap, err := router.CreateDirectGame(ctx, "alice", "bob", 1200, 1000)
	if err != nil {
		t.Fatalf("CreateDirectGame: %v", err)
	}
	for _, ft := range []*fakeTransport{a, b} {
		start := findStart(t, ft)
		if start.GameID != snap.ID || !start.Private {
			t.Fatalf("expected private game_start, got %+v", start)
		}
	}
}

func TestFinishSession(t *testing.T) {
	router, registry, store, _ := newTestRouter()
	a, b := connectPair(registry)
	start := startMatchedGame(t, router, a, b)
	ctx := context.Background()

	snap, err := router.FinishSession(ctx, start.GameID, ResultDraw, "", ReasonAgreement)
	if err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	if snap.Result != ResultDraw {
		t.Fatalf("unexpected result: %s", snap.Result)
	}
	// Nil finalizer path evicts directly.
	if _, err := store.Get(start.GameID); err == nil {
		t.Fatalf("session should be evicted")
	}
	if _, ok := a.last().(GameEndEvent); !ok {
		t.Fatalf("expected game_end, got %T", a.last())
	}
	_ = b
}

func ptrMove(mv Move) *Move { return &mv }
