package finalize

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chessclass/live-server/internal/live"
)

type fakeRecorder struct {
	calls int
	fail  bool
	last  struct {
		game   live.GameSession
		reason string
		white  RatingUpdate
		black  RatingUpdate
	}
}

func (f *fakeRecorder) SaveGame(ctx context.Context, g live.GameSession, reason string, white, black RatingUpdate) error {
	f.calls++
	if f.fail {
		return errors.New("db down")
	}
	f.last.game = g
	f.last.reason = reason
	f.last.white = white
	f.last.black = black
	return nil
}

func newTestArchive(t *testing.T) (*Archive, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	a := NewArchiveWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return a, func() { mr.Close() }
}

func finishedSession(t *testing.T, st *live.Store) live.GameSession {
	t.Helper()
	g, err := st.Create("alice", "bob", 1200, 1200)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	out, err := st.ApplyAction(g.ID, live.ActionResign, "alice")
	if err != nil {
		t.Fatalf("resign: %v", err)
	}
	return out.Session
}

func TestFinalizePersistsAndEvicts(t *testing.T) {
	st := live.NewStore()
	g := finishedSession(t, st)
	rec := &fakeRecorder{}
	archive, cleanup := newTestArchive(t)
	defer cleanup()

	f := New(st, rec, archive)
	if err := f.Finalize(context.Background(), g.ID, live.ReasonResignation); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if rec.calls != 1 || rec.last.reason != live.ReasonResignation {
		t.Fatalf("recorder: calls=%d reason=%q", rec.calls, rec.last.reason)
	}
	// alice resigned, so bob won: whoever plays bob's color gained.
	winner := rec.last.white
	loser := rec.last.black
	if rec.last.game.Winner == rec.last.black.Username {
		winner, loser = rec.last.black, rec.last.white
	}
	if winner.Delta() <= 0 || loser.Delta() >= 0 {
		t.Fatalf("rating direction wrong: winner %+d loser %+d", winner.Delta(), loser.Delta())
	}

	if _, err := st.Get(g.ID); !errors.Is(err, live.ErrSessionNotFound) {
		t.Fatalf("session not evicted: %v", err)
	}

	// Second call fails the not-found guard.
	if err := f.Finalize(context.Background(), g.ID, live.ReasonResignation); !errors.Is(err, live.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestFinalizeRejectsLiveSession(t *testing.T) {
	st := live.NewStore()
	g, err := st.Create("alice", "bob", 1200, 1200)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f := New(st, &fakeRecorder{}, nil)
	if err := f.Finalize(context.Background(), g.ID, "x"); !errors.Is(err, ErrNotFinished) {
		t.Fatalf("expected ErrNotFinished, got %v", err)
	}
	if _, err := st.Get(g.ID); err != nil {
		t.Fatalf("live session must survive: %v", err)
	}
}

func TestFinalizeKeepsSessionOnRecorderFailure(t *testing.T) {
	st := live.NewStore()
	g := finishedSession(t, st)
	f := New(st, &fakeRecorder{fail: true}, nil)

	if err := f.Finalize(context.Background(), g.ID, live.ReasonResignation); err == nil {
		t.Fatalf("expected persistence error")
	}
	// Not evicted: a retry can still settle it.
	if _, err := st.Get(g.ID); err != nil {
		t.Fatalf("session evicted despite failed persistence: %v", err)
	}
}

func TestArchiveSaveAndRecent(t *testing.T) {
	archive, cleanup := newTestArchive(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := ArchivedGame{
			GameID:     fmt.Sprintf("g%d", i),
			White:      "alice",
			Black:      "bob",
			Result:     live.ResultWhiteWin,
			Winner:     "alice",
			Reason:     live.ReasonCheckmate,
			FinishedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := archive.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	games, err := archive.Recent(ctx, "alice")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(games) != 3 {
		t.Fatalf("expected 3 games, got %d", len(games))
	}
	if games[0].GameID != "g2" {
		t.Fatalf("expected newest first, got %q", games[0].GameID)
	}

	games, err = archive.Recent(ctx, "bob")
	if err != nil || len(games) != 3 {
		t.Fatalf("both participants indexed: %v %d", err, len(games))
	}
	games, err = archive.Recent(ctx, "nobody")
	if err != nil || len(games) != 0 {
		t.Fatalf("unknown user should have no games: %v %d", err, len(games))
	}
}

func TestArchiveSkipsExpiredRecords(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	archive := NewArchiveWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	rec := ArchivedGame{GameID: "g1", White: "alice", Black: "bob", FinishedAt: time.Now()}
	if err := archive.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	mr.FastForward(25 * time.Hour)

	games, err := archive.Recent(ctx, "alice")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(games) != 0 {
		t.Fatalf("expired record returned: %d", len(games))
	}
}
