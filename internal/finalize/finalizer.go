package finalize

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chessclass/live-server/internal/live"
	"github.com/chessclass/live-server/internal/obslog"
)

// ErrNotFinished rejects finalization of a session that is still live.
var ErrNotFinished = errors.New("session not finished")

// Recorder is the durable sink for finished games. Satisfied by
// *Repository; tests substitute a fake.
type Recorder interface {
	SaveGame(ctx context.Context, g live.GameSession, reason string, white, black RatingUpdate) error
}

// Finalizer settles finished sessions: rating math, durable record,
// best-effort archive copy, then store eviction. Finalize is not
// idempotent; after eviction a second call fails ErrSessionNotFound,
// which is the double-crediting guard.
type Finalizer struct {
	store   *live.Store
	repo    Recorder
	archive *Archive
}

func New(store *live.Store, repo Recorder, archive *Archive) *Finalizer {
	return &Finalizer{store: store, repo: repo, archive: archive}
}

func (f *Finalizer) Finalize(ctx context.Context, sessionID, reason string) error {
	g, err := f.store.Get(sessionID)
	if err != nil {
		return err
	}
	if g.Status != live.StatusFinished {
		return ErrNotFinished
	}

	white, black := RatingUpdates(g)
	if f.repo != nil {
		if err := f.repo.SaveGame(ctx, g, reason, white, black); err != nil {
			return err
		}
	}

	if f.archive != nil {
		rec := ArchivedGame{
			GameID:     g.ID,
			White:      g.White,
			Black:      g.Black,
			Result:     g.Result,
			Winner:     g.Winner,
			Reason:     reason,
			MoveCount:  len(g.Moves),
			WhiteElo:   white,
			BlackElo:   black,
			FinishedAt: time.Now(),
		}
		if err := f.archive.Save(ctx, rec); err != nil {
			// Archive is a convenience copy; the durable record already
			// committed, so the failure is logged and settlement continues.
			obslog.L().Warn("finalize_archive_error", zap.String("game_id", g.ID), zap.Error(err))
		}
	}

	if err := f.store.Evict(g.ID); err != nil {
		return err
	}
	obslog.L().Info("finalize_ok",
		zap.String("game_id", g.ID),
		zap.String("reason", reason),
		zap.String("result", string(g.Result)),
		zap.Int("white_delta", white.Delta()),
		zap.Int("black_delta", black.Delta()),
	)
	return nil
}
