package live

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chessclass/live-server/internal/msgcat"
	"github.com/chessclass/live-server/internal/obslog"
)

// Finalizer settles a finished session: rating updates, persistence,
// archive, eviction. Wired at composition time; a nil finalizer means
// terminal sessions are evicted without persistence.
type Finalizer interface {
	Finalize(ctx context.Context, sessionID, reason string) error
}

// ErrOpponentUnreachable rejects a direct-game request against an
// identity with no registered connection.
var ErrOpponentUnreachable = errors.New("opponent not connected")

// Router is the single entry point for client traffic. It owns event
// dispatch, disconnect cleanup and the paused-session sweep; all state
// lives in the Registry, Queue and Store it composes.
type Router struct {
	registry  *Registry
	store     *Store
	queue     *Queue
	cat       *msgcat.Catalog
	finalizer Finalizer

	grace      time.Duration
	sweepEvery time.Duration
}

func NewRouter(registry *Registry, store *Store, queue *Queue, cat *msgcat.Catalog, grace, sweepEvery time.Duration) *Router {
	r := &Router{
		registry:   registry,
		store:      store,
		queue:      queue,
		cat:        cat,
		grace:      grace,
		sweepEvery: sweepEvery,
	}
	registry.SetFailureHandler(r.Disconnect)
	return r
}

// AttachFinalizer wires the settlement collaborator.
func (r *Router) AttachFinalizer(f Finalizer) {
	if r != nil {
		r.finalizer = f
	}
}

// HandleEvent dispatches one inbound event for identity. Validation
// failures are reported to the acting connection only; they never
// mutate state.
func (r *Router) HandleEvent(ctx context.Context, identity string, ev Inbound) {
	switch ev.Type {
	case EventFindMatch:
		r.findMatch(ctx, identity, ev.Elo)
	case EventCancelMatch:
		r.queue.Dequeue(identity)
		r.registry.Send(identity, MatchCancelledEvent{Type: "match_cancelled"})
	case EventMove:
		r.move(ctx, identity, ev)
	case EventGameAction:
		r.gameAction(ctx, identity, ev)
	case EventChat:
		r.chat(identity, ev)
	case EventPing:
		r.registry.Send(identity, PongEvent{Type: "pong"})
	default:
		obslog.L().Warn("router_unknown_event", zap.String("identity", identity), zap.String("type", ev.Type))
		r.registry.Send(identity, errorEvent(r.text("error.unknown_event", "unknown event type")))
	}
}

func (r *Router) findMatch(ctx context.Context, identity string, rating int) {
	pair, matched := r.queue.Enqueue(identity, rating)
	if !matched {
		return
	}
	snap, err := r.store.Create(pair.Seeker, pair.Waiting, pair.SeekerRating, pair.WaitingRating)
	if err != nil {
		obslog.L().Warn("mm_pair_failed",
			zap.String("seeker", pair.Seeker),
			zap.String("waiting", pair.Waiting),
			zap.Error(err),
		)
		// The busy side gets the error; a side with no session goes
		// back into the queue with its rating intact.
		msg := r.text("error.already_in_session", "a participant is already in a game")
		for _, p := range []struct {
			identity string
			rating   int
		}{{pair.Seeker, pair.SeekerRating}, {pair.Waiting, pair.WaitingRating}} {
			if _, busy := r.store.SessionFor(p.identity); busy {
				r.registry.Send(p.identity, errorEvent(msg))
				continue
			}
			r.findMatch(ctx, p.identity, p.rating)
		}
		return
	}
	obslog.L().Info("mm_pair",
		zap.String("game_id", snap.ID),
		zap.String("white", snap.White),
		zap.String("black", snap.Black),
	)
	r.registry.Send(snap.White, gameStartEvent(snap, snap.White, false))
	r.registry.Send(snap.Black, gameStartEvent(snap, snap.Black, false))
}

func (r *Router) move(ctx context.Context, identity string, ev Inbound) {
	if ev.Move == nil {
		r.registry.Send(identity, errorEvent(r.text("error.invalid_move", "invalid move format")))
		return
	}
	snap, err := r.store.SubmitMove(ev.GameID, *ev.Move, identity)
	if err != nil {
		r.reject(identity, err)
		return
	}
	last := snap.Moves[len(snap.Moves)-1]
	out := MoveEvent{
		Type:        "move",
		Move:        last,
		Player:      identity,
		CurrentTurn: snap.Turn,
		Status:      snap.Status,
	}
	if snap.Status == StatusFinished {
		out.Result = snap.Result
		out.Winner = snap.Winner
	}
	r.registry.BroadcastSession(snap, out)

	if snap.Status == StatusFinished {
		r.registry.BroadcastSession(snap, GameEndEvent{
			Type:   "game_end",
			Result: snap.Result,
			Winner: snap.Winner,
			Reason: ReasonCheckmate,
		})
		r.finalize(ctx, snap.ID, ReasonCheckmate)
	}
}

func (r *Router) gameAction(ctx context.Context, identity string, ev Inbound) {
	out, err := r.store.ApplyAction(ev.GameID, Action(strings.TrimSpace(ev.Action)), identity)
	if err != nil {
		r.reject(identity, err)
		return
	}
	if out.Terminal {
		r.registry.BroadcastSession(out.Session, GameEndEvent{
			Type:   "game_end",
			Result: out.Session.Result,
			Winner: out.Session.Winner,
			Reason: out.Reason,
		})
		r.finalize(ctx, out.Session.ID, out.Reason)
		return
	}
	switch out.Action {
	case ActionOfferDraw:
		r.registry.Send(out.Opponent, DrawOfferEvent{Type: "draw_offer", From: identity})
	case ActionDeclineDraw:
		r.registry.Send(out.Opponent, DrawDeclinedEvent{Type: "draw_declined", From: identity})
	}
}

// chat relays a message to both participants, sender echo included.
// Clients that omit game_id fall back to the sender's own session.
func (r *Router) chat(identity string, ev Inbound) {
	msg := strings.TrimSpace(ev.Message)
	if msg == "" {
		return
	}
	id := strings.TrimSpace(ev.GameID)
	if id == "" {
		var ok bool
		id, ok = r.store.SessionFor(identity)
		if !ok {
			r.reject(identity, ErrSessionNotFound)
			return
		}
	}
	snap, err := r.store.Get(id)
	if err != nil {
		r.reject(identity, err)
		return
	}
	if !snap.Participant(identity) {
		r.reject(identity, ErrNotParticipant)
		return
	}
	r.registry.BroadcastSession(snap, ChatEvent{Type: "chat", Player: identity, Message: msg})
}

// Disconnect runs the full cleanup for identity: registry removal,
// queue dequeue, session pause with a single best-effort opponent
// notification. Idempotent; also installed as the registry's
// send-failure handler. The recursion through a failed opponent
// notification terminates because a paused session does not pause
// again.
func (r *Router) Disconnect(identity string) {
	r.registry.Remove(identity)
	r.queue.Dequeue(identity)
	out, ok := r.store.PauseParticipant(identity)
	if !ok {
		return
	}
	obslog.L().Info("router_disconnect",
		zap.String("identity", identity),
		zap.String("game_id", out.Session.ID),
	)
	r.registry.Send(out.Opponent, OpponentDisconnectedEvent{
		Type:    "opponent_disconnected",
		Message: r.text("live.opponent_disconnected", "your opponent disconnected"),
	})
}

// CreateDirectGame starts a private session between creator and a
// specific connected opponent, bypassing the queue. Both sides receive
// the same game_start as a matched pairing, flagged private.
func (r *Router) CreateDirectGame(ctx context.Context, creator, opponent string, creatorRating, opponentRating int) (GameSession, error) {
	if !r.registry.Reachable(opponent) {
		return GameSession{}, ErrOpponentUnreachable
	}
	r.queue.Dequeue(creator)
	r.queue.Dequeue(opponent)
	snap, err := r.store.Create(creator, opponent, creatorRating, opponentRating)
	if err != nil {
		return GameSession{}, err
	}
	obslog.L().Info("direct_game_create",
		zap.String("game_id", snap.ID),
		zap.String("creator", creator),
		zap.String("opponent", opponent),
	)
	r.registry.Send(snap.White, gameStartEvent(snap, snap.White, true))
	r.registry.Send(snap.Black, gameStartEvent(snap, snap.Black, true))
	return snap, nil
}

// FinishSession terminates a session administratively, notifies both
// participants and settles it. Serves the explicit finish endpoint.
func (r *Router) FinishSession(ctx context.Context, sessionID string, result Result, winner, reason string) (GameSession, error) {
	snap, err := r.store.ForceFinish(sessionID, result, winner)
	if err != nil {
		return GameSession{}, err
	}
	r.registry.BroadcastSession(snap, GameEndEvent{
		Type:   "game_end",
		Result: snap.Result,
		Winner: snap.Winner,
		Reason: reason,
	})
	r.finalize(ctx, snap.ID, reason)
	return snap, nil
}

// StartSweeper launches the paused-session sweep until ctx is done.
func (r *Router) StartSweeper(ctx context.Context) {
	if r.grace <= 0 || r.sweepEvery <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(r.sweepEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.sweep(ctx)
			}
		}
	}()
}

// sweep force-finishes sessions paused past the grace period. The
// reachable participant wins; a draw when neither side is reachable.
func (r *Router) sweep(ctx context.Context) {
	for _, g := range r.store.PausedBefore(time.Now().Add(-r.grace)) {
		result, winner := ResultDraw, ""
		whiteUp, blackUp := r.registry.Reachable(g.White), r.registry.Reachable(g.Black)
		switch {
		case whiteUp && !blackUp:
			result, winner = ResultWhiteWin, g.White
		case blackUp && !whiteUp:
			result, winner = ResultBlackWin, g.Black
		}
		snap, err := r.store.ForceFinish(g.ID, result, winner)
		if err != nil {
			continue
		}
		obslog.L().Info("sweep_abandoned",
			zap.String("game_id", snap.ID),
			zap.String("result", string(snap.Result)),
		)
		r.registry.BroadcastSession(snap, GameEndEvent{
			Type:   "game_end",
			Result: snap.Result,
			Winner: snap.Winner,
			Reason: ReasonAbandonment,
		})
		r.finalize(ctx, snap.ID, ReasonAbandonment)
	}
}

func (r *Router) finalize(ctx context.Context, sessionID, reason string) {
	if r.finalizer == nil {
		_ = r.store.Evict(sessionID)
		return
	}
	if err := r.finalizer.Finalize(ctx, sessionID, reason); err != nil {
		obslog.L().Error("finalize_error", zap.String("game_id", sessionID), zap.Error(err))
	}
}

// reject reports a state or validation failure to the acting
// connection only.
func (r *Router) reject(identity string, err error) {
	var msg string
	switch {
	case errors.Is(err, ErrSessionNotFound):
		msg = r.text("error.session_not_found", "game not found")
	case errors.Is(err, ErrNotYourTurn):
		msg = r.text("error.not_your_turn", "it is not your turn")
	case errors.Is(err, ErrInvalidMoveFormat):
		msg = r.text("error.invalid_move", "invalid move format")
	case errors.Is(err, ErrSessionNotActive):
		msg = r.text("error.session_not_active", "game is not active")
	case errors.Is(err, ErrSessionFinished):
		msg = r.text("error.session_finished", "game already finished")
	case errors.Is(err, ErrNotParticipant):
		msg = r.text("error.not_participant", "you are not in this game")
	case errors.Is(err, ErrUnknownAction):
		msg = r.text("error.unknown_action", "unknown game action")
	default:
		msg = err.Error()
	}
	r.registry.Send(identity, errorEvent(msg))
}

func (r *Router) text(key, fallback string) string {
	if r.cat == nil {
		return fallback
	}
	s, err := r.cat.Render(key, nil)
	if err != nil || strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
