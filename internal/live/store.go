package live

import (
	"crypto/rand"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chessclass/live-server/internal/obslog"
)

// Store is the authoritative map of session id to live game state. It
// exclusively owns every GameSession; all reads hand out snapshots.
//
// Locking is two-level: the store mutex guards the maps, each session
// carries its own mutex so the per-session read-modify-write is atomic
// while independent games proceed in parallel. Lock order is always
// store before session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession
	index    map[string]string // identity -> session id, at most one entry per identity
}

type liveSession struct {
	mu sync.Mutex
	g  GameSession
}

// ActionOutcome describes what a successfully applied action requires
// of the caller: a broadcast on terminal actions, an opponent
// notification otherwise.
type ActionOutcome struct {
	Session  GameSession
	Action   Action
	Opponent string
	Terminal bool
	Reason   string
}

// PauseOutcome reports the session paused on a participant disconnect.
type PauseOutcome struct {
	Session  GameSession
	Opponent string
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*liveSession),
		index:    make(map[string]string),
	}
}

// Create starts a new session between two distinct identities. Colors
// are assigned by an unweighted random choice between the two
// orderings. Fails with ErrAlreadyInSession when either participant is
// already indexed to a live session.
func (st *Store) Create(playerA, playerB string, ratingA, ratingB int) (GameSession, error) {
	playerA = strings.TrimSpace(playerA)
	playerB = strings.TrimSpace(playerB)
	if playerA == "" || playerB == "" || playerA == playerB {
		return GameSession{}, ErrSamePlayer
	}

	white, black := playerA, playerB
	whiteRating, blackRating := ratingA, ratingB
	if coinFlip() {
		white, black = playerB, playerA
		whiteRating, blackRating = ratingB, ratingA
	}

	now := time.Now()
	g := GameSession{
		ID:          uuid.NewString(),
		White:       white,
		Black:       black,
		WhiteRating: whiteRating,
		BlackRating: blackRating,
		Turn:        White,
		Moves:       []Move{},
		Status:      StatusActive,
		Result:      ResultUndetermined,
		CurrentFEN:  StartingFEN,
		TimeControl: TimeControl{WhiteTime: defaultClockSeconds, BlackTime: defaultClockSeconds},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, busy := st.index[playerA]; busy {
		return GameSession{}, ErrAlreadyInSession
	}
	if _, busy := st.index[playerB]; busy {
		return GameSession{}, ErrAlreadyInSession
	}
	st.sessions[g.ID] = &liveSession{g: g}
	st.index[playerA] = g.ID
	st.index[playerB] = g.ID

	obslog.L().Info("session_create",
		zap.String("game_id", g.ID),
		zap.String("white", g.White),
		zap.String("black", g.Black),
		zap.Int("white_elo", g.WhiteRating),
		zap.Int("black_elo", g.BlackRating),
	)
	return snapshot(&g), nil
}

// SubmitMove applies a move for actor. The per-session lock makes the
// read-modify-write atomic: a concurrent duplicate is rejected against
// the updated turn, never a stale read.
func (st *Store) SubmitMove(sessionID string, mv Move, actor string) (GameSession, error) {
	ls, err := st.lookup(sessionID)
	if err != nil {
		return GameSession{}, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	g := &ls.g

	switch g.Status {
	case StatusFinished:
		return GameSession{}, ErrSessionFinished
	case StatusActive:
	default:
		return GameSession{}, ErrSessionNotActive
	}
	if g.PlayerOf(g.Turn) != actor {
		return GameSession{}, ErrNotYourTurn
	}
	if !validateMoveFormat(mv) {
		return GameSession{}, ErrInvalidMoveFormat
	}

	mover := g.Turn
	g.Moves = append(g.Moves, mv)
	g.Turn = g.Turn.Opponent()
	if strings.TrimSpace(mv.FEN) != "" {
		g.CurrentFEN = mv.FEN
	}
	g.UpdatedAt = time.Now()

	// Termination heuristic on the client-supplied notation. The live
	// manager trusts the client's claim of checkmate; legality checking
	// belongs to the external rule collaborator.
	if mateMove(mv.SAN) {
		g.Status = StatusFinished
		g.Winner = g.PlayerOf(mover)
		if mover == White {
			g.Result = ResultWhiteWin
		} else {
			g.Result = ResultBlackWin
		}
	}

	obslog.L().Info("session_move",
		zap.String("game_id", g.ID),
		zap.String("actor", actor),
		zap.String("san", mv.SAN),
		zap.String("turn", string(g.Turn)),
		zap.String("status", string(g.Status)),
	)
	return snapshot(g), nil
}

// ApplyAction applies an in-game action for actor and tells the caller
// what to deliver. Resign works on active and paused sessions; the
// draw actions require an active session.
func (st *Store) ApplyAction(sessionID string, action Action, actor string) (ActionOutcome, error) {
	ls, err := st.lookup(sessionID)
	if err != nil {
		return ActionOutcome{}, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	g := &ls.g

	if !g.Participant(actor) {
		return ActionOutcome{}, ErrNotParticipant
	}

	out := ActionOutcome{Action: action, Opponent: g.Opponent(actor)}
	switch action {
	case ActionResign:
		if g.Status == StatusFinished {
			return ActionOutcome{}, ErrSessionFinished
		}
		g.Status = StatusFinished
		g.Winner = g.Opponent(actor)
		if g.ColorOf(actor) == White {
			g.Result = ResultBlackWin
		} else {
			g.Result = ResultWhiteWin
		}
		g.UpdatedAt = time.Now()
		out.Terminal = true
		out.Reason = ReasonResignation
	case ActionOfferDraw, ActionDeclineDraw:
		if g.Status != StatusActive {
			return ActionOutcome{}, ErrSessionNotActive
		}
	case ActionAcceptDraw:
		if g.Status != StatusActive {
			return ActionOutcome{}, ErrSessionNotActive
		}
		g.Status = StatusFinished
		g.Result = ResultDraw
		g.UpdatedAt = time.Now()
		out.Terminal = true
		out.Reason = ReasonAgreement
	default:
		return ActionOutcome{}, ErrUnknownAction
	}

	obslog.L().Info("session_action",
		zap.String("game_id", g.ID),
		zap.String("actor", actor),
		zap.String("action", string(action)),
		zap.String("status", string(g.Status)),
	)
	out.Session = snapshot(g)
	return out, nil
}

// ForceFinish terminates a session administratively (paused-session
// sweep). Winner may be empty for a draw result.
func (st *Store) ForceFinish(sessionID string, result Result, winner string) (GameSession, error) {
	ls, err := st.lookup(sessionID)
	if err != nil {
		return GameSession{}, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	g := &ls.g
	if g.Status == StatusFinished {
		return GameSession{}, ErrSessionFinished
	}
	g.Status = StatusFinished
	g.Result = result
	g.Winner = winner
	g.UpdatedAt = time.Now()
	return snapshot(g), nil
}

// Get returns a read-only snapshot.
func (st *Store) Get(sessionID string) (GameSession, error) {
	ls, err := st.lookup(sessionID)
	if err != nil {
		return GameSession{}, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return snapshot(&ls.g), nil
}

// SessionFor returns the session id identity is currently indexed to.
func (st *Store) SessionFor(identity string) (string, bool) {
	st.mu.RLock()
	id, ok := st.index[identity]
	st.mu.RUnlock()
	return id, ok
}

// PauseParticipant marks identity's session paused on disconnect and
// drops the identity's index entry so it can seek a new match later.
// Returns ok=false when identity has no session or the session was
// already paused or finished; the caller must then skip notification.
func (st *Store) PauseParticipant(identity string) (PauseOutcome, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	id, ok := st.index[identity]
	if !ok {
		return PauseOutcome{}, false
	}
	delete(st.index, identity)
	ls, ok := st.sessions[id]
	if !ok {
		return PauseOutcome{}, false
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	g := &ls.g
	if g.Status != StatusActive && g.Status != StatusWaiting {
		return PauseOutcome{}, false
	}
	g.Status = StatusPaused
	g.UpdatedAt = time.Now()
	obslog.L().Info("session_pause", zap.String("game_id", g.ID), zap.String("identity", identity))
	return PauseOutcome{Session: snapshot(g), Opponent: g.Opponent(identity)}, true
}

// Evict removes the session and both identity index entries. Called by
// the Finalizer after persistence succeeds; a second call fails with
// ErrSessionNotFound, which guards against double-crediting.
func (st *Store) Evict(sessionID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	ls, ok := st.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	delete(st.sessions, sessionID)
	for _, p := range []string{ls.g.White, ls.g.Black} {
		if st.index[p] == sessionID {
			delete(st.index, p)
		}
	}
	obslog.L().Info("session_evict", zap.String("game_id", sessionID))
	return nil
}

// List returns summaries of every live session, newest first.
func (st *Store) List() []SessionSummary {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]SessionSummary, 0, len(st.sessions))
	times := make(map[string]time.Time, len(st.sessions))
	for _, ls := range st.sessions {
		ls.mu.Lock()
		out = append(out, SessionSummary{
			ID:        ls.g.ID,
			White:     ls.g.White,
			Black:     ls.g.Black,
			Status:    ls.g.Status,
			MoveCount: len(ls.g.Moves),
		})
		times[ls.g.ID] = ls.g.CreatedAt
		ls.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return times[out[i].ID].After(times[out[j].ID]) })
	return out
}

// PausedBefore returns snapshots of sessions that have sat paused since
// before cutoff. Used by the abandonment sweeper.
func (st *Store) PausedBefore(cutoff time.Time) []GameSession {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []GameSession
	for _, ls := range st.sessions {
		ls.mu.Lock()
		if ls.g.Status == StatusPaused && ls.g.UpdatedAt.Before(cutoff) {
			out = append(out, snapshot(&ls.g))
		}
		ls.mu.Unlock()
	}
	return out
}

func (st *Store) lookup(sessionID string) (*liveSession, error) {
	st.mu.RLock()
	ls, ok := st.sessions[sessionID]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls, nil
}

func snapshot(g *GameSession) GameSession {
	out := *g
	out.Moves = append([]Move(nil), g.Moves...)
	return out
}

func coinFlip() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	return err == nil && n.Int64() == 1
}
