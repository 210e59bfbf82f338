package live

import (
	"errors"
	"strings"
	"time"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Status represents the lifecycle state of a live session.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

// Result is the outcome of a session. Set exactly once, on the
// transition to StatusFinished.
type Result string

const (
	ResultUndetermined Result = "undetermined"
	ResultWhiteWin     Result = "white_win"
	ResultBlackWin     Result = "black_win"
	ResultDraw         Result = "draw"
)

// Action is an in-game action routed between participants.
type Action string

const (
	ActionResign      Action = "resign"
	ActionOfferDraw   Action = "offer_draw"
	ActionAcceptDraw  Action = "accept_draw"
	ActionDeclineDraw Action = "decline_draw"
)

// End reasons reported in game_end events and persisted records.
const (
	ReasonCheckmate   = "checkmate"
	ReasonResignation = "resignation"
	ReasonAgreement   = "agreement"
	ReasonAbandonment = "abandonment"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrInvalidMoveFormat = errors.New("invalid move format")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrSessionFinished   = errors.New("session already finished")
	ErrAlreadyInSession  = errors.New("participant already in a session")
	ErrNotParticipant    = errors.New("not a participant of this session")
	ErrSamePlayer        = errors.New("participants must be distinct")
	ErrUnknownAction     = errors.New("unknown game action")
)

// Move is a single half-move as reported by the client. Immutable once
// appended to a session.
type Move struct {
	FromSquare string `json:"from_square"`
	ToSquare   string `json:"to_square"`
	Piece      string `json:"piece"`
	Promotion  string `json:"promotion,omitempty"`
	SAN        string `json:"san"`
	FEN        string `json:"fen"`
}

// TimeControl is carried on every session for the clients' benefit but
// is not enforced by the server.
type TimeControl struct {
	WhiteTime int `json:"white_time"`
	BlackTime int `json:"black_time"`
}

// GameSession is the authoritative live-game aggregate. Values handed
// out by the Store are snapshots; the Store owns the originals.
type GameSession struct {
	ID          string      `json:"game_id"`
	White       string      `json:"white_player"`
	Black       string      `json:"black_player"`
	WhiteRating int         `json:"white_elo"`
	BlackRating int         `json:"black_elo"`
	Turn        Color       `json:"current_turn"`
	Moves       []Move      `json:"moves"`
	Status      Status      `json:"status"`
	Result      Result      `json:"result"`
	Winner      string      `json:"winner,omitempty"`
	CurrentFEN  string      `json:"current_fen"`
	TimeControl TimeControl `json:"time_control"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Participant reports whether identity plays in the session.
func (g *GameSession) Participant(identity string) bool {
	return g.White == identity || g.Black == identity
}

// ColorOf returns the side identity plays, or "" when not a participant.
func (g *GameSession) ColorOf(identity string) Color {
	switch identity {
	case g.White:
		return White
	case g.Black:
		return Black
	}
	return ""
}

// PlayerOf returns the identity playing the given side.
func (g *GameSession) PlayerOf(c Color) string {
	if c == White {
		return g.White
	}
	return g.Black
}

// Opponent returns the other participant, or "" when identity does not play.
func (g *GameSession) Opponent(identity string) string {
	switch identity {
	case g.White:
		return g.Black
	case g.Black:
		return g.White
	}
	return ""
}

// SessionSummary is the listing shape of the auxiliary read interface.
type SessionSummary struct {
	ID        string `json:"game_id"`
	White     string `json:"white_player"`
	Black     string `json:"black_player"`
	Status    Status `json:"status"`
	MoveCount int    `json:"moves_count"`
}

// StartingFEN is the standard initial position.
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// defaultClockSeconds is the advisory per-side clock carried on new sessions.
const defaultClockSeconds = 600

func validSquare(sq string) bool {
	if len(sq) != 2 {
		return false
	}
	f, r := sq[0], sq[1]
	if f >= 'A' && f <= 'H' {
		f += 'a' - 'A'
	}
	return f >= 'a' && f <= 'h' && r >= '1' && r <= '8'
}

func validPiece(p string) bool {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "K", "Q", "R", "B", "N", "P":
		return true
	}
	return false
}

// validateMoveFormat performs structural validation only: board geometry
// and the legal piece set. Rule legality is not checked here.
func validateMoveFormat(mv Move) bool {
	if strings.TrimSpace(mv.SAN) == "" || strings.TrimSpace(mv.FEN) == "" {
		return false
	}
	if !validSquare(mv.FromSquare) || !validSquare(mv.ToSquare) {
		return false
	}
	if !validPiece(mv.Piece) {
		return false
	}
	if mv.Promotion != "" && !validPiece(mv.Promotion) {
		return false
	}
	return true
}

// mateMove reports whether the client-supplied notation claims a mate.
// This is a trust boundary, not rule verification: the live manager
// accepts the client's claim of checkmate (see DESIGN.md).
func mateMove(san string) bool {
	s := strings.ToLower(strings.TrimSpace(san))
	return strings.HasSuffix(s, "#") || strings.Contains(s, "mate")
}
