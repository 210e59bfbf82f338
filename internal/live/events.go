package live

// Inbound is the envelope for every client event. The Type tag selects
// which of the optional fields are meaningful.
type Inbound struct {
	Type    string `json:"type"`
	Elo     int    `json:"elo,omitempty"`
	GameID  string `json:"game_id,omitempty"`
	Move    *Move  `json:"move,omitempty"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
}

// Inbound event types.
const (
	EventFindMatch   = "find_match"
	EventCancelMatch = "cancel_match"
	EventMove        = "move"
	EventGameAction  = "game_action"
	EventChat        = "chat"
	EventPing        = "ping"
)

// GameStartEvent is sent to each participant when a session begins.
// YourColor differs per recipient; the rest of the payload is shared.
type GameStartEvent struct {
	Type      string `json:"type"`
	GameID    string `json:"game_id"`
	White     string `json:"white_player"`
	Black     string `json:"black_player"`
	WhiteElo  int    `json:"white_elo"`
	BlackElo  int    `json:"black_elo"`
	YourColor Color  `json:"your_color"`
	Private   bool   `json:"is_private,omitempty"`
}

// MoveEvent is broadcast to both participants after an accepted move.
// Result and Winner are present only when the move finished the game.
type MoveEvent struct {
	Type        string `json:"type"`
	Move        Move   `json:"move"`
	Player      string `json:"player"`
	CurrentTurn Color  `json:"current_turn"`
	Status      Status `json:"status"`
	Result      Result `json:"result,omitempty"`
	Winner      string `json:"winner,omitempty"`
}

type GameEndEvent struct {
	Type   string `json:"type"`
	Result Result `json:"result"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason"`
}

type ChatEvent struct {
	Type    string `json:"type"`
	Player  string `json:"player"`
	Message string `json:"message"`
}

type DrawOfferEvent struct {
	Type string `json:"type"`
	From string `json:"from"`
}

type DrawDeclinedEvent struct {
	Type string `json:"type"`
	From string `json:"from"`
}

type OpponentDisconnectedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type MatchCancelledEvent struct {
	Type string `json:"type"`
}

type PongEvent struct {
	Type string `json:"type"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func gameStartEvent(g GameSession, recipient string, private bool) GameStartEvent {
	return GameStartEvent{
		Type:      "game_start",
		GameID:    g.ID,
		White:     g.White,
		Black:     g.Black,
		WhiteElo:  g.WhiteRating,
		BlackElo:  g.BlackRating,
		YourColor: g.ColorOf(recipient),
		Private:   private,
	}
}

func errorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: "error", Message: message}
}
