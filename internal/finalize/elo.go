package finalize

import (
	"math"

	"github.com/chessclass/live-server/internal/live"
)

// KFactor is the fixed ELO adjustment weight for classroom play.
const KFactor = 32

// RatingUpdate is one side's rating movement from a finished game.
type RatingUpdate struct {
	Username string `json:"username"`
	Old      int    `json:"old_elo"`
	New      int    `json:"new_elo"`
}

// Delta returns the signed rating change.
func (u RatingUpdate) Delta() int { return u.New - u.Old }

func expectedScore(own, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-own)/400))
}

func updatedRating(own, opp int, score float64) int {
	return own + int(math.Round(KFactor*(score-expectedScore(own, opp))))
}

// RatingUpdates computes both sides' new ratings from the session
// result. Each side is adjusted independently against the opponent's
// pre-game rating; an undetermined result leaves ratings untouched.
func RatingUpdates(g live.GameSession) (white, black RatingUpdate) {
	white = RatingUpdate{Username: g.White, Old: g.WhiteRating, New: g.WhiteRating}
	black = RatingUpdate{Username: g.Black, Old: g.BlackRating, New: g.BlackRating}

	var whiteScore float64
	switch g.Result {
	case live.ResultWhiteWin:
		whiteScore = 1
	case live.ResultBlackWin:
		whiteScore = 0
	case live.ResultDraw:
		whiteScore = 0.5
	default:
		return white, black
	}

	white.New = updatedRating(g.WhiteRating, g.BlackRating, whiteScore)
	black.New = updatedRating(g.BlackRating, g.WhiteRating, 1-whiteScore)
	return white, black
}
