package finalize

import (
	"strings"
	"testing"

	"github.com/chessclass/live-server/internal/live"
)

func session(result live.Result, whiteElo, blackElo int) live.GameSession {
	return live.GameSession{
		ID:          "g1",
		White:       "alice",
		Black:       "bob",
		WhiteRating: whiteElo,
		BlackRating: blackElo,
		Result:      result,
		Status:      live.StatusFinished,
	}
}

func TestRatingUpdatesEqualOpponents(t *testing.T) {
	white, black := RatingUpdates(session(live.ResultWhiteWin, 1200, 1200))
	if white.New != 1216 || black.New != 1184 {
		t.Fatalf("expected +16/-16, got %d/%d", white.New, black.New)
	}
	if white.Delta() != 16 || black.Delta() != -16 {
		t.Fatalf("deltas: %d/%d", white.Delta(), black.Delta())
	}
}

func TestRatingUpdatesUpset(t *testing.T) {
	// A 1000 player beating a 1400 player gains far more than 16.
	white, black := RatingUpdates(session(live.ResultWhiteWin, 1000, 1400))
	if white.Delta() <= 16 {
		t.Fatalf("upset winner gained only %d", white.Delta())
	}
	if white.Delta() != -black.Delta() {
		t.Fatalf("zero-sum violated: %d vs %d", white.Delta(), black.Delta())
	}

	// The favorite winning gains little.
	white, black = RatingUpdates(session(live.ResultBlackWin, 1000, 1400))
	if black.Delta() >= 16 || black.Delta() < 0 {
		t.Fatalf("favorite gained %d", black.Delta())
	}
}

func TestRatingUpdatesDraw(t *testing.T) {
	white, black := RatingUpdates(session(live.ResultDraw, 1200, 1200))
	if white.Delta() != 0 || black.Delta() != 0 {
		t.Fatalf("equal draw should not move ratings: %d/%d", white.Delta(), black.Delta())
	}

	// Draw against a stronger opponent is worth points.
	white, black = RatingUpdates(session(live.ResultDraw, 1000, 1400))
	if white.Delta() <= 0 || black.Delta() >= 0 {
		t.Fatalf("draw vs stronger should gain: %d/%d", white.Delta(), black.Delta())
	}
}

func TestRatingUpdatesUndetermined(t *testing.T) {
	white, black := RatingUpdates(session(live.ResultUndetermined, 1200, 1300))
	if white.Delta() != 0 || black.Delta() != 0 {
		t.Fatalf("undetermined result moved ratings: %d/%d", white.Delta(), black.Delta())
	}
}

func TestBuildPGN(t *testing.T) {
	g := session(live.ResultWhiteWin, 1200, 1200)
	g.Moves = []live.Move{
		{SAN: "e4"}, {SAN: "e5"}, {SAN: "Qh5"}, {SAN: "Nc6"}, {SAN: "Qxf7#"},
	}
	pgn := buildPGN(g, "1-0", "checkmate")

	for _, want := range []string{
		"[White \"alice\"]",
		"[Black \"bob\"]",
		"[Termination \"checkmate\"]",
		"[Result \"1-0\"]",
		"1. e4 e5",
		"3. Qxf7#",
		"1-0",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}
