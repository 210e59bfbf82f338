package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	chesslib "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/chessclass/live-server/internal/obslog"
)

// Suggestion is one best-move recommendation with its source:
// "engine", "cloud" or "library".
type Suggestion struct {
	BestMove string `json:"best_move"`
	Source   string `json:"source"`
}

// Service answers best-move requests with a fallback chain: local UCI
// engine when available, remote cloud eval when configured, otherwise
// a library heuristic. Either collaborator may be nil.
type Service struct {
	engine   *Engine
	cloud    *CloudClient
	moveTime time.Duration
}

func NewService(engine *Engine, cloud *CloudClient, moveTime time.Duration) *Service {
	if moveTime <= 0 {
		moveTime = time.Second
	}
	return &Service{engine: engine, cloud: cloud, moveTime: moveTime}
}

// Suggest returns a best move for the position reached by applying
// movesUCI to fen (startpos when fen is empty).
func (s *Service) Suggest(ctx context.Context, fen string, movesUCI []string) (Suggestion, error) {
	game, err := buildGame(fen, movesUCI)
	if err != nil {
		return Suggestion{}, err
	}

	if s.engine != nil {
		best, err := s.engine.BestMove(ctx, fen, movesUCI, s.moveTime)
		if err == nil && strings.TrimSpace(best) != "" {
			return Suggestion{BestMove: best, Source: "engine"}, nil
		}
		obslog.L().Warn("analysis_engine_fallback", zap.Error(err))
	}

	if s.cloud != nil {
		best, err := s.cloud.BestMove(ctx, game.FEN())
		if err == nil && strings.TrimSpace(best) != "" {
			return Suggestion{BestMove: best, Source: "cloud"}, nil
		}
		obslog.L().Warn("analysis_cloud_fallback", zap.Error(err))
	}

	best, err := libraryBestMove(game)
	if err != nil {
		return Suggestion{}, err
	}
	return Suggestion{BestMove: best, Source: "library"}, nil
}

// ConvertSAN replays a SAN history from the starting position and
// returns the moves in UCI form. Fails on the first illegal move.
func (s *Service) ConvertSAN(sans []string) ([]string, error) {
	game := chesslib.NewGame()
	out := make([]string, 0, len(sans))
	for i, san := range sans {
		san = strings.TrimSpace(san)
		if san == "" {
			return nil, fmt.Errorf("empty move at index %d", i)
		}
		if err := game.PushNotationMove(san, chesslib.AlgebraicNotation{}, nil); err != nil {
			return nil, fmt.Errorf("illegal move %q at index %d: %w", san, i, err)
		}
		moves := game.Moves()
		if len(moves) == 0 {
			return nil, fmt.Errorf("illegal move %q at index %d", san, i)
		}
		out = append(out, moves[len(moves)-1].String())
	}
	return out, nil
}

// libraryBestMove prefers a capture, else the first legal move.
func libraryBestMove(game *chesslib.Game) (string, error) {
	moves := game.ValidMoves()
	if len(moves) == 0 {
		return "", fmt.Errorf("no legal moves in position")
	}
	pick := moves[0]
	for _, mv := range moves {
		if mv.HasTag(chesslib.Capture) {
			pick = mv
			break
		}
	}
	return pick.String(), nil
}

func buildGame(fen string, moves []string) (*chesslib.Game, error) {
	var game *chesslib.Game
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		game = chesslib.NewGame()
	} else {
		option, err := chesslib.FEN(fen)
		if err != nil {
			return nil, fmt.Errorf("parse fen %q: %w", fen, err)
		}
		game = chesslib.NewGame(option)
	}
	for _, mv := range moves {
		if err := game.PushNotationMove(strings.TrimSpace(mv), chesslib.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("apply move %q: %w", mv, err)
		}
	}
	return game, nil
}
