package finalize

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/chessclass/live-server/internal/live"
)

// Repository persists finished games and player ratings to Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveGame writes the game record and both rating updates in one
// transaction. Upsert by game_id keeps a retried finalization from
// duplicating records.
func (r *Repository) SaveGame(ctx context.Context, g live.GameSession, reason string, white, black RatingUpdate) error {
	if r == nil || r.db == nil {
		return nil
	}

	pgnResult := mapResultToPGN(g.Result)
	pgn := buildPGN(g, pgnResult, reason)
	movesRaw, _ := json.Marshal(g.Moves)
	duration := g.UpdatedAt.Sub(g.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const gameQ = `INSERT INTO live_games (
        game_id, white_player, black_player, white_elo, black_elo,
        result, result_method, winner, moves, pgn,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
      ) ON CONFLICT (game_id) DO UPDATE SET
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        winner=EXCLUDED.winner,
        moves=EXCLUDED.moves,
        pgn=EXCLUDED.pgn,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`
	if _, err := tx.ExecContext(ctx, gameQ,
		g.ID,
		g.White, g.Black,
		g.WhiteRating, g.BlackRating,
		string(g.Result), strings.TrimSpace(reason), g.Winner,
		string(movesRaw), pgn,
		g.CreatedAt, g.UpdatedAt, duration,
	); err != nil {
		return fmt.Errorf("save game: %w", err)
	}

	const ratingQ = `INSERT INTO players (username, elo, updated_at)
      VALUES ($1,$2,$3)
      ON CONFLICT (username) DO UPDATE SET
        elo=EXCLUDED.elo,
        updated_at=EXCLUDED.updated_at`
	now := time.Now()
	for _, u := range []RatingUpdate{white, black} {
		if _, err := tx.ExecContext(ctx, ratingQ, u.Username, u.New, now); err != nil {
			return fmt.Errorf("update rating %s: %w", u.Username, err)
		}
	}

	return tx.Commit()
}

func mapResultToPGN(result live.Result) string {
	switch result {
	case live.ResultWhiteWin:
		return "1-0"
	case live.ResultBlackWin:
		return "0-1"
	case live.ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(g live.GameSession, pgnResult, reason string) string {
	var b strings.Builder
	date := g.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Classroom Live\"]\n")
	b.WriteString("[Site \"chessclass\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.White)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.Black)))
	b.WriteString(fmt.Sprintf("[WhiteElo \"%d\"]\n", g.WhiteRating))
	b.WriteString(fmt.Sprintf("[BlackElo \"%d\"]\n", g.BlackRating))
	if strings.TrimSpace(reason) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(reason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(g.Moves); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(g.Moves[i].SAN)))
		if i+1 < len(g.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(g.Moves[i+1].SAN))
		}
		b.WriteString(" ")
	}
	if pgnResult != "" {
		b.WriteString(pgnResult)
	}
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
