package finalize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chessclass/live-server/internal/live"
)

const archiveTTL = 24 * time.Hour

// ArchivedGame is the compact finished-game record kept in the
// short-lived Redis archive for the recent-games endpoint.
type ArchivedGame struct {
	GameID     string       `json:"game_id"`
	White      string       `json:"white_player"`
	Black      string       `json:"black_player"`
	Result     live.Result  `json:"result"`
	Winner     string       `json:"winner,omitempty"`
	Reason     string       `json:"reason"`
	MoveCount  int          `json:"moves_count"`
	WhiteElo   RatingUpdate `json:"white_elo"`
	BlackElo   RatingUpdate `json:"black_elo"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Archive keeps finished games in Redis with a 24h TTL plus a per-user
// index set, for cheap "my recent games" lookups.
type Archive struct {
	rdb *redis.Client
}

func NewArchive(redisURL string) (*Archive, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Archive{rdb: rdb}, nil
}

// NewArchiveWithClient wires an existing client; used by tests.
func NewArchiveWithClient(rdb *redis.Client) *Archive {
	return &Archive{rdb: rdb}
}

func (a *Archive) Close() error {
	if a == nil || a.rdb == nil {
		return nil
	}
	return a.rdb.Close()
}

// Save stores the record and indexes it under both participants. Index
// key TTLs are refreshed alongside so nothing outlives the records.
func (a *Archive) Save(ctx context.Context, rec ArchivedGame) error {
	if a == nil || a.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := a.rdb.Set(ctx, gameKey(rec.GameID), raw, archiveTTL).Err(); err != nil {
		return err
	}
	for _, user := range []string{rec.White, rec.Black} {
		key := userKey(user)
		if err := a.rdb.SAdd(ctx, key, rec.GameID).Err(); err != nil {
			return err
		}
		_ = a.rdb.Expire(ctx, key, archiveTTL).Err()
	}
	return nil
}

// Recent returns username's archived games, newest first. Index
// entries whose record already expired are skipped.
func (a *Archive) Recent(ctx context.Context, username string) ([]ArchivedGame, error) {
	if a == nil || a.rdb == nil {
		return nil, nil
	}
	ids, err := a.rdb.SMembers(ctx, userKey(username)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ArchivedGame, 0, len(ids))
	for _, id := range ids {
		raw, err := a.rdb.Get(ctx, gameKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec ArchivedGame
		if jerr := json.Unmarshal(raw, &rec); jerr != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	return out, nil
}

func gameKey(id string) string       { return "live:recent:game:" + strings.TrimSpace(id) }
func userKey(username string) string { return "live:recent:user:" + strings.TrimSpace(username) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
