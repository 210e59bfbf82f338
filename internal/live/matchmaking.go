package live

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chessclass/live-server/internal/obslog"
)

// Pair is a successful match: the newly enqueued identity and the
// waiting one, with the ratings each carried into the queue.
type Pair struct {
	Seeker        string
	SeekerRating  int
	Waiting       string
	WaitingRating int
}

// Queue is the FIFO matchmaking pool. Ratings ride along for session
// creation but do not gate matching: the earliest waiting identity
// other than the seeker wins.
type Queue struct {
	mu      sync.Mutex
	order   []string
	ratings map[string]int
}

func NewQueue() *Queue {
	return &Queue{ratings: make(map[string]int)}
}

// Enqueue adds identity to the pool, or pairs it with the earliest
// waiting identity. Re-enqueueing refreshes the stored rating without
// changing queue position. On a match both sides leave the pool.
func (q *Queue) Enqueue(identity string, rating int) (Pair, bool) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Pair{}, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, waiting := range q.order {
		if waiting == identity {
			continue
		}
		waitingRating := q.ratings[waiting]
		q.order = append(q.order[:i], q.order[i+1:]...)
		delete(q.ratings, waiting)
		q.removeLocked(identity)
		obslog.L().Info("match_found",
			zap.String("seeker", identity),
			zap.String("waiting", waiting),
		)
		return Pair{
			Seeker:        identity,
			SeekerRating:  rating,
			Waiting:       waiting,
			WaitingRating: waitingRating,
		}, true
	}

	if _, queued := q.ratings[identity]; !queued {
		q.order = append(q.order, identity)
	}
	q.ratings[identity] = rating
	obslog.L().Info("match_enqueue", zap.String("identity", identity), zap.Int("elo", rating))
	return Pair{}, false
}

// Dequeue removes identity from the pool. Idempotent; reports whether
// the identity was actually waiting.
func (q *Queue) Dequeue(identity string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, queued := q.ratings[identity]; !queued {
		return false
	}
	q.removeLocked(identity)
	obslog.L().Info("match_dequeue", zap.String("identity", identity))
	return true
}

// Waiting returns the number of queued identities.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	n := len(q.order)
	q.mu.Unlock()
	return n
}

func (q *Queue) removeLocked(identity string) {
	delete(q.ratings, identity)
	for i, v := range q.order {
		if v == identity {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}
