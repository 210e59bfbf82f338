package httpapi

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/chessclass/live-server/internal/live"
	"github.com/chessclass/live-server/internal/obslog"
)

// closeAuthFailure is the close code sent when token resolution fails.
const closeAuthFailure = 4001

// wsTransport adapts a websocket connection to the registry's
// transport. The mutex serializes writes; the reader goroutine never
// writes through this path.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) WriteJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return t.conn.Close()
}

// handleWS is the per-connection reader loop. The token path parameter
// resolves to an identity before the connection is registered; an
// unresolvable token is closed with 4001 and never registered.
func (s *Server) handleWS(c *websocket.Conn) {
	claims, err := s.deps.Verifier.Verify(c.Params("token"))
	if err != nil {
		obslog.L().Warn("ws_auth_failed", zap.Error(err))
		deadline := time.Now().Add(time.Second)
		_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeAuthFailure, "unauthorized"), deadline)
		_ = c.Close()
		return
	}

	identity := claims.Username
	t := &wsTransport{conn: c}
	s.deps.Registry.Connect(identity, t)
	// Cleanup runs only while this transport is still the registered
	// one; a reconnected identity keeps its fresh registration.
	defer func() {
		if s.deps.Registry.Release(identity, t) {
			s.deps.Router.Disconnect(identity)
		}
	}()

	ctx := context.Background()
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				obslog.L().Warn("ws_read_error", zap.String("identity", identity), zap.Error(err))
			}
			return
		}

		var ev live.Inbound
		if err := json.Unmarshal(raw, &ev); err != nil {
			_ = t.WriteJSON(live.ErrorEvent{Type: "error", Message: "invalid message format"})
			continue
		}
		if ev.Type == live.EventFindMatch && ev.Elo == 0 {
			ev.Elo = claims.Rating
		}
		s.deps.Router.HandleEvent(ctx, identity, ev)
	}
}
