package httpapi

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/chessclass/live-server/internal/analysis"
	"github.com/chessclass/live-server/internal/auth"
	"github.com/chessclass/live-server/internal/finalize"
	"github.com/chessclass/live-server/internal/live"
	"github.com/chessclass/live-server/internal/obslog"
)

// Deps are the collaborators behind the HTTP surface. Archive and
// Suggest are optional; their endpoints answer 503 when absent.
type Deps struct {
	Verifier *auth.Verifier
	Router   *live.Router
	Registry *live.Registry
	Store    *live.Store
	Archive  *finalize.Archive
	Suggest  *analysis.Service
}

// Server is the fiber app in front of the session router.
type Server struct {
	app  *fiber.App
	addr string
	deps Deps
}

func NewServer(addr string, deps Deps) *Server {
	s := &Server{addr: addr, deps: deps}
	s.app = fiber.New(fiber.Config{
		AppName:               "chessclass-live",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(recover.New())
	s.registerRoutes()
	return s
}

// Listen blocks serving on the configured address.
func (s *Server) Listen() error {
	obslog.L().Info("http_listen", zap.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Shutdown drains the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for in-process test listeners.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.health)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/:token", websocket.New(s.handleWS))

	api := s.app.Group("/api")
	api.Get("/live/games", s.listGames)
	api.Post("/live/games", s.createGame)
	api.Get("/live/games/:id", s.getGame)
	api.Post("/live/games/:id/finish", s.finishGame)
	api.Get("/live/recent/:username", s.recentGames)
	api.Post("/analysis/suggest", s.suggest)
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}
	obslog.L().Error("http_error", zap.Int("code", code), zap.Error(err))
	return c.Status(code).JSON(fiber.Map{"error": message})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"connections": s.deps.Registry.Count(),
	})
}
