package httpapi

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/chessclass/live-server/internal/auth"
	"github.com/chessclass/live-server/internal/live"
)

type createGameRequest struct {
	Opponent    string `json:"opponent"`
	OpponentElo int    `json:"opponent_elo"`
}

type finishGameRequest struct {
	Result live.Result `json:"result"`
	Winner string      `json:"winner,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

type suggestRequest struct {
	FEN      string   `json:"fen,omitempty"`
	Moves    []string `json:"moves,omitempty"`
	MovesSAN []string `json:"moves_san,omitempty"`
}

func (s *Server) listGames(c *fiber.Ctx) error {
	games := s.deps.Store.List()
	return c.JSON(fiber.Map{"games": games, "total": len(games)})
}

func (s *Server) getGame(c *fiber.Ctx) error {
	snap, err := s.deps.Store.Get(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "game not found")
	}
	return c.JSON(snap)
}

func (s *Server) createGame(c *fiber.Ctx) error {
	claims, err := s.bearerClaims(c)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	var req createGameRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.Opponent = strings.TrimSpace(req.Opponent)
	if req.Opponent == "" {
		return fiber.NewError(fiber.StatusBadRequest, "opponent is required")
	}

	snap, err := s.deps.Router.CreateDirectGame(c.Context(), claims.Username, req.Opponent, claims.Rating, req.OpponentElo)
	switch {
	case err == nil:
	case errors.Is(err, live.ErrOpponentUnreachable):
		return fiber.NewError(fiber.StatusConflict, "opponent not connected")
	case errors.Is(err, live.ErrAlreadyInSession):
		return fiber.NewError(fiber.StatusConflict, "a participant is already in a game")
	case errors.Is(err, live.ErrSamePlayer):
		return fiber.NewError(fiber.StatusBadRequest, "participants must be distinct")
	default:
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(snap)
}

func (s *Server) finishGame(c *fiber.Ctx) error {
	if _, err := s.bearerClaims(c); err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	var req finishGameRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	switch req.Result {
	case live.ResultWhiteWin, live.ResultBlackWin, live.ResultDraw:
	default:
		return fiber.NewError(fiber.StatusBadRequest, "result must be white_win, black_win or draw")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = live.ReasonAgreement
	}

	snap, err := s.deps.Router.FinishSession(c.Context(), c.Params("id"), req.Result, req.Winner, reason)
	switch {
	case err == nil:
	case errors.Is(err, live.ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, "game not found")
	case errors.Is(err, live.ErrSessionFinished):
		return fiber.NewError(fiber.StatusConflict, "game already finished")
	default:
		return err
	}
	return c.JSON(snap)
}

func (s *Server) recentGames(c *fiber.Ctx) error {
	if s.deps.Archive == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "archive not configured")
	}
	username := strings.TrimSpace(c.Params("username"))
	if username == "" {
		return fiber.NewError(fiber.StatusBadRequest, "username is required")
	}
	games, err := s.deps.Archive.Recent(c.Context(), username)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"games": games, "total": len(games)})
}

func (s *Server) suggest(c *fiber.Ctx) error {
	if s.deps.Suggest == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "analysis not configured")
	}
	var req suggestRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	moves := req.Moves
	if len(moves) == 0 && len(req.MovesSAN) > 0 {
		converted, err := s.deps.Suggest.ConvertSAN(req.MovesSAN)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		moves = converted
	}

	suggestion, err := s.deps.Suggest.Suggest(c.Context(), req.FEN, moves)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(suggestion)
}

func (s *Server) bearerClaims(c *fiber.Ctx) (*auth.Claims, error) {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return nil, auth.ErrInvalidToken
	}
	return s.deps.Verifier.Verify(token)
}
