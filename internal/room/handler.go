package room

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/eleven-am/buzzer-backend/internal/dto"
	"github.com/eleven-am/buzzer-backend/internal/probe"
	"github.com/eleven-am/buzzer-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.CreateRoom)
	g.GET("/:code", h.GetRoom)
	g.DELETE("/:code", h.EndSession)
	g.POST("/:code/state", h.SetState)
	g.POST("/:code/players", h.Join)
	g.DELETE("/:code/players/:id", h.RemovePlayer)
	g.POST("/:code/buzz", h.Buzz)
	g.POST("/:code/latency", h.Latency)
}

func (h *Handler) CreateRoom(c echo.Context) error {
	r, err := h.service.CreateRoom(c.Request().Context())
	if err != nil {
		if errors.Is(err, ErrNoFreeCode) {
			return shared.Conflict("no_free_code", "could not allocate a room code")
		}
		h.logger.Error("create room failed", "error", err)
		return shared.InternalError("create_failed", "failed to create room")
	}

	return c.JSON(http.StatusCreated, dto.CreateRoomResponse{
		Code:      r.Code,
		HostToken: r.HostToken,
	})
}

func (h *Handler) GetRoom(c echo.Context) error {
	code, err := h.roomCode(c)
	if err != nil {
		return err
	}

	r, players, err := h.service.Snapshot(c.Request().Context(), code)
	if err != nil {
		return h.mapError(err, "get room failed", code)
	}
	return c.JSON(http.StatusOK, roomToResponse(r, players))
}

func (h *Handler) EndSession(c echo.Context) error {
	code, err := h.roomCode(c)
	if err != nil {
		return err
	}

	if err := h.service.EndSession(c.Request().Context(), code); err != nil {
		return h.mapError(err, "end session failed", code)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetState(c echo.Context) error {
	code, err := h.roomCode(c)
	if err != nil {
		return err
	}

	var req dto.SetStateRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	next, ok := ParseState(req.State)
	if !ok {
		return shared.BadRequest("invalid_state", "state must be IDLE, OPEN or BUZZED")
	}

	r, err := h.service.SetState(c.Request().Context(), code, next)
	if err != nil {
		if errors.Is(err, ErrStateNotSettable) {
			return shared.BadRequest("invalid_state", "BUZZED is set by arbitration only")
		}
		return h.mapError(err, "set state failed", code)
	}
	return c.JSON(http.StatusOK, roomToResponse(r, nil))
}

func (h *Handler) Join(c echo.Context) error {
	code, err := h.roomCode(c)
	if err != nil {
		return err
	}

	var req dto.JoinRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}

	p, err := h.service.Join(c.Request().Context(), code, req.Name)
	if err != nil {
		if errors.Is(err, ErrInvalidName) {
			return shared.BadRequest("invalid_name", "name must be 1-16 characters")
		}
		return h.mapError(err, "join failed", code)
	}
	return c.JSON(http.StatusCreated, dto.JoinResponse{PlayerID: p.ID})
}

func (h *Handler) RemovePlayer(c echo.Context) error {
	code, err := h.roomCode(c)
	if err != nil {
		return err
	}

	if err := h.service.Kick(c.Request().Context(), code, c.Param("id")); err != nil {
		return h.mapError(err, "remove player failed", code)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Buzz(c echo.Context) error {
	code, err := h.roomCode(c)
	if err != nil {
		return err
	}

	var req dto.BuzzRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if req.PlayerID == "" {
		return shared.BadRequest("invalid_request", "player_id is required")
	}

	result, r, err := h.service.Buzz(c.Request().Context(), code, req.PlayerID, req.PlayerName)
	if err != nil {
		return h.mapError(err, "buzz failed", code)
	}

	resp := dto.BuzzResponse{Result: string(result)}
	if r != nil && r.Winner != nil {
		w := winnerToResponse(r.Winner)
		resp.Winner = &w
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Latency(c echo.Context) error {
	code, err := h.roomCode(c)
	if err != nil {
		return err
	}

	var req dto.LatencyRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}

	res, err := h.service.MeasureLatency(c.Request().Context(), code, req.PlayerID)
	if err != nil {
		if errors.Is(err, probe.ErrProbeFailed) {
			return shared.NewAPIError("probe_failed", "latency probe failed").
				ToHTTP(http.StatusServiceUnavailable)
		}
		return h.mapError(err, "latency probe failed", code)
	}

	return c.JSON(http.StatusOK, dto.LatencyResponse{
		LatencyMs: res.LatencyMs,
		Quality:   string(res.Quality),
		Probed:    res.Probed,
	})
}

func (h *Handler) roomCode(c echo.Context) (string, error) {
	code := NormalizeCode(c.Param("code"))
	if !ValidCode(code) {
		return "", shared.BadRequest("invalid_code", "room code must be 4 alphanumeric characters")
	}
	return code, nil
}

func (h *Handler) mapError(err error, msg, code string) error {
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound("room_not_found", "room not found")
	}
	h.logger.Error(msg, "room", code, "error", err)
	return shared.InternalError("internal", "internal error")
}

func roomToResponse(r *Room, players []Player) dto.RoomResponse {
	resp := dto.RoomResponse{
		Code:      r.Code,
		State:     string(r.State),
		Players:   make([]dto.PlayerResponse, 0, len(players)),
		CreatedAt: r.CreatedAt,
	}
	if r.Winner != nil {
		w := winnerToResponse(r.Winner)
		resp.Winner = &w
	}
	for _, p := range players {
		resp.Players = append(resp.Players, playerToResponse(p))
	}
	return resp
}

func winnerToResponse(w *Winner) dto.WinnerResponse {
	return dto.WinnerResponse{
		PlayerID:   w.PlayerID,
		PlayerName: w.PlayerName,
		BuzzedAt:   w.BuzzedAt,
	}
}

func playerToResponse(p Player) dto.PlayerResponse {
	return dto.PlayerResponse{
		ID:        p.ID,
		Name:      p.Name,
		LatencyMs: p.LatencyMs,
		Quality:   string(probe.QualityFor(p.LatencyMs)),
	}
}
