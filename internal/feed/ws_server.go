package feed

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eleven-am/buzzer-backend/internal/room"
	"github.com/eleven-am/buzzer-backend/internal/shared"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSServer streams a room's feed to WebSocket observers (host and player
// displays). Observers only read; their inbound frames are discarded.
type WSServer struct {
	bridge *Bridge
	logger *slog.Logger
}

func NewWSServer(bridge *Bridge, logger *slog.Logger) *WSServer {
	return &WSServer{
		bridge: bridge,
		logger: logger.With("component", "ws_server"),
	}
}

func (s *WSServer) RegisterRoutes(g *echo.Group) {
	g.GET("/:code/ws", s.HandleConnection)
}

func (s *WSServer) HandleConnection(c echo.Context) error {
	code := room.NormalizeCode(c.Param("code"))
	if !room.ValidCode(code) {
		return shared.BadRequest("invalid_code", "room code must be 4 alphanumeric characters")
	}

	sub, err := s.bridge.Subscribe(c.Request().Context(), code)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("room_not_found", "room not found")
		}
		s.logger.Error("feed subscribe failed", "room", code, "error", err)
		return shared.InternalError("subscribe_failed", "failed to subscribe")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		sub.Unsubscribe()
		s.logger.Error("websocket upgrade failed", "room", code, "error", err)
		return err
	}

	obs := &wsObserver{
		ws:     ws,
		sub:    sub,
		logger: s.logger.With("room", code),
	}

	go obs.writePump()
	obs.readPump()

	return nil
}

type wsObserver struct {
	ws     *websocket.Conn
	sub    *Subscription
	logger *slog.Logger
}

func (o *wsObserver) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		o.ws.Close()
	}()

	for {
		select {
		case ev, ok := <-o.sub.Events():
			o.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Feed closed: room deleted or subscriber dropped.
				o.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session ended"))
				return
			}
			if err := o.ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			o.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (o *wsObserver) readPump() {
	defer func() {
		o.sub.Unsubscribe()
		o.ws.Close()
	}()

	o.ws.SetReadLimit(maxMessageSize)
	o.ws.SetReadDeadline(time.Now().Add(pongWait))
	o.ws.SetPongHandler(func(string) error {
		o.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := o.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				o.logger.Debug("websocket closed", "error", err)
			}
			return
		}
	}
}
