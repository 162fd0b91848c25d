package messaging

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rehab/rehab/internal/platform/auth"
	"github.com/rehab/rehab/internal/platform/realtime"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 64 * 1024
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

// socket adapts a gorilla connection to the registry's Conn interface.
// Gorilla connections do not allow concurrent writers, so every write
// goes through one mutex.
type socket struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (s *socket) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteJSON(v)
}

func (s *socket) Close() error {
	return s.ws.Close()
}

func (s *socket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// WSHandler owns the websocket endpoints. Identity comes from a token
// query parameter, verified with the same Verifier the HTTP middleware
// uses; a failed handshake closes the socket with a policy violation
// before the connection ever reaches the registry.
type WSHandler struct {
	registry *realtime.Registry
	svc      *Service
	verifier *auth.Verifier
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(registry *realtime.Registry, svc *Service, verifier *auth.Verifier, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		registry: registry,
		svc:      svc,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) RegisterRoutes(ws *echo.Group) {
	ws.GET("/conversations/:id", h.Chat)
	ws.GET("/notifications", h.Notifications)
}

// authenticate resolves the token query parameter to a user id. Called
// after the upgrade so failures can be reported as websocket close frames.
func (h *WSHandler) authenticate(c echo.Context) (uuid.UUID, error) {
	subject, err := h.verifier.Verify(c.QueryParam("token"))
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(subject)
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = ws.Close()
}

// Chat serves the per-conversation socket. The connection is registered
// and joined to the room only after authentication and a membership check
// pass; from then on every exit path runs the same cleanup.
func (h *WSHandler) Chat(c echo.Context) error {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}

	userID, err := h.authenticate(c)
	if err != nil {
		closeWith(ws, websocket.ClosePolicyViolation, "authentication failed")
		return nil
	}

	ctx := c.Request().Context()
	if _, err := h.svc.GetConversation(ctx, userID, conversationID); err != nil {
		closeWith(ws, websocket.ClosePolicyViolation, "not a participant")
		return nil
	}

	sock := &socket{ws: ws}
	connID, err := h.registry.Connect(userID, sock)
	if err != nil {
		closeWith(ws, websocket.CloseInternalServerErr, "registry unavailable")
		return nil
	}
	if err := h.registry.JoinRoom(connID, conversationID); err != nil {
		h.registry.Disconnect(userID, connID)
		closeWith(ws, websocket.CloseInternalServerErr, "registry unavailable")
		return nil
	}

	defer func() {
		h.registry.Disconnect(userID, connID)
		h.svc.broadcaster.UserLeft(conversationID, userID)
		_ = ws.Close()
	}()

	h.svc.broadcaster.UserJoined(conversationID, userID)

	h.logger.Info().
		Stringer("user_id", userID).
		Stringer("conversation_id", conversationID).
		Msg("chat socket open")

	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go h.pingLoop(sock, stop)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return nil
		}

		in, err := realtime.DecodeInbound(raw)
		if err != nil {
			// Malformed or unknown frames are dropped, not fatal.
			h.logger.Debug().Err(err).Stringer("user_id", userID).Msg("dropped inbound frame")
			continue
		}

		switch in.Type {
		case realtime.FrameMessage:
			if _, err := h.svc.SendMessage(ctx, userID, conversationID, in.Content, MessageText, nil, nil); err != nil {
				h.logger.Warn().Err(err).Stringer("user_id", userID).Msg("send over socket")
			}
		case realtime.FrameTyping:
			if err := h.svc.HandleTyping(ctx, userID, conversationID, in.IsTyping); err != nil {
				h.logger.Warn().Err(err).Stringer("user_id", userID).Msg("typing over socket")
			}
		case realtime.FrameReadReceipt:
			// One frame may acknowledge several messages; a bad id skips
			// that id only.
			for _, messageID := range in.MessageIDs {
				if err := h.svc.MarkMessageRead(ctx, userID, messageID); err != nil {
					h.logger.Warn().Err(err).Stringer("user_id", userID).Msg("read receipt over socket")
				}
			}
		}
	}
}

// Notifications serves the cross-conversation socket. The server pushes
// the current unread total right after subscribing so clients can render
// a badge without an extra HTTP round trip.
func (h *WSHandler) Notifications(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}

	userID, err := h.authenticate(c)
	if err != nil {
		closeWith(ws, websocket.ClosePolicyViolation, "authentication failed")
		return nil
	}

	sock := &socket{ws: ws}
	connID, err := h.registry.Connect(userID, sock)
	if err != nil {
		closeWith(ws, websocket.CloseInternalServerErr, "registry unavailable")
		return nil
	}
	if err := h.registry.SubscribeNotifications(connID); err != nil {
		h.registry.Disconnect(userID, connID)
		closeWith(ws, websocket.CloseInternalServerErr, "registry unavailable")
		return nil
	}

	defer func() {
		h.registry.Disconnect(userID, connID)
		_ = ws.Close()
	}()

	ctx := c.Request().Context()
	if total, err := h.svc.TotalUnreadForUser(ctx, userID); err == nil {
		if werr := sock.WriteJSON(realtime.NewNotificationCountEvent(total)); werr != nil {
			return nil
		}
	} else {
		h.logger.Error().Err(err).Stringer("user_id", userID).Msg("initial unread total")
	}

	h.logger.Info().Stringer("user_id", userID).Msg("notification socket open")

	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go h.pingLoop(sock, stop)

	// Notification sockets are push only; inbound frames are read to keep
	// the connection alive and otherwise discarded.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return nil
		}
	}
}

func (h *WSHandler) pingLoop(sock *socket, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sock.ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
