package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"kanban/internal/broadcast"
	"kanban/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleBoardSocket streams a board to one viewer: a snapshot frame followed
// by every event committed after the subscription was registered.
//
// The subscription is registered before the snapshot is read, so an event
// committed in between is both in the snapshot and queued. Clients merge by
// identity, so the duplicate is harmless, while the opposite order could lose
// the event.
func (s *Server) handleBoardSocket(c *gin.Context) {
	boardID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID := currentUser(c)
	ctx := c.Request.Context()

	member, err := s.boards.HasAccess(ctx, userID, boardID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !member {
		s.fail(c, fmt.Errorf("board %d: %w", boardID, models.ErrNotFound))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", slog.Int64("board_id", boardID), slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	viewerID := uuid.NewString()
	logger := s.logger.With(slog.Int64("board_id", boardID), slog.String("user_id", userID), slog.String("viewer_id", viewerID))

	sub := s.hub.Subscribe(boardID, viewerID)
	defer s.hub.Release(sub)

	detail, err := s.boards.Board(ctx, userID, boardID)
	if err != nil {
		logger.Warn("snapshot failed", slog.String("error", err.Error()))
		closeWith(conn, websocket.CloseInternalServerErr, "snapshot failed")
		return
	}
	if err := writeFrame(conn, broadcast.Frame{Type: broadcast.FrameSnapshot, Board: &detail}); err != nil {
		logger.Debug("write snapshot", slog.String("error", err.Error()))
		return
	}
	logger.Info("viewer connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readPump(conn, cancel)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// Dropped as a slow consumer, replaced, or the board is gone.
				closeWith(conn, websocket.CloseGoingAway, "resubscribe")
				logger.Info("viewer subscription closed")
				return
			}
			if err := writeFrame(conn, broadcast.Frame{Type: broadcast.FrameEvent, Event: &ev}); err != nil {
				logger.Debug("write event", slog.String("error", err.Error()))
				return
			}
			if removed, ok := ev.Payload.(broadcast.MemberRemoved); ok && removed.UserID == userID {
				closeWith(conn, websocket.ClosePolicyViolation, "membership revoked")
				logger.Info("viewer removed from board")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("ping", slog.String("error", err.Error()))
				return
			}
		case <-ctx.Done():
			logger.Info("viewer disconnected")
			return
		}
	}
}

// readPump consumes control frames until the peer goes away. Viewers send
// mutations over HTTP, so data frames are ignored.
func readPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, f broadcast.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
