package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kanban/internal/board"
	"kanban/internal/broadcast"
	"kanban/internal/models"
)

const userKey = "user_id"

// Authenticator resolves the caller of a request.
type Authenticator interface {
	UserIDFromAuthHeader(h string) (string, error)
	UserIDFromToken(token string) (string, error)
}

// Server provides the HTTP API and the board websocket topic.
type Server struct {
	engine *gin.Engine
	boards *board.Service
	hub    *broadcast.Hub
	auth   Authenticator
	logger *slog.Logger
}

// New constructs the HTTP server with routes and middleware configured.
func New(boards *board.Service, hub *broadcast.Hub, auth Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/api/healthz"))

	srv := &Server{
		engine: router,
		boards: boards,
		hub:    hub,
		auth:   auth,
		logger: logger,
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	api.GET("/healthz", s.handleHealth)

	// Browsers cannot set headers on a websocket handshake, so the board
	// topic also accepts the token as a query parameter.
	api.GET("/boards/:id/ws", s.requireUser(true), s.handleBoardSocket)

	authed := api.Group("", s.requireUser(false))
	{
		boards := authed.Group("/boards")
		{
			boards.GET("", s.handleListBoards)
			boards.POST("", s.handleCreateBoard)
			boards.GET(":id", s.handleGetBoard)
			boards.PUT(":id", s.handleUpdateBoard)
			boards.DELETE(":id", s.handleDeleteBoard)
			boards.GET(":id/members", s.handleListMembers)
			boards.POST(":id/members", s.handleAddMember)
			boards.DELETE(":id/members/:user", s.handleRemoveMember)
			boards.POST(":id/lists", s.handleCreateList)
			boards.GET(":id/activity", s.handleActivity)
			boards.GET(":id/search", s.handleSearch)
		}

		lists := authed.Group("/lists")
		{
			lists.PUT(":id", s.handleUpdateList)
			lists.DELETE(":id", s.handleDeleteList)
			lists.POST(":id/move", s.handleMoveList)
			lists.POST(":id/tasks", s.handleCreateTask)
		}

		tasks := authed.Group("/tasks")
		{
			tasks.PUT(":id", s.handleUpdateTask)
			tasks.DELETE(":id", s.handleDeleteTask)
			tasks.POST(":id/move", s.handleMoveTask)
			tasks.POST(":id/assignees", s.handleAssign)
			tasks.DELETE(":id/assignees/:user", s.handleUnassign)
		}
	}
}

// handleHealth provides a basic readiness endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireUser authenticates the request and stores the user id on the context.
func (s *Server) requireUser(allowQueryToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			userID string
			err    error
		)
		if token := c.Query("token"); allowQueryToken && token != "" {
			userID, err = s.auth.UserIDFromToken(token)
		} else {
			userID, err = s.auth.UserIDFromAuthHeader(c.GetHeader("Authorization"))
		}
		if err != nil {
			s.logger.Debug("authentication failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userKey)
}

// parseID converts a path parameter to int64 with error handling.
func parseID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identifier"})
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter.
func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidTarget):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the error and returns a JSON payload. Internal failures
// are reported without detail.
func (s *Server) respondError(c *gin.Context, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", msg))
		msg = "internal error"
	} else {
		s.logger.Debug("request rejected", slog.String("path", c.FullPath()), slog.Int("status", status), slog.String("error", msg))
	}
	c.JSON(status, gin.H{"error": msg})
}

// fail responds with the status that matches err.
func (s *Server) fail(c *gin.Context, err error) {
	s.respondError(c, statusFor(err), err)
}

// bind decodes the JSON body, answering 400 on failure.
func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.respondError(c, http.StatusBadRequest, err)
		return false
	}
	return true
}

// respondSuccess wraps a payload in a JSON envelope for consistency.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}
