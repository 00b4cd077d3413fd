package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kanban/internal/models"
)

var errIndexRequired = fmt.Errorf("index is required: %w", models.ErrInvalidInput)

type taskRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	DueAt       *time.Time       `json:"due_at"`
	ClearDue    bool             `json:"clear_due"`
	Priority    *models.Priority `json:"priority"`
	Position    *int64           `json:"position"`
}

type moveTaskRequest struct {
	ListID *int64 `json:"list_id"`
	Index  *int64 `json:"index"`
}

type assigneeRequest struct {
	UserID string `json:"user_id"`
}

// handleCreateTask inserts a new task into a list.
func (s *Server) handleCreateTask(c *gin.Context) {
	listID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req taskRequest
	if !s.bind(c, &req) {
		return
	}
	if req.Title == nil || *req.Title == "" {
		s.respondError(c, http.StatusBadRequest, fmt.Errorf("title is required"))
		return
	}

	task := models.Task{
		Title:       *req.Title,
		Description: getString(req.Description),
		DueAt:       req.DueAt,
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	created, err := s.boards.CreateTask(c.Request.Context(), currentUser(c), listID, task, req.Position)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"task": created})
}

// handleUpdateTask updates task fields such as priority or due date.
func (s *Server) handleUpdateTask(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req taskRequest
	if !s.bind(c, &req) {
		return
	}

	task, err := s.boards.UpdateTask(c.Request.Context(), currentUser(c), id, models.TaskChanges{
		Title:       req.Title,
		Description: req.Description,
		DueAt:       req.DueAt,
		ClearDue:    req.ClearDue,
		Priority:    req.Priority,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleDeleteTask removes a task completely.
func (s *Server) handleDeleteTask(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.boards.DeleteTask(c.Request.Context(), currentUser(c), id); err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}

// handleMoveTask moves a task to an index within a list and answers with the
// canonical task.
func (s *Server) handleMoveTask(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req moveTaskRequest
	if !s.bind(c, &req) {
		return
	}
	if req.ListID == nil {
		s.respondError(c, http.StatusBadRequest, errors.New("list_id is required"))
		return
	}
	if req.Index == nil {
		s.respondError(c, http.StatusBadRequest, errIndexRequired)
		return
	}

	task, err := s.boards.MoveTask(c.Request.Context(), currentUser(c), id, *req.ListID, *req.Index)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

func (s *Server) handleAssign(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req assigneeRequest
	if !s.bind(c, &req) {
		return
	}
	task, err := s.boards.AssignTask(c.Request.Context(), currentUser(c), id, req.UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

func (s *Server) handleUnassign(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	task, err := s.boards.UnassignTask(c.Request.Context(), currentUser(c), id, c.Param("user"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

func getString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
