package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kanban/internal/models"
)

type boardRequest struct {
	Title string `json:"title"`
}

type memberRequest struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
}

// handleListBoards returns the boards the caller belongs to.
func (s *Server) handleListBoards(c *gin.Context) {
	boards, err := s.boards.ListBoards(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"boards": boards})
}

// handleCreateBoard creates a board owned by the caller.
func (s *Server) handleCreateBoard(c *gin.Context) {
	var req boardRequest
	if !s.bind(c, &req) {
		return
	}
	b, err := s.boards.CreateBoard(c.Request.Context(), currentUser(c), req.Title)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"board": b})
}

// handleGetBoard returns the board with its members, lists and tasks.
func (s *Server) handleGetBoard(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	detail, err := s.boards.Board(c.Request.Context(), currentUser(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, detail)
}

func (s *Server) handleUpdateBoard(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req boardRequest
	if !s.bind(c, &req) {
		return
	}
	b, err := s.boards.UpdateBoard(c.Request.Context(), currentUser(c), id, req.Title)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"board": b})
}

// handleDeleteBoard removes a board and all related lists and tasks.
func (s *Server) handleDeleteBoard(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.boards.DeleteBoard(c.Request.Context(), currentUser(c), id); err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleListMembers(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	members, err := s.boards.Members(c.Request.Context(), currentUser(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"members": members})
}

// handleAddMember adds a user to the board or changes their role.
func (s *Server) handleAddMember(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req memberRequest
	if !s.bind(c, &req) {
		return
	}
	member, err := s.boards.AddMember(c.Request.Context(), currentUser(c), id, req.UserID, req.Role)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"member": member})
}

func (s *Server) handleRemoveMember(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.boards.RemoveMember(c.Request.Context(), currentUser(c), id, c.Param("user")); err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "removed"})
}

// handleActivity returns the board's audit trail, newest first.
func (s *Server) handleActivity(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	entries, err := s.boards.Activity(c.Request.Context(), currentUser(c), id, queryInt(c, "limit", 50))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"activity": entries})
}

// handleSearch matches tasks by title or description.
func (s *Server) handleSearch(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	tasks, err := s.boards.Search(c.Request.Context(), currentUser(c), id, c.Query("q"), queryInt(c, "limit", 50))
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": tasks})
}
