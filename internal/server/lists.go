package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type listRequest struct {
	Title    string `json:"title"`
	Position *int64 `json:"position"`
}

type moveListRequest struct {
	Index *int64 `json:"index"`
}

// handleCreateList appends a list to the board, or inserts it at position.
func (s *Server) handleCreateList(c *gin.Context) {
	boardID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req listRequest
	if !s.bind(c, &req) {
		return
	}
	list, err := s.boards.CreateList(c.Request.Context(), currentUser(c), boardID, req.Title, req.Position)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"list": list})
}

func (s *Server) handleUpdateList(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req listRequest
	if !s.bind(c, &req) {
		return
	}
	list, err := s.boards.UpdateList(c.Request.Context(), currentUser(c), id, req.Title)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"list": list})
}

// handleDeleteList removes a list together with its tasks.
func (s *Server) handleDeleteList(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.boards.DeleteList(c.Request.Context(), currentUser(c), id); err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}

// handleMoveList reorders the board's lists and returns them in the new order.
func (s *Server) handleMoveList(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req moveListRequest
	if !s.bind(c, &req) {
		return
	}
	if req.Index == nil {
		s.respondError(c, http.StatusBadRequest, errIndexRequired)
		return
	}
	lists, err := s.boards.MoveList(c.Request.Context(), currentUser(c), id, *req.Index)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"lists": lists})
}
