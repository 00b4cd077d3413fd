package board

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"kanban/internal/broadcast"
	"kanban/internal/models"
)

// ListBoards returns the boards the actor belongs to.
func (s *Service) ListBoards(ctx context.Context, actorID string) ([]models.Board, error) {
	return s.store.ListBoards(ctx, actorID)
}

// CreateBoard creates a board owned by the actor.
func (s *Service) CreateBoard(ctx context.Context, actorID, title string) (models.Board, error) {
	board, err := s.store.CreateBoard(ctx, title, actorID)
	if err != nil {
		return models.Board{}, err
	}
	s.record(board.ID, actorID, "board_created", fmt.Sprintf("created board %q", board.Title), nil)
	return board, nil
}

// Board returns the full state of a board the actor can see.
func (s *Service) Board(ctx context.Context, actorID string, boardID int64) (models.BoardDetail, error) {
	if _, err := s.authorize(ctx, actorID, boardID, anyMember); err != nil {
		return models.BoardDetail{}, err
	}
	return s.store.BoardDetail(ctx, boardID)
}

// UpdateBoard renames a board. OWNER and ADMIN only; last write wins.
func (s *Service) UpdateBoard(ctx context.Context, actorID string, boardID int64, title string) (models.Board, error) {
	if _, err := s.authorize(ctx, actorID, boardID, manager); err != nil {
		return models.Board{}, err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	board, err := s.store.UpdateBoard(ctx, boardID, title)
	if err != nil {
		return models.Board{}, err
	}
	s.publish(ctx, boardID, actorID, broadcast.BoardUpdated{Board: board})
	s.record(boardID, actorID, "board_updated", fmt.Sprintf("renamed board to %q", board.Title), nil)
	return board, nil
}

// DeleteBoard removes a board with everything in it. OWNER only. Viewers of
// the board lose their subscription.
func (s *Service) DeleteBoard(ctx context.Context, actorID string, boardID int64) error {
	ctx, span := startSpan(ctx, "board.DeleteBoard", attribute.Int64("board.id", boardID))
	var err error
	defer func() { endSpan(span, err) }()

	if _, err = s.authorize(ctx, actorID, boardID, ownerOnly); err != nil {
		return err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	if err = s.store.DeleteBoard(ctx, boardID); err != nil {
		return err
	}
	if s.publisher != nil {
		s.publisher.CloseBoard(boardID)
	}
	s.logger.Info("board deleted", slog.Int64("board_id", boardID), slog.String("actor_id", actorID))
	return nil
}

// Members lists the board's members.
func (s *Service) Members(ctx context.Context, actorID string, boardID int64) ([]models.Member, error) {
	if _, err := s.authorize(ctx, actorID, boardID, anyMember); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, boardID)
}

// AddMember adds a member or changes their role. OWNER and ADMIN only.
func (s *Service) AddMember(ctx context.Context, actorID string, boardID int64, userID string, role models.Role) (models.Member, error) {
	if role == "" {
		role = models.RoleMember
	}
	if _, err := s.authorize(ctx, actorID, boardID, manager); err != nil {
		return models.Member{}, err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	member, err := s.store.AddMember(ctx, boardID, userID, role)
	if err != nil {
		return models.Member{}, err
	}
	s.publish(ctx, boardID, actorID, broadcast.MemberAdded{Member: member, Refetch: true})
	s.record(boardID, actorID, "member_added", fmt.Sprintf("added %s as %s", member.UserID, member.Role), nil)
	return member, nil
}

// RemoveMember removes a member. OWNER and ADMIN may remove anyone but the
// owner; any member may remove themselves.
func (s *Service) RemoveMember(ctx context.Context, actorID string, boardID int64, userID string) error {
	allowed := manager
	if actorID == userID {
		allowed = anyMember
	}
	if _, err := s.authorize(ctx, actorID, boardID, allowed); err != nil {
		return err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	if err := s.store.RemoveMember(ctx, boardID, userID); err != nil {
		return err
	}
	s.publish(ctx, boardID, actorID, broadcast.MemberRemoved{UserID: userID, Refetch: true})
	s.record(boardID, actorID, "member_removed", fmt.Sprintf("removed %s", userID), nil)
	return nil
}

// Activity returns the board's audit trail, newest first.
func (s *Service) Activity(ctx context.Context, actorID string, boardID int64, limit int) ([]models.Activity, error) {
	if _, err := s.authorize(ctx, actorID, boardID, anyMember); err != nil {
		return nil, err
	}
	return s.store.ListActivity(ctx, boardID, limit)
}

// Search finds tasks on the board by title or description.
func (s *Service) Search(ctx context.Context, actorID string, boardID int64, query string, limit int) ([]models.Task, error) {
	if _, err := s.authorize(ctx, actorID, boardID, anyMember); err != nil {
		return nil, err
	}
	return s.store.SearchTasks(ctx, boardID, query, limit)
}
