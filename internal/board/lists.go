package board

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"kanban/internal/broadcast"
	"kanban/internal/models"
)

// CreateList appends a list to the board, or inserts it at position.
func (s *Service) CreateList(ctx context.Context, actorID string, boardID int64, title string, position *int64) (models.List, error) {
	if _, err := s.authorize(ctx, actorID, boardID, anyMember); err != nil {
		return models.List{}, err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	list, err := s.store.CreateList(ctx, boardID, title, position)
	if err != nil {
		return models.List{}, err
	}
	s.publish(ctx, boardID, actorID, broadcast.ListCreated{List: list})
	s.record(boardID, actorID, "list_created", fmt.Sprintf("created list %q", list.Title), nil)
	return list, nil
}

// UpdateList renames a list.
func (s *Service) UpdateList(ctx context.Context, actorID string, listID int64, title string) (models.List, error) {
	boardID, err := s.listBoard(ctx, actorID, listID)
	if err != nil {
		return models.List{}, err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	list, err := s.store.UpdateList(ctx, listID, title)
	if err != nil {
		return models.List{}, err
	}
	s.publish(ctx, boardID, actorID, broadcast.ListUpdated{List: list})
	s.record(boardID, actorID, "list_updated", fmt.Sprintf("renamed list to %q", list.Title), nil)
	return list, nil
}

// DeleteList removes a list and its tasks and closes the gap among the board's lists.
func (s *Service) DeleteList(ctx context.Context, actorID string, listID int64) error {
	ctx, span := startSpan(ctx, "board.DeleteList", attribute.Int64("list.id", listID))
	var err error
	defer func() { endSpan(span, err) }()

	boardID, err := s.listBoard(ctx, actorID, listID)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	list, taskIDs, err := s.store.DeleteList(ctx, listID)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("list.deleted_tasks", len(taskIDs)))
	s.publish(ctx, boardID, actorID, broadcast.ListDeleted{List: list, TaskIDs: taskIDs})
	s.record(boardID, actorID, "list_deleted", fmt.Sprintf("deleted list %q with %d tasks", list.Title, len(taskIDs)), nil)
	return nil
}

// MoveList places a list at index among the board's lists. Moving a list to
// its current index publishes nothing.
func (s *Service) MoveList(ctx context.Context, actorID string, listID, index int64) ([]models.List, error) {
	ctx, span := startSpan(ctx, "board.MoveList",
		attribute.Int64("list.id", listID),
		attribute.Int64("list.target_index", index))
	var err error
	defer func() { endSpan(span, err) }()

	boardID, err := s.listBoard(ctx, actorID, listID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	lists, moved, err := s.store.MoveList(ctx, listID, index)
	if err != nil {
		return nil, err
	}
	if !moved {
		return lists, nil
	}
	s.publish(ctx, boardID, actorID, broadcast.ListsReordered{Lists: lists})
	for _, l := range lists {
		if l.ID == listID {
			s.record(boardID, actorID, "list_moved", fmt.Sprintf("moved list %q to position %d", l.Title, l.Position), nil)
		}
	}
	return lists, nil
}

// listBoard resolves and authorizes the board of a list. An unknown list and
// a list on a board the actor cannot see are both ErrNotFound.
func (s *Service) listBoard(ctx context.Context, actorID string, listID int64) (int64, error) {
	boardID, err := s.store.BoardIDForList(ctx, listID)
	if err != nil {
		return 0, err
	}
	if _, err := s.authorize(ctx, actorID, boardID, anyMember); err != nil {
		return 0, err
	}
	return boardID, nil
}
