package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"kanban/internal/broadcast"
	"kanban/internal/models"
)

// CreateTask appends a task to a list, or inserts it at position.
func (s *Service) CreateTask(ctx context.Context, actorID string, listID int64, task models.Task, position *int64) (models.Task, error) {
	boardID, err := s.listBoard(ctx, actorID, listID)
	if err != nil {
		return models.Task{}, err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	task.ListID = listID
	created, err := s.store.CreateTask(ctx, task, position)
	if err != nil {
		return models.Task{}, err
	}
	s.publish(ctx, boardID, actorID, broadcast.TaskCreated{Task: created})
	s.record(boardID, actorID, "task_created", fmt.Sprintf("created task %q", created.Title), &created.ID)
	return created, nil
}

// UpdateTask changes a task's title, description, due date or priority.
func (s *Service) UpdateTask(ctx context.Context, actorID string, taskID int64, changes models.TaskChanges) (models.Task, error) {
	boardID, err := s.taskBoard(ctx, actorID, taskID)
	if err != nil {
		return models.Task{}, err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	task, err := s.store.UpdateTask(ctx, taskID, changes)
	if err != nil {
		return models.Task{}, err
	}
	s.publish(ctx, boardID, actorID, broadcast.TaskUpdated{Task: task})
	s.record(boardID, actorID, "task_updated", fmt.Sprintf("updated task %q", task.Title), &task.ID)
	return task, nil
}

// DeleteTask removes a task and closes the gap in its list.
func (s *Service) DeleteTask(ctx context.Context, actorID string, taskID int64) error {
	boardID, err := s.taskBoard(ctx, actorID, taskID)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	task, err := s.store.DeleteTask(ctx, taskID)
	if err != nil {
		return err
	}
	s.publish(ctx, boardID, actorID, broadcast.TaskDeleted{Task: task})
	s.record(boardID, actorID, "task_deleted", fmt.Sprintf("deleted task %q", task.Title), nil)
	return nil
}

// MoveTask moves a task to targetIndex within targetListID and returns the
// canonical task.
//
// The target list must be on the task's board. The index is clamped to the
// target list's bounds. A move to the task's current slot changes nothing,
// publishes nothing and records nothing. Once authorized, the move runs to
// completion even if the caller goes away.
func (s *Service) MoveTask(ctx context.Context, actorID string, taskID, targetListID, targetIndex int64) (models.Task, error) {
	ctx, span := startSpan(ctx, "board.MoveTask",
		attribute.Int64("task.id", taskID),
		attribute.Int64("task.target_list_id", targetListID),
		attribute.Int64("task.target_index", targetIndex))
	var err error
	defer func() { endSpan(span, err) }()

	boardID, err := s.taskBoard(ctx, actorID, taskID)
	if err != nil {
		return models.Task{}, err
	}
	targetBoard, err := s.store.BoardIDForList(ctx, targetListID)
	if errors.Is(err, models.ErrNotFound) {
		err = fmt.Errorf("target list %d: %w", targetListID, models.ErrInvalidTarget)
		return models.Task{}, err
	}
	if err != nil {
		return models.Task{}, err
	}
	if targetBoard != boardID {
		err = fmt.Errorf("target list %d is not on board %d: %w", targetListID, boardID, models.ErrInvalidTarget)
		return models.Task{}, err
	}
	span.SetAttributes(attribute.Int64("board.id", boardID))

	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	res, err := s.store.MoveTask(ctx, taskID, targetListID, targetIndex)
	if err != nil {
		s.logger.Warn("move aborted",
			slog.Int64("task_id", taskID),
			slog.Int64("target_list_id", targetListID),
			slog.String("error", err.Error()))
		return models.Task{}, err
	}
	span.SetAttributes(attribute.Bool("task.moved", res.Moved))
	if !res.Moved {
		return res.Task, nil
	}

	s.publish(ctx, boardID, actorID, broadcast.TaskMoved{
		TaskID:     res.Task.ID,
		FromListID: res.FromListID,
		ToListID:   res.Task.ListID,
		Position:   res.Task.Position,
		Task:       res.Task,
	})
	s.record(boardID, actorID, "task_moved",
		fmt.Sprintf("moved task %q from %s to %s", res.Task.Title, res.FromTitle, res.ToTitle), &res.Task.ID)
	return res.Task, nil
}

// AssignTask adds a board member to the task's assignees.
func (s *Service) AssignTask(ctx context.Context, actorID string, taskID int64, userID string) (models.Task, error) {
	boardID, err := s.taskBoard(ctx, actorID, taskID)
	if err != nil {
		return models.Task{}, err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	task, err := s.store.AssignTask(ctx, taskID, userID)
	if err != nil {
		return models.Task{}, err
	}
	s.publish(ctx, boardID, actorID, broadcast.TaskUpdated{Task: task})
	s.record(boardID, actorID, "task_assigned", fmt.Sprintf("assigned %s to %q", userID, task.Title), &task.ID)
	return task, nil
}

// UnassignTask removes a user from the task's assignees.
func (s *Service) UnassignTask(ctx context.Context, actorID string, taskID int64, userID string) (models.Task, error) {
	boardID, err := s.taskBoard(ctx, actorID, taskID)
	if err != nil {
		return models.Task{}, err
	}
	unlock := s.locks.lock(boardID)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	task, err := s.store.UnassignTask(ctx, taskID, userID)
	if err != nil {
		return models.Task{}, err
	}
	s.publish(ctx, boardID, actorID, broadcast.TaskUpdated{Task: task})
	s.record(boardID, actorID, "task_unassigned", fmt.Sprintf("unassigned %s from %q", userID, task.Title), &task.ID)
	return task, nil
}

// taskBoard resolves and authorizes the board of a task.
func (s *Service) taskBoard(ctx context.Context, actorID string, taskID int64) (int64, error) {
	boardID, err := s.store.BoardIDForTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if _, err := s.authorize(ctx, actorID, boardID, anyMember); err != nil {
		return 0, err
	}
	return boardID, nil
}
