package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kanban/internal/models"
)

const taskColumns = `t.id, t.board_id, t.list_id, t.title, t.description, t.due_at, t.priority, t.position, t.created_at, t.updated_at`

// queryTasks loads tasks matching the clause (aliased as t) together with their assignees.
func queryTasks(ctx context.Context, q querier, clause string, args ...any) ([]models.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks t `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		var (
			t   models.Task
			due sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.BoardID, &t.ListID, &t.Title, &t.Description, &due, &t.Priority, &t.Position, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if due.Valid {
			d := due.Time.UTC()
			t.DueAt = &d
		}
		t.Assignees = []string{}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := loadAssignees(ctx, q, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func loadAssignees(ctx context.Context, q querier, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	index := make(map[int64]int, len(tasks))
	placeholders := make([]string, 0, len(tasks))
	args := make([]any, 0, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
		placeholders = append(placeholders, "?")
		args = append(args, t.ID)
	}

	rows, err := q.QueryContext(ctx, `SELECT task_id, user_id FROM assignments WHERE task_id IN (`+strings.Join(placeholders, ",")+`) ORDER BY task_id, user_id`, args...)
	if err != nil {
		return fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			taskID int64
			userID string
		)
		if err := rows.Scan(&taskID, &userID); err != nil {
			return fmt.Errorf("scan assignee: %w", err)
		}
		i := index[taskID]
		tasks[i].Assignees = append(tasks[i].Assignees, userID)
	}
	return rows.Err()
}

func getTask(ctx context.Context, q querier, id int64) (models.Task, error) {
	tasks, err := queryTasks(ctx, q, `WHERE t.id = ?`, id)
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	if len(tasks) == 0 {
		return models.Task{}, fmt.Errorf("task %d: %w", id, models.ErrNotFound)
	}
	return tasks[0], nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (models.Task, error) {
	return getTask(ctx, s.db, id)
}

// ListTasks returns the tasks of a list ordered by position.
func (s *Store) ListTasks(ctx context.Context, listID int64) ([]models.Task, error) {
	return queryTasks(ctx, s.db, `WHERE t.list_id = ? ORDER BY t.position, t.id`, listID)
}

// CreateTask appends a task to its list, or inserts it at position when given.
func (s *Store) CreateTask(ctx context.Context, t models.Task, position *int64) (models.Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return models.Task{}, fmt.Errorf("task title must not be empty: %w", models.ErrInvalidInput)
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	if _, ok := models.ValidPriorities[t.Priority]; !ok {
		return models.Task{}, fmt.Errorf("unknown priority %q: %w", t.Priority, models.ErrInvalidInput)
	}

	var task models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		list, err := getList(ctx, tx, t.ListID)
		if err != nil {
			return err
		}
		pos, err := appendPosition(ctx, tx, tasksInList, list.ID)
		if err != nil {
			return err
		}
		if position != nil && *position < pos {
			pos = clamp(*position, 0, pos)
			if err := insertAt(ctx, tx, tasksInList, list.ID, pos); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO tasks(board_id, list_id, title, description, due_at, priority, position) VALUES(?, ?, ?, ?, ?, ?, ?)`,
			list.BoardID, list.ID, t.Title, strings.TrimSpace(t.Description), utcPtr(t.DueAt), t.Priority, pos)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("task id: %w", err)
		}
		if err := verifyDense(ctx, tx, tasksInList, list.ID); err != nil {
			return err
		}
		task, err = getTask(ctx, tx, id)
		return err
	})
	return task, err
}

// UpdateTask applies the non-nil fields of changes to a task.
func (s *Store) UpdateTask(ctx context.Context, id int64, changes models.TaskChanges) (models.Task, error) {
	if changes.Priority != nil {
		if _, ok := models.ValidPriorities[*changes.Priority]; !ok {
			return models.Task{}, fmt.Errorf("unknown priority %q: %w", *changes.Priority, models.ErrInvalidInput)
		}
	}
	if changes.Title != nil && strings.TrimSpace(*changes.Title) == "" {
		return models.Task{}, fmt.Errorf("task title must not be empty: %w", models.ErrInvalidInput)
	}

	var task models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}

		title := current.Title
		description := current.Description
		due := current.DueAt
		priority := current.Priority

		if changes.Title != nil {
			title = strings.TrimSpace(*changes.Title)
		}
		if changes.Description != nil {
			description = strings.TrimSpace(*changes.Description)
		}
		if changes.ClearDue {
			due = nil
		} else if changes.DueAt != nil {
			due = changes.DueAt
		}
		if changes.Priority != nil {
			priority = *changes.Priority
		}

		_, err = tx.ExecContext(ctx, `UPDATE tasks SET title = ?, description = ?, due_at = ?, priority = ? WHERE id = ?`,
			title, description, utcPtr(due), priority, id)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		task, err = getTask(ctx, tx, id)
		return err
	})
	return task, err
}

// DeleteTask removes a task and closes the gap in its list. It returns the deleted task.
func (s *Store) DeleteTask(ctx context.Context, id int64) (models.Task, error) {
	var task models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if err := removeAndCompact(ctx, tx, tasksInList, task.ListID, task.Position); err != nil {
			return err
		}
		return verifyDense(ctx, tx, tasksInList, task.ListID)
	})
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// MoveTask transfers a task to index within toListID in a single transaction.
//
// The index is clamped to [0, n] where n is the target list's length without
// the moved task, so for a move inside one list it is the task's final index.
// A request for the task's current slot writes nothing and reports Moved=false.
func (s *Store) MoveTask(ctx context.Context, taskID, toListID, index int64) (models.MoveResult, error) {
	var result models.MoveResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		task, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		source, err := getList(ctx, tx, task.ListID)
		if err != nil {
			return err
		}
		target, err := getList(ctx, tx, toListID)
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("target list %d: %w", toListID, models.ErrInvalidTarget)
		}
		if err != nil {
			return err
		}
		if target.BoardID != task.BoardID {
			return fmt.Errorf("target list %d belongs to another board: %w", toListID, models.ErrInvalidTarget)
		}

		length, err := countChildren(ctx, tx, tasksInList, target.ID, task.ID)
		if err != nil {
			return err
		}
		idx := clamp(index, 0, length)

		result = models.MoveResult{Task: task, FromListID: source.ID, FromTitle: source.Title, ToTitle: target.Title}
		if source.ID == target.ID && idx == task.Position {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET position = -1 WHERE id = ?`, task.ID); err != nil {
			return fmt.Errorf("detach task: %w", err)
		}
		if err := removeAndCompact(ctx, tx, tasksInList, source.ID, task.Position); err != nil {
			return err
		}
		if err := insertAt(ctx, tx, tasksInList, target.ID, idx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET list_id = ?, position = ? WHERE id = ?`, target.ID, idx, task.ID); err != nil {
			return fmt.Errorf("place task: %w", err)
		}
		if source.ID != target.ID {
			if err := renumber(ctx, tx, tasksInList, source.ID); err != nil {
				return err
			}
			if err := verifyDense(ctx, tx, tasksInList, source.ID); err != nil {
				return err
			}
		}
		if err := verifyDense(ctx, tx, tasksInList, target.ID); err != nil {
			return err
		}

		moved, err := getTask(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		result.Task = moved
		result.Moved = true
		return nil
	})
	if err != nil {
		return models.MoveResult{}, err
	}
	return result, nil
}

// AssignTask adds userID to the task's assignees. The user must be a board member.
func (s *Store) AssignTask(ctx context.Context, taskID int64, userID string) (models.Task, error) {
	var task models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		var member int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM memberships WHERE board_id = ? AND user_id = ?`, current.BoardID, userID).Scan(&member)
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if member == 0 {
			return fmt.Errorf("user %q is not a board member: %w", userID, models.ErrInvalidTarget)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO assignments(task_id, user_id) VALUES(?, ?)`, taskID, userID); err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
		task, err = getTask(ctx, tx, taskID)
		return err
	})
	return task, err
}

// UnassignTask removes userID from the task's assignees.
func (s *Store) UnassignTask(ctx context.Context, taskID int64, userID string) (models.Task, error) {
	var task models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getTask(ctx, tx, taskID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE task_id = ? AND user_id = ?`, taskID, userID)
		if err != nil {
			return fmt.Errorf("delete assignment: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("assignee %q: %w", userID, models.ErrNotFound)
		}
		task, err = getTask(ctx, tx, taskID)
		return err
	})
	return task, err
}

// SearchTasks finds tasks on a board whose title or description contains query.
func (s *Store) SearchTasks(ctx context.Context, boardID int64, query string, limit int) ([]models.Task, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Task{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(query) + "%"
	return queryTasks(ctx, s.db, `WHERE t.board_id = ? AND (t.title LIKE ? ESCAPE '\' OR t.description LIKE ? ESCAPE '\')
        ORDER BY t.updated_at DESC, t.id DESC LIMIT ?`, boardID, pattern, pattern, limit)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
