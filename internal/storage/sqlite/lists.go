package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"kanban/internal/models"
)

const listColumns = `id, board_id, title, position, created_at, updated_at`

func scanList(row interface{ Scan(...any) error }) (models.List, error) {
	var l models.List
	err := row.Scan(&l.ID, &l.BoardID, &l.Title, &l.Position, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func listLists(ctx context.Context, q querier, boardID int64) ([]models.List, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+listColumns+` FROM lists WHERE board_id = ? ORDER BY position, id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	lists := []models.List{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

func getList(ctx context.Context, q querier, id int64) (models.List, error) {
	l, err := scanList(q.QueryRowContext(ctx, `SELECT `+listColumns+` FROM lists WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.List{}, fmt.Errorf("list %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.List{}, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

// ListLists returns the board's lists in display order.
func (s *Store) ListLists(ctx context.Context, boardID int64) ([]models.List, error) {
	return listLists(ctx, s.db, boardID)
}

// GetList fetches a single list by id.
func (s *Store) GetList(ctx context.Context, id int64) (models.List, error) {
	return getList(ctx, s.db, id)
}

// CreateList appends a list to the board, or inserts it at position when given.
func (s *Store) CreateList(ctx context.Context, boardID int64, title string, position *int64) (models.List, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.List{}, fmt.Errorf("list title must not be empty: %w", models.ErrInvalidInput)
	}

	var list models.List
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getBoard(ctx, tx, boardID); err != nil {
			return err
		}
		pos, err := appendPosition(ctx, tx, listsInBoard, boardID)
		if err != nil {
			return err
		}
		if position != nil && *position < pos {
			pos = clamp(*position, 0, pos)
			if err := insertAt(ctx, tx, listsInBoard, boardID, pos); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO lists(board_id, title, position) VALUES(?, ?, ?)`, boardID, title, pos)
		if err != nil {
			return fmt.Errorf("insert list: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("list id: %w", err)
		}
		if err := verifyDense(ctx, tx, listsInBoard, boardID); err != nil {
			return err
		}
		list, err = getList(ctx, tx, id)
		return err
	})
	return list, err
}

// UpdateList renames a list.
func (s *Store) UpdateList(ctx context.Context, id int64, title string) (models.List, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.List{}, fmt.Errorf("list title must not be empty: %w", models.ErrInvalidInput)
	}

	var list models.List
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE lists SET title = ? WHERE id = ?`, title, id)
		if err != nil {
			return fmt.Errorf("update list: %w", err)
		}
		if err := expectAffected(res, "list", id); err != nil {
			return err
		}
		list, err = getList(ctx, tx, id)
		return err
	})
	return list, err
}

// DeleteList removes a list and every task in it, then closes the gap in the board.
// It returns the deleted list and the ids of the tasks removed with it.
func (s *Store) DeleteList(ctx context.Context, id int64) (models.List, []int64, error) {
	var (
		list    models.List
		taskIDs []int64
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		list, err = getList(ctx, tx, id)
		if err != nil {
			return err
		}
		taskIDs, err = queryIDs(ctx, tx, `SELECT id FROM tasks WHERE list_id = ? ORDER BY position`, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE list_id = ?`, id); err != nil {
			return fmt.Errorf("delete list tasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete list: %w", err)
		}
		if err := removeAndCompact(ctx, tx, listsInBoard, list.BoardID, list.Position); err != nil {
			return err
		}
		return verifyDense(ctx, tx, listsInBoard, list.BoardID)
	})
	if err != nil {
		return models.List{}, nil, err
	}
	return list, taskIDs, nil
}

// MoveList places a list at index among its siblings and returns the board's
// lists in their new order. moved is false when the list was already there.
func (s *Store) MoveList(ctx context.Context, id, index int64) (lists []models.List, moved bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		list, err := getList(ctx, tx, id)
		if err != nil {
			return err
		}
		others, err := countChildren(ctx, tx, listsInBoard, list.BoardID, list.ID)
		if err != nil {
			return err
		}
		target := clamp(index, 0, others)
		moved = target != list.Position
		if moved {
			if _, err := tx.ExecContext(ctx, `UPDATE lists SET position = -1 WHERE id = ?`, list.ID); err != nil {
				return fmt.Errorf("detach list: %w", err)
			}
			if err := removeAndCompact(ctx, tx, listsInBoard, list.BoardID, list.Position); err != nil {
				return err
			}
			if err := insertAt(ctx, tx, listsInBoard, list.BoardID, target); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE lists SET position = ? WHERE id = ?`, target, list.ID); err != nil {
				return fmt.Errorf("place list: %w", err)
			}
			if err := verifyDense(ctx, tx, listsInBoard, list.BoardID); err != nil {
				return err
			}
		}
		lists, err = listLists(ctx, tx, list.BoardID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return lists, moved, nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
