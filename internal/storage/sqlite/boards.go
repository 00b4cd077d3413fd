package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"kanban/internal/models"
)

// CreateBoard persists a new board and makes ownerID its OWNER.
func (s *Store) CreateBoard(ctx context.Context, title, ownerID string) (models.Board, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Board{}, fmt.Errorf("board title must not be empty: %w", models.ErrInvalidInput)
	}
	if ownerID == "" {
		return models.Board{}, fmt.Errorf("board owner must not be empty: %w", models.ErrInvalidInput)
	}

	var board models.Board
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO boards(title, owner_id) VALUES(?, ?)`, title, ownerID)
		if err != nil {
			return fmt.Errorf("insert board: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("board id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO memberships(board_id, user_id, role) VALUES(?, ?, ?)`, id, ownerID, models.RoleOwner); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		board, err = getBoard(ctx, tx, id)
		return err
	})
	return board, err
}

// GetBoard fetches a single board by id.
func (s *Store) GetBoard(ctx context.Context, id int64) (models.Board, error) {
	return getBoard(ctx, s.db, id)
}

func getBoard(ctx context.Context, q querier, id int64) (models.Board, error) {
	var b models.Board
	err := q.QueryRowContext(ctx, `SELECT id, title, owner_id, created_at, updated_at FROM boards WHERE id = ?`, id).
		Scan(&b.ID, &b.Title, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Board{}, fmt.Errorf("board %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Board{}, fmt.Errorf("get board: %w", err)
	}
	return b, nil
}

// ListBoards returns the boards userID belongs to, oldest first.
func (s *Store) ListBoards(ctx context.Context, userID string) ([]models.Board, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT b.id, b.title, b.owner_id, b.created_at, b.updated_at
        FROM boards b JOIN memberships m ON m.board_id = b.id
        WHERE m.user_id = ? ORDER BY b.created_at ASC, b.id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	boards := []models.Board{}
	for rows.Next() {
		var b models.Board
		if err := rows.Scan(&b.ID, &b.Title, &b.OwnerID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// UpdateBoard renames a board. The latest write wins.
func (s *Store) UpdateBoard(ctx context.Context, id int64, title string) (models.Board, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Board{}, fmt.Errorf("board title must not be empty: %w", models.ErrInvalidInput)
	}

	var board models.Board
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE boards SET title = ? WHERE id = ?`, title, id)
		if err != nil {
			return fmt.Errorf("update board: %w", err)
		}
		if err := expectAffected(res, "board", id); err != nil {
			return err
		}
		board, err = getBoard(ctx, tx, id)
		return err
	})
	return board, err
}

// DeleteBoard removes a board with its lists, tasks, memberships and activity.
func (s *Store) DeleteBoard(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM boards WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete board: %w", err)
		}
		return expectAffected(res, "board", id)
	})
}

// RoleOf returns userID's role on the board, or "" when the user is not a member.
func (s *Store) RoleOf(ctx context.Context, boardID int64, userID string) (models.Role, error) {
	var role models.Role
	err := s.db.QueryRowContext(ctx, `SELECT role FROM memberships WHERE board_id = ? AND user_id = ?`, boardID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select role: %w", err)
	}
	return role, nil
}

// ListMembers returns the board's members, owner first.
func (s *Store) ListMembers(ctx context.Context, boardID int64) ([]models.Member, error) {
	return listMembers(ctx, s.db, boardID)
}

func listMembers(ctx context.Context, q querier, boardID int64) ([]models.Member, error) {
	rows, err := q.QueryContext(ctx, `SELECT board_id, user_id, role, joined_at FROM memberships
        WHERE board_id = ? ORDER BY CASE role WHEN 'OWNER' THEN 0 WHEN 'ADMIN' THEN 1 ELSE 2 END, joined_at, user_id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []models.Member{}
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.BoardID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMember adds userID to the board or changes the role of an existing member.
// The owner cannot be re-added and nobody can be promoted to OWNER.
func (s *Store) AddMember(ctx context.Context, boardID int64, userID string, role models.Role) (models.Member, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.Member{}, fmt.Errorf("member user id must not be empty: %w", models.ErrInvalidInput)
	}
	if _, ok := models.ValidRoles[role]; !ok {
		return models.Member{}, fmt.Errorf("unknown role %q: %w", role, models.ErrInvalidInput)
	}
	if role == models.RoleOwner {
		return models.Member{}, fmt.Errorf("a board has exactly one owner: %w", models.ErrInvalidTarget)
	}

	var member models.Member
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		board, err := getBoard(ctx, tx, boardID)
		if err != nil {
			return err
		}
		if board.OwnerID == userID {
			return fmt.Errorf("owner role cannot change: %w", models.ErrForbidden)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO memberships(board_id, user_id, role) VALUES(?, ?, ?)
            ON CONFLICT(board_id, user_id) DO UPDATE SET role = excluded.role`, boardID, userID, role)
		if err != nil {
			return fmt.Errorf("upsert membership: %w", err)
		}
		err = tx.QueryRowContext(ctx, `SELECT board_id, user_id, role, joined_at FROM memberships WHERE board_id = ? AND user_id = ?`, boardID, userID).
			Scan(&member.BoardID, &member.UserID, &member.Role, &member.JoinedAt)
		if err != nil {
			return fmt.Errorf("get membership: %w", err)
		}
		return nil
	})
	return member, err
}

// RemoveMember removes userID from the board together with their task assignments.
func (s *Store) RemoveMember(ctx context.Context, boardID int64, userID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		board, err := getBoard(ctx, tx, boardID)
		if err != nil {
			return err
		}
		if board.OwnerID == userID {
			return fmt.Errorf("the board owner cannot be removed: %w", models.ErrForbidden)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE board_id = ? AND user_id = ?`, boardID, userID)
		if err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("member %q: %w", userID, models.ErrNotFound)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM assignments WHERE user_id = ? AND task_id IN (SELECT id FROM tasks WHERE board_id = ?)`, userID, boardID)
		if err != nil {
			return fmt.Errorf("delete assignments: %w", err)
		}
		return nil
	})
}

// BoardDetail loads the board, its members and every list with its tasks in position order.
func (s *Store) BoardDetail(ctx context.Context, boardID int64) (models.BoardDetail, error) {
	var detail models.BoardDetail
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		board, err := getBoard(ctx, tx, boardID)
		if err != nil {
			return err
		}
		members, err := listMembers(ctx, tx, boardID)
		if err != nil {
			return err
		}
		lists, err := listLists(ctx, tx, boardID)
		if err != nil {
			return err
		}
		tasks, err := queryTasks(ctx, tx, `WHERE t.board_id = ? ORDER BY t.list_id, t.position, t.id`, boardID)
		if err != nil {
			return err
		}

		byList := make(map[int64][]models.Task, len(lists))
		for _, t := range tasks {
			byList[t.ListID] = append(byList[t.ListID], t)
		}
		detail = models.BoardDetail{Board: board, Members: members, Lists: make([]models.ListDetail, 0, len(lists))}
		for _, l := range lists {
			ts := byList[l.ID]
			if ts == nil {
				ts = []models.Task{}
			}
			detail.Lists = append(detail.Lists, models.ListDetail{List: l, Tasks: ts})
		}
		return nil
	})
	return detail, err
}

// BoardIDForList resolves the board that owns a list.
func (s *Store) BoardIDForList(ctx context.Context, listID int64) (int64, error) {
	var boardID int64
	err := s.db.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id = ?`, listID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("list %d: %w", listID, models.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("select list board: %w", err)
	}
	return boardID, nil
}

// BoardIDForTask resolves the board that owns a task.
func (s *Store) BoardIDForTask(ctx context.Context, taskID int64) (int64, error) {
	var boardID int64
	err := s.db.QueryRowContext(ctx, `SELECT board_id FROM tasks WHERE id = ?`, taskID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("task %d: %w", taskID, models.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("select task board: %w", err)
	}
	return boardID, nil
}

// Renumber repairs the board's list order and the task order of every list.
func (s *Store) Renumber(ctx context.Context, boardID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getBoard(ctx, tx, boardID); err != nil {
			return err
		}
		if err := renumber(ctx, tx, listsInBoard, boardID); err != nil {
			return err
		}
		lists, err := listLists(ctx, tx, boardID)
		if err != nil {
			return err
		}
		for _, l := range lists {
			if err := renumber(ctx, tx, tasksInList, l.ID); err != nil {
				return err
			}
			if err := verifyDense(ctx, tx, tasksInList, l.ID); err != nil {
				return err
			}
		}
		return verifyDense(ctx, tx, listsInBoard, boardID)
	})
}

func expectAffected(res sql.Result, entity string, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, models.ErrNotFound)
	}
	return nil
}
