package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"kanban/internal/models"
)

// AppendActivity stores one audit entry.
func (s *Store) AppendActivity(ctx context.Context, a models.Activity) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO activity(board_id, actor_id, kind, message, related_task_id) VALUES(?, ?, ?, ?, ?)`,
		a.BoardID, a.ActorID, a.Kind, a.Message, a.RelatedTaskID)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the most recent entries of a board, newest first.
func (s *Store) ListActivity(ctx context.Context, boardID int64, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, board_id, actor_id, kind, message, related_task_id, created_at
        FROM activity WHERE board_id = ? ORDER BY id DESC LIMIT ?`, boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := []models.Activity{}
	for rows.Next() {
		var (
			a       models.Activity
			related sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.BoardID, &a.ActorID, &a.Kind, &a.Message, &related, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if related.Valid {
			id := related.Int64
			a.RelatedTaskID = &id
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
