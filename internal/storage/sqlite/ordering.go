package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"kanban/internal/models"
)

// scope names a table whose rows carry a position dense within a parent column.
type scope struct {
	table  string
	parent string
}

var (
	listsInBoard = scope{table: "lists", parent: "board_id"}
	tasksInList  = scope{table: "tasks", parent: "list_id"}
)

// appendPosition returns the position after the last child, or 0 for an empty parent.
func appendPosition(ctx context.Context, q querier, sc scope, parentID int64) (int64, error) {
	var position sql.NullInt64
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(position) FROM %s WHERE %s = ?`, sc.table, sc.parent), parentID).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("select %s position: %w", sc.table, err)
	}
	if position.Valid {
		return position.Int64 + 1, nil
	}
	return 0, nil
}

// countChildren returns how many rows hang under parentID, ignoring excludeID.
func countChildren(ctx context.Context, q querier, sc scope, parentID, excludeID int64) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = ? AND id != ?`, sc.table, sc.parent), parentID, excludeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", sc.table, err)
	}
	return n, nil
}

// insertAt opens a slot at index by shifting every sibling at or after it.
// The caller writes index to the inserted child within the same transaction.
func insertAt(ctx context.Context, tx *sql.Tx, sc scope, parentID, index int64) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET position = position + 1 WHERE %s = ? AND position >= ?`, sc.table, sc.parent), parentID, index)
	if err != nil {
		return fmt.Errorf("shift %s up: %w", sc.table, err)
	}
	return nil
}

// removeAndCompact closes the gap left at removedPosition.
func removeAndCompact(ctx context.Context, tx *sql.Tx, sc scope, parentID, removedPosition int64) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET position = position - 1 WHERE %s = ? AND position > ?`, sc.table, sc.parent), parentID, removedPosition)
	if err != nil {
		return fmt.Errorf("shift %s down: %w", sc.table, err)
	}
	return nil
}

// renumber rewrites positions to 0..n-1 following the current order.
func renumber(ctx context.Context, tx *sql.Tx, sc scope, parentID int64) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT id, position FROM %s WHERE %s = ? ORDER BY position, id`, sc.table, sc.parent), parentID)
	if err != nil {
		return fmt.Errorf("read %s order: %w", sc.table, err)
	}
	type entry struct{ id, position int64 }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.position); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s order: %w", sc.table, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`UPDATE %s SET position = ? WHERE id = ?`, sc.table)
	for i, e := range entries {
		if e.position == int64(i) {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt, i, e.id); err != nil {
			return fmt.Errorf("renumber %s: %w", sc.table, err)
		}
	}
	return nil
}

// verifyDense fails with ErrConsistency unless the parent's positions are exactly 0..n-1.
func verifyDense(ctx context.Context, q querier, sc scope, parentID int64) error {
	var (
		count, distinct int64
		lo, hi          sql.NullInt64
	)
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*), COUNT(DISTINCT position), MIN(position), MAX(position) FROM %s WHERE %s = ?`, sc.table, sc.parent), parentID).
		Scan(&count, &distinct, &lo, &hi)
	if err != nil {
		return fmt.Errorf("verify %s order: %w", sc.table, err)
	}
	if count == 0 {
		return nil
	}
	if distinct != count || lo.Int64 != 0 || hi.Int64 != count-1 {
		return fmt.Errorf("%s under %s=%d: %d rows, %d distinct, range [%d,%d]: %w",
			sc.table, sc.parent, parentID, count, distinct, lo.Int64, hi.Int64, models.ErrConsistency)
	}
	return nil
}

func clamp(index, lo, hi int64) int64 {
	if index < lo {
		return lo
	}
	if index > hi {
		return hi
	}
	return index
}
