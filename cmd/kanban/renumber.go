package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"kanban/internal/storage/sqlite"
)

func renumberCmd() *cobra.Command {
	var boardID int64
	cmd := &cobra.Command{
		Use:   "renumber",
		Short: "Rewrite list and task positions of a board to 0..n-1",
		Long: `Rewrite the positions of a board's lists and tasks so each parent holds
exactly 0..n-1, keeping the current order. Run it against a stopped server's
database after manual edits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if boardID <= 0 {
				return errors.New("--board is required")
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			store, err := sqlite.Open(dbPath, logger)
			if err != nil {
				return fmt.Errorf("unable to open database: %w", err)
			}
			defer store.Close()

			if err := store.Renumber(context.Background(), boardID); err != nil {
				return err
			}
			logger.Info("board renumbered", slog.Int64("board_id", boardID))
			return nil
		},
	}
	cmd.Flags().Int64Var(&boardID, "board", 0, "Board id")
	return cmd
}
