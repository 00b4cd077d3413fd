package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"kanban/internal/util"
)

var Version = "dev"

var (
	dbPath   string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "kanban",
		Short:         "Live kanban board server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", util.EnvOrDefault("KANBAN_DB_PATH", "data/kanban.db"), "Path to sqlite database file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", util.EnvOrDefault("KANBAN_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(renumberCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})), nil
}
