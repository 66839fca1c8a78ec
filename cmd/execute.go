package cmd

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/shoptalk/shoptalk/internal/log"
)

// Execute is the entry point called from main. It loads an optional .env
// file, installs the default logger, and dispatches to the subcommands.
func Execute() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("loading .env file", "error", err)
	}

	logger := newLogger()
	slog.SetDefault(logger)

	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG in the environment switches
// to debug level; output goes to stderr.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}
