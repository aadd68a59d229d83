package main

import (
	"log/slog"
	"os"

	"github.com/canlink-io/canlink/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	l := logging.New(format, lvl, os.Stderr).With("app", "canlinkd")
	logging.Set(l)
	return l
}
