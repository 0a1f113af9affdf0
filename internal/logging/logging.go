package logging

import (
	"io"
	"os"
	"time"

	"github.com/elonfeng/bugradar/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds the process logger from config and installs it as the global zerolog logger.
func New(cfg config.LogConfig) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
