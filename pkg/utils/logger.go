package utils

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	config "github.com/maheshrc27/postflow/configs"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the process logger. With a log file set, records go to
// stdout and to a size-rotated file.
func NewLogger(cfg config.Log) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closer = rotator
	}

	return slog.New(newHandler(out, cfg.Format)), closer
}

// SetupLogger installs the logger as the slog and log default.
func SetupLogger(cfg config.Log) io.Closer {
	logger, closer := NewLogger(cfg)
	slog.SetDefault(logger)
	log.SetFlags(0)
	return closer
}

func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
