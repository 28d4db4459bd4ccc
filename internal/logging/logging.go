// Package logging wires the process-wide slog logger and manages the
// per-run session log files kept alongside capture output.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/config"
)

// sessionLogPrefix names the per-run log files in the log directory.
const sessionLogPrefix = "session_"

// Setup installs the default slog logger per configuration: JSON records
// to stdout and, unless console_only is set, duplicated into a fresh
// session log file under cfg's log directory. Older session logs beyond
// keep_logs are pruned. The returned closer flushes and closes the file;
// call it on shutdown.
func Setup(cfg *config.Config, debug bool) (func(), error) {
	level := parseLevel(cfg.Logging.Level)
	if debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	closer := func() {}

	if !cfg.Logging.ConsoleOnly {
		f, err := openSessionLog(cfg.Storage.LogDir)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = func() { f.Close() }

		if err := Prune(cfg.Storage.LogDir, cfg.Logging.KeepLogs); err != nil {
			slog.Warn("session log pruning failed", "error", err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return closer, nil
}

// openSessionLog creates the log directory and a timestamp-named log file.
func openSessionLog(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := sessionLogPrefix + time.Now().Format("20060102_150405") + ".log"
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("create session log: %w", err)
	}
	return f, nil
}

// Prune deletes the oldest session logs in dir, keeping the newest `keep`.
// Only files matching the session log naming pattern are touched.
func Prune(dir string, keep int) error {
	matches, err := filepath.Glob(filepath.Join(dir, sessionLogPrefix+"*.log"))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}

	// Timestamp-named files: lexical order is chronological order.
	sort.Strings(matches)

	for _, path := range matches[:len(matches)-keep] {
		if err := os.Remove(path); err != nil {
			slog.Warn("failed to remove old session log", "path", path, "error", err)
			continue
		}
		slog.Debug("pruned session log", "path", path)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
