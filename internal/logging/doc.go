// Package logging provides structured logging for flux-capacitor.
//
// This package wraps Go's log/slog with a JSON handler. Logs go either to a
// size-rotated file under a log directory or to stderr; they never go to
// stdout, which belongs to the tool-call transport and to CLI results.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(cfg.Log.Dir, cfg.Log.Level)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("worktree created", "path", path, "branch", branch)
//
// # Context Propagation
//
// Child loggers carry attributes into every entry they write:
//
//	wl := logger.WithWorktree(path)
//	sl := wl.WithSession(sessionID)
//	sl.Debug("pane alive", "tmux", pane)
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers share
// the parent's writer.
package logging
