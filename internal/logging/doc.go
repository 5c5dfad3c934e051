// Package logging provides structured logging for walletgate.
//
// It wraps Go's log/slog to produce JSON lines that can be filtered after
// the fact by action id, decision surface, or component. Every state
// transition the mediator performs is logged here, so the log doubles as an
// audit trail of who approved what.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(dir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithAction(id).Info("action promoted", "position", 3)
//	logger.WithSurface("console").Info("decision submitted", "approved", true)
//
// When dir is empty the logger writes to stderr. Tests use [NopLogger].
//
// # Rotation
//
// File output goes through [RotatingWriter], which renames walletgate.log to
// walletgate.log.1 once it grows past the configured size and keeps a bounded
// number of backups.
package logging
