package starling

import (
	"log/slog"
	"time"
)

// withRecovery runs fn, converting a panic into a logged error instead of
// crashing the accept loop's worker. Adapted from the teacher's HTTP-style
// Recovery middleware into a direct per-connection wrapper: the registry
// dispatch model here has no middleware chain to hang a Middleware func on.
func (s *Server) withRecovery(sessionID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in connection handler",
				slog.String("session_id", sessionID),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

func (s *Server) logCommand(sess *Session, verb string, start time.Time, err error) {
	attrs := []any{
		slog.String("session_id", sess.ID),
		slog.String("remote", sess.RemoteAddress.String()),
		slog.String("verb", verb),
		slog.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		s.logger.Debug("command handled with error", append(attrs, slog.Any("error", err))...)
		return
	}
	s.logger.Debug("command handled", attrs...)
}
