// ABOUTME: Failure sink persisting plugin handler failures.
// ABOUTME: Logs every failure and stores it for the failures CLI command.

package logging

import (
	"context"
	"log/slog"

	"github.com/egidijus/funkwhale/plugins/core"
)

// FailureLogger persists handler failures.
type FailureLogger interface {
	LogFailure(ctx context.Context, f core.Failure) error
}

// StoreSink is a core.FailureSink that logs and then persists failures.
type StoreSink struct {
	Store  FailureLogger
	Logger *slog.Logger
}

var _ core.FailureSink = StoreSink{}

func (s StoreSink) RecordFailure(ctx context.Context, f core.Failure) {
	core.LogSink{Logger: s.Logger}.RecordFailure(ctx, f)
	if s.Store == nil {
		return
	}
	if err := s.Store.LogFailure(ctx, f); err != nil {
		logger := s.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.ErrorContext(ctx, "failed to store plugin failure", "plugin", f.Plugin, "error", err)
	}
}
