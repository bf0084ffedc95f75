package logbase

import (
	"context"
	"log/slog"
	"os"
)

func Fatal(log *slog.Logger, msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}

func FatalContext(ctx context.Context, log *slog.Logger, msg string, args ...any) {
	log.ErrorContext(ctx, msg, args...)
	os.Exit(1)
}
