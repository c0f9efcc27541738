package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/querypilot/querypilot/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

const redacted = "[REDACTED]"

// sensitiveKeys are attribute names whose values never reach the log output.
var sensitiveKeys = map[string]struct{}{
	"api_key":           {},
	"password":          {},
	"secret_access_key": {},
	"authorization":     {},
	"question":          {},
}

// NewLogger builds the service logger. Attributes named like credentials are
// replaced before encoding, and question text is only logged at debug level.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{
		Level:       cfg.Observability.LogLevel,
		ReplaceAttr: redactAttr(cfg.Observability.LogLevel <= slog.LevelDebug),
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func redactAttr(keepQuestions bool) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, attr slog.Attr) slog.Attr {
		key := strings.ToLower(attr.Key)
		if _, ok := sensitiveKeys[key]; !ok {
			return attr
		}
		if key == "question" && keepQuestions {
			return attr
		}
		return slog.String(attr.Key, redacted)
	}
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(traceIDKey).(string)
	return value
}
