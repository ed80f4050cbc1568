package logging

import "context"

type contextKey int

const (
	commandIDKey contextKey = iota
	requestIDKey
	loggerKey
)

// WithCommandIDCtx returns a context carrying a bulk command id.
func WithCommandIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, commandIDKey, id)
}

// CommandIDFromCtx returns the command id carried by ctx, if any.
func CommandIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(commandIDKey).(string)
	return id
}

// WithRequestIDCtx returns a context carrying an API request id.
func WithRequestIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx returns the request id carried by ctx, if any.
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLoggerCtx attaches a logger to ctx.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromCtx returns the logger attached to ctx, falling back to the global
// logger. Command and request ids found in ctx are bound to the result.
func FromCtx(ctx context.Context) *Logger {
	l, ok := ctx.Value(loggerKey).(*Logger)
	if !ok || l == nil {
		l = Global()
	}
	if id := CommandIDFromCtx(ctx); id != "" && id != l.commandID {
		l = l.WithCommandID(id)
	}
	if id := RequestIDFromCtx(ctx); id != "" && id != l.requestID {
		l = l.WithRequestID(id)
	}
	return l
}
