package telemetry

import (
	"context"

	clue "goa.design/clue/log"
)

// ClueLogger adapts goa.design/clue/log to the Logger interface. It carries
// a context so that clue's context-scoped fields (request IDs, trace IDs)
// flow into every log line.
type ClueLogger struct {
	ctx context.Context
}

// NewClueLogger constructs a Logger backed by goa.design/clue/log, scoped to
// the supplied context. Pass context.Background() at the composition root
// unless a request-scoped context is already available.
func NewClueLogger(ctx context.Context) Logger {
	return ClueLogger{ctx: ctx}
}

func (l ClueLogger) Debug(msg string, fields ...Field) { clue.Debug(l.ctx, msg, toClueFields(fields)...) }
func (l ClueLogger) Info(msg string, fields ...Field)  { clue.Info(l.ctx, msg, toClueFields(fields)...) }
func (l ClueLogger) Warn(msg string, fields ...Field)  { clue.Warn(l.ctx, msg, toClueFields(fields)...) }
func (l ClueLogger) Error(msg string, fields ...Field) {
	clue.Error(l.ctx, msg, toClueFields(fields)...)
}

func toClueFields(fields []Field) []clue.KV {
	kvs := make([]clue.KV, 0, len(fields))
	for _, f := range fields {
		kvs = append(kvs, clue.KV{K: f.Key, V: f.Value})
	}
	return kvs
}
