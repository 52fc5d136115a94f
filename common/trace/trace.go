// Package trace provides trace ID generation and context propagation.
//
// A trace ID is an opaque string carried through every event, entity
// mutation, and log line produced by one logical request. Pipelines and the
// CLI mint one at the boundary; everything downstream reads it from the
// context.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// traceKey is the unexported context key used to store the trace ID.
type traceKey struct{}

// GenerateID returns a new unique trace ID.
func GenerateID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID if random fails (should never happen)
		return fmt.Sprintf("trace_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(bytes)
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// EnsureID returns ctx unchanged when it already carries a trace ID,
// otherwise a child context with the supplied ID, or a freshly generated one
// when supplied is empty. The second return value is the effective ID.
//
// CLI commands use this so --trace-id propagates while plain invocations
// still get a correlatable ID.
func EnsureID(ctx context.Context, supplied string) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := supplied
	if id == "" {
		id = GenerateID()
	}
	return WithTraceID(ctx, id), id
}
