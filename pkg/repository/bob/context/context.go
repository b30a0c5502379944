// Package context carries the executor of a running race log transaction.
package context

import (
	"context"

	"github.com/stephenafamo/bob"
)

type executorKey struct{}

// WithExecutor returns a context whose repository calls run on executor
func WithExecutor(ctx context.Context, executor bob.Executor) context.Context {
	return context.WithValue(ctx, executorKey{}, executor)
}

// Executor returns the executor stored in ctx, fallback if there is none
func Executor(ctx context.Context, fallback bob.Executor) bob.Executor {
	if ctx == nil {
		return fallback
	}
	if executor, ok := ctx.Value(executorKey{}).(bob.Executor); ok {
		return executor
	}
	return fallback
}

// InTx reports whether ctx belongs to a running transaction
func InTx(ctx context.Context) bool {
	return Executor(ctx, nil) != nil
}
