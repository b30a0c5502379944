package bob

import (
	"context"
	"database/sql"

	"github.com/stephenafamo/bob"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/repository/api"
	bobCtx "github.com/mpapenbr/lapcounter-go/pkg/repository/bob/context"
)

type (
	bobTransaction struct {
		db     *bob.DB
		opts   *sql.TxOptions
		tracer trace.Tracer
		l      *log.Logger
	}
	TxOption func(*bobTransaction)
)

var _ api.TransactionManager = (*bobTransaction)(nil)

// WithIsolation sets the isolation level of the transactions
func WithIsolation(level sql.IsolationLevel) TxOption {
	return func(b *bobTransaction) {
		b.opts = &sql.TxOptions{Isolation: level}
	}
}

func WithLogger(l *log.Logger) TxOption {
	return func(b *bobTransaction) {
		b.l = l
	}
}

func NewTransactionManager(db bob.DB, opts ...TxOption) api.TransactionManager {
	ret := &bobTransaction{
		db:     &db,
		tracer: otel.Tracer("lapcounter"),
		l:      log.Default().Named("tx"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// RunInTx puts the executor of the transaction into the context passed to fn.
// The race log repository picks it from there. A call with a context which
// already belongs to a transaction joins that transaction.
//
//nolint:whitespace //editor/linter issue
func (b *bobTransaction) RunInTx(
	ctx context.Context,
	fn func(ctx context.Context) error,
) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if bobCtx.InTx(ctx) {
		return fn(ctx)
	}
	ctx, span := b.tracer.Start(ctx, "race log tx")
	defer span.End()
	err := b.db.RunInTx(ctx, b.opts, func(ctx context.Context, e bob.Executor) error {
		return fn(bobCtx.WithExecutor(ctx, e))
	})
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("rollback", true))
		b.l.Debug("transaction rolled back", log.ErrorField(err))
	}
	return err
}
