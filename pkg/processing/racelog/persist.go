package racelog

import (
	"context"
	"slices"
	"sync"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/repository/api"
	"github.com/mpapenbr/lapcounter-go/pkg/status"
)

type (
	persistJob interface {
		run(ctx context.Context, w *persister)
	}
	appendJob struct {
		rec api.EventRecord
	}
	replaceJob struct {
		old, identity api.EventRecord
	}
	deltaJob struct {
		delta api.Delta
	}
	// resetJob replaces all persisted data with the given records and delta
	resetJob struct {
		records []api.EventRecord
		delta   api.Delta
	}
	flushJob struct {
		done chan struct{}
	}

	// persister writes to the repository in the order the jobs were pushed.
	// It never blocks the processor.
	persister struct {
		repo     api.RaceLogRepository
		tx       api.TransactionManager
		cache    SnapshotCache
		reporter Reporter
		metrics  *metrics
		q        *queue[persistJob]
		// pending holds the snapshots of failed deltas. Owned by the worker goroutine.
		pending *api.Delta
		wg      sync.WaitGroup
		l       *log.Logger
	}
)

//nolint:whitespace // false positive
func newPersister(
	repo api.RaceLogRepository,
	tx api.TransactionManager,
	cache SnapshotCache,
	reporter Reporter,
	m *metrics,
	l *log.Logger,
) *persister {
	return &persister{
		repo:     repo,
		tx:       tx,
		cache:    cache,
		reporter: reporter,
		metrics:  m,
		q:        newQueue[persistJob](),
		l:        l,
	}
}

func (w *persister) start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			w.runPending(ctx)
			select {
			case <-ctx.Done():
				// write what is left without cancellation
				w.runPending(context.WithoutCancel(ctx))
				return
			case <-w.q.notify:
			}
		}
	}()
}

func (w *persister) wait() {
	w.wg.Wait()
}

func (w *persister) runPending(ctx context.Context) {
	for j, ok := w.q.pop(); ok; j, ok = w.q.pop() {
		j.run(ctx, w)
	}
}

func (w *persister) push(j persistJob) {
	w.q.push(j)
}

// flush blocks until all jobs pushed before were executed
func (w *persister) flush(ctx context.Context) {
	done := make(chan struct{})
	w.push(flushJob{done: done})
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// merge prepends the part of the pending delta which d does not cover.
// Deltas are merged in the order they were created, so they are contiguous.
func (w *persister) merge(d api.Delta) api.Delta {
	p := w.pending
	if p == nil || d.From <= p.From {
		return d
	}
	keep := min(d.From-p.From, len(p.Snapshots))
	return api.Delta{
		From:      p.From,
		Snapshots: slices.Concat(p.Snapshots[:keep], d.Snapshots),
		EventIDs:  slices.Concat(p.EventIDs[:keep], d.EventIDs),
		Standings: d.Standings,
	}
}

// completed keeps a failed delta for the next attempt
func (w *persister) completed(ctx context.Context, d api.Delta, err error) {
	if err != nil {
		w.pending = &d
		w.failed(ctx, "snapshots", err)
	} else {
		w.pending = nil
	}
	w.published(ctx, d.Latest())
}

func (w *persister) failed(ctx context.Context, what string, err error) {
	w.l.Error("could not persist", log.String("what", what), log.ErrorField(err))
	w.metrics.persistFailures.Add(ctx, 1)
	w.reporter.Report(ctx, status.MiscError, "could not persist "+what)
}

func (j appendJob) run(ctx context.Context, w *persister) {
	if err := w.repo.AppendEvent(ctx, j.rec); err != nil {
		w.failed(ctx, "event "+j.rec.ID.String(), err)
	}
}

func (j replaceJob) run(ctx context.Context, w *persister) {
	err := w.tx.RunInTx(ctx, func(ctx context.Context) error {
		return w.repo.ReplaceWithIdentity(ctx, j.old, j.identity)
	})
	if err != nil {
		w.failed(ctx, "identity for "+j.old.ID.String(), err)
	}
}

func (j deltaJob) run(ctx context.Context, w *persister) {
	d := w.merge(j.delta)
	err := w.tx.RunInTx(ctx, func(ctx context.Context) error {
		return w.repo.SaveDelta(ctx, d)
	})
	w.completed(ctx, d, err)
}

func (j resetJob) run(ctx context.Context, w *persister) {
	err := w.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := w.repo.Clear(ctx); err != nil {
			return err
		}
		for _, rec := range j.records {
			if err := w.repo.AppendEvent(ctx, rec); err != nil {
				return err
			}
		}
		return w.repo.SaveDelta(ctx, j.delta)
	})
	w.completed(ctx, j.delta, err)
}

func (j flushJob) run(_ context.Context, _ *persister) {
	close(j.done)
}

// published updates the last value cache and announces the new snapshot.
// The in-memory state is authoritative, so this happens even if the
// database could not be written.
func (w *persister) published(ctx context.Context, s *model.Snapshot) {
	if s == nil {
		return
	}
	if w.cache != nil {
		if err := w.cache.PutLatest(ctx, s); err != nil {
			w.l.Warn("could not update snapshot cache", log.ErrorField(err))
		}
	}
	w.reporter.Report(ctx, status.NewSnapshot, "New snapshot!")
}
