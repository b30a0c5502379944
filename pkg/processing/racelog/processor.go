// Package racelog keeps the ordered race log and the snapshots derived from it.
// All changes to the log are made by a single goroutine.
package racelog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/fold"
	"github.com/mpapenbr/lapcounter-go/pkg/repository/api"
	"github.com/mpapenbr/lapcounter-go/pkg/status"
	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

var (
	ErrShutdown = errors.New("race log processor is shut down")
	// ErrDropped is returned for scheduled events which were lost on restart
	ErrDropped = errors.New("event was dropped")
)

type (
	Reporter interface {
		Report(ctx context.Context, t status.MessageType, details string)
	}
	// SnapshotCache holds the latest snapshot for other services
	SnapshotCache interface {
		PutLatest(ctx context.Context, s *model.Snapshot) error
	}
	// TeamTags are bound to their team when the race log starts empty
	TeamTags struct {
		TeamNb int
		Tags   []tagid.TagID
	}

	item struct {
		rec api.EventRecord
		fut *Future
	}
	taskKind int
	task     struct {
		kind    taskKind
		item    *item
		done    chan error
		inspect func(l *raceLog)
		initial bool
	}

	Processor struct {
		folder      *fold.Folder
		repo        api.RaceLogRepository
		tx          api.TransactionManager
		clone       api.RaceLogRepository
		cache       SnapshotCache
		reporter    Reporter
		initialTags []TeamTags
		now         func() time.Time

		arrival atomic.Int64
		mu      sync.Mutex // guards closed and pushes to queue
		closed  bool
		queue   *queue[task]
		cancel  context.CancelFunc
		done    chan struct{}
		bg      sync.WaitGroup

		// owned by the processing goroutine
		log    *raceLog
		timers map[*item]*time.Timer

		latest  atomic.Pointer[model.Snapshot]
		length  atomic.Int64
		persist *persister
		metrics *metrics
		tracer  trace.Tracer
		l       *log.Logger
	}
	Option func(*Processor)
)

const (
	taskEnqueued taskKind = iota
	taskDue
	taskRestart
	taskInspect
)

// WithCloneRepository restores from r instead of the own repository.
// The restored log replaces the content of the own repository.
func WithCloneRepository(r api.RaceLogRepository) Option {
	return func(p *Processor) {
		p.clone = r
	}
}

func WithSnapshotCache(c SnapshotCache) Option {
	return func(p *Processor) {
		p.cache = c
	}
}

func WithReporter(r Reporter) Option {
	return func(p *Processor) {
		p.reporter = r
	}
}

func WithInitialTags(tags []TeamTags) Option {
	return func(p *Processor) {
		p.initialTags = tags
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Processor) {
		p.l = l
	}
}

type noopReporter struct{}

func (noopReporter) Report(context.Context, status.MessageType, string) {}

//nolint:whitespace // false positive
func NewProcessor(
	folder *fold.Folder,
	repo api.RaceLogRepository,
	tx api.TransactionManager,
	opts ...Option,
) *Processor {
	ret := &Processor{
		folder:   folder,
		repo:     repo,
		tx:       tx,
		reporter: noopReporter{},
		now:      time.Now,
		queue:    newQueue[task](),
		done:     make(chan struct{}),
		log:      newRaceLog(),
		timers:   map[*item]*time.Timer{},
		tracer:   otel.Tracer("lapcounter"),
		l:        log.Default().Named("racelog"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.arrival.Store(time.Now().UnixNano())
	ret.latest.Store(ret.log.latest())
	ret.metrics = newMetrics(ret)
	ret.persist = newPersister(repo, tx, ret.cache, ret.reporter, ret.metrics, ret.l.Named("persist"))
	// the restore runs before any event, even one enqueued before Start
	ret.queue.push(task{kind: taskRestart, done: make(chan error, 1), initial: true})
	return ret
}

// Start runs the restore and starts processing. It does not wait for the restore.
func (p *Processor) Start(ctx context.Context) {
	persistCtx, persistCancel := context.WithCancel(context.WithoutCancel(ctx))
	ctx, p.cancel = context.WithCancel(ctx)
	p.persist.start(persistCtx)
	go func() {
		defer close(p.done)
		p.run(ctx)
		p.shutdown()
		persistCancel()
		p.persist.wait()
		p.bg.Wait()
		p.reporter.Report(context.WithoutCancel(ctx), status.Shutdown, "")
		p.l.Info("Race log processor stopped")
	}()
}

// Stop ends processing. Pending events are resolved with ErrShutdown,
// queued repository writes are completed before Stop returns.
func (p *Processor) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Enqueue adds ev to the race log. Events in the future are processed when they are due.
// The event is persisted as soon as the processor takes it from the queue, which is
// always after a pending restore.
func (p *Processor) Enqueue(ev model.Event) *Future {
	it := &item{rec: p.newRecord(ev)}
	it.fut = newFuture(it.rec.ID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		it.fut.resolve(ErrShutdown)
		return it.fut
	}
	p.queue.push(task{kind: taskEnqueued, item: it})
	return it.fut
}

// Post enqueues ev without waiting for the outcome
func (p *Processor) Post(ev model.Event) {
	p.Enqueue(ev)
}

// Submit enqueues ev and waits until it was processed
func (p *Processor) Submit(ctx context.Context, ev model.Event) error {
	return p.Enqueue(ev).Wait(ctx)
}

// Restart drops the in-memory state and restores it from the repository
func (p *Processor) Restart(ctx context.Context) error {
	done := make(chan error, 1)
	if !p.pushTask(task{kind: taskRestart, done: done}) {
		return ErrShutdown
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest returns the snapshot after the last processed event
func (p *Processor) Latest() *model.Snapshot {
	return p.latest.Load()
}

// Log returns the active records and the snapshots once all events queued
// before the call were processed.
func (p *Processor) Log(ctx context.Context) ([]api.EventRecord, []*model.Snapshot, error) {
	var records []api.EventRecord
	var snaps []*model.Snapshot
	err := p.inspect(ctx, func(l *raceLog) {
		records = make([]api.EventRecord, 0, l.len())
		for i := range l.len() {
			records = append(records, l.at(i))
		}
		snaps = append(snaps, l.snaps...)
	})
	return records, snaps, err
}

// Sync waits until all events queued before were processed and persisted
func (p *Processor) Sync(ctx context.Context) error {
	if err := p.inspect(ctx, func(*raceLog) {}); err != nil {
		return err
	}
	p.persist.flush(ctx)
	return ctx.Err()
}

func (p *Processor) inspect(ctx context.Context, fn func(l *raceLog)) error {
	done := make(chan error, 1)
	if !p.pushTask(task{kind: taskInspect, done: done, inspect: fn}) {
		return ErrShutdown
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) pushTask(t task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.queue.push(t)
	return true
}

func (p *Processor) newRecord(ev model.Event) api.EventRecord {
	return api.EventRecord{ID: newID(), Arrival: p.arrival.Add(1), Event: ev}
}

// bumpArrival keeps new arrivals above the restored ones
func (p *Processor) bumpArrival(a int64) {
	for {
		cur := p.arrival.Load()
		if cur >= a || p.arrival.CompareAndSwap(cur, a) {
			return
		}
	}
}

func newID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

func (p *Processor) run(ctx context.Context) {
	for {
		for t, ok := p.queue.pop(); ok; t, ok = p.queue.pop() {
			if ctx.Err() != nil {
				p.abandon(t)
				continue
			}
			p.handle(ctx, t)
		}
		select {
		case <-ctx.Done():
			return
		case <-p.queue.notify:
		}
	}
}

func (p *Processor) handle(ctx context.Context, t task) {
	switch t.kind {
	case taskEnqueued:
		p.persist.push(appendJob{rec: t.item.rec})
		p.schedule(ctx, t.item)
	case taskDue:
		if _, ok := p.timers[t.item]; !ok {
			// cancelled by a restart
			return
		}
		delete(p.timers, t.item)
		p.process(ctx, t.item)
	case taskRestart:
		err := p.restore(ctx)
		if t.initial && err == nil {
			p.reporter.Report(ctx, status.StartedUp, "")
		}
		t.done <- err
	case taskInspect:
		t.inspect(p.log)
		t.done <- nil
	}
}

func (p *Processor) abandon(t task) {
	switch t.kind {
	case taskEnqueued, taskDue:
		t.item.fut.resolve(ErrShutdown)
	case taskRestart, taskInspect:
		t.done <- ErrShutdown
	}
}

func (p *Processor) shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for _, t := range p.queue.drain() {
		p.abandon(t)
	}
	for it, timer := range p.timers {
		timer.Stop()
		it.fut.resolve(ErrShutdown)
	}
	clear(p.timers)
}

// schedule processes it now or when it is due
func (p *Processor) schedule(ctx context.Context, it *item) {
	delay := it.rec.Event.Time().Sub(p.now())
	if delay <= 0 {
		p.process(ctx, it)
		return
	}
	p.l.Debug("Scheduling event",
		log.String("id", it.rec.ID.String()),
		log.String("kind", string(it.rec.Event.Kind())),
		log.Duration("delay", delay))
	p.timers[it] = time.AfterFunc(delay, func() {
		p.pushTask(task{kind: taskDue, item: it})
	})
}

// cancelTimers stops all scheduled events and returns their futures
func (p *Processor) cancelTimers() map[uuid.UUID]*Future {
	ret := make(map[uuid.UUID]*Future, len(p.timers))
	for it, timer := range p.timers {
		timer.Stop()
		if it.fut != nil {
			ret[it.rec.ID] = it.fut
		}
	}
	clear(p.timers)
	return ret
}

//nolint:funlen // processing steps
func (p *Processor) process(ctx context.Context, it *item) {
	ev := it.rec.Event
	ctx, span := p.tracer.Start(ctx, "process event",
		trace.WithAttributes(attribute.String("kind", string(ev.Kind()))))
	defer span.End()

	if p.log.has(it.rec.ID) {
		p.l.Debug("event already in race log", log.String("id", it.rec.ID.String()))
		it.fut.resolve(nil)
		return
	}
	if ce := p.l.Check(log.DebugLevel, "Processing event"); ce != nil {
		data, _ := model.MarshalEvent(ev)
		ce.Write(log.String("id", it.rec.ID.String()), log.String("event", string(data)))
	}

	j := p.log.len()
	if ev.Kind().Unique() {
		for _, r := range p.log.supersede(ev.Kind(), newID) {
			p.l.Debug("Replacing unique event",
				log.String("kind", string(ev.Kind())),
				log.Time("time", r.old.Event.Time()))
			p.persist.push(replaceJob{old: r.old, identity: r.identity})
			j = min(j, r.pos)
		}
	}
	pos := p.log.insertPos(ev.Time())
	if p.log.sameAs(pos-1, ev) {
		p.l.Error("duplicate event in race log",
			log.String("id", it.rec.ID.String()),
			log.String("existing", p.log.at(pos-1).ID.String()),
			log.Int("pos", pos))
	}
	p.log.insert(pos, it.rec)
	j = min(j, pos)
	n := p.log.recompute(p.folder, j)
	span.SetAttributes(attribute.Int("pos", pos), attribute.Int("recomputed", n))

	if seen, ok := ev.(model.TagSeen); ok {
		p.checkOutlier(ctx, pos, seen)
	}

	p.persist.push(deltaJob{delta: p.log.delta(j+1, p.folder.Engine().NbReaders())})

	p.metrics.processedEvents.Add(ctx, 1)
	p.metrics.recomputedSnaps.Add(ctx, int64(n))
	p.publishState()
	it.fut.resolve(nil)
}

func (p *Processor) publishState() {
	p.latest.Store(p.log.latest())
	p.length.Store(int64(p.log.len()))
}

// checkOutlier reports sightings implying an unrealistic speed.
// The sighting is counted anyway.
func (p *Processor) checkOutlier(ctx context.Context, pos int, ev model.TagSeen) {
	engine := p.folder.Engine()
	if !engine.ValidReader(ev.ReaderID) {
		return
	}
	prior := p.log.snaps[pos]
	team, ok := fold.TeamOf(prior, ev)
	if !ok {
		return
	}
	kmh, outlier := engine.Outlier(prior.TeamStates.GetOrNew(team), ev)
	if !outlier {
		return
	}
	p.metrics.outliers.Add(ctx, 1)
	details := fmt.Sprintf("Tag %s at reader %d: %.1f km/h", ev.Tag, ev.ReaderID, kmh)
	p.l.Warn("read outlier", log.Int("team", team), log.String("details", details))
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		p.reporter.Report(context.WithoutCancel(ctx), status.ReadOutlier, details)
	}()
}
