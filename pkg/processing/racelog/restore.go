package racelog

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/status"
)

// restore replaces the in-memory state by the persisted one.
// On failure processing continues with a fresh state.
func (p *Processor) restore(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "restore")
	defer span.End()

	p.persist.flush(ctx)
	carry := p.cancelTimers()
	p.log = newRaceLog()
	err := p.load(ctx, carry)
	if err != nil {
		span.RecordError(err)
		p.l.Error("could not restore race log, starting with a fresh state", log.ErrorField(err))
		p.reporter.Report(ctx, status.StartupFailure, err.Error())
		p.log = newRaceLog()
		p.persist.push(deltaJob{delta: p.log.delta(0, p.folder.Engine().NbReaders())})
		p.seed(ctx)
	}
	for id, fut := range carry {
		p.l.Warn("scheduled event not found after restore", log.String("id", id.String()))
		fut.resolve(ErrDropped)
	}
	p.publishState()
	p.l.Info("Race log restored",
		log.Int("events", p.log.len()),
		log.Int("scheduled", len(p.timers)))
	return err
}

//nolint:funlen,cyclop // restore steps
func (p *Processor) load(ctx context.Context, carry map[uuid.UUID]*Future) error {
	src := p.repo
	if p.clone != nil {
		src = p.clone
	}
	records, err := src.LoadEvents(ctx)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	var snaps []*model.Snapshot
	if p.clone == nil {
		if snaps, err = src.LoadSnapshots(ctx); err != nil {
			return fmt.Errorf("load snapshots: %w", err)
		}
	}

	now := p.now()
	for _, rec := range records {
		p.bumpArrival(rec.Arrival)
		if rec.Event.Time().After(now) {
			it := &item{rec: rec, fut: carry[rec.ID]}
			delete(carry, rec.ID)
			p.schedule(ctx, it)
			continue
		}
		p.log.insert(p.log.insertPos(rec.Event.Time()), rec)
	}
	past := p.log.len()
	nbReaders := p.folder.Engine().NbReaders()

	switch {
	case p.clone != nil:
		p.log.recompute(p.folder, 0)
		p.persist.push(resetJob{records: records, delta: p.log.delta(0, nbReaders)})
		p.l.Info("Cloned race log", log.Int("events", len(records)))
	case len(snaps) == past+1:
		p.log.snaps = snaps
	default:
		if len(snaps) > 0 {
			p.l.Warn("stored snapshots don't match the race log, recomputing",
				log.Int("snapshots", len(snaps)),
				log.Int("events", past))
		}
		p.log.recompute(p.folder, 0)
		p.persist.push(deltaJob{delta: p.log.delta(0, nbReaders)})
	}
	if len(records) == 0 && len(snaps) == 0 {
		p.seed(ctx)
	}
	return nil
}

// seed binds the configured tags at the beginning of time
func (p *Processor) seed(ctx context.Context) {
	n := 0
	for _, team := range p.initialTags {
		for _, tag := range team.Tags {
			rec := p.newRecord(model.AddTag{At: model.BeginningOfTime, Tag: tag, TeamNb: team.TeamNb})
			p.persist.push(appendJob{rec: rec})
			p.process(ctx, &item{rec: rec})
			n++
		}
	}
	p.l.Info("Registered initial tags", log.Int("tags", n))
}
