package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mpapenbr/lapcounter-go/pkg/model"
)

var ErrNoRows = errors.New("no rows in result set")

// EventRecord is an event as it is stored in the race log.
// Arrival orders events with the same time.
type EventRecord struct {
	ID      uuid.UUID
	Arrival int64
	Event   model.Event
}

// Standing is the public state of one team in the latest snapshot
type Standing struct {
	TeamNb         int
	Laps           int
	Fragments      int
	Speed          float64 // NaN if unknown
	PredictedSpeed float64 // NaN if unknown
	LastSeen       *time.Time
}

// Delta replaces the persisted snapshots starting at position From.
// EventIDs[i] is the event which produced Snapshots[i], uuid.Nil for the initial snapshot.
// The last snapshot becomes the latest one.
type Delta struct {
	From      int
	Snapshots []*model.Snapshot
	EventIDs  []uuid.UUID
	Standings []Standing
}

func (d Delta) Latest() *model.Snapshot {
	if len(d.Snapshots) == 0 {
		return nil
	}
	return d.Snapshots[len(d.Snapshots)-1]
}

type RaceLogRepository interface {
	AppendEvent(ctx context.Context, rec EventRecord) error
	// ReplaceWithIdentity marks old as removed and stores identity with the same arrival
	ReplaceWithIdentity(ctx context.Context, old, identity EventRecord) error
	SaveDelta(ctx context.Context, d Delta) error
	// LoadEvents returns the events which are not removed, in log order
	LoadEvents(ctx context.Context) ([]EventRecord, error)
	LoadSnapshots(ctx context.Context) ([]*model.Snapshot, error)
	LoadLatest(ctx context.Context) (*model.Snapshot, error)
	LoadStandings(ctx context.Context) ([]Standing, error)
	// LastUpdateForReader returns the highest update count stored for reader
	LastUpdateForReader(ctx context.Context, readerID int) (count int64, found bool, err error)
	Clear(ctx context.Context) error
}

type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
