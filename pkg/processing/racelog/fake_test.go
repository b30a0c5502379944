package racelog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/repository/api"
	"github.com/mpapenbr/lapcounter-go/pkg/status"
)

var errInjected = errors.New("injected failure")

// memRepo is an in-memory repository with injectable failures
type memRepo struct {
	mu         sync.Mutex
	events     []api.EventRecord
	removed    map[uuid.UUID]bool
	snaps      []*model.Snapshot
	latest     *model.Snapshot
	standings  []api.Standing
	failDeltas int
	failLoad   error
}

func newMemRepo() *memRepo {
	return &memRepo{removed: map[uuid.UUID]bool{}}
}

func (r *memRepo) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *memRepo) AppendEvent(_ context.Context, rec api.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, rec)
	return nil
}

func (r *memRepo) ReplaceWithIdentity(_ context.Context, old, identity api.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed[old.ID] = true
	r.events = append(r.events, identity)
	return nil
}

func (r *memRepo) SaveDelta(_ context.Context, d api.Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failDeltas > 0 {
		r.failDeltas--
		return errInjected
	}
	if d.From > len(r.snaps) {
		return fmt.Errorf("gap in snapshots: from %d, have %d", d.From, len(r.snaps))
	}
	r.snaps = append(r.snaps[:d.From:d.From], d.Snapshots...)
	r.latest = d.Latest()
	r.standings = d.Standings
	return nil
}

func (r *memRepo) LoadEvents(context.Context) ([]api.EventRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLoad != nil {
		return nil, r.failLoad
	}
	ret := make([]api.EventRecord, 0, len(r.events))
	for _, e := range r.events {
		if !r.removed[e.ID] {
			ret = append(ret, e)
		}
	}
	slices.SortStableFunc(ret, func(a, b api.EventRecord) int {
		return cmp.Or(a.Event.Time().Compare(b.Event.Time()), cmp.Compare(a.Arrival, b.Arrival))
	})
	return ret, nil
}

func (r *memRepo) LoadSnapshots(context.Context) ([]*model.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.snaps), nil
}

func (r *memRepo) LoadLatest(context.Context) (*model.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return nil, api.ErrNoRows
	}
	return r.latest, nil
}

func (r *memRepo) LoadStandings(context.Context) ([]api.Standing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.standings), nil
}

func (r *memRepo) LastUpdateForReader(_ context.Context, readerID int) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret int64
	found := false
	for _, e := range r.events {
		if ts, ok := e.Event.(model.TagSeen); ok && ts.ReaderID == readerID {
			ret = max(ret, ts.UpdateCount)
			found = true
		}
	}
	return ret, found, nil
}

func (r *memRepo) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.removed = map[uuid.UUID]bool{}
	r.snaps = nil
	r.latest = nil
	r.standings = nil
	return nil
}

func (r *memRepo) storedSnapshots() []*model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.snaps)
}

func (r *memRepo) setFailDeltas(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failDeltas = n
}

type reported struct {
	t       status.MessageType
	details string
}

type fakeReporter struct {
	mu   sync.Mutex
	msgs []reported
}

func (f *fakeReporter) Report(_ context.Context, t status.MessageType, details string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, reported{t, details})
}

func (f *fakeReporter) ofType(t status.MessageType) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ret []string
	for _, m := range f.msgs {
		if m.t == t {
			ret = append(ret, m.details)
		}
	}
	return ret
}

type fakeCache struct {
	mu     sync.Mutex
	latest *model.Snapshot
}

func (c *fakeCache) PutLatest(_ context.Context, s *model.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = s
	return nil
}

func (c *fakeCache) get() *model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}
