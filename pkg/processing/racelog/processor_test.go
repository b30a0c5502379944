//nolint:funlen // ok for tests
package racelog

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/poll"

	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/fold"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/teamstate"
	"github.com/mpapenbr/lapcounter-go/pkg/repository/api"
	"github.com/mpapenbr/lapcounter-go/pkg/status"
	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

var (
	abcd = tagid.MustParse("ABCD")
	dcba = tagid.MustParse("DCBA")
	// an hour ago, so all race events are in the past
	t0 = time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)

	team1 = []TeamTags{{TeamNb: 1, Tags: []tagid.TagID{abcd}}}
)

func at(d time.Duration) time.Time {
	return t0.Add(d)
}

func testFolder(t *testing.T) *fold.Folder {
	t.Helper()
	e, err := teamstate.NewEngine(
		teamstate.Track{Length: 520, Positions: []float64{0, 170, 350}},
		teamstate.DefaultOptions())
	require.NoError(t, err)
	return fold.NewFolder(e)
}

func startProcessor(t *testing.T, repo *memRepo, opts ...Option) (*Processor, *fakeReporter) {
	t.Helper()
	rep := &fakeReporter{}
	p := NewProcessor(testFolder(t), repo, repo, append([]Option{WithReporter(rep)}, opts...)...)
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p, rep
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func enqueueAll(t *testing.T, p *Processor, events ...model.Event) {
	t.Helper()
	ctx := testCtx(t)
	futs := make([]*Future, 0, len(events))
	for _, e := range events {
		futs = append(futs, p.Enqueue(e))
	}
	for _, f := range futs {
		require.NoError(t, f.Wait(ctx))
	}
}

func raceEvents() []model.Event {
	return []model.Event{
		model.Start{At: at(0)},
		model.TagSeen{At: at(3 * time.Minute), Tag: abcd, ReaderID: 0, UpdateCount: 1},
		model.TagSeen{At: at(6 * time.Minute), Tag: abcd, ReaderID: 1, UpdateCount: 1},
		model.StatusChange{At: at(7 * time.Minute), Status: model.StatusOk},
		model.TagSeen{At: at(9 * time.Minute), Tag: abcd, ReaderID: 2, UpdateCount: 1},
		model.Correction{At: at(10 * time.Minute), TeamNb: 1, Correction: 1},
		model.TagSeen{At: at(12 * time.Minute), Tag: abcd, ReaderID: 0, UpdateCount: 2},
		model.Message{At: at(13 * time.Minute), Message: "halfway"},
		model.End{At: at(30 * time.Minute)},
	}
}

func eventsOf(records []api.EventRecord) []model.Event {
	ret := make([]model.Event, 0, len(records))
	for _, r := range records {
		ret = append(ret, r.Event)
	}
	return ret
}

func assertSnapshotsEqual(t *testing.T, want, got []*model.Snapshot) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "snapshot %d differs", i)
	}
}

func TestProcess_MatchesFold(t *testing.T) {
	repo := newMemRepo()
	p, rep := startProcessor(t, repo, WithInitialTags(team1))
	enqueueAll(t, p, raceEvents()...)

	records, snaps, err := p.Log(testCtx(t))
	require.NoError(t, err)
	require.Len(t, records, len(raceEvents())+1)
	assert.Equal(t, model.KindAddTag, records[0].Event.Kind())

	want := append([]*model.Snapshot{model.NewSnapshot()},
		testFolder(t).Recompute(eventsOf(records), 0, model.NewSnapshot())...)
	assertSnapshotsEqual(t, want, snaps)
	assert.Same(t, snaps[len(snaps)-1], p.Latest())

	latest := p.Latest()
	assert.Equal(t, "halfway", latest.StatusMessage)
	ts, ok := latest.PublicTeamStates.Get(1)
	require.True(t, ok)
	// first sighting is more than the lap threshold after the start
	assert.Equal(t, 3+1+1+3+1, ts.FragmentCount)
	assert.Equal(t, 3, ts.NbLaps(3))

	require.NoError(t, p.Sync(testCtx(t)))
	assertSnapshotsEqual(t, snaps, repo.storedSnapshots())
	assert.Contains(t, rep.ofType(status.StartedUp), "")
	assert.NotEmpty(t, rep.ofType(status.NewSnapshot))
}

func TestProcess_OrderIndependent(t *testing.T) {
	sorted, _ := startProcessor(t, newMemRepo(), WithInitialTags(team1))
	enqueueAll(t, sorted, raceEvents()...)
	_, want, err := sorted.Log(testCtx(t))
	require.NoError(t, err)

	for seed := int64(1); seed <= 5; seed++ {
		events := raceEvents()
		rnd := rand.New(rand.NewSource(seed))
		rnd.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

		shuffled, _ := startProcessor(t, newMemRepo(), WithInitialTags(team1))
		enqueueAll(t, shuffled, events...)
		_, got, err := shuffled.Log(testCtx(t))
		require.NoError(t, err)
		assertSnapshotsEqual(t, want, got)
	}
}

func TestProcess_UniqueStart(t *testing.T) {
	repo := newMemRepo()
	p, _ := startProcessor(t, repo, WithInitialTags(team1))
	t1, t2 := at(time.Minute), at(2*time.Minute)
	enqueueAll(t, p, model.Start{At: t1})
	enqueueAll(t, p, model.TagSeen{At: at(90 * time.Second), Tag: abcd, ReaderID: 0, UpdateCount: 1})
	enqueueAll(t, p, model.Start{At: t2})

	records, _, err := p.Log(testCtx(t))
	require.NoError(t, err)
	kinds := make([]model.Kind, 0, len(records))
	for _, r := range records {
		kinds = append(kinds, r.Event.Kind())
	}
	assert.Equal(t,
		[]model.Kind{model.KindAddTag, model.KindIdentity, model.KindTagSeen, model.KindStart},
		kinds)
	assert.Equal(t, t1, records[1].Event.Time())
	assert.Equal(t, t2, p.Latest().StartTime)
	// the sighting happened before the start now
	assert.Equal(t, 0, p.Latest().TeamStates.Len())

	require.NoError(t, p.Sync(testCtx(t)))
	stored, err := repo.LoadEvents(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, records, stored)
}

func TestProcess_FutureEvent(t *testing.T) {
	p, _ := startProcessor(t, newMemRepo())
	fut := p.Enqueue(model.Message{At: time.Now().Add(100 * time.Millisecond), Message: "later"})
	assert.Empty(t, p.Latest().StatusMessage)
	require.NoError(t, fut.Wait(testCtx(t)))
	assert.Equal(t, "later", p.Latest().StatusMessage)
}

func TestProcess_Outlier(t *testing.T) {
	p, rep := startProcessor(t, newMemRepo(), WithInitialTags(team1))
	enqueueAll(t, p,
		model.Start{At: at(0)},
		model.TagSeen{At: at(time.Minute), Tag: abcd, ReaderID: 0, UpdateCount: 1},
		// 170m in one second
		model.TagSeen{At: at(time.Minute + time.Second), Tag: abcd, ReaderID: 1, UpdateCount: 1},
	)
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if len(rep.ofType(status.ReadOutlier)) == 1 {
			return poll.Success()
		}
		return poll.Continue("waiting for outlier report")
	}, poll.WithTimeout(2*time.Second), poll.WithDelay(5*time.Millisecond))
	assert.True(t, strings.HasPrefix(rep.ofType(status.ReadOutlier)[0], "Tag ABCD at reader 1"))

	ts, ok := p.Latest().TeamStates.Get(1)
	require.True(t, ok)
	assert.Equal(t, 4, ts.FragmentCount, "outliers are still counted")
}

func TestProcess_PersistFailure(t *testing.T) {
	repo := newMemRepo()
	cache := &fakeCache{}
	p, rep := startProcessor(t, repo, WithInitialTags(team1), WithSnapshotCache(cache))
	require.NoError(t, p.Sync(testCtx(t)))

	repo.setFailDeltas(2)
	enqueueAll(t, p, model.Start{At: at(0)})
	enqueueAll(t, p, model.Message{At: at(time.Second), Message: "one"})
	enqueueAll(t, p, model.Message{At: at(2 * time.Second), Message: "two"})
	require.NoError(t, p.Sync(testCtx(t)))

	assert.Len(t, rep.ofType(status.MiscError), 2)
	_, snaps, err := p.Log(testCtx(t))
	require.NoError(t, err)
	assertSnapshotsEqual(t, snaps, repo.storedSnapshots())
	assert.True(t, cache.get().Equal(p.Latest()))
}

func TestRestore(t *testing.T) {
	repo := newMemRepo()
	first, _ := startProcessor(t, repo, WithInitialTags(team1))
	enqueueAll(t, first, raceEvents()...)
	require.NoError(t, first.Sync(testCtx(t)))
	wantRecords, wantSnaps, err := first.Log(testCtx(t))
	require.NoError(t, err)
	first.Stop()

	second, rep := startProcessor(t, repo, WithInitialTags(team1))
	records, snaps, err := second.Log(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, wantRecords, records)
	assertSnapshotsEqual(t, wantSnaps, snaps)
	assert.Empty(t, rep.ofType(status.StartupFailure))
}

func TestRestore_RecomputesMissingSnapshots(t *testing.T) {
	repo := newMemRepo()
	ctx := testCtx(t)
	for i, e := range raceEvents() {
		require.NoError(t, repo.AppendEvent(ctx, api.EventRecord{ID: newID(), Arrival: int64(i), Event: e}))
	}
	p, _ := startProcessor(t, repo)
	require.NoError(t, p.Sync(ctx))

	records, snaps, err := p.Log(ctx)
	require.NoError(t, err)
	assert.Len(t, records, len(raceEvents()))
	assertSnapshotsEqual(t, snaps, repo.storedSnapshots())
	assert.Equal(t, at(30*time.Minute), p.Latest().EndTime)
}

func TestRestore_SeedsInitialTags(t *testing.T) {
	repo := newMemRepo()
	p, _ := startProcessor(t, repo, WithInitialTags([]TeamTags{
		{TeamNb: 1, Tags: []tagid.TagID{abcd, dcba}},
		{TeamNb: 2, Tags: []tagid.TagID{tagid.MustParse("1234")}},
	}))
	require.NoError(t, p.Sync(testCtx(t)))

	records, _, err := p.Log(testCtx(t))
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, model.BeginningOfTime, r.Event.Time())
	}
	team, ok := p.Latest().TeamTagMap.TagToTeam(dcba)
	assert.True(t, ok)
	assert.Equal(t, 1, team)

	stored, err := repo.LoadEvents(testCtx(t))
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Len(t, repo.storedSnapshots(), 4)
}

func TestRestore_SeedsWithEarlyEvents(t *testing.T) {
	repo := newMemRepo()
	rep := &fakeReporter{}
	p := NewProcessor(testFolder(t), repo, repo, WithReporter(rep), WithInitialTags(team1))
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	// sent before the restore had a chance to run
	require.NoError(t, p.Submit(testCtx(t), model.Message{At: at(0), Message: "early"}))

	team, ok := p.Latest().TeamTagMap.TagToTeam(abcd)
	require.True(t, ok, "initial tag must be bound")
	assert.Equal(t, 1, team)
	assert.Equal(t, "early", p.Latest().StatusMessage)

	require.NoError(t, p.Sync(testCtx(t)))
	stored, err := repo.LoadEvents(testCtx(t))
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, model.KindAddTag, stored[0].Event.Kind())
	assert.Equal(t, model.KindMessage, stored[1].Event.Kind())
}

func TestRestore_Failure(t *testing.T) {
	repo := newMemRepo()
	repo.failLoad = errInjected
	p, rep := startProcessor(t, repo, WithInitialTags(team1))

	records, _, err := p.Log(testCtx(t))
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Len(t, rep.ofType(status.StartupFailure), 1)
	assert.Empty(t, rep.ofType(status.StartedUp))

	// processing continues with the fresh state
	enqueueAll(t, p, model.Start{At: at(0)})
	assert.Equal(t, at(0), p.Latest().StartTime)
}

func TestRestore_Clone(t *testing.T) {
	peer := newMemRepo()
	source, _ := startProcessor(t, peer, WithInitialTags(team1))
	enqueueAll(t, source, raceEvents()...)
	require.NoError(t, source.Sync(testCtx(t)))
	wantRecords, wantSnaps, err := source.Log(testCtx(t))
	require.NoError(t, err)

	local := newMemRepo()
	require.NoError(t, local.AppendEvent(testCtx(t),
		api.EventRecord{ID: newID(), Arrival: 1, Event: model.Message{At: at(0), Message: "stale"}}))
	p, _ := startProcessor(t, local, WithCloneRepository(peer))
	require.NoError(t, p.Sync(testCtx(t)))

	records, snaps, err := p.Log(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, wantRecords, records)
	assertSnapshotsEqual(t, wantSnaps, snaps)

	stored, err := local.LoadEvents(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, wantRecords, stored)
	assertSnapshotsEqual(t, wantSnaps, local.storedSnapshots())
}

func TestRestart(t *testing.T) {
	repo := newMemRepo()
	p, _ := startProcessor(t, repo, WithInitialTags(team1))
	enqueueAll(t, p, raceEvents()...)
	future := p.Enqueue(model.Message{At: time.Now().Add(300 * time.Millisecond), Message: "soon"})
	require.NoError(t, p.Sync(testCtx(t)))

	// written by someone else
	require.NoError(t, repo.AppendEvent(testCtx(t), api.EventRecord{
		ID: newID(), Arrival: time.Now().UnixNano(),
		Event: model.Correction{At: at(20 * time.Minute), TeamNb: 1, Correction: 1},
	}))

	before, _ := p.Latest().TeamStates.Get(1)
	require.NoError(t, p.Restart(testCtx(t)))
	after, _ := p.Latest().TeamStates.Get(1)
	assert.Equal(t, before.FragmentCount+3, after.FragmentCount)

	// the scheduled event survives the restart
	require.NoError(t, future.Wait(testCtx(t)))
	assert.Equal(t, "soon", p.Latest().StatusMessage)
}

func TestStop(t *testing.T) {
	p, rep := startProcessor(t, newMemRepo())
	require.NoError(t, p.Sync(testCtx(t)))
	scheduled := p.Enqueue(model.Message{At: time.Now().Add(time.Hour), Message: "never"})
	require.NoError(t, p.Sync(testCtx(t)))

	p.Stop()
	assert.ErrorIs(t, scheduled.Wait(testCtx(t)), ErrShutdown)
	assert.ErrorIs(t, p.Enqueue(model.Start{At: at(0)}).Wait(testCtx(t)), ErrShutdown)
	assert.ErrorIs(t, p.Restart(testCtx(t)), ErrShutdown)
	assert.Len(t, rep.ofType(status.Shutdown), 1)
}

func TestEnqueueBeforeStart(t *testing.T) {
	repo := newMemRepo()
	p := NewProcessor(testFolder(t), repo, repo, WithInitialTags(team1))
	fut := p.Enqueue(model.Start{At: at(0)})
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	require.NoError(t, fut.Wait(testCtx(t)))

	records, _, err := p.Log(testCtx(t))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.KindAddTag, records[0].Event.Kind())
	assert.Equal(t, at(0), p.Latest().StartTime)
}
