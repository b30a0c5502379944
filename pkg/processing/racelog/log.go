package racelog

import (
	"bytes"
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/fold"
	"github.com/mpapenbr/lapcounter-go/pkg/repository/api"
)

// raceLog keeps every record ever inserted in an append-only arena.
// order lists the arena indices of the active log, snaps[i+1] is the
// snapshot after order[i]; snaps[0] is the initial snapshot.
type raceLog struct {
	arena []api.EventRecord
	order []int
	snaps []*model.Snapshot
	ids   map[uuid.UUID]struct{}
}

type replacement struct {
	pos      int
	old      api.EventRecord
	identity api.EventRecord
}

func newRaceLog() *raceLog {
	return &raceLog{
		snaps: []*model.Snapshot{model.NewSnapshot()},
		ids:   map[uuid.UUID]struct{}{},
	}
}

func (l *raceLog) len() int {
	return len(l.order)
}

func (l *raceLog) at(pos int) api.EventRecord {
	return l.arena[l.order[pos]]
}

func (l *raceLog) has(id uuid.UUID) bool {
	_, ok := l.ids[id]
	return ok
}

func (l *raceLog) latest() *model.Snapshot {
	return l.snaps[len(l.snaps)-1]
}

// insertPos scans from the tail for the first event not after t.
// Events mostly arrive in order, so this is usually O(1).
func (l *raceLog) insertPos(t time.Time) int {
	i := len(l.order)
	for i > 0 && l.at(i-1).Event.Time().After(t) {
		i--
	}
	return i
}

// insert places rec at pos. The snapshots are stale until recompute is called.
func (l *raceLog) insert(pos int, rec api.EventRecord) {
	l.arena = append(l.arena, rec)
	l.order = slices.Insert(l.order, pos, len(l.arena)-1)
	l.ids[rec.ID] = struct{}{}
}

// supersede replaces all active events of kind by identities at the same position
func (l *raceLog) supersede(kind model.Kind, newID func() uuid.UUID) []replacement {
	var ret []replacement
	for pos, idx := range l.order {
		old := l.arena[idx]
		if old.Event.Kind() != kind {
			continue
		}
		identity := api.EventRecord{
			ID:      newID(),
			Arrival: old.Arrival,
			Event:   model.IdentityFor(old.Event),
		}
		l.arena = append(l.arena, identity)
		l.order[pos] = len(l.arena) - 1
		l.ids[identity.ID] = struct{}{}
		ret = append(ret, replacement{pos: pos, old: old, identity: identity})
	}
	return ret
}

// sameAs reports whether the event at pos has the same content as e
func (l *raceLog) sameAs(pos int, e model.Event) bool {
	if pos < 0 || pos >= len(l.order) {
		return false
	}
	a, errA := model.MarshalEvent(l.at(pos).Event)
	b, errB := model.MarshalEvent(e)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func (l *raceLog) eventsFrom(j int) []model.Event {
	ret := make([]model.Event, 0, len(l.order)-j)
	for _, idx := range l.order[j:] {
		ret = append(ret, l.arena[idx].Event)
	}
	return ret
}

// recompute rebuilds snaps[j+1:] from snaps[j] and returns the number of rebuilt snapshots
func (l *raceLog) recompute(f *fold.Folder, j int) int {
	next := f.Recompute(l.eventsFrom(j), 0, l.snaps[j])
	l.snaps = append(l.snaps[:j+1], next...)
	return len(next)
}

// delta contains the snapshots from position from up to the latest one
func (l *raceLog) delta(from int, nbReaders int) api.Delta {
	from = max(0, min(from, len(l.snaps)-1))
	ids := make([]uuid.UUID, 0, len(l.snaps)-from)
	for k := from; k < len(l.snaps); k++ {
		if k == 0 {
			ids = append(ids, uuid.Nil)
		} else {
			ids = append(ids, l.at(k-1).ID)
		}
	}
	return api.Delta{
		From:      from,
		Snapshots: slices.Clone(l.snaps[from:]),
		EventIDs:  ids,
		Standings: Standings(l.latest(), nbReaders),
	}
}

// Standings derives the public team states of s, ordered by team number
func Standings(s *model.Snapshot, nbReaders int) []api.Standing {
	teams := s.PublicTeamStates.Teams()
	ret := make([]api.Standing, 0, len(teams))
	for _, team := range teams {
		ts, _ := s.PublicTeamStates.Get(team)
		st := api.Standing{
			TeamNb:         team,
			Laps:           ts.NbLaps(nbReaders),
			Fragments:      ts.FragmentCount,
			Speed:          ts.Speed,
			PredictedSpeed: ts.PredictedSpeed,
		}
		if ts.LastTagSeen != nil {
			at := ts.LastTagSeen.At
			st.LastSeen = &at
		}
		ret = append(ret, st)
	}
	return ret
}
