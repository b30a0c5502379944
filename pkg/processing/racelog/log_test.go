package racelog

import (
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/repository/api"
)

func rec(e model.Event) api.EventRecord {
	return api.EventRecord{ID: newID(), Event: e}
}

func TestRaceLog_InsertPos(t *testing.T) {
	l := newRaceLog()
	for _, d := range []time.Duration{0, time.Second, time.Second, 3 * time.Second} {
		l.insert(l.len(), rec(model.Message{At: at(d)}))
	}
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"after last", at(4 * time.Second), 4},
		{"same as last", at(3 * time.Second), 4},
		{"after equal times", at(time.Second), 3},
		{"in between", at(2 * time.Second), 3},
		{"before first", at(-time.Second), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.insertPos(tt.at))
		})
	}
}

func TestRaceLog_Supersede(t *testing.T) {
	l := newRaceLog()
	start := rec(model.Start{At: at(0)})
	l.insert(0, rec(model.Message{At: at(-time.Second)}))
	l.insert(1, start)
	l.insert(2, rec(model.End{At: at(time.Hour)}))

	got := l.supersede(model.KindStart, newID)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].pos)
	assert.Equal(t, start, got[0].old)
	assert.Equal(t, start.Arrival, got[0].identity.Arrival)
	assert.Equal(t, model.Event(model.Identity{At: at(0)}), l.at(1).Event)
	assert.Equal(t, 3, l.len())
	assert.Len(t, l.arena, 4, "the arena keeps the replaced record")
	assert.True(t, l.has(start.ID))

	assert.Empty(t, l.supersede(model.KindStart, newID))
}

func TestRaceLog_Delta(t *testing.T) {
	l := newRaceLog()
	first := rec(model.Start{At: at(0)})
	second := rec(model.Message{At: at(time.Second), Message: "hi"})
	l.insert(0, first)
	l.insert(1, second)
	assert.Equal(t, 2, l.recompute(testFolder(t), 0))

	d := l.delta(0, 3)
	assert.Equal(t, 0, d.From)
	assert.Equal(t, []uuid.UUID{uuid.Nil, first.ID, second.ID}, d.EventIDs)
	assert.Len(t, d.Snapshots, 3)
	assert.Same(t, l.latest(), d.Latest())

	d = l.delta(2, 3)
	assert.Equal(t, []uuid.UUID{second.ID}, d.EventIDs)

	// the delta does not share its backing array with the log
	l.snaps[2] = model.NewSnapshot()
	assert.Equal(t, "hi", d.Snapshots[0].StatusMessage)
}

func TestPersister_Merge(t *testing.T) {
	s := func(msg string) *model.Snapshot {
		ret := model.NewSnapshot()
		ret.StatusMessage = msg
		return ret
	}
	ids := []uuid.UUID{newID(), newID(), newID(), newID()}
	w := &persister{}
	d := api.Delta{From: 3, Snapshots: []*model.Snapshot{s("c")}, EventIDs: ids[2:3]}
	assert.Equal(t, d, w.merge(d), "nothing pending")

	w.pending = &api.Delta{
		From:      1,
		Snapshots: []*model.Snapshot{s("a"), s("b")},
		EventIDs:  ids[0:2],
	}
	got := w.merge(d)
	assert.Equal(t, 1, got.From)
	assert.Equal(t, ids[0:3], got.EventIDs)
	require.Len(t, got.Snapshots, 3)
	assert.Equal(t, "c", got.Snapshots[2].StatusMessage)

	// a delta starting earlier replaces the pending one
	earlier := api.Delta{From: 1, Snapshots: []*model.Snapshot{s("x")}, EventIDs: ids[3:4]}
	assert.Equal(t, earlier, w.merge(earlier))

	// overlapping: the pending snapshots from 2 on are stale
	overlap := api.Delta{From: 2, Snapshots: []*model.Snapshot{s("y")}, EventIDs: ids[3:4]}
	got = w.merge(overlap)
	assert.Equal(t, []uuid.UUID{ids[0], ids[3]}, got.EventIDs)
}
