//nolint:funlen // ok for tests
package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestKindProperties(t *testing.T) {
	tests := []struct {
		kind      Kind
		unique    bool
		removable bool
	}{
		{KindStart, true, true},
		{KindEnd, true, true},
		{KindAddTag, false, true},
		{KindRemoveTag, false, true},
		{KindCorrection, false, true},
		{KindMessage, false, true},
		{KindStatusChange, false, true},
		{KindTagSeen, false, false},
		{KindUpdateFrequencyChange, false, false},
		{KindIdentity, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.unique, tt.kind.Unique())
			assert.Equal(t, tt.removable, tt.kind.Removable())
		})
	}
}

func TestEventCodec(t *testing.T) {
	tag := tagid.MustParse("abcd")
	tests := []struct {
		name  string
		event Event
		json  string
	}{
		{
			name:  "start",
			event: Start{At: t0},
			json:  `{"type":"Start","time":1714564800000}`,
		},
		{
			name:  "addTag",
			event: AddTag{At: t0, Tag: tag, TeamNb: 4},
			json:  `{"type":"AddTag","time":1714564800000,"tag":"ABCD","teamNb":4}`,
		},
		{
			name:  "correction",
			event: Correction{At: t0, TeamNb: 2, Correction: -1, Explanation: "missed"},
			json: `{"type":"Correction","time":1714564800000,"teamNb":2,"correction":-1,` +
				`"explanation":"missed"}`,
		},
		{
			name:  "tagSeen",
			event: TagSeen{At: t0, Tag: tag, ReaderID: 1, UpdateCount: 17},
			json: `{"type":"TagSeen","time":1714564800000,"tag":"ABCD","readerId":1,` +
				`"updateCount":17}`,
		},
		{
			name:  "statusChange",
			event: StatusChange{At: t0, Status: StatusFinalHour},
			json:  `{"type":"StatusChange","time":1714564800000,"status":"FinalHour"}`,
		},
		{
			name:  "message",
			event: Message{At: t0, Message: "hello"},
			json:  `{"type":"Message","time":1714564800000,"message":"hello"}`,
		},
		{
			name:  "updateFrequency",
			event: UpdateFrequencyChange{At: t0, UpdateFrequency: 10},
			json:  `{"type":"UpdateFrequencyChange","time":1714564800000,"updateFrequency":10}`,
		},
		{
			name:  "identity",
			event: Identity{At: t0},
			json:  `{"type":"Identity","time":1714564800000}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalEvent(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(data))

			got, err := UnmarshalEvent([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.event, got)
		})
	}
}

func TestUnmarshalEvent_Errors(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "unknown type", json: `{"type":"Teleport","time":1}`},
		{name: "bad tag", json: `{"type":"AddTag","time":1,"tag":"xyz!","teamNb":1}`},
		{name: "missing tag", json: `{"type":"TagSeen","time":1,"readerId":1}`},
		{name: "bad status", json: `{"type":"StatusChange","time":1,"status":"Party"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalEvent([]byte(tt.json))
			assert.Error(t, err)
		})
	}
	_, err := UnmarshalEvent([]byte(`{"type":"Teleport","time":1}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestTeamTagMap(t *testing.T) {
	abcd := tagid.MustParse("ABCD")
	adcb := tagid.MustParse("ADCB")

	m := NewTeamTagMap()
	m, ok := m.AddTag(abcd, 4)
	assert.True(t, ok)
	m, _ = m.AddTag(adcb, 4)

	t.Run("first binding wins", func(t *testing.T) {
		next, ok := m.AddTag(abcd, 5)
		assert.False(t, ok)
		team, found := next.TagToTeam(abcd)
		assert.True(t, found)
		assert.Equal(t, 4, team)
	})
	t.Run("re-adding same binding is ok", func(t *testing.T) {
		_, ok := m.AddTag(abcd, 4)
		assert.True(t, ok)
	})
	t.Run("remove unbound is a no-op", func(t *testing.T) {
		next := m.RemoveTag(tagid.MustParse("FFFF"))
		assert.True(t, next.Equal(m))
	})
	t.Run("remove bound", func(t *testing.T) {
		next := m.RemoveTag(abcd)
		_, found := next.TagToTeam(abcd)
		assert.False(t, found)
		// the original is untouched
		_, found = m.TagToTeam(abcd)
		assert.True(t, found)
	})
	t.Run("case insensitive lookup", func(t *testing.T) {
		team, found := m.TagToTeam(tagid.MustParse("abcd"))
		assert.True(t, found)
		assert.Equal(t, 4, team)
	})
	t.Run("json", func(t *testing.T) {
		m2, _ := m.AddTag(tagid.MustParse("deff"), 5)
		data, err := json.Marshal(m2)
		require.NoError(t, err)
		assert.JSONEq(t, `{"4":["ABCD","ADCB"],"5":["DEFF"]}`, string(data))

		var back TeamTagMap
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, back.Equal(m2))
	})
}

func TestTeamStateJSON(t *testing.T) {
	t.Run("defaults omit unknown values", func(t *testing.T) {
		data, err := json.Marshal(NewTeamStates().With(0, NewTeamState()))
		require.NoError(t, err)
		assert.JSONEq(t, `{"0":{"tagFragmentCount":0}}`, string(data))
	})
	t.Run("full", func(t *testing.T) {
		s := TeamState{
			LastTagSeen:    &TagSeen{At: t0, Tag: tagid.MustParse("abcd"), ReaderID: 2, UpdateCount: 3},
			FragmentCount:  5,
			Speed:          2.5,
			PredictedSpeed: math.NaN(),
		}
		data, err := json.Marshal(s)
		require.NoError(t, err)
		assert.JSONEq(t, `{"lastTagSeenEvent":{"type":"TagSeen","time":1714564800000,"tag":"ABCD",`+
			`"readerId":2,"updateCount":3},"tagFragmentCount":5,"speed":2.5}`, string(data))

		var back TeamState
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, back.Equal(s))
	})
}

func TestSnapshot(t *testing.T) {
	s := NewSnapshot()
	assert.False(t, s.Started())
	assert.Equal(t, StatusNoResults, s.Status)
	assert.Equal(t, DefaultUpdateFrequency, s.UpdateFrequency)
	assert.False(t, s.InRace(t0))

	started := s.Next(t0)
	started.StartTime = t0
	assert.True(t, started.Started())
	assert.False(t, started.InRace(t0), "start is exclusive")
	assert.True(t, started.InRace(t0.Add(time.Millisecond)))
	// Next copies
	assert.False(t, s.Started())

	data, err := json.Marshal(started)
	require.NoError(t, err)
	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(started))
}

func TestStatus(t *testing.T) {
	public := map[Status]bool{
		StatusNoResults: false, StatusPreResults: false, StatusFinalHour: false,
		StatusOk: true, StatusFinalScore: true, StatusTempFailure: true,
		StatusPermFailure: true, StatusEmergency: true, StatusItsComplicated: true,
	}
	for st, want := range public {
		assert.Equal(t, want, st.IsPublic(), st.String())
	}
	got, err := ParseStatus("Ok")
	require.NoError(t, err)
	assert.Equal(t, StatusOk, got)
}
