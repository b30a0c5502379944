package model

import (
	"encoding/json"
	"time"
)

const DefaultUpdateFrequency = 3

// Snapshot is the race state after applying an event to the previous snapshot.
// Snapshots are treated as values: once created they are never modified.
type Snapshot struct {
	SnapshotTime     time.Time
	StartTime        time.Time
	EndTime          time.Time
	TeamTagMap       TeamTagMap
	TeamStates       TeamStates
	PublicTeamStates TeamStates
	StatusMessage    string
	Status           Status
	UpdateFrequency  int // seconds between broadcasts
}

// NewSnapshot returns the empty initial snapshot
func NewSnapshot() *Snapshot {
	states := NewTeamStates()
	return &Snapshot{
		SnapshotTime:     BeginningOfTime,
		StartTime:        Forever,
		EndTime:          Forever,
		TeamTagMap:       NewTeamTagMap(),
		TeamStates:       states,
		PublicTeamStates: states,
		Status:           StatusNoResults,
		UpdateFrequency:  DefaultUpdateFrequency,
	}
}

// Next returns a copy of s with the snapshot time set to t
func (s *Snapshot) Next(t time.Time) *Snapshot {
	ret := *s
	ret.SnapshotTime = t
	return &ret
}

// Started reports whether the race start is set
func (s *Snapshot) Started() bool {
	return !s.StartTime.Equal(Forever)
}

// InRace reports whether t lies strictly between start and end
func (s *Snapshot) InRace(t time.Time) bool {
	return s.StartTime.Before(t) && t.Before(s.EndTime)
}

func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.SnapshotTime.Equal(o.SnapshotTime) &&
		s.StartTime.Equal(o.StartTime) &&
		s.EndTime.Equal(o.EndTime) &&
		s.TeamTagMap.Equal(o.TeamTagMap) &&
		s.TeamStates.Equal(o.TeamStates) &&
		s.PublicTeamStates.Equal(o.PublicTeamStates) &&
		s.StatusMessage == o.StatusMessage &&
		s.Status == o.Status &&
		s.UpdateFrequency == o.UpdateFrequency
}

type snapshotJSON struct {
	SnapshotTime     int64      `json:"snapshotTime"`
	StartTime        int64      `json:"startTime"`
	EndTime          int64      `json:"endTime"`
	TeamTagMap       TeamTagMap `json:"teamTagMap"`
	TeamStates       TeamStates `json:"teamStates"`
	PublicTeamStates TeamStates `json:"publicTeamStates"`
	StatusMessage    string     `json:"statusMessage"`
	Status           Status     `json:"status"`
	UpdateFrequency  int        `json:"updateFrequency"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		SnapshotTime:     Millis(s.SnapshotTime),
		StartTime:        Millis(s.StartTime),
		EndTime:          Millis(s.EndTime),
		TeamTagMap:       s.TeamTagMap,
		TeamStates:       s.TeamStates,
		PublicTeamStates: s.PublicTeamStates,
		StatusMessage:    s.StatusMessage,
		Status:           s.Status,
		UpdateFrequency:  s.UpdateFrequency,
	})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	w := snapshotJSON{
		StartTime:        Millis(Forever),
		EndTime:          Millis(Forever),
		TeamTagMap:       NewTeamTagMap(),
		TeamStates:       NewTeamStates(),
		PublicTeamStates: NewTeamStates(),
		UpdateFrequency:  DefaultUpdateFrequency,
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Snapshot{
		SnapshotTime:     FromMillis(w.SnapshotTime),
		StartTime:        FromMillis(w.StartTime),
		EndTime:          FromMillis(w.EndTime),
		TeamTagMap:       w.TeamTagMap,
		TeamStates:       w.TeamStates,
		PublicTeamStates: w.PublicTeamStates,
		StatusMessage:    w.StatusMessage,
		Status:           w.Status,
		UpdateFrequency:  w.UpdateFrequency,
	}
	return nil
}
