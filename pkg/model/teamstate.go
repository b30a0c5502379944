package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
)

// TeamState holds the derived values for one team
type TeamState struct {
	LastTagSeen    *TagSeen // nil until the team was seen during the race
	FragmentCount  int
	Speed          float64 // m/s, NaN if unknown
	PredictedSpeed float64 // m/s, NaN if unknown
}

func NewTeamState() TeamState {
	return TeamState{Speed: math.NaN(), PredictedSpeed: math.NaN()}
}

// NbLaps is the number of completed laps on a track with nbReaders readers
func (s TeamState) NbLaps(nbReaders int) int {
	if nbReaders <= 0 {
		return 0
	}
	return s.FragmentCount / nbReaders
}

func (s TeamState) Equal(o TeamState) bool {
	if (s.LastTagSeen == nil) != (o.LastTagSeen == nil) {
		return false
	}
	if s.LastTagSeen != nil && !tagSeenEqual(*s.LastTagSeen, *o.LastTagSeen) {
		return false
	}
	return s.FragmentCount == o.FragmentCount &&
		floatEqual(s.Speed, o.Speed) &&
		floatEqual(s.PredictedSpeed, o.PredictedSpeed)
}

func tagSeenEqual(a, b TagSeen) bool {
	return a.At.Equal(b.At) && a.Tag == b.Tag &&
		a.ReaderID == b.ReaderID && a.UpdateCount == b.UpdateCount
}

func floatEqual(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}

//nolint:tagliatelle // wire compatibility
type (
	teamStateJSON struct {
		LastTagSeenEvent *tagSeenJSON `json:"lastTagSeenEvent,omitempty"`
		TagFragmentCount int          `json:"tagFragmentCount"`
		Speed            *float64     `json:"speed,omitempty"`
		PredictedSpeed   *float64     `json:"predictedSpeed,omitempty"`
	}
	tagSeenJSON struct {
		Type        Kind   `json:"type"`
		Time        int64  `json:"time"`
		Tag         string `json:"tag"`
		ReaderID    int    `json:"readerId"`
		UpdateCount int64  `json:"updateCount"`
	}
)

func (s TeamState) MarshalJSON() ([]byte, error) {
	w := teamStateJSON{TagFragmentCount: s.FragmentCount}
	if s.LastTagSeen != nil {
		w.LastTagSeenEvent = &tagSeenJSON{
			Type:        KindTagSeen,
			Time:        Millis(s.LastTagSeen.At),
			Tag:         s.LastTagSeen.Tag.String(),
			ReaderID:    s.LastTagSeen.ReaderID,
			UpdateCount: s.LastTagSeen.UpdateCount,
		}
	}
	if !math.IsNaN(s.Speed) {
		w.Speed = &s.Speed
	}
	if !math.IsNaN(s.PredictedSpeed) {
		w.PredictedSpeed = &s.PredictedSpeed
	}
	return json.Marshal(w)
}

func (s *TeamState) UnmarshalJSON(data []byte) error {
	var w teamStateJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = NewTeamState()
	s.FragmentCount = w.TagFragmentCount
	if w.Speed != nil {
		s.Speed = *w.Speed
	}
	if w.PredictedSpeed != nil {
		s.PredictedSpeed = *w.PredictedSpeed
	}
	if w.LastTagSeenEvent != nil {
		raw, _ := json.Marshal(w.LastTagSeenEvent)
		e, err := UnmarshalEvent(raw)
		if err != nil {
			return err
		}
		ts, ok := e.(TagSeen)
		if !ok {
			return fmt.Errorf("lastTagSeenEvent has type %s", e.Kind())
		}
		s.LastTagSeen = &ts
	}
	return nil
}

// TeamStates is an immutable map from team number to TeamState
type TeamStates struct {
	states map[int]TeamState
}

func NewTeamStates() TeamStates {
	return TeamStates{states: map[int]TeamState{}}
}

func (t TeamStates) Get(team int) (TeamState, bool) {
	s, ok := t.states[team]
	return s, ok
}

// GetOrNew returns the state of team or a fresh one if the team is unknown
func (t TeamStates) GetOrNew(team int) TeamState {
	if s, ok := t.states[team]; ok {
		return s
	}
	return NewTeamState()
}

// With returns a copy with the state of team replaced
func (t TeamStates) With(team int, s TeamState) TeamStates {
	next := make(map[int]TeamState, len(t.states)+1)
	maps.Copy(next, t.states)
	next[team] = s
	return TeamStates{states: next}
}

// Teams returns the known team numbers in ascending order
func (t TeamStates) Teams() []int {
	return slices.Sorted(maps.Keys(t.states))
}

func (t TeamStates) Len() int {
	return len(t.states)
}

func (t TeamStates) Equal(o TeamStates) bool {
	return maps.EqualFunc(t.states, o.states, TeamState.Equal)
}

func (t TeamStates) MarshalJSON() ([]byte, error) {
	out := make(map[string]TeamState, len(t.states))
	for k, v := range t.states {
		out[strconv.Itoa(k)] = v
	}
	return json.Marshal(out)
}

func (t *TeamStates) UnmarshalJSON(data []byte) error {
	var in map[string]TeamState
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	next := make(map[int]TeamState, len(in))
	for k, v := range in {
		team, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("team number %q: %w", k, err)
		}
		next[team] = v
	}
	t.states = next
	return nil
}
