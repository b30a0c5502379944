package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

// TeamTagMap maps tags to team numbers. A value is never modified,
// changes return a new map.
type TeamTagMap struct {
	tagToTeam map[tagid.TagID]int
}

func NewTeamTagMap() TeamTagMap {
	return TeamTagMap{tagToTeam: map[tagid.TagID]int{}}
}

// AddTag binds tag to team. The first binding wins: if the tag is already bound
// the map is returned unchanged and ok is false when the existing team differs.
func (m TeamTagMap) AddTag(tag tagid.TagID, team int) (ret TeamTagMap, ok bool) {
	if cur, found := m.tagToTeam[tag]; found {
		return m, cur == team
	}
	next := make(map[tagid.TagID]int, len(m.tagToTeam)+1)
	maps.Copy(next, m.tagToTeam)
	next[tag] = team
	return TeamTagMap{tagToTeam: next}, true
}

// RemoveTag drops the binding of tag. Removing an unbound tag is a no-op.
func (m TeamTagMap) RemoveTag(tag tagid.TagID) TeamTagMap {
	if _, found := m.tagToTeam[tag]; !found {
		return m
	}
	next := make(map[tagid.TagID]int, len(m.tagToTeam))
	for k, v := range m.tagToTeam {
		if k != tag {
			next[k] = v
		}
	}
	return TeamTagMap{tagToTeam: next}
}

func (m TeamTagMap) TagToTeam(tag tagid.TagID) (int, bool) {
	team, ok := m.tagToTeam[tag]
	return team, ok
}

func (m TeamTagMap) Len() int {
	return len(m.tagToTeam)
}

// TeamTags returns the tags per team, tags sorted by their textual form
func (m TeamTagMap) TeamTags() map[int][]tagid.TagID {
	ret := map[int][]tagid.TagID{}
	for tag, team := range m.tagToTeam {
		ret[team] = append(ret[team], tag)
	}
	for _, tags := range ret {
		slices.SortFunc(tags, func(a, b tagid.TagID) int {
			switch {
			case a.String() < b.String():
				return -1
			case a.String() > b.String():
				return 1
			}
			return 0
		})
	}
	return ret
}

func (m TeamTagMap) Equal(o TeamTagMap) bool {
	return maps.Equal(m.tagToTeam, o.tagToTeam)
}

// json: {"4":["ABCD","ADCB"],"5":["DEFF"]}
func (m TeamTagMap) MarshalJSON() ([]byte, error) {
	out := map[string][]tagid.TagID{}
	for team, tags := range m.TeamTags() {
		out[strconv.Itoa(team)] = tags
	}
	return json.Marshal(out)
}

func (m *TeamTagMap) UnmarshalJSON(data []byte) error {
	var in map[string][]tagid.TagID
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	next := make(map[tagid.TagID]int)
	for k, tags := range in {
		team, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("team number %q: %w", k, err)
		}
		for _, t := range tags {
			next[t] = team
		}
	}
	m.tagToTeam = next
	return nil
}
