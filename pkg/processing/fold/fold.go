// Package fold derives snapshots from events.
package fold

import (
	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/teamstate"
)

// Folder applies events to snapshots. Apart from logging it has no side effects.
type Folder struct {
	engine *teamstate.Engine
	l      *log.Logger
}

type Option func(*Folder)

func WithLogger(l *log.Logger) Option {
	return func(f *Folder) {
		f.l = l
	}
}

func NewFolder(engine *teamstate.Engine, opts ...Option) *Folder {
	ret := &Folder{engine: engine, l: log.Default().Named("fold")}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (f *Folder) Engine() *teamstate.Engine {
	return f.engine
}

// Apply returns the snapshot after ev happened on s. s is not modified.
// Events without effect return s itself.
//
//nolint:cyclop // one case per event kind
func (f *Folder) Apply(ev model.Event, s *model.Snapshot) *model.Snapshot {
	switch e := ev.(type) {
	case model.Start:
		ret := s.Next(e.At)
		ret.StartTime = e.At
		return ret
	case model.End:
		ret := s.Next(e.At)
		ret.EndTime = e.At
		return ret
	case model.AddTag:
		m, ok := s.TeamTagMap.AddTag(e.Tag, e.TeamNb)
		if !ok {
			cur, _ := s.TeamTagMap.TagToTeam(e.Tag)
			f.l.Error("tag already assigned to another team",
				log.String("tag", e.Tag.String()),
				log.Int("team", cur),
				log.Int("requested", e.TeamNb))
		}
		ret := s.Next(e.At)
		ret.TeamTagMap = m
		return ret
	case model.RemoveTag:
		ret := s.Next(e.At)
		ret.TeamTagMap = s.TeamTagMap.RemoveTag(e.Tag)
		return ret
	case model.Correction:
		ret := s.Next(e.At)
		ret.TeamStates = s.TeamStates.With(e.TeamNb,
			f.engine.AddCorrection(s.TeamStates.GetOrNew(e.TeamNb), e.Correction))
		return ret
	case model.TagSeen:
		return f.applyTagSeen(e, s)
	case model.Message:
		ret := s.Next(e.At)
		ret.StatusMessage = e.Message
		return ret
	case model.StatusChange:
		ret := s.Next(e.At)
		ret.Status = e.Status
		if !s.Status.IsPublic() && e.Status.IsPublic() {
			ret.PublicTeamStates = s.TeamStates
		}
		return ret
	case model.UpdateFrequencyChange:
		ret := s.Next(e.At)
		ret.UpdateFrequency = e.UpdateFrequency
		return ret
	case model.Identity:
		return s
	}
	f.l.Error("unhandled event kind", log.String("kind", string(ev.Kind())))
	return s
}

func (f *Folder) applyTagSeen(e model.TagSeen, s *model.Snapshot) *model.Snapshot {
	team, ok := TeamOf(s, e)
	if !ok {
		return s
	}
	if !f.engine.ValidReader(e.ReaderID) {
		f.l.Error("sighting from unknown reader",
			log.Int("reader", e.ReaderID), log.String("tag", e.Tag.String()))
		return s
	}
	states := s.TeamStates.With(team,
		f.engine.AddTagSeen(s.TeamStates.GetOrNew(team), s, e))
	ret := s.Next(e.At)
	ret.TeamStates = states
	if s.Status.IsPublic() {
		ret.PublicTeamStates = states
	}
	return ret
}

// Recompute folds events[from:] starting at base, which must be the snapshot
// before events[from]. The result holds one snapshot per folded event.
func (f *Folder) Recompute(events []model.Event, from int, base *model.Snapshot) []*model.Snapshot {
	if from >= len(events) {
		return nil
	}
	ret := make([]*model.Snapshot, 0, len(events)-from)
	cur := base
	for _, ev := range events[from:] {
		cur = f.Apply(ev, cur)
		ret = append(ret, cur)
	}
	return ret
}

// TeamOf resolves the team of a sighting if the sighting would be counted on s
func TeamOf(s *model.Snapshot, e model.TagSeen) (int, bool) {
	if !s.InRace(e.At) {
		return 0, false
	}
	return s.TeamTagMap.TagToTeam(e.Tag)
}
