package model

import (
	"time"

	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

// Kind names an event variant. The value is used as type discriminator on the wire.
type Kind string

const (
	KindStart                 Kind = "Start"
	KindEnd                   Kind = "End"
	KindAddTag                Kind = "AddTag"
	KindRemoveTag             Kind = "RemoveTag"
	KindCorrection            Kind = "Correction"
	KindTagSeen               Kind = "TagSeen"
	KindMessage               Kind = "Message"
	KindStatusChange          Kind = "StatusChange"
	KindUpdateFrequencyChange Kind = "UpdateFrequencyChange"
	KindIdentity              Kind = "Identity"
)

// Unique reports whether at most one active event of this kind may exist in the log
func (k Kind) Unique() bool {
	return k == KindStart || k == KindEnd
}

// Removable reports whether an event of this kind may be withdrawn after it was logged
func (k Kind) Removable() bool {
	switch k {
	case KindAddTag, KindRemoveTag, KindCorrection, KindMessage, KindStatusChange:
		return true
	default:
		return k.Unique()
	}
}

// Event is the closed set of things that can happen during a race.
// The implementations in this package are the only ones.
type Event interface {
	Time() time.Time
	Kind() Kind
	isEvent()
}

type (
	Start struct {
		At time.Time
	}
	End struct {
		At time.Time
	}
	AddTag struct {
		At     time.Time
		Tag    tagid.TagID
		TeamNb int
	}
	RemoveTag struct {
		At     time.Time
		Tag    tagid.TagID
		TeamNb int
	}
	// Correction adds (or removes, if negative) whole laps for a team
	Correction struct {
		At          time.Time
		TeamNb      int
		Correction  int
		Explanation string
	}
	TagSeen struct {
		At          time.Time
		Tag         tagid.TagID
		ReaderID    int
		UpdateCount int64
	}
	Message struct {
		At      time.Time
		Message string
	}
	StatusChange struct {
		At     time.Time
		Status Status
	}
	UpdateFrequencyChange struct {
		At              time.Time
		UpdateFrequency int
	}
	// Identity takes the place of a superseded unique event
	Identity struct {
		At time.Time
	}
)

func (e Start) Time() time.Time                 { return e.At }
func (e End) Time() time.Time                   { return e.At }
func (e AddTag) Time() time.Time                { return e.At }
func (e RemoveTag) Time() time.Time             { return e.At }
func (e Correction) Time() time.Time            { return e.At }
func (e TagSeen) Time() time.Time               { return e.At }
func (e Message) Time() time.Time               { return e.At }
func (e StatusChange) Time() time.Time          { return e.At }
func (e UpdateFrequencyChange) Time() time.Time { return e.At }
func (e Identity) Time() time.Time              { return e.At }

func (Start) Kind() Kind                 { return KindStart }
func (End) Kind() Kind                   { return KindEnd }
func (AddTag) Kind() Kind                { return KindAddTag }
func (RemoveTag) Kind() Kind             { return KindRemoveTag }
func (Correction) Kind() Kind            { return KindCorrection }
func (TagSeen) Kind() Kind               { return KindTagSeen }
func (Message) Kind() Kind               { return KindMessage }
func (StatusChange) Kind() Kind          { return KindStatusChange }
func (UpdateFrequencyChange) Kind() Kind { return KindUpdateFrequencyChange }
func (Identity) Kind() Kind              { return KindIdentity }

func (Start) isEvent()                 {}
func (End) isEvent()                   {}
func (AddTag) isEvent()                {}
func (RemoveTag) isEvent()             {}
func (Correction) isEvent()            {}
func (TagSeen) isEvent()               {}
func (Message) isEvent()               {}
func (StatusChange) isEvent()          {}
func (UpdateFrequencyChange) isEvent() {}
func (Identity) isEvent()              {}

// IdentityFor returns the placeholder for e which keeps e's time
func IdentityFor(e Event) Identity {
	return Identity{At: e.Time()}
}
