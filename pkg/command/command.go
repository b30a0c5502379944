// Package command contains the commands sent on the control channel.
package command

import (
	"time"

	"github.com/google/uuid"

	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

type Kind string

const (
	KindAddTag             Kind = "AddTag"
	KindRemoveTag          Kind = "RemoveTag"
	KindCorrection         Kind = "Correction"
	KindSetStartTime       Kind = "SetStartTime"
	KindSetEndTime         Kind = "SetEndTime"
	KindSetStatus          Kind = "SetStatus"
	KindSetStatusMessage   Kind = "SetStatusMessage"
	KindSetUpdateFrequency Kind = "SetUpdateFrequency"
	KindPing               Kind = "Ping"
	KindRestart            Kind = "Restart"
)

var AllKinds = []Kind{
	KindAddTag, KindRemoveTag, KindCorrection, KindSetStartTime, KindSetEndTime,
	KindSetStatus, KindSetStatusMessage, KindSetUpdateFrequency, KindPing, KindRestart,
}

// Command is the closed set of commands. The types in this package are the only
// implementations.
type Command interface {
	CommandID() uuid.UUID
	Time() time.Time
	Kind() Kind
	isCommand()
}

// Header carries the values every command has
type Header struct {
	ID uuid.UUID
	// At is the time the command takes effect
	At time.Time
}

// NewHeader creates a header with a fresh command id
func NewHeader(at time.Time) Header {
	return Header{ID: uuid.New(), At: at.UTC().Truncate(time.Millisecond)}
}

// Now creates a header with a fresh command id taking effect immediately
func Now() Header {
	return NewHeader(time.Now())
}

type (
	AddTag struct {
		Header
		Tag    tagid.TagID
		TeamNb int
	}
	RemoveTag struct {
		Header
		Tag    tagid.TagID
		TeamNb int
	}
	// Correction changes the lap count of a team. CorrectionType is a free label
	// for the reason of the correction.
	Correction struct {
		Header
		TeamNb         int
		Correction     int
		CorrectionType string
		Explanation    string
	}
	SetStartTime struct {
		Header
	}
	SetEndTime struct {
		Header
	}
	SetStatus struct {
		Header
		Status model.Status
	}
	SetStatusMessage struct {
		Header
		Message string
	}
	SetUpdateFrequency struct {
		Header
		UpdateFrequency int
	}
	Ping struct {
		Header
	}
	// Restart makes the processor reload its state from the repository
	Restart struct {
		Header
	}
)

func (h Header) CommandID() uuid.UUID { return h.ID }
func (h Header) Time() time.Time      { return h.At }

func (AddTag) Kind() Kind             { return KindAddTag }
func (RemoveTag) Kind() Kind          { return KindRemoveTag }
func (Correction) Kind() Kind         { return KindCorrection }
func (SetStartTime) Kind() Kind       { return KindSetStartTime }
func (SetEndTime) Kind() Kind         { return KindSetEndTime }
func (SetStatus) Kind() Kind          { return KindSetStatus }
func (SetStatusMessage) Kind() Kind   { return KindSetStatusMessage }
func (SetUpdateFrequency) Kind() Kind { return KindSetUpdateFrequency }
func (Ping) Kind() Kind               { return KindPing }
func (Restart) Kind() Kind            { return KindRestart }

func (AddTag) isCommand()             {}
func (RemoveTag) isCommand()          {}
func (Correction) isCommand()         {}
func (SetStartTime) isCommand()       {}
func (SetEndTime) isCommand()         {}
func (SetStatus) isCommand()          {}
func (SetStatusMessage) isCommand()   {}
func (SetUpdateFrequency) isCommand() {}
func (Ping) isCommand()               {}
func (Restart) isCommand()            {}

// ToEvent returns the event a command is turned into.
// Ping and Restart don't produce events.
func ToEvent(c Command) (model.Event, bool) {
	at := c.Time()
	switch v := c.(type) {
	case AddTag:
		return model.AddTag{At: at, Tag: v.Tag, TeamNb: v.TeamNb}, true
	case RemoveTag:
		return model.RemoveTag{At: at, Tag: v.Tag, TeamNb: v.TeamNb}, true
	case Correction:
		return model.Correction{
			At:          at,
			TeamNb:      v.TeamNb,
			Correction:  v.Correction,
			Explanation: v.Explanation,
		}, true
	case SetStartTime:
		return model.Start{At: at}, true
	case SetEndTime:
		return model.End{At: at}, true
	case SetStatus:
		return model.StatusChange{At: at, Status: v.Status}, true
	case SetStatusMessage:
		return model.Message{At: at, Message: v.Message}, true
	case SetUpdateFrequency:
		return model.UpdateFrequencyChange{At: at, UpdateFrequency: v.UpdateFrequency}, true
	}
	return nil, false
}
