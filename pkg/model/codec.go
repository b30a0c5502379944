package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

var ErrUnknownKind = errors.New("unknown event type")

// wire representation shared by all event variants
//
//nolint:tagliatelle // wire compatibility
type eventJSON struct {
	Type            Kind         `json:"type"`
	Time            int64        `json:"time"`
	Tag             *tagid.TagID `json:"tag,omitempty"`
	TeamNb          *int         `json:"teamNb,omitempty"`
	Correction      *int         `json:"correction,omitempty"`
	Explanation     string       `json:"explanation,omitempty"`
	ReaderID        *int         `json:"readerId,omitempty"`
	UpdateCount     *int64       `json:"updateCount,omitempty"`
	Message         *string      `json:"message,omitempty"`
	Status          *Status      `json:"status,omitempty"`
	UpdateFrequency *int         `json:"updateFrequency,omitempty"`
}

//nolint:cyclop // one case per variant
func MarshalEvent(e Event) ([]byte, error) {
	w := eventJSON{Type: e.Kind(), Time: Millis(e.Time())}
	switch v := e.(type) {
	case Start, End, Identity:
	case AddTag:
		w.Tag, w.TeamNb = &v.Tag, &v.TeamNb
	case RemoveTag:
		w.Tag, w.TeamNb = &v.Tag, &v.TeamNb
	case Correction:
		w.TeamNb, w.Correction, w.Explanation = &v.TeamNb, &v.Correction, v.Explanation
	case TagSeen:
		w.Tag, w.ReaderID, w.UpdateCount = &v.Tag, &v.ReaderID, &v.UpdateCount
	case Message:
		w.Message = &v.Message
	case StatusChange:
		w.Status = &v.Status
	case UpdateFrequencyChange:
		w.UpdateFrequency = &v.UpdateFrequency
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, e)
	}
	return json.Marshal(w)
}

//nolint:cyclop,funlen // one case per variant
func UnmarshalEvent(data []byte) (Event, error) {
	var w eventJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	at := FromMillis(w.Time)
	tag := func() (tagid.TagID, error) {
		if w.Tag == nil {
			return "", fmt.Errorf("%s: missing tag", w.Type)
		}
		return *w.Tag, nil
	}
	switch w.Type {
	case KindStart:
		return Start{At: at}, nil
	case KindEnd:
		return End{At: at}, nil
	case KindIdentity:
		return Identity{At: at}, nil
	case KindAddTag:
		t, err := tag()
		if err != nil {
			return nil, err
		}
		return AddTag{At: at, Tag: t, TeamNb: deref(w.TeamNb)}, nil
	case KindRemoveTag:
		t, err := tag()
		if err != nil {
			return nil, err
		}
		return RemoveTag{At: at, Tag: t, TeamNb: deref(w.TeamNb)}, nil
	case KindCorrection:
		return Correction{
			At:          at,
			TeamNb:      deref(w.TeamNb),
			Correction:  deref(w.Correction),
			Explanation: w.Explanation,
		}, nil
	case KindTagSeen:
		t, err := tag()
		if err != nil {
			return nil, err
		}
		return TagSeen{
			At:          at,
			Tag:         t,
			ReaderID:    deref(w.ReaderID),
			UpdateCount: deref(w.UpdateCount),
		}, nil
	case KindMessage:
		return Message{At: at, Message: deref(w.Message)}, nil
	case KindStatusChange:
		if w.Status == nil {
			return nil, fmt.Errorf("%s: missing status", w.Type)
		}
		return StatusChange{At: at, Status: *w.Status}, nil
	case KindUpdateFrequencyChange:
		return UpdateFrequencyChange{At: at, UpdateFrequency: deref(w.UpdateFrequency)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
