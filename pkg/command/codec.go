package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

var (
	ErrUnknownKind  = errors.New("unknown command type")
	ErrMissingField = errors.New("missing field")
)

//nolint:tagliatelle // wire compatibility
type commandJSON struct {
	Type            Kind          `json:"type"`
	CommandID       uuid.UUID     `json:"commandId"`
	Time            int64         `json:"time"`
	Tag             *tagid.TagID  `json:"tag,omitempty"`
	TeamNb          *int          `json:"teamNb,omitempty"`
	Correction      *int          `json:"correction,omitempty"`
	CorrectionType  string        `json:"correctionType,omitempty"`
	Explanation     string        `json:"explanation,omitempty"`
	Status          *model.Status `json:"status,omitempty"`
	Message         *string       `json:"message,omitempty"`
	UpdateFrequency *int          `json:"updateFrequency,omitempty"`
}

//nolint:cyclop // one case per variant
func Marshal(c Command) ([]byte, error) {
	w := commandJSON{Type: c.Kind(), CommandID: c.CommandID(), Time: model.Millis(c.Time())}
	switch v := c.(type) {
	case SetStartTime, SetEndTime, Ping, Restart:
	case AddTag:
		w.Tag, w.TeamNb = &v.Tag, &v.TeamNb
	case RemoveTag:
		w.Tag, w.TeamNb = &v.Tag, &v.TeamNb
	case Correction:
		w.TeamNb, w.Correction = &v.TeamNb, &v.Correction
		w.CorrectionType, w.Explanation = v.CorrectionType, v.Explanation
	case SetStatus:
		w.Status = &v.Status
	case SetStatusMessage:
		w.Message = &v.Message
	case SetUpdateFrequency:
		w.UpdateFrequency = &v.UpdateFrequency
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, c)
	}
	return json.Marshal(w)
}

//nolint:cyclop,funlen // one case per variant
func Unmarshal(data []byte) (Command, error) {
	var w commandJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	h := Header{ID: w.CommandID, At: model.FromMillis(w.Time)}
	missing := func(field string) error {
		return fmt.Errorf("%s: %w %s", w.Type, ErrMissingField, field)
	}
	switch w.Type {
	case KindSetStartTime:
		return SetStartTime{Header: h}, nil
	case KindSetEndTime:
		return SetEndTime{Header: h}, nil
	case KindPing:
		return Ping{Header: h}, nil
	case KindRestart:
		return Restart{Header: h}, nil
	case KindAddTag, KindRemoveTag:
		if w.Tag == nil {
			return nil, missing("tag")
		}
		if w.TeamNb == nil {
			return nil, missing("teamNb")
		}
		if w.Type == KindAddTag {
			return AddTag{Header: h, Tag: *w.Tag, TeamNb: *w.TeamNb}, nil
		}
		return RemoveTag{Header: h, Tag: *w.Tag, TeamNb: *w.TeamNb}, nil
	case KindCorrection:
		if w.TeamNb == nil {
			return nil, missing("teamNb")
		}
		if w.Correction == nil {
			return nil, missing("correction")
		}
		return Correction{
			Header:         h,
			TeamNb:         *w.TeamNb,
			Correction:     *w.Correction,
			CorrectionType: w.CorrectionType,
			Explanation:    w.Explanation,
		}, nil
	case KindSetStatus:
		if w.Status == nil {
			return nil, missing("status")
		}
		return SetStatus{Header: h, Status: *w.Status}, nil
	case KindSetStatusMessage:
		if w.Message == nil {
			return nil, missing("message")
		}
		return SetStatusMessage{Header: h, Message: *w.Message}, nil
	case KindSetUpdateFrequency:
		if w.UpdateFrequency == nil {
			return nil, missing("updateFrequency")
		}
		return SetUpdateFrequency{Header: h, UpdateFrequency: *w.UpdateFrequency}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
}

// PeekKind returns the type and command id without decoding the payload.
// Used to answer commands whose type is unknown to this version.
func PeekKind(data []byte) (Kind, string, error) {
	var w struct {
		Type      Kind   `json:"type"`
		CommandID string `json:"commandId"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return "", "", err
	}
	return w.Type, w.CommandID, nil
}
