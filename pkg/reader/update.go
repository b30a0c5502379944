// Package reader turns the tag updates of the RFID readers into TagSeen events.
package reader

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/mpapenbr/lapcounter-go/pkg/bus"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

// TagUpdate is a single detection of a tag as published by a reader.
// UpdateCount is incremented by the reader on every update.
type TagUpdate struct {
	ReaderID    int
	UpdateCount int64
	UpdateTime  time.Time
	Tag         tagid.TagID
}

type tagUpdateJSON struct {
	ReaderID    int         `json:"readerId"`
	UpdateCount int64       `json:"updateCount"`
	UpdateTime  float64     `json:"updateTime"`
	Tag         tagid.TagID `json:"tag"`
}

func (u TagUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(tagUpdateJSON{
		ReaderID:    u.ReaderID,
		UpdateCount: u.UpdateCount,
		UpdateTime:  float64(u.UpdateTime.UnixMicro()) / 1e6,
		Tag:         u.Tag,
	})
}

func (u *TagUpdate) UnmarshalJSON(data []byte) error {
	var v tagUpdateJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	sec, frac := math.Modf(v.UpdateTime)
	*u = TagUpdate{
		ReaderID:    v.ReaderID,
		UpdateCount: v.UpdateCount,
		UpdateTime:  time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3).UTC(),
		Tag:         v.Tag,
	}
	return nil
}

// Event converts the update. Event times have millisecond resolution.
func (u TagUpdate) Event() model.TagSeen {
	return model.TagSeen{
		At:          u.UpdateTime.UTC().Truncate(time.Millisecond),
		Tag:         u.Tag,
		ReaderID:    u.ReaderID,
		UpdateCount: u.UpdateCount,
	}
}

// Publish sends u on the update channel of its reader
func Publish(ctx context.Context, b bus.Bus, channels bus.Channels, u TagUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return b.Publish(ctx, channels.ReaderChannel(u.ReaderID), data)
}
