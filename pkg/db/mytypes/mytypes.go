package mytypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/mpapenbr/lapcounter-go/pkg/model"
)

type (
	// EventData stores a model.Event in a jsonb column
	EventData struct {
		Event model.Event
	}
	// SnapshotData stores a model.Snapshot in a jsonb column
	SnapshotData struct {
		Snapshot *model.Snapshot
	}
)

func toBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("value is not []byte but %T", value)
	}
}

func (h *EventData) Scan(value any) error {
	bytes, err := toBytes(value)
	if err != nil {
		return err
	}
	e, err := model.UnmarshalEvent(bytes)
	if err != nil {
		return err
	}
	h.Event = e
	return nil
}

func (h EventData) Value() (driver.Value, error) {
	return model.MarshalEvent(h.Event)
}

func (h *SnapshotData) Scan(value any) error {
	bytes, err := toBytes(value)
	if err != nil {
		return err
	}
	s := &model.Snapshot{}
	if err := json.Unmarshal(bytes, s); err != nil {
		return err
	}
	h.Snapshot = s
	return nil
}

func (h SnapshotData) Value() (driver.Value, error) {
	return json.Marshal(h.Snapshot)
}
