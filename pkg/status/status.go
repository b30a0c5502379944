// Package status defines the messages sent on the status channel.
package status

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/bus"
)

type MessageType string

const (
	NoUpdates          MessageType = "NO_UPDATES"
	StartedUp          MessageType = "STARTED_UP"
	StartupFailure     MessageType = "STARTUP_FAILURE"
	Shutdown           MessageType = "SHUTDOWN"
	CommandComplete    MessageType = "COMMAND_COMPLETE"
	CommandUnsupported MessageType = "COMMAND_UNSUPPORTED"
	CommandFailed      MessageType = "COMMAND_FAILED"
	NewSnapshot        MessageType = "NEW_SNAPSHOT"
	MiscError          MessageType = "MISC_ERROR"
	ReadOutlier        MessageType = "READ_OUTLIER"
)

// Message is sent on the status channel. For command results Details holds the command id.
type Message struct {
	Type    MessageType `json:"type"`
	Details string      `json:"details"`
}

func Parse(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

// Reporter publishes status messages. Failures are logged, never returned.
type Reporter struct {
	bus     bus.Bus
	channel string
	timeout time.Duration
	l       *log.Logger
}

func NewReporter(b bus.Bus, channel string) *Reporter {
	return &Reporter{
		bus:     b,
		channel: channel,
		timeout: 5 * time.Second,
		l:       log.Default().Named("status"),
	}
}

func (r *Reporter) Report(ctx context.Context, t MessageType, details string) {
	data, err := json.Marshal(Message{Type: t, Details: details})
	if err != nil {
		r.l.Error("marshal status message", log.ErrorField(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.bus.Publish(ctx, r.channel, data); err != nil {
		r.l.Warn("could not publish status message",
			log.String("type", string(t)),
			log.String("details", details),
			log.ErrorField(err))
	}
}

