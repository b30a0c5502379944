// Package bus abstracts the publish/subscribe transport used for status,
// control and reader update messages.
package bus

import (
	"context"
	"errors"
	"fmt"
)

var ErrClosed = errors.New("bus closed")

// Handler is called for every message on a subscribed channel.
// Handlers of one subscription are called sequentially.
type Handler func(data []byte)

type Subscription interface {
	Unsubscribe() error
}

type Bus interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(channel string, h Handler) (Subscription, error)
	Close() error
}

// Channels holds the channel names of one lapcounter instance
type Channels struct {
	Status  string
	Control string
	Update  string
}

// NewChannels appends the instance to each base name so that several
// instances can share one bus
func NewChannels(status, control, update, instance string) Channels {
	return Channels{
		Status:  Namespaced(status, instance),
		Control: Namespaced(control, instance),
		Update:  Namespaced(update, instance),
	}
}

func Namespaced(base, instance string) string {
	if instance == "" {
		return base
	}
	return fmt.Sprintf("%s.%s", base, instance)
}

// ReaderChannel is the channel carrying the tag updates of one reader
func (c Channels) ReaderChannel(readerID int) string {
	return fmt.Sprintf("%s.%d", c.Update, readerID)
}
