package natsbus

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/bus"
)

const streamMaxAge = 7 * 24 * time.Hour

type (
	// UpdateStream retains the reader updates published below an update channel.
	// Followers get all retained updates first, then the new ones.
	UpdateStream struct {
		stream jetstream.Stream
		name   string
		l      *log.Logger
	}
	consumeSub struct {
		cc jetstream.ConsumeContext
	}
)

// StreamName derives a valid stream name from the update channel
func StreamName(updateChannel string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_").
		Replace(updateChannel))
}

// NewUpdateStream creates (or updates) the stream capturing updateChannel.>
//
//nolint:whitespace // false positive
func NewUpdateStream(
	ctx context.Context,
	conn *nats.Conn,
	updateChannel string,
) (*UpdateStream, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, err
	}
	name := StreamName(updateChannel)
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{updateChannel + ".>"},
		MaxAge:   streamMaxAge,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, err
	}
	return &UpdateStream{
		stream: stream,
		name:   name,
		l:      log.Default().Named("nats"),
	}, nil
}

// Follow delivers every retained message of channel to h, followed by new ones.
// The ordered consumer recreates itself after connection problems.
//
//nolint:whitespace // false positive
func (s *UpdateStream) Follow(
	ctx context.Context,
	channel string,
	h bus.Handler,
) (bus.Subscription, error) {
	cons, err := s.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{channel},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, err
	}
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		h(msg.Data())
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		s.l.Warn("consume error", log.String("channel", channel), log.ErrorField(err))
	}))
	if err != nil {
		return nil, err
	}
	s.l.Debug("following", log.String("stream", s.name), log.String("channel", channel))
	return &consumeSub{cc: cc}, nil
}

func (c *consumeSub) Unsubscribe() error {
	c.cc.Stop()
	return nil
}
