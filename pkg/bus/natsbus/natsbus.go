// Package natsbus implements the bus on top of a nats server.
// JetStream provides the snapshot cache and the retained reader updates.
package natsbus

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/bus"
)

type (
	Bus struct {
		conn *nats.Conn
		l    *log.Logger
	}
	Option func(*Bus)

	subscription struct {
		sub *nats.Subscription
	}
)

var _ bus.Bus = (*Bus)(nil)

func WithLogger(l *log.Logger) Option {
	return func(b *Bus) {
		b.l = l
	}
}

// Connect opens a connection to url. The connection is owned by the returned bus.
func Connect(url string, opts ...Option) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name("lapcounter"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

func New(conn *nats.Conn, opts ...Option) *Bus {
	ret := &Bus{
		conn: conn,
		l:    log.Default().Named("nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	conn.SetDisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			ret.l.Warn("disconnected", log.ErrorField(err))
		}
	})
	conn.SetReconnectHandler(func(c *nats.Conn) {
		ret.l.Info("reconnected", log.String("url", c.ConnectedUrl()))
	})
	return ret
}

func (b *Bus) Conn() *nats.Conn {
	return b.conn
}

func (b *Bus) Publish(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return bus.ErrClosed
	}
	return b.conn.Publish(channel, data)
}

// Subscribe registers h for channel. nats calls the handler of a subscription sequentially.
func (b *Bus) Subscribe(channel string, h bus.Handler) (bus.Subscription, error) {
	if b.conn.IsClosed() {
		return nil, bus.ErrClosed
	}
	sub, err := b.conn.Subscribe(channel, func(msg *nats.Msg) {
		h(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return &subscription{sub: sub}, nil
}

func (s *subscription) Unsubscribe() error {
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}

// Close drains pending messages and closes the connection
func (b *Bus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Drain()
}
