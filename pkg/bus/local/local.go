// Package local provides an in-process bus. It is used for tests and when
// no nats server is configured.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/bus"
	"github.com/mpapenbr/lapcounter-go/pkg/utils/broadcast"
)

type (
	topic struct {
		source chan []byte
		server broadcast.BroadcastServer[[]byte]
	}
	Bus struct {
		mu     sync.Mutex
		topics map[string]*topic
		closed bool
		done   chan struct{}
		wg     sync.WaitGroup
		l      *log.Logger
	}
	subscription struct {
		t    *topic
		ch   <-chan []byte
		once sync.Once
	}
)

var _ bus.Bus = (*Bus)(nil)

func New() *Bus {
	return &Bus{
		topics: map[string]*topic{},
		done:   make(chan struct{}),
		l:      log.Default().Named("bus"),
	}
}

func (b *Bus) topic(name string) (*topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bus.ErrClosed
	}
	if t, ok := b.topics[name]; ok {
		return t, nil
	}
	source := make(chan []byte)
	t := &topic{
		source: source,
		server: broadcast.NewBroadcastServer(name, source,
			broadcast.WithSendTimeout[[]byte](time.Second),
			broadcast.WithLogger[[]byte](b.l)),
	}
	b.topics[name] = t
	return t, nil
}

func (b *Bus) Publish(ctx context.Context, channel string, data []byte) error {
	t, err := b.topic(channel)
	if err != nil {
		return err
	}
	select {
	case t.source <- data:
		return nil
	case <-b.done:
		return bus.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) Subscribe(channel string, h bus.Handler) (bus.Subscription, error) {
	t, err := b.topic(channel)
	if err != nil {
		return nil, err
	}
	sub := &subscription{t: t, ch: t.server.Subscribe()}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for data := range sub.ch {
			h(data)
		}
	}()
	return sub, nil
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.t.server.CancelSubscription(s.ch)
	})
	return nil
}

// Close stops all topics and waits for running handlers
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topics := b.topics
	b.topics = nil
	close(b.done)
	b.mu.Unlock()

	for _, t := range topics {
		t.server.Close()
	}
	b.wg.Wait()
	return nil
}
