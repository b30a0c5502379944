package reader

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/bus"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
)

const DefaultRetryInterval = 5 * time.Second

type (
	// Feed delivers the messages of a channel. Implementations which retain
	// messages deliver the retained ones first.
	Feed interface {
		Follow(ctx context.Context, channel string, h bus.Handler) (bus.Subscription, error)
	}
	// Resumer knows the last update count persisted for a reader
	Resumer interface {
		LastUpdateForReader(ctx context.Context, readerID int) (int64, bool, error)
	}
	EventQueue interface {
		Post(ev model.Event)
	}

	// BusFeed follows plain bus channels. Nothing is retained.
	BusFeed struct {
		Bus bus.Bus
	}

	// Listener follows the update channel of one reader
	Listener struct {
		readerID int
		channel  string
		feed     Feed
		resumer  Resumer
		queue    EventQueue
		retry    time.Duration
		mu       sync.Mutex
		last     int64
		l        *log.Logger
	}
	ListenerOption func(*Listener)
)

func (f BusFeed) Follow(_ context.Context, channel string, h bus.Handler) (bus.Subscription, error) {
	return f.Bus.Subscribe(channel, h)
}

func WithRetryInterval(d time.Duration) ListenerOption {
	return func(l *Listener) {
		l.retry = d
	}
}

func WithLogger(l *log.Logger) ListenerOption {
	return func(x *Listener) {
		x.l = l
	}
}

//nolint:whitespace // false positive
func NewListener(
	readerID int,
	channels bus.Channels,
	feed Feed,
	resumer Resumer,
	queue EventQueue,
	opts ...ListenerOption,
) *Listener {
	ret := &Listener{
		readerID: readerID,
		channel:  channels.ReaderChannel(readerID),
		feed:     feed,
		resumer:  resumer,
		queue:    queue,
		retry:    DefaultRetryInterval,
		last:     -1,
		l:        log.Default().Named("reader"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.l = ret.l.With(log.Int("reader", readerID))
	return ret
}

// Run follows the reader until ctx is done. Failed attempts are retried.
func (l *Listener) Run(ctx context.Context) {
	for {
		sub, err := l.connect(ctx)
		if err == nil {
			<-ctx.Done()
			if uErr := sub.Unsubscribe(); uErr != nil {
				l.l.Warn("unsubscribe failed", log.ErrorField(uErr))
			}
			return
		}
		l.l.Warn("could not follow reader, retrying",
			log.String("channel", l.channel),
			log.Duration("retry", l.retry),
			log.ErrorField(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retry):
		}
	}
}

func (l *Listener) connect(ctx context.Context) (bus.Subscription, error) {
	last, found, err := l.resumer.LastUpdateForReader(ctx, l.readerID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	if found && last > l.last {
		l.last = last
	}
	l.mu.Unlock()
	l.l.Info("following reader",
		log.String("channel", l.channel),
		log.Int64("after", last),
		log.Bool("resumed", found))
	return l.feed.Follow(ctx, l.channel, l.onUpdate)
}

// Last returns the update count of the last accepted update, -1 if none
func (l *Listener) Last() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *Listener) onUpdate(data []byte) {
	var u TagUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		l.l.Error("could not read tag update", log.String("msg", string(data)), log.ErrorField(err))
		return
	}
	if u.ReaderID != l.readerID {
		l.l.Warn("update of another reader", log.Int("got", u.ReaderID))
		return
	}
	l.mu.Lock()
	if u.UpdateCount <= l.last {
		l.mu.Unlock()
		l.l.Debug("skipping old update", log.Int64("updateCount", u.UpdateCount))
		return
	}
	l.last = u.UpdateCount
	l.mu.Unlock()
	l.queue.Post(u.Event())
}

// RunAll runs the listeners until ctx is done and all of them returned
func RunAll(ctx context.Context, listeners ...*Listener) {
	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Run(ctx)
		}()
	}
	wg.Wait()
}
