package racelog

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
)

// Future completes once an enqueued event was processed
type Future struct {
	id   uuid.UUID
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture(id uuid.UUID) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID is the id of the event record
func (f *Future) ID() uuid.UUID {
	return f.id
}

func (f *Future) resolve(err error) {
	if f == nil {
		return
	}
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err is valid after Done is closed
func (f *Future) Err() error {
	<-f.done
	return f.err
}

// Wait blocks until the event was processed or ctx is done
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
