// Package control sends commands to a processor and dispatches received
// commands to their handlers.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/bus"
	"github.com/mpapenbr/lapcounter-go/pkg/command"
	"github.com/mpapenbr/lapcounter-go/pkg/status"
)

type Result int

const (
	Success Result = iota
	Unsupported
	Error
	// Timeout may still be followed by a successful execution on the processor
	Timeout
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case Unsupported:
		return "UNSUPPORTED"
	case Error:
		return "ERROR"
	case Timeout:
		return "TIMEOUT"
	}
	return "UNKNOWN"
}

const DefaultTimeout = 10 * time.Second

type (
	Callback func(cmd command.Command, r Result)

	pending struct {
		cmd   command.Command
		cb    Callback
		timer *time.Timer
	}

	Dispatcher struct {
		bus      bus.Bus
		channels bus.Channels
		timeout  time.Duration
		mu       sync.Mutex
		pending  map[string]*pending
		sub      bus.Subscription
		l        *log.Logger
	}
	DispatcherOption func(*Dispatcher)
)

func WithTimeout(d time.Duration) DispatcherOption {
	return func(s *Dispatcher) {
		s.timeout = d
	}
}

func WithDispatcherLogger(l *log.Logger) DispatcherOption {
	return func(s *Dispatcher) {
		s.l = l
	}
}

// NewDispatcher subscribes to the status channel for command results
func NewDispatcher(b bus.Bus, channels bus.Channels, opts ...DispatcherOption) (*Dispatcher, error) {
	ret := &Dispatcher{
		bus:      b,
		channels: channels,
		timeout:  DefaultTimeout,
		pending:  map[string]*pending{},
		l:        log.Default().Named("control"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	var err error
	if ret.sub, err = b.Subscribe(channels.Status, ret.onStatus); err != nil {
		return nil, err
	}
	return ret, nil
}

func (d *Dispatcher) Close() error {
	return d.sub.Unsubscribe()
}

// Send blocks until a result for cmd is available.
// A cancelled ctx is reported as Timeout.
func (d *Dispatcher) Send(ctx context.Context, cmd command.Command) Result {
	ch := make(chan Result, 1)
	d.SendAsync(ctx, cmd, func(_ command.Command, r Result) {
		ch <- r
	})
	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		d.handleResult(cmd.CommandID().String(), Timeout)
		return <-ch
	}
}

// SendAsync publishes cmd. cb is called exactly once.
func (d *Dispatcher) SendAsync(ctx context.Context, cmd command.Command, cb Callback) {
	id := cmd.CommandID().String()
	if cb == nil {
		cb = func(command.Command, Result) {}
	}
	data, err := command.Marshal(cmd)
	if err != nil {
		d.l.Error("could not encode command", log.String("id", id), log.ErrorField(err))
		cb(cmd, Error)
		return
	}
	d.mu.Lock()
	d.pending[id] = &pending{
		cmd:   cmd,
		cb:    cb,
		timer: time.AfterFunc(d.timeout, func() { d.handleResult(id, Timeout) }),
	}
	d.mu.Unlock()

	d.l.Debug("Sending command", log.String("id", id), log.String("kind", string(cmd.Kind())))
	if err := d.bus.Publish(ctx, d.channels.Control, data); err != nil {
		d.l.Error("could not publish command", log.String("id", id), log.ErrorField(err))
		d.handleResult(id, Error)
	}
}

func (d *Dispatcher) onStatus(data []byte) {
	msg, err := status.Parse(data)
	if err != nil {
		d.l.Error("could not read status message",
			log.String("msg", string(data)), log.ErrorField(err))
		return
	}
	switch msg.Type {
	case status.CommandComplete:
		d.handleResult(msg.Details, Success)
	case status.CommandFailed:
		d.handleResult(msg.Details, Error)
	case status.CommandUnsupported:
		d.handleResult(msg.Details, Unsupported)
	default:
	}
}

// handleResult completes a pending command. Only the first result counts.
func (d *Dispatcher) handleResult(id string, r Result) {
	d.mu.Lock()
	p, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	p.timer.Stop()
	d.l.Debug("Handled command", log.String("id", id), log.String("result", r.String()))
	p.cb(p.cmd, r)
}
