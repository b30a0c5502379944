package control

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/bus"
	"github.com/mpapenbr/lapcounter-go/pkg/command"
	"github.com/mpapenbr/lapcounter-go/pkg/status"
)

type (
	// Done reports the outcome of a command. It must be called exactly once.
	Done func(ok bool)

	// Handler executes a command. Long running work should not block the caller.
	Handler interface {
		Handle(ctx context.Context, cmd command.Command, done Done)
	}
	HandlerFunc func(ctx context.Context, cmd command.Command, done Done)

	// CommandProcessor receives commands on the control channel and answers
	// on the status channel.
	CommandProcessor struct {
		bus      bus.Bus
		control  string
		reporter *status.Reporter
		mu       sync.RWMutex
		handlers map[command.Kind]Handler
		sub      bus.Subscription
		ctx      context.Context
		l        *log.Logger
	}
	ProcessorOption func(*CommandProcessor)
)

func (f HandlerFunc) Handle(ctx context.Context, cmd command.Command, done Done) {
	f(ctx, cmd, done)
}

func WithProcessorLogger(l *log.Logger) ProcessorOption {
	return func(p *CommandProcessor) {
		p.l = l
	}
}

//nolint:whitespace // false positive
func NewCommandProcessor(
	b bus.Bus,
	channels bus.Channels,
	reporter *status.Reporter,
	opts ...ProcessorOption,
) *CommandProcessor {
	ret := &CommandProcessor{
		bus:      b,
		control:  channels.Control,
		reporter: reporter,
		handlers: map[command.Kind]Handler{},
		ctx:      context.Background(),
		l:        log.Default().Named("control"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.Register(command.KindPing, PingHandler())
	return ret
}

// Register replaces any handler registered for kind
func (p *CommandProcessor) Register(kind command.Kind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Kinds returns the registered command kinds, sorted
func (p *CommandProcessor) Kinds() []command.Kind {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ret := lo.Keys(p.handlers)
	slices.Sort(ret)
	return ret
}

// Start subscribes to the control channel. ctx is passed to the handlers.
func (p *CommandProcessor) Start(ctx context.Context) error {
	p.ctx = ctx
	sub, err := p.bus.Subscribe(p.control, p.onCommand)
	if err != nil {
		return err
	}
	p.sub = sub
	p.l.Info("Listening for commands",
		log.String("channel", p.control),
		log.Any("kinds", p.Kinds()))
	return nil
}

func (p *CommandProcessor) Stop() error {
	if p.sub == nil {
		return nil
	}
	return p.sub.Unsubscribe()
}

func (p *CommandProcessor) handler(kind command.Kind) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[kind]
	return h, ok
}

func (p *CommandProcessor) onCommand(data []byte) {
	kind, id, err := command.PeekKind(data)
	if err != nil {
		p.l.Error("could not read command", log.String("msg", string(data)), log.ErrorField(err))
		return
	}
	h, ok := p.handler(kind)
	if !ok {
		p.l.Warn("unsupported command", log.String("kind", string(kind)), log.String("id", id))
		p.reporter.Report(p.ctx, status.CommandUnsupported, id)
		return
	}
	cmd, err := command.Unmarshal(data)
	if err != nil {
		p.l.Error("could not decode command", log.String("id", id), log.ErrorField(err))
		p.reporter.Report(p.ctx, status.CommandFailed, id)
		return
	}
	p.l.Debug("Handling command", log.String("kind", string(kind)), log.String("id", id))
	var once sync.Once
	h.Handle(p.ctx, cmd, func(ok bool) {
		once.Do(func() {
			if ok {
				p.reporter.Report(p.ctx, status.CommandComplete, id)
			} else {
				p.reporter.Report(p.ctx, status.CommandFailed, id)
			}
		})
	})
}
