package control

import (
	"context"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/command"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
)

type (
	// EventQueue processes an event. Submit returns once it was processed.
	EventQueue interface {
		Submit(ctx context.Context, ev model.Event) error
	}
	Restarter interface {
		Restart(ctx context.Context) error
	}
)

// PingHandler always succeeds
func PingHandler() Handler {
	return HandlerFunc(func(_ context.Context, _ command.Command, done Done) {
		done(true)
	})
}

// EventHandler turns commands into events. The command completes once the
// event was processed, which may be much later for commands taking effect in the future.
func EventHandler(q EventQueue) Handler {
	l := log.Default().Named("control")
	return HandlerFunc(func(ctx context.Context, cmd command.Command, done Done) {
		ev, ok := command.ToEvent(cmd)
		if !ok {
			l.Error("command has no event", log.String("kind", string(cmd.Kind())))
			done(false)
			return
		}
		go func() {
			err := q.Submit(ctx, ev)
			if err != nil {
				l.Warn("event not processed",
					log.String("id", cmd.CommandID().String()),
					log.ErrorField(err))
			}
			done(err == nil)
		}()
	})
}

func RestartHandler(r Restarter) Handler {
	l := log.Default().Named("control")
	return HandlerFunc(func(ctx context.Context, _ command.Command, done Done) {
		go func() {
			err := r.Restart(ctx)
			if err != nil {
				l.Error("restart failed", log.ErrorField(err))
			}
			done(err == nil)
		}()
	})
}

// RegisterProcessorHandlers registers the handlers of a race log processor
func RegisterProcessorHandlers(p *CommandProcessor, proc interface {
	EventQueue
	Restarter
},
) {
	events := EventHandler(proc)
	for _, kind := range []command.Kind{
		command.KindAddTag,
		command.KindRemoveTag,
		command.KindCorrection,
		command.KindSetStartTime,
		command.KindSetEndTime,
		command.KindSetStatus,
		command.KindSetStatusMessage,
		command.KindSetUpdateFrequency,
	} {
		p.Register(kind, events)
	}
	p.Register(command.KindRestart, RestartHandler(proc))
}
