package racelog

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/lapcounter-go/log"
)

type metrics struct {
	processedEvents metric.Int64Counter
	recomputedSnaps metric.Int64Counter
	persistFailures metric.Int64Counter
	outliers        metric.Int64Counter
}

//nolint:funlen // metric setup
func newMetrics(p *Processor) *metrics {
	meter := otel.GetMeterProvider().Meter("lapcounter.racelog")
	ret := &metrics{}
	check := func(name string, err error) {
		if err != nil {
			p.l.Error("failed to register metric", log.String("metric", name), log.ErrorField(err))
		}
	}
	var err error
	ret.processedEvents, err = meter.Int64Counter("lapcounter.racelog.events",
		metric.WithDescription("Number of processed events"),
		metric.WithUnit("{event}"))
	check("events", err)
	ret.recomputedSnaps, err = meter.Int64Counter("lapcounter.racelog.snapshots",
		metric.WithDescription("Number of recomputed snapshots"),
		metric.WithUnit("{snapshot}"))
	check("snapshots", err)
	ret.persistFailures, err = meter.Int64Counter("lapcounter.racelog.persist_failures",
		metric.WithDescription("Number of failed writes to the repository"),
		metric.WithUnit("{failure}"))
	check("persist_failures", err)
	ret.outliers, err = meter.Int64Counter("lapcounter.racelog.outliers",
		metric.WithDescription("Number of sightings exceeding the maximum speed"),
		metric.WithUnit("{sighting}"))
	check("outliers", err)

	_, err = meter.Int64ObservableGauge("lapcounter.racelog.queue",
		metric.WithDescription("Number of events waiting to be processed"),
		metric.WithUnit("{event}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(p.queue.len()))
			return nil
		}))
	check("queue", err)
	_, err = meter.Int64ObservableGauge("lapcounter.racelog.length",
		metric.WithDescription("Number of events in the race log"),
		metric.WithUnit("{event}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(p.length.Load())
			return nil
		}))
	check("length", err)
	return ret
}
