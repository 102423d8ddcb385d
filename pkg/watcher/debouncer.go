package watcher

import (
	"context"
	"time"

	"github.com/ritzau/crate-deps/pkg/logging"
)

// Debouncer batches rapid file system events to avoid excessive rebuilds.
// An export download writes for a long time; nothing is emitted until the
// file has been quiet for quietPeriod, or maxWait has passed since the first
// buffered event.
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

// run processes events and applies debouncing logic
func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		quiet       *time.Timer
		deadline    *time.Timer
		accumulated = make(map[ChangeType][]string)
		eventCount  int
	)

	stop := func(t *time.Timer) {
		if t != nil {
			t.Stop()
		}
	}
	timerC := func(t *time.Timer) <-chan time.Time {
		if t == nil {
			return nil
		}
		return t.C
	}

	flush := func() {
		stop(quiet)
		stop(deadline)
		quiet, deadline = nil, nil

		if eventCount == 0 {
			return
		}
		logging.Debug("flushing accumulated events", "count", eventCount)

		// Config first: a rebuild should see the new settings
		for _, t := range []ChangeType{ChangeTypeConfig, ChangeTypeExport} {
			if paths := accumulated[t]; len(paths) > 0 {
				select {
				case d.output <- ChangeEvent{Type: t, Paths: paths, Timestamp: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
		}

		// Reset accumulators
		accumulated = make(map[ChangeType][]string)
		eventCount = 0
	}

	for {
		select {
		case <-ctx.Done():
			stop(quiet)
			stop(deadline)
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}

			// Accumulate event
			accumulated[event.Type] = append(accumulated[event.Type], event.Paths...)
			eventCount++

			// Reset quiet period timer
			stop(quiet)
			quiet = time.NewTimer(d.quietPeriod)

			// Start max wait timer on first event
			if deadline == nil {
				deadline = time.NewTimer(d.maxWait)
			}

		case <-timerC(quiet):
			flush()

		case <-timerC(deadline):
			flush()
		}
	}
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}
