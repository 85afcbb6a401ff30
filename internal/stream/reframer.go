package stream

import (
	"github.com/pkg/errors"
)

// ErrTerminated is returned by Write once the terminal sentinel has been seen.
// Callers copying an upstream body into a Reframer treat it as success.
var ErrTerminated = errors.New("stream terminated")

// Reframer is an io.Writer that parses upstream event-stream bytes and emits
// each extracted delta as one unit, in arrival order.
type Reframer struct {
	parser     Parser
	strategies []Strategy
	emit       func(text string) error
	onDone     func()

	done    bool
	failed  error
	dropped int
}

// NewReframer returns a Reframer using DeltaStrategies. emit receives every
// non-empty delta; onDone, which may be nil, runs exactly once on completion.
func NewReframer(emit func(text string) error, onDone func()) *Reframer {
	return &Reframer{
		strategies: DeltaStrategies,
		emit:       emit,
		onDone:     onDone,
	}
}

// WithStrategies replaces the extraction strategies.
func (r *Reframer) WithStrategies(strategies []Strategy) *Reframer {
	r.strategies = strategies
	return r
}

func (r *Reframer) Write(p []byte) (int, error) {
	if r.failed != nil {
		return 0, r.failed
	}
	if r.done {
		return len(p), ErrTerminated
	}
	if err := r.process(r.parser.Feed(p)); err != nil {
		return 0, err
	}
	if r.done {
		return len(p), ErrTerminated
	}
	return len(p), nil
}

// Close handles the end of the transport: a trailing unterminated event is
// processed and completion is signalled if the sentinel never arrived.
func (r *Reframer) Close() error {
	if r.failed != nil {
		return r.failed
	}
	if !r.done {
		if err := r.process(r.parser.Flush()); err != nil {
			return err
		}
	}
	r.finish()
	return nil
}

// Done reports whether completion has been signalled.
func (r *Reframer) Done() bool {
	return r.done
}

// Dropped returns how many events carried a payload that was not valid JSON.
func (r *Reframer) Dropped() int {
	return r.dropped
}

func (r *Reframer) process(events []Event) error {
	for _, ev := range events {
		if r.done {
			return nil
		}
		if ev.IsSentinel() {
			r.finish()
			return nil
		}
		text, ok := Extract([]byte(ev.Data), r.strategies)
		if !ok {
			r.dropped++
			continue
		}
		if text == "" {
			continue
		}
		if err := r.emit(text); err != nil {
			r.failed = errors.Wrap(err, "emit delta")
			return r.failed
		}
	}
	return nil
}

func (r *Reframer) finish() {
	if r.done {
		return
	}
	r.done = true
	if r.onDone != nil {
		r.onDone()
	}
}
