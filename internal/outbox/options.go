package outbox

import (
	"time"

	"github.com/austindbirch/tml_hook/internal/logging"
)

type options struct {
	now    func() time.Time
	logger *logging.Logger
	sink   DeadLetterSink
}

// Option customizes an outbox component.
type Option func(*options)

// WithClock replaces time.Now; the value is converted to UTC by callers.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDeadLetterSink receives rows whose failure reached the attempt ceiling.
func WithDeadLetterSink(s DeadLetterSink) Option {
	return func(o *options) { o.sink = s }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: logging.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
