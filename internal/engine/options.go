package engine

import (
	"time"

	"github.com/rs/zerolog"
)

type options struct {
	now      func() time.Time
	listener Listener
	logger   zerolog.Logger
}

// Option configures the engine components.
type Option func(*options)

// WithClock sets the time source used for timestamps and elapsed time.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithListener registers a listener for status changes and finished attempts.
func WithListener(l Listener) Option {
	return func(o *options) { o.listener = l }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{
		now:      time.Now,
		listener: NopListener{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.listener == nil {
		o.listener = NopListener{}
	}
	return o
}
