package hydrate

import (
	"github.com/delaneyj/sprinkle/expr"
	"github.com/delaneyj/sprinkle/reactive"
	"github.com/delaneyj/sprinkle/schedule"
	"go.uber.org/zap"
)

const (
	DefaultPrefix      = "x-"
	DefaultEventPrefix = "@"
)

type options struct {
	reactive    bool
	clean       bool
	stripCloak  bool
	dedupe      bool
	prefix      string
	eventPrefix string
	scheduler   schedule.Scheduler
	tasks       *schedule.Microtasks
	template    bool
	compiler    expr.Compiler
	logger      *zap.Logger
	observer    reactive.Observer
	onError     func(error)
}

func defaultOptions() options {
	return options{
		reactive:    true,
		clean:       true,
		prefix:      DefaultPrefix,
		eventPrefix: DefaultEventPrefix,
		compiler:    expr.New(),
		logger:      zap.NewNop(),
	}
}

type Option func(*options)

// WithReactive turns dependency tracking on or off. A non reactive hydration
// renders once and never replays effects.
func WithReactive(reactive bool) Option {
	return func(o *options) { o.reactive = reactive }
}

// WithClean controls whether consumed directive attributes are removed.
func WithClean(clean bool) Option {
	return func(o *options) { o.clean = clean }
}

// WithStripCloak removes the cloak marker once an element is hydrated.
func WithStripCloak(strip bool) Option {
	return func(o *options) { o.stripCloak = strip }
}

// WithDedupe runs an effect at most once per flush.
func WithDedupe(dedupe bool) Option {
	return func(o *options) { o.dedupe = dedupe }
}

func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

func WithEventPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.eventPrefix = prefix
		}
	}
}

// WithScheduler sets the primitive used to defer listener work and flushes.
// Without one, deferred work is queued and run once the hydration, update,
// refresh or event that queued it has finished.
func WithScheduler(s schedule.Scheduler) Option {
	return func(o *options) {
		if s != nil {
			o.scheduler = s
		}
	}
}

func WithCompiler(c expr.Compiler) Option {
	return func(o *options) {
		if c != nil {
			o.compiler = c
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithObserver(obs reactive.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithOnError receives errors raised by scheduled work, such as listeners
// and deferred flushes, that have no caller to return to.
func WithOnError(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}
