// Package hydrate walks an element tree, turns its directive attributes into
// effects bound to reactive scopes, and keeps the tree in sync as those
// scopes are written.
//
// With the default prefixes the recognized attributes are:
//
//	x-ignore         skip the subtree
//	x-data           declare a scope, merged over the enclosing one
//	x-map            render one clone of the element per record
//	x-init           run once after the subtree is hydrated
//	x-cloak          presentational marker, left in place
//	x-effect         side effects only
//	x-class          mapping of class lists to booleans
//	x-text, x-html   text or markup content
//	x-<name>         any other property
//	@<event>         event listener
package hydrate

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/delaneyj/sprinkle/dom"
	"github.com/delaneyj/sprinkle/expr"
	"github.com/delaneyj/sprinkle/reactive"
	"github.com/delaneyj/sprinkle/schedule"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrNotIterable = errors.New("list expression did not yield a sequence")
	ErrBadRecord   = errors.New("list record is not a mapping")
	ErrNoParent    = errors.New("list template has no parent")
	ErrNoScope     = errors.New("element does not own a scope")
	ErrNoList      = errors.New("element does not own a list")
)

const tracerName = "github.com/delaneyj/sprinkle/hydrate"

// Handle names on hydrated elements.
const (
	updateHandle  = "sprinkle.update"
	refreshHandle = "sprinkle.refresh"
)

type (
	updater   func(fn func(*reactive.Scope)) error
	refresher func() error
)

// Hydration is a live, hydrated subtree.
type Hydration struct {
	opts    options
	tracker *reactive.Tracker
	tracer  trace.Tracer
	scopes  int
}

// Hydrate walks root and everything below it. A nil scope means no scope
// exists until an element declares one, a non nil scope is wrapped as the
// scope of root. Reactivity stays live after Hydrate returns, driven by
// listeners and the Update and Refresh handles.
func Hydrate(ctx context.Context, root dom.Element, scope map[string]any, opts ...Option) (*Hydration, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o.hydrate(ctx, root, scope)
}

func (o options) hydrate(ctx context.Context, root dom.Element, scope map[string]any) (*Hydration, error) {
	if o.scheduler == nil {
		o.tasks = schedule.NewMicrotasks()
		o.scheduler = o.tasks
	}
	h := &Hydration{
		opts:   o,
		tracer: otel.Tracer(tracerName),
		tracker: reactive.NewTracker(o.reactive,
			reactive.WithDedupe(o.dedupe),
			reactive.WithObserver(o.observer),
			reactive.WithLogger(o.logger),
		),
	}

	ctx, span := h.tracer.Start(ctx, "hydrate", trace.WithAttributes(
		attribute.String("sprinkle.root", root.TagName()),
		attribute.Bool("sprinkle.reactive", o.reactive),
	))
	defer span.End()

	start := time.Now()
	err := h.walk(ctx, root, scope, nil, nil)
	h.tracker.Done()

	span.SetAttributes(
		attribute.Int("sprinkle.scopes", h.scopes),
		attribute.Int("sprinkle.paths", len(h.tracker.Paths())),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	h.settle()

	o.logger.Debug("hydrated",
		zap.String("root", root.TagName()),
		zap.Int("scopes", h.scopes),
		zap.Duration("elapsed", time.Since(start)),
	)
	return h, nil
}

// Flush replays the effects of every path written since the last flush.
func (h *Hydration) Flush() error { return h.tracker.Flush() }

func (h *Hydration) Tracker() *reactive.Tracker { return h.tracker }

// Scopes returns the number of scope instances created so far.
func (h *Hydration) Scopes() int { return h.scopes }

// Update hands the live scope owned by el to fn, then flushes.
func Update(el dom.Element, fn func(*reactive.Scope)) error {
	u, ok := el.Handle(updateHandle).(updater)
	if !ok {
		return fmt.Errorf("%w: <%s>", ErrNoScope, el.TagName())
	}
	return u(fn)
}

// Refresh re-renders the list whose records are rendered into el.
func Refresh(el dom.Element) error {
	r, ok := el.Handle(refreshHandle).(refresher)
	if !ok {
		return fmt.Errorf("%w: <%s>", ErrNoList, el.TagName())
	}
	return r()
}

func (h *Hydration) walk(ctx context.Context, el dom.Element, scope map[string]any, proxy *reactive.Scope, root dom.Element) error {
	o := h.opts

	if name := o.prefix + "ignore"; el.HasAttr(name) {
		el.RemoveAttr(name)
		return nil
	}

	var remove []string
	switch dataName, mapName := o.prefix+"data", o.prefix+"map"; {
	case el.HasAttr(dataName):
		root = el
		src, _ := el.Attr(dataName)
		fragment, err := h.declare(src, scope, proxy, el)
		if err != nil {
			return fmt.Errorf("%s on <%s>: %w", dataName, el.TagName(), err)
		}
		merged := make(map[string]any, len(scope)+len(fragment))
		maps.Copy(merged, scope)
		maps.Copy(merged, fragment)
		scope = merged
		proxy = h.establish(el, scope)
		if o.clean {
			remove = append(remove, dataName)
		}

	case el.HasAttr(mapName):
		return h.mapList(ctx, el, proxy, root)

	case scope != nil && proxy == nil:
		root = el
		proxy = h.establish(el, scope)
	}

	if proxy != nil {
		for _, a := range el.Attrs() {
			consumed, err := h.bind(el, a, proxy, root)
			if err != nil {
				return err
			}
			if consumed && o.clean {
				remove = append(remove, a.Name)
			}
		}
	}

	for _, child := range el.Children() {
		// Detached by a list rendered in an earlier sibling.
		if child.Parent() == nil {
			continue
		}
		if err := h.walk(ctx, child, scope, proxy, root); err != nil {
			return err
		}
	}

	if name := o.prefix + "init"; proxy != nil {
		if src, ok := el.Attr(name); ok && src != "" {
			prog, err := o.compiler.Compile(src)
			if err != nil {
				return fmt.Errorf("%s on <%s>: %w", name, el.TagName(), err)
			}
			if _, err := prog.Eval(env(proxy, root, el, nil)); err != nil {
				if err := h.deferred(fmt.Errorf("%s on <%s>: %w", name, el.TagName(), err)); err != nil {
					return err
				}
			}
			o.scheduler.Soon(h.flushLater)
			if o.clean {
				remove = append(remove, name)
			}
		}
	}

	if o.stripCloak {
		el.RemoveAttr(o.prefix + "cloak")
	}
	for _, name := range remove {
		el.RemoveAttr(name)
	}
	return nil
}

// declare evaluates a scope declaration against the enclosing scope. An empty
// declaration declares nothing.
func (h *Hydration) declare(src string, scope map[string]any, proxy *reactive.Scope, el dom.Element) (map[string]any, error) {
	if src == "" {
		return nil, nil
	}
	prog, err := h.opts.compiler.Compile(src)
	if err != nil {
		return nil, err
	}
	e := env(proxy, el, el, nil)
	if proxy == nil && scope != nil {
		e.Scope = expr.MapScope(scope)
	}
	v, err := prog.Eval(e)
	if err != nil {
		return nil, err
	}
	switch fragment := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return fragment, nil
	default:
		return nil, fmt.Errorf("%w: got %T", reactive.ErrNotMapping, v)
	}
}

// establish wraps scope in a new scope instance owned by el and attaches the
// update handle.
func (h *Hydration) establish(el dom.Element, scope map[string]any) *reactive.Scope {
	proxy := h.tracker.NewScope(scope, h.scopes)
	h.scopes++
	el.SetHandle(updateHandle, updater(func(fn func(*reactive.Scope)) error {
		fn(proxy)
		err := h.tracker.Flush()
		h.settle()
		return err
	}))
	return proxy
}

// settle runs work deferred by the default scheduler.
func (h *Hydration) settle() {
	if h.opts.tasks != nil {
		h.opts.tasks.Drain()
	}
}

// deferred swallows evaluation errors while pre-compiling a list template,
// whose scope is empty until a record is merged into it. Reads made before
// the failure are already recorded.
func (h *Hydration) deferred(err error) error {
	if !h.opts.template {
		return err
	}
	h.opts.logger.Debug("template evaluation deferred", zap.Error(err))
	return nil
}

func (h *Hydration) flushLater() {
	if err := h.tracker.Flush(); err != nil {
		h.fail(err)
	}
}

func (h *Hydration) fail(err error) {
	if h.opts.onError != nil {
		h.opts.onError(err)
		return
	}
	h.opts.logger.Error("scheduled work failed", zap.Error(err))
}

func env(proxy *reactive.Scope, root, el dom.Element, evt *dom.Event) expr.Env {
	e := expr.Env{Root: root, Element: el, Event: evt}
	if proxy != nil {
		e.Scope = proxy
	}
	return e
}
