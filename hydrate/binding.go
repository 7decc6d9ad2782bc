package hydrate

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/delaneyj/sprinkle/dom"
	"github.com/delaneyj/sprinkle/reactive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Kinds handled by the walker rather than bound as properties.
var structural = []string{"data", "map", "ignore", "init", "cloak"}

// bind turns one attribute into a listener or an effect. It reports whether
// the attribute was consumed and may be removed.
func (h *Hydration) bind(el dom.Element, a dom.Attribute, proxy *reactive.Scope, root dom.Element) (bool, error) {
	o := h.opts
	if a.Value == "" {
		return false, nil
	}

	if event, ok := strings.CutPrefix(a.Name, o.eventPrefix); ok && event != "" {
		prog, err := o.compiler.Compile(a.Value)
		if err != nil {
			return false, directiveError(a.Name, el, err)
		}
		el.AddEventListener(event, func(evt *dom.Event) {
			o.scheduler.Soon(func() {
				if _, err := prog.Eval(env(proxy, root, el, evt)); err != nil {
					h.fail(directiveError(a.Name, el, err))
					return
				}
				h.flushLater()
			})
			h.settle()
		})
		return true, nil
	}

	kind, ok := strings.CutPrefix(a.Name, o.prefix)
	if !ok || kind == "" || slices.Contains(structural, kind) {
		return false, nil
	}

	prog, err := o.compiler.Compile(a.Value)
	if err != nil {
		return false, directiveError(a.Name, el, err)
	}
	eval := func() (any, error) {
		v, err := prog.Eval(env(proxy, root, el, nil))
		if err != nil {
			return nil, directiveError(a.Name, el, err)
		}
		return v, nil
	}

	var run func() error
	switch kind {
	case "effect":
		run = func() error {
			if _, err := eval(); err != nil {
				return err
			}
			o.scheduler.Soon(h.flushLater)
			return nil
		}

	case "class":
		run = func() error {
			v, err := eval()
			if err != nil {
				return err
			}
			toggles, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			classes := el.ClassList()
			for _, list := range sortedKeys(toggles) {
				on := truthy(toggles[list])
				for _, name := range strings.Fields(list) {
					if on {
						classes.Add(name)
					} else {
						classes.Remove(name)
					}
				}
			}
			return nil
		}

	default:
		property := kind
		switch kind {
		case "text":
			property = dom.InnerText
		case "html":
			property = dom.InnerHTML
		}
		run = func() error {
			v, err := eval()
			if err != nil || v == nil {
				return err
			}
			if cur, _ := el.Property(property); same(cur, v) {
				return nil
			}
			el.SetProperty(property, v)
			return nil
		}
	}

	if err := h.tracker.Record(h.tracker.NewEffect(a.Name, run)); err != nil {
		if err := h.deferred(err); err != nil {
			return false, err
		}
	}
	return true, nil
}

// mapList detaches el and renders one hydrated clone of it per record of the
// list expression into its former parent. The render effect is not
// registered under any path; it is attached to the parent for Refresh.
func (h *Hydration) mapList(ctx context.Context, el dom.Element, proxy *reactive.Scope, root dom.Element) (err error) {
	name := h.opts.prefix + "map"
	src, _ := el.Attr(name)

	ctx, span := h.tracer.Start(ctx, "map", trace.WithAttributes(
		attribute.String("sprinkle.tag", el.TagName()),
		attribute.String("sprinkle.expr", src),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	parent := el.Parent()
	if parent == nil {
		return fmt.Errorf("%w: <%s %s=%q>", ErrNoParent, el.TagName(), name, src)
	}
	el.Remove()
	el.RemoveAttr(name)

	// The template is hydrated on its own, records reach it through its
	// update handle. It shares the prefixes, compiler and scheduler, and
	// work it defers is run by this hydration.
	template := el.Clone()
	sub := h.opts
	sub.reactive = true
	sub.template = true
	sub.tasks = nil
	if _, err := sub.hydrate(ctx, template, map[string]any{}); err != nil {
		return fmt.Errorf("%s template <%s>: %w", name, el.TagName(), err)
	}

	prog, err := h.opts.compiler.Compile(src)
	if err != nil {
		return directiveError(name, el, err)
	}

	render := h.tracker.NewEffect(name, func() error {
		start := time.Now()
		parent.SetTextContent("")

		v, err := prog.Eval(env(proxy, root, el, nil))
		if err != nil {
			return directiveError(name, el, err)
		}
		records, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%w: %s=%q yielded %T", ErrNotIterable, name, src, v)
		}
		for i, r := range records {
			record, ok := r.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: record %d is %T", ErrBadRecord, i, r)
			}
			if err := Update(template, func(s *reactive.Scope) { s.Merge(record) }); err != nil {
				return err
			}
			parent.AppendChild(template.Clone())
		}

		h.opts.logger.Debug("list rendered",
			zap.String("expr", src),
			zap.Int("records", len(records)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil
	})
	parent.SetHandle(refreshHandle, refresher(func() error {
		err := render.Run()
		h.settle()
		return err
	}))
	return render.Run()
}

func directiveError(name string, el dom.Element, err error) error {
	return fmt.Errorf("%s on <%s>: %w", name, el.TagName(), err)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case float64:
		return x != 0
	}
	return true
}

// same reports strict equality: identical dynamic types and equal values.
func same(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
