package hydrate_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/delaneyj/sprinkle/dom"
	"github.com/delaneyj/sprinkle/hydrate"
	"github.com/delaneyj/sprinkle/reactive"
	"github.com/delaneyj/sprinkle/schedule"
	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func parse(t *testing.T, markup string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(markup)
	require.NoError(t, err)
	return doc
}

func text(el dom.Element) string {
	v, _ := el.Property(dom.InnerText)
	s, _ := v.(string)
	return s
}

func directives(el dom.Element) []string {
	var names []string
	for _, a := range el.Attrs() {
		if strings.HasPrefix(a.Name, "x-") || strings.HasPrefix(a.Name, "@") {
			names = append(names, a.Name)
		}
	}
	for _, c := range el.Children() {
		names = append(names, directives(c)...)
	}
	return names
}

func TestTextAndEvents(t *testing.T) {
	doc := parse(t, `<div id="app" x-data="{ count = 0 }">
		<span id="out" x-text="count"></span>
		<button id="inc" @click="count += 1">+</button>
	</div>`)
	q := schedule.NewFrameQueue()

	h, err := hydrate.Hydrate(context.Background(), doc.ByID("app"), nil, hydrate.WithScheduler(q))
	require.NoError(t, err)
	assert.Equal(t, 1, h.Scopes())

	out, inc := doc.ByID("out"), doc.ByID("inc")
	assert.Equal(t, "0", text(out))
	assert.Zero(t, q.Len())

	inc.Dispatch(&dom.Event{Type: "click"})
	inc.Dispatch(&dom.Event{Type: "click"})
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, "0", text(out), "listeners wait for the next frame")

	assert.Equal(t, 1, q.Drain(10))
	assert.Equal(t, "2", text(out))
	assert.Empty(t, directives(doc.ByID("app")))
}

func TestEventContext(t *testing.T) {
	doc := parse(t, `<div id="app" x-data='{ last = "" }'>
		<input id="in" @input="last = event.value" value="">
		<p id="echo" x-text="last"></p>
	</div>`)

	_, err := hydrate.Hydrate(context.Background(), doc.ByID("app"), nil)
	require.NoError(t, err)

	doc.ByID("in").Dispatch(&dom.Event{Type: "input", Value: "typed"})
	assert.Equal(t, "typed", text(doc.ByID("echo")))
}

type countingElement struct {
	dom.Element
	writes map[string]int
}

func (c *countingElement) SetProperty(name string, value any) {
	c.writes[name]++
	c.Element.SetProperty(name, value)
}

func TestPropertyWriteSuppression(t *testing.T) {
	doc := parse(t, `<p id="p" title="hello" x-title="title" x-text="label">hello</p>`)
	el := &countingElement{Element: doc.ByID("p"), writes: map[string]int{}}
	scope := map[string]any{"title": "hello", "label": "hello"}

	_, err := hydrate.Hydrate(context.Background(), el, scope)
	require.NoError(t, err)
	assert.Empty(t, el.writes)

	require.NoError(t, hydrate.Update(el, func(s *reactive.Scope) {
		s.Set("title", "bye")
		s.Set("label", "hello")
	}))
	assert.Equal(t, map[string]int{"title": 1}, el.writes)

	v, _ := el.Attr("title")
	assert.Equal(t, "bye", v)
}

func TestList(t *testing.T) {
	t.Run("records", func(t *testing.T) {
		doc := parse(t, `<ul id="list" x-data='{ items = [{ name = "a" }, { name = "b" }] }'>
			<li x-map="items" x-text="name"></li>
		</ul>`)
		list := doc.ByID("list")

		_, err := hydrate.Hydrate(context.Background(), list, nil)
		require.NoError(t, err)

		items := list.Children()
		require.Len(t, items, 2)
		assert.Equal(t, "a", text(items[0]))
		assert.Equal(t, "b", text(items[1]))
		assert.Equal(t, `<ul id="list"><li>a</li><li>b</li></ul>`, dom.OuterHTML(list))
	})

	t.Run("empty", func(t *testing.T) {
		doc := parse(t, `<ul id="list" x-data="{ items = [] }"><li x-map="items" x-text="name"></li></ul>`)
		list := doc.ByID("list")

		_, err := hydrate.Hydrate(context.Background(), list, nil)
		require.NoError(t, err)
		assert.Empty(t, list.Children())
	})

	t.Run("template expressions", func(t *testing.T) {
		for _, tc := range []struct {
			name    string
			items   string
			binding string
			want    []string
		}{
			{name: "interpolation", items: `[{ name = "a" }, { name = "b" }]`, binding: `"item ${name}"`, want: []string{"item a", "item b"}},
			{name: "function call", items: `[{ name = "a" }, { name = "b" }]`, binding: `upper(name)`, want: []string{"A", "B"}},
			{name: "nested attribute", items: `[{ item = { name = "a" } }, { item = { name = "b" } }]`, binding: `item.name`, want: []string{"a", "b"}},
			{name: "conditional", items: `[{ done = true }, { done = false }]`, binding: `done ? "yes" : "no"`, want: []string{"yes", "no"}},
		} {
			t.Run(tc.name, func(t *testing.T) {
				doc := dom.NewDocument()
				list := doc.CreateElement("ul")
				list.SetAttr("x-data", "{ items = "+tc.items+" }")
				li := doc.CreateElement("li")
				li.SetAttr("x-map", "items")
				li.SetAttr("x-text", tc.binding)
				list.AppendChild(li)

				_, err := hydrate.Hydrate(context.Background(), list, nil)
				require.NoError(t, err)

				var got []string
				for _, item := range list.Children() {
					got = append(got, text(item))
				}
				assert.Equal(t, tc.want, got)
			})
		}
	})

	t.Run("custom prefix", func(t *testing.T) {
		doc := parse(t, `<ul id="list" v-data='{ items = [{ name = "a" }] }'><li v-map="items" v-text="name"></li></ul>`)
		list := doc.ByID("list")

		_, err := hydrate.Hydrate(context.Background(), list, nil, hydrate.WithPrefix("v-"))
		require.NoError(t, err)
		assert.Equal(t, `<ul id="list"><li>a</li></ul>`, dom.OuterHTML(list))
	})

	t.Run("refresh", func(t *testing.T) {
		doc := parse(t, `<ul id="list" x-data='{ items = [{ name = "a" }] }'><li x-map="items" x-text="name"></li></ul>`)
		list := doc.ByID("list")

		_, err := hydrate.Hydrate(context.Background(), list, nil)
		require.NoError(t, err)
		require.Len(t, list.Children(), 1)

		require.NoError(t, hydrate.Update(list, func(s *reactive.Scope) {
			s.Set("items", []any{
				map[string]any{"name": "x"},
				map[string]any{"name": "y"},
				map[string]any{"name": "z"},
			})
		}))
		assert.Len(t, list.Children(), 1, "lists only re-render on refresh")

		require.NoError(t, hydrate.Refresh(list))
		var got []string
		for _, li := range list.Children() {
			got = append(got, text(li))
		}
		assert.Equal(t, []string{"x", "y", "z"}, got)

		require.NoError(t, hydrate.Update(list, func(s *reactive.Scope) { s.Set("items", []any{}) }))
		require.NoError(t, hydrate.Refresh(list))
		assert.Empty(t, list.Children())
	})
}

func TestCleanup(t *testing.T) {
	const markup = `<div id="root" x-data='{ on = true, msg = "hi" }' x-cloak>
		<p id="p" x-text="msg" x-cloak x-class='{ "a b" = on, c = !on }' data-keep="1" class="c"></p>
		<i id="i" x-hidden="!on" @click="on = !on"></i>
	</div>`

	t.Run("clean", func(t *testing.T) {
		doc := parse(t, markup)
		_, err := hydrate.Hydrate(context.Background(), doc.ByID("root"), nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"x-cloak", "x-cloak"}, directives(doc.ByID("root")))
		assert.False(t, doc.ByID("i").HasAttr("x-cloak"))

		p := doc.ByID("p")
		assert.Equal(t, []string{"a", "b"}, p.ClassList().Values())
		v, _ := p.Attr("data-keep")
		assert.Equal(t, "1", v)
		assert.False(t, doc.ByID("i").HasAttr("hidden"))
	})

	t.Run("strip cloak", func(t *testing.T) {
		doc := parse(t, markup)
		_, err := hydrate.Hydrate(context.Background(), doc.ByID("root"), nil, hydrate.WithStripCloak(true))
		require.NoError(t, err)
		assert.Empty(t, directives(doc.ByID("root")))
	})

	t.Run("keep", func(t *testing.T) {
		doc := parse(t, markup)
		_, err := hydrate.Hydrate(context.Background(), doc.ByID("root"), nil, hydrate.WithClean(false))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"x-data", "x-cloak",
			"x-text", "x-cloak", "x-class",
			"x-hidden", "@click",
		}, directives(doc.ByID("root")))
	})
}

func TestClassToggles(t *testing.T) {
	doc := parse(t, `<div id="root" x-data="{ on = false }">
		<p id="p" class="base" x-class='{ "a b" = on, base = !on }'></p>
		<p id="q" x-class="on"></p>
	</div>`)
	root := doc.ByID("root")

	_, err := hydrate.Hydrate(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, doc.ByID("p").ClassList().Values())

	require.NoError(t, hydrate.Update(root, func(s *reactive.Scope) { s.Set("on", true) }))
	assert.Equal(t, []string{"a", "b"}, doc.ByID("p").ClassList().Values())
	assert.Empty(t, doc.ByID("q").ClassList().Values(), "non mapping results are ignored")
}

func TestIgnore(t *testing.T) {
	doc := parse(t, `<div id="root" x-data="{ n = 1 }">
		<section id="s" x-ignore x-text="n"><p id="p" x-text="n"></p></section>
	</div>`)

	h, err := hydrate.Hydrate(context.Background(), doc.ByID("root"), nil)
	require.NoError(t, err)

	s := doc.ByID("s")
	assert.False(t, s.HasAttr("x-ignore"))
	assert.True(t, s.HasAttr("x-text"))
	assert.True(t, doc.ByID("p").HasAttr("x-text"))
	assert.Empty(t, h.Tracker().Paths())
}

func TestScopeNesting(t *testing.T) {
	doc := parse(t, `<div id="outer" x-data='{ count = 1, label = "l" }'>
		<span id="a" x-text="count"></span>
		<div id="inner" x-data="{ count = 10 }">
			<span id="b" x-text="count"></span>
			<span id="c" x-text="label"></span>
		</div>
	</div>`)
	outer, inner := doc.ByID("outer"), doc.ByID("inner")
	a, b := doc.ByID("a"), doc.ByID("b")

	h, err := hydrate.Hydrate(context.Background(), outer, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Scopes())
	assert.Equal(t, []string{"0.count", "1.count", "1.label"}, h.Tracker().Paths())
	assert.Equal(t, "1", text(a))
	assert.Equal(t, "10", text(b))
	assert.Equal(t, "l", text(doc.ByID("c")))

	require.NoError(t, hydrate.Update(inner, func(s *reactive.Scope) { s.Set("count", 11) }))
	assert.Equal(t, "1", text(a))
	assert.Equal(t, "11", text(b))

	require.NoError(t, hydrate.Update(outer, func(s *reactive.Scope) { s.Set("count", 2) }))
	assert.Equal(t, "2", text(a))
	assert.Equal(t, "11", text(b))
}

func TestOrdering(t *testing.T) {
	doc := parse(t, `<div id="root" x-data="{ order = [] }"
		x-effect='order = concat(order, ["bind root"])'
		x-init='order = concat(order, ["init root"])'>
		<p x-effect='order = concat(order, ["bind p"])' x-init='order = concat(order, ["init p"])'></p>
	</div>`)
	root := doc.ByID("root")
	q := schedule.NewFrameQueue()

	_, err := hydrate.Hydrate(context.Background(), root, nil, hydrate.WithScheduler(q))
	require.NoError(t, err)

	var order any
	require.NoError(t, hydrate.Update(root, func(s *reactive.Scope) { order = s.Raw()["order"] }))
	assert.Equal(t, []any{"bind root", "bind p", "init p", "init root"}, order)
}

func TestEffectCascade(t *testing.T) {
	const markup = `<div id="root" x-data="{ n = 1, double = 0 }" x-effect="double = n * 2">
		<span id="d" x-text="double"></span>
	</div>`

	t.Run("frame queue", func(t *testing.T) {
		doc := parse(t, markup)
		root, d := doc.ByID("root"), doc.ByID("d")
		q := schedule.NewFrameQueue()

		_, err := hydrate.Hydrate(context.Background(), root, nil, hydrate.WithScheduler(q))
		require.NoError(t, err)
		assert.Equal(t, "2", text(d))
		assert.Equal(t, 1, q.Len())
		q.Drain(10)

		require.NoError(t, hydrate.Update(root, func(s *reactive.Scope) { s.Set("n", 5) }))
		assert.Equal(t, "10", text(d))
	})

	t.Run("default scheduler", func(t *testing.T) {
		doc := parse(t, markup)
		root, d := doc.ByID("root"), doc.ByID("d")

		_, err := hydrate.Hydrate(context.Background(), root, nil)
		require.NoError(t, err)
		assert.Equal(t, "2", text(d))

		require.NoError(t, hydrate.Update(root, func(s *reactive.Scope) { s.Set("n", 5) }))
		assert.Equal(t, "10", text(d))
	})
}

func effectNames(effects []*reactive.Effect) []string {
	names := make([]string, len(effects))
	for i, e := range effects {
		names[i] = e.Name
	}
	return names
}

func TestEffectIsolation(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []hydrate.Option
	}{
		{name: "default scheduler"},
		{name: "immediate", opts: []hydrate.Option{hydrate.WithScheduler(schedule.Immediate)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			doc := parse(t, `<div id="root" x-data="{ a = 1, c = 5 }">
				<span id="sum" x-text="a + c"></span>
				<i x-effect="a = 2"></i>
			</div>`)
			root, sum := doc.ByID("root"), doc.ByID("sum")

			h, err := hydrate.Hydrate(context.Background(), root, nil, tc.opts...)
			require.NoError(t, err)
			assert.Equal(t, "7", text(sum))

			tr := h.Tracker()
			assert.Equal(t, []string{"x-text"}, effectNames(tr.Effects("0.a")))
			assert.Equal(t, []string{"x-text"}, effectNames(tr.Effects("0.c")))

			require.NoError(t, hydrate.Update(root, func(s *reactive.Scope) { s.Set("a", 10) }))
			assert.Equal(t, "15", text(sum))

			// Writing c must not replay the effect that reset a.
			require.NoError(t, hydrate.Update(root, func(s *reactive.Scope) { s.Set("c", 6) }))
			assert.Equal(t, "16", text(sum))
		})
	}
}

func TestNonReactive(t *testing.T) {
	doc := parse(t, `<div id="root" x-data="{ n = 1 }"><span id="s" x-text="n"></span></div>`)
	root := doc.ByID("root")

	h, err := hydrate.Hydrate(context.Background(), root, nil, hydrate.WithReactive(false))
	require.NoError(t, err)
	assert.Equal(t, "1", text(doc.ByID("s")))
	assert.Empty(t, h.Tracker().Paths())

	require.NoError(t, hydrate.Update(root, func(s *reactive.Scope) { s.Set("n", 2) }))
	assert.Equal(t, "1", text(doc.ByID("s")))
}

func TestDedupe(t *testing.T) {
	for _, tc := range []struct {
		name   string
		dedupe bool
		want   int
	}{
		{name: "replay per path", dedupe: false, want: 2},
		{name: "once per flush", dedupe: true, want: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			runs := 0
			tick := function.New(&function.Spec{
				VarParam: &function.Parameter{Name: "args", Type: cty.DynamicPseudoType},
				Type:     function.StaticReturnType(cty.Bool),
				Impl: func([]cty.Value, cty.Type) (cty.Value, error) {
					runs++
					return cty.True, nil
				},
			})
			doc := parse(t, `<div id="root" x-effect="tick(a, b)"></div>`)
			root := doc.ByID("root")
			scope := map[string]any{"a": 1, "b": 1, "tick": tick}

			_, err := hydrate.Hydrate(context.Background(), root, scope, hydrate.WithDedupe(tc.dedupe))
			require.NoError(t, err)
			require.Equal(t, 1, runs)

			require.NoError(t, hydrate.Update(root, func(s *reactive.Scope) {
				s.Set("a", 2)
				s.Set("b", 2)
			}))
			assert.Equal(t, 1+tc.want, runs)
		})
	}
}

func TestErrors(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name   string
		markup string
		target error
	}{
		{name: "not iterable", markup: `<ul id="root" x-data="{ items = 3 }"><li x-map="items"></li></ul>`, target: hydrate.ErrNotIterable},
		{name: "missing list", markup: `<ul id="root" x-data="{}"><li x-map="items"></li></ul>`, target: hydrate.ErrNotIterable},
		{name: "bad record", markup: `<ul id="root" x-data="{ items = [1] }"><li x-map="items"></li></ul>`, target: hydrate.ErrBadRecord},
		{name: "scalar scope", markup: `<div id="root" x-data="3"></div>`, target: reactive.ErrNotMapping},
	} {
		t.Run(tc.name, func(t *testing.T) {
			doc := parse(t, tc.markup)
			h, err := hydrate.Hydrate(ctx, doc.ByID("root"), nil)
			assert.ErrorIs(t, err, tc.target)
			assert.Nil(t, h)
		})
	}

	t.Run("bad expression", func(t *testing.T) {
		doc := parse(t, `<div id="root" x-data="{ a = 1 }"><p x-text="a +"></p></div>`)
		_, err := hydrate.Hydrate(ctx, doc.ByID("root"), nil)
		require.Error(t, err)
		var diags hcl.Diagnostics
		assert.True(t, errors.As(err, &diags))
		assert.Contains(t, err.Error(), "x-text on <p>")
	})

	t.Run("no parent", func(t *testing.T) {
		li := dom.NewDocument().CreateElement("li")
		li.SetAttr("x-map", "items")
		_, err := hydrate.Hydrate(ctx, li, map[string]any{"items": []any{}})
		assert.ErrorIs(t, err, hydrate.ErrNoParent)
	})

	t.Run("handles", func(t *testing.T) {
		el := dom.NewDocument().CreateElement("div")
		assert.ErrorIs(t, hydrate.Update(el, func(*reactive.Scope) {}), hydrate.ErrNoScope)
		assert.ErrorIs(t, hydrate.Refresh(el), hydrate.ErrNoList)
	})

	t.Run("listener", func(t *testing.T) {
		doc := parse(t, `<button id="root" @click="nope(1)"></button>`)
		var got []error
		_, err := hydrate.Hydrate(ctx, doc.ByID("root"), map[string]any{},
			hydrate.WithOnError(func(err error) { got = append(got, err) }),
		)
		require.NoError(t, err)

		doc.ByID("root").Dispatch(&dom.Event{Type: "click"})
		require.Len(t, got, 1)
		assert.Contains(t, got[0].Error(), "@click on <button>")
	})
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	doc := parse(t, `<ul id="root" x-data='{ items = [{ n = 1 }] }'>
		<li x-map="items" x-text="n" @click="nope()"></li>
		<b id="b" @click="nope()"></b>
	</ul>`)
	_, err := hydrate.Hydrate(context.Background(), doc.ByID("root"), nil, hydrate.WithLogger(logger))
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("list rendered").Len())
	assert.Equal(t, 2, logs.FilterMessage("hydrated").Len(), "list templates are hydrated on their own")
}
