package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/delaneyj/sprinkle/dom"
	"github.com/delaneyj/sprinkle/hydrate"
	"github.com/delaneyj/sprinkle/reactive"
	"github.com/dustin/go-humanize"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/olekukonko/tablewriter"
)

var (
	cpuProfile = flag.String("cpuprofile", "", "write a cpu profile to this file")
	iters      = flag.Int("iters", 100, "timed iterations per benchmark")

	widths  = []int{1, 10, 100, 1_000}
	records = []int{10, 100, 1_000}
)

// runCounter counts effect runs across flushes.
type runCounter struct {
	runs int64
}

func (c *runCounter) Registered(string) {}
func (c *runCounter) Written(string)    {}
func (c *runCounter) Flushed(_, effects int, _ time.Duration) {
	c.runs += int64(effects)
}

type summary struct {
	name     string
	runs     int64
	duration time.Duration
}

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	log.Printf("warming up")
	benchmarkFlush(false)
	benchmarkList(false)

	var all []summary
	all = append(all, benchmarkFlush(true)...)
	all = append(all, benchmarkList(true)...)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"benchmark", "effect runs", "total time", "runs/ms"})
	for _, s := range all {
		rate := float64(s.runs) / (float64(s.duration) / float64(time.Millisecond))
		table.Append([]string{
			s.name,
			humanize.Comma(s.runs),
			fmt.Sprint(s.duration),
			humanize.Comma(int64(rate)),
		})
	}
	table.Render()
}

func mount(markup string, opts ...hydrate.Option) (*dom.Node, *hydrate.Hydration) {
	doc, err := dom.ParseString(markup)
	if err != nil {
		log.Fatal(err)
	}
	root := doc.ByID("root")
	h, err := hydrate.Hydrate(context.Background(), root, nil, opts...)
	if err != nil {
		log.Fatal(err)
	}
	return root, h
}

func render(title string, tbl table.Writer, shouldRender bool) {
	if !shouldRender {
		return
	}
	tbl.SetTitle(title)
	tbl.SetOutputMirror(os.Stdout)
	tbl.Render()
}

// benchmarkFlush times one write replayed into w text bindings.
func benchmarkFlush(shouldRender bool) []summary {
	tbl := table.NewWriter()
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})

	var out []summary
	for _, w := range widths {
		var sb strings.Builder
		sb.WriteString(`<div id="root" x-data="{ n = 0 }">`)
		for i := 0; i < w; i++ {
			sb.WriteString(`<span x-text="n * 2"></span>`)
		}
		sb.WriteString(`</div>`)

		counter := &runCounter{}
		root, _ := mount(sb.String(), hydrate.WithObserver(counter))
		tach := tachymeter.New(&tachymeter.Config{Size: *iters})

		start := time.Now()
		for i := 1; i <= *iters; i++ {
			t := time.Now()
			if err := hydrate.Update(root, func(s *reactive.Scope) { s.Set("n", i) }); err != nil {
				log.Fatal(err)
			}
			tach.AddTime(time.Since(t))
		}

		name := fmt.Sprintf("flush: %s bindings", humanize.Comma(int64(w)))
		out = append(out, summary{name: name, runs: counter.runs, duration: time.Since(start)})

		calc := tach.Calc()
		tbl.AppendRow(table.Row{name, calc.Time.Avg, calc.Time.Min, calc.Time.P75, calc.Time.P99, calc.Time.Max})
	}

	render("Flush", tbl, shouldRender)
	return out
}

// benchmarkList times a full list re-render of n records.
func benchmarkList(shouldRender bool) []summary {
	tbl := table.NewWriter()
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})

	var out []summary
	for _, n := range records {
		items := make([]any, n)
		for i := range items {
			items[i] = map[string]any{"name": fmt.Sprintf("item %d", i), "done": i%2 == 0}
		}

		root, _ := mount(`<ul id="root" x-data="{ items = [] }">` +
			`<li x-map="items" x-text="name" x-class="{ done = done }"></li>` +
			`</ul>`)
		if err := hydrate.Update(root, func(s *reactive.Scope) { s.Set("items", items) }); err != nil {
			log.Fatal(err)
		}

		tach := tachymeter.New(&tachymeter.Config{Size: *iters})
		start := time.Now()
		for i := 0; i < *iters; i++ {
			t := time.Now()
			if err := hydrate.Refresh(root); err != nil {
				log.Fatal(err)
			}
			tach.AddTime(time.Since(t))
		}

		name := fmt.Sprintf("list: %s records", humanize.Comma(int64(n)))
		out = append(out, summary{name: name, runs: int64(n * *iters), duration: time.Since(start)})

		calc := tach.Calc()
		tbl.AppendRow(table.Row{name, calc.Time.Avg, calc.Time.Min, calc.Time.P75, calc.Time.P99, calc.Time.Max})
	}

	render("List rebuild", tbl, shouldRender)
	return out
}
