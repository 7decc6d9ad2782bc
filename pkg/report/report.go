// Package report renders the dependency map of a hydration as a text table
// or an HTML fragment.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/delaneyj/sprinkle/reactive"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/valyala/quicktemplate"
)

type Row struct {
	Path    string
	Scope   string
	Key     string
	Effects []*reactive.Effect
}

// Rows lists every tracked path in discovery order.
func Rows(t *reactive.Tracker) []Row {
	paths := t.Paths()
	rows := make([]Row, 0, len(paths))
	for _, path := range paths {
		scope, key, _ := strings.Cut(path, ".")
		rows = append(rows, Row{
			Path:    path,
			Scope:   scope,
			Key:     key,
			Effects: t.Effects(path),
		})
	}
	return rows
}

func effectLabels(effects []*reactive.Effect) []string {
	labels := make([]string, len(effects))
	for i, e := range effects {
		labels[i] = fmt.Sprintf("#%d %s", e.ID, e.Name)
	}
	return labels
}

// WriteTable renders rows as an aligned text table.
func WriteTable(w io.Writer, rows []Row) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"scope", "path", "effects", "registered"})
	table.SetAutoWrapText(false)

	total := 0
	for _, r := range rows {
		total += len(r.Effects)
		table.Append([]string{
			r.Scope,
			r.Key,
			strconv.Itoa(len(r.Effects)),
			strings.Join(effectLabels(r.Effects), ", "),
		})
	}
	table.SetFooter([]string{"", humanize.Comma(int64(len(rows))) + " paths", humanize.Comma(int64(total)), ""})
	table.Render()
}

// WriteHTML renders rows as an HTML table. Paths and effect names are
// escaped.
func WriteHTML(w io.Writer, rows []Row) {
	qw := quicktemplate.AcquireWriter(w)
	defer quicktemplate.ReleaseWriter(qw)

	qw.N().S(`<table class="sprinkle-deps"><thead><tr><th>scope</th><th>path</th><th>effects</th></tr></thead><tbody>`)
	for _, r := range rows {
		qw.N().S(`<tr><td>`)
		qw.E().S(r.Scope)
		qw.N().S(`</td><td><code>`)
		qw.E().S(r.Key)
		qw.N().S(`</code></td><td><ol>`)
		for _, e := range r.Effects {
			qw.N().S(`<li value="`)
			qw.N().DUL(e.ID)
			qw.N().S(`">`)
			qw.E().S(e.Name)
			qw.N().S(`</li>`)
		}
		qw.N().S(`</ol></td></tr>`)
	}
	qw.N().S(`</tbody></table>`)
}
