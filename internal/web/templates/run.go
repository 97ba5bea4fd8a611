// Package templates renders the HTML pages of the import service.
package templates

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// RunSummary renders the status page of one import run.
func RunSummary(d *core.RunDetails) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		run := d.Run
		var b strings.Builder

		b.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		fmt.Fprintf(&b, `<title>Import %s</title>`, templ.EscapeString(run.ID))
		b.WriteString(`</head><body><main class="run">`)

		fmt.Fprintf(&b, `<h1>Import of %s</h1>`, templ.EscapeString(run.EntityType))
		fmt.Fprintf(&b, `<p class="status status-%s">%s</p>`,
			templ.EscapeString(statusClass(run.Status)), templ.EscapeString(string(run.Status)))

		b.WriteString(`<dl>`)
		item(&b, "Run", run.ID)
		item(&b, "Started", run.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
		item(&b, "Created by", run.CreatedByID)
		item(&b, "Mapped columns", strconv.Itoa(run.MappedCount()))
		if run.LastIndex != nil {
			item(&b, "Last processed row", strconv.Itoa(*run.LastIndex))
		}
		b.WriteString(`</dl>`)

		b.WriteString(`<table class="counts"><tbody>`)
		countRow(&b, "Imported", d.Counts.Imported, run.ID, core.OutcomeImported)
		countRow(&b, "Updated", d.Counts.Updated, run.ID, core.OutcomeUpdated)
		countRow(&b, "Duplicates", d.Counts.Duplicates, run.ID, core.OutcomeDuplicates)
		b.WriteString(`</tbody></table>`)

		b.WriteString(`</main></body></html>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func item(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, `<dt>%s</dt><dd>%s</dd>`, templ.EscapeString(label), templ.EscapeString(value))
}

func countRow(b *strings.Builder, label string, n int, runID string, kind core.OutcomeKind) {
	href := templ.URL("/api/imports/" + runID + "/records/" + string(kind))
	fmt.Fprintf(b, `<tr><th>%s</th><td><a href="%s">%d</a></td></tr>`,
		templ.EscapeString(label), templ.EscapeString(string(href)), n)
}

// statusClass turns "In Process" into "in-process".
func statusClass(s core.RunStatus) string {
	return strings.ToLower(strings.ReplaceAll(string(s), " ", "-"))
}
