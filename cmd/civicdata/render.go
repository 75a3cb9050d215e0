package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/civicdata/internal/duck"
	"github.com/malbeclabs/civicdata/internal/pipeline"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(header)
	return table
}

func renderAnswer(w io.Writer, a *pipeline.Answer) {
	title := a.Dataset.EnhancedTitle
	if title == "" {
		title = a.Dataset.Title
	}
	fmt.Fprintf(w, "Dataset: %s (%s)\n", title, a.Dataset.ID)
	if a.Dataset.SourceURL != "" {
		fmt.Fprintf(w, "Source:  %s\n", a.Dataset.SourceURL)
	}
	fmt.Fprintf(w, "SQL:     %s\n\n", a.SQL)

	if len(a.Columns) == 0 {
		fmt.Fprintln(w, "(no columns)")
		return
	}
	table := newTable(w, a.Columns)
	for _, row := range a.Rows {
		cells := make([]string, len(a.Columns))
		for i, col := range a.Columns {
			cells[i] = row[col].String()
		}
		table.Append(cells)
	}
	table.Render()

	fmt.Fprintf(w, "%d row(s)", len(a.Rows))
	if a.Truncated {
		fmt.Fprint(w, ", truncated")
	}
	fmt.Fprintln(w)
}

func renderRanking(w io.Writer, r *pipeline.Ranking) {
	if len(r.Datasets) == 0 {
		fmt.Fprintln(w, "No matching datasets.")
		return
	}
	table := newTable(w, []string{"#", "ID", "Title", "Similarity"})
	for i, d := range r.Datasets {
		table.Append([]string{
			strconv.Itoa(i + 1),
			d.ID,
			d.DisplayTitle(),
			strconv.FormatFloat(d.Similarity, 'f', 3, 64),
		})
	}
	table.Render()
	if r.FellBack {
		fmt.Fprintln(w, "Ranking unavailable; datasets are in retrieval order.")
	} else if r.Reasoning != "" {
		fmt.Fprintf(w, "Ranking: %s\n", r.Reasoning)
	}
}

func renderSchema(w io.Writer, schema duck.Schema) {
	table := newTable(w, []string{"Column", "Type"})
	for _, c := range schema {
		table.Append([]string{c.Name, c.Type})
	}
	table.Render()
}
