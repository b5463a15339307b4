package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/project"
	"github.com/jmallove/datalith/datalog/pull"
)

// RenderTable formats a result as a markdown table with a trailing row
// count.
func RenderTable(result *project.Result) string {
	if result.Len() == 0 {
		return fmt.Sprintf("_Columns: %v_\n\n_No rows_\n", result.Columns)
	}

	out := &strings.Builder{}

	alignment := make([]tw.Align, len(result.Columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(out,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(result.Columns)

	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = renderCell(cell)
		}
		table.Append(cells)
	}
	table.Render()

	fmt.Fprintf(out, "\n_%d rows_\n", result.Len())
	return out.String()
}

func renderCell(cell project.Cell) string {
	if cell.Node != nil {
		return renderNode(cell.Node)
	}
	return renderValue(cell.Value)
}

func renderValue(v datalog.TypedValue) string {
	if t, ok := v.Instant(); ok {
		return t.Format(time.RFC3339)
	}
	if s, ok := v.Str(); ok {
		return s
	}
	return v.String()
}

// renderNode flattens a pulled entity into an EDN-ish map literal with
// deterministic attribute order.
func renderNode(node *pull.Node) string {
	idents := make([]datalog.Keyword, 0, len(node.Attrs))
	for ident := range node.Attrs {
		idents = append(idents, ident)
	}
	sort.Slice(idents, func(i, j int) bool { return idents[i].Compare(idents[j]) < 0 })

	out := &strings.Builder{}
	fmt.Fprintf(out, "{:db/id %d", int64(node.Entity))
	for _, ident := range idents {
		entries := node.Attrs[ident]
		out.WriteString(" " + ident.String() + " ")
		if len(entries) == 1 {
			out.WriteString(renderEntry(entries[0]))
			continue
		}
		parts := make([]string, len(entries))
		for i, entry := range entries {
			parts[i] = renderEntry(entry)
		}
		out.WriteString("[" + strings.Join(parts, " ") + "]")
	}
	out.WriteString("}")
	return out.String()
}

func renderEntry(entry pull.Entry) string {
	if entry.Child != nil {
		return renderNode(entry.Child)
	}
	return entry.Value.String()
}
