package format

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// RenderTable renders result rows as a fenced fixed-width table. Rows beyond
// the configured cap are dropped with a trailing count note; columns beyond
// four are dropped for chat readability. When columns is empty the order is
// lexicographic over the first row's keys.
func (f *Formatter) RenderTable(rows []map[string]any, columns []string) string {
	if len(rows) == 0 {
		return "No data available."
	}

	display := rows
	maxRows := f.cfg.Options.MaxTableRows
	if len(display) > maxRows {
		display = display[:maxRows]
	}

	headers := columns
	if len(headers) == 0 {
		for key := range display[0] {
			headers = append(headers, key)
		}
		sort.Strings(headers)
	}
	if len(headers) == 0 {
		return "No data structure available."
	}
	if len(headers) > maxTableColumns {
		headers = headers[:maxTableColumns]
	}

	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(headers)

	for _, row := range display {
		cells := make([]string, 0, len(headers))
		for _, h := range headers {
			cells = append(cells, truncateCell(row[h]))
		}
		table.Append(cells)
	}
	table.Render()

	out := "```\n" + buf.String() + "```"
	if len(rows) > maxRows {
		out += fmt.Sprintf("\n*Showing %d of %d total records*", maxRows, len(rows))
	}
	return out
}

func truncateCell(v any) string {
	s := ""
	if v != nil {
		s = fmt.Sprintf("%v", v)
	}
	runes := []rune(s)
	if len(runes) > maxCellRunes {
		return string(runes[:truncatedRunes]) + "..."
	}
	return s
}
