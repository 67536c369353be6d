package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. Cells longer than maxRunes are
// shortened in the middle; zero means no limit.
type column struct {
	title    string
	maxRunes int
}

// renderTable draws rows under a rounded header. Short rows are padded with
// empty cells and extra cells are dropped.
func renderTable(cols []column, rows [][]string) string {
	if len(cols) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(cols))
	configs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		header[i] = c.title
		configs[i] = table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft}
		if c.maxRunes > 0 {
			limit := c.maxRunes
			configs[i].Transformer = func(v any) string {
				s, _ := v.(string)
				return truncateMiddle(s, limit)
			}
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(cols))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

// truncateMiddle keeps both ends of s, which for endpoints are the push
// service host and the token suffix.
func truncateMiddle(s string, max int) string {
	r := []rune(s)
	if max <= 3 || len(r) <= max {
		return s
	}
	keep := (max - 3) / 2
	return string(r[:keep]) + "..." + string(r[len(r)-(max-3-keep):])
}
