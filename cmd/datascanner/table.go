package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
	// alignWrap is left aligned and soft-wrapped at wrapWidth; used for
	// free-text columns such as error reasons.
	alignWrap
)

const wrapWidth = 60

// renderTable draws rows under headers. Rows shorter than headers are padded
// with empty cells; missing aligns default to left.
func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(toRow(headers, len(headers)))
	for _, row := range rows {
		tw.AppendRow(toRow(row, len(headers)))
	}

	configs := make([]table.ColumnConfig, len(headers))
	for i := range headers {
		cfg := table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if i < len(aligns) {
			switch aligns[i] {
			case alignRight:
				cfg.Align = text.AlignRight
			case alignWrap:
				cfg.WidthMax = wrapWidth
				cfg.WidthMaxEnforcer = text.WrapSoft
			}
		}
		configs[i] = cfg
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func toRow(cells []string, width int) table.Row {
	row := make(table.Row, width)
	for i := range width {
		if i < len(cells) {
			row[i] = cells[i]
		} else {
			row[i] = ""
		}
	}
	return row
}
