package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// renderTable draws a rounded table. Columns whose index appears in
// rightAligned are right-justified; everything else is left-justified.
func renderTable(headers table.Row, rows []table.Row, rightAligned ...int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(headers)
	tw.AppendRows(rows)

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, idx := range rightAligned {
		configs = append(configs, table.ColumnConfig{
			Number:      idx + 1,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

const (
	ansiBlue  = "\x1b[34m"
	ansiReset = "\x1b[0m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
