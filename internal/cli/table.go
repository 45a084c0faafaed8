package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment, colored bool) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	if colored {
		tw.SetStyle(table.StyleColoredDark)
	} else {
		tw.SetStyle(table.StyleRounded)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			WidthMax:    64,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// renderSummary prints one row per ticket followed by the state counts.
func renderSummary(w io.Writer, summary models.BatchSummary, colored bool) {
	headers := []string{"File", "Category", "Size", "Destination", "State", "Progress", "Message"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft}
	rows := make([][]string, 0, len(summary.Tickets))
	for _, t := range summary.Tickets {
		category := string(t.Category)
		if category == "" {
			category = "-"
		}
		destination := t.DestinationLabel
		if t.ResolvedRecordID != "" && t.Destination.Kind == models.DestinationNew {
			destination = fmt.Sprintf("%s (%s)", destination, t.ResolvedRecordID)
		}
		rows = append(rows, []string{
			t.OriginalName,
			category,
			humanBytes(t.ByteSize),
			destination,
			string(t.State),
			fmt.Sprintf("%d%%", t.Progress),
			t.Message,
		})
	}
	fmt.Fprintln(w, renderTable(headers, rows, aligns, colored))
	c := summary.Counts
	fmt.Fprintf(w, "%d files: %d completed, %d failed, %d rejected, %d pending (assigned %.0f%%)\n",
		summary.Total, c.Completed, c.Failed, c.Rejected, c.Pending+c.Uploading, summary.AssignmentCoverage*100)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok || file == nil {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
