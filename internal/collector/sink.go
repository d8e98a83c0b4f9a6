package collector

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/benmccoy/go-nem-collector/internal/models"
)

// PlotSink consumes a dataset's tabular view. The actual rendering engine is
// external; sinks only transport the table to it.
type PlotSink interface {
	Render(ctx context.Context, table *models.Table) error
}

// WriterSink is a PlotSink that writes the table as aligned text, used by the
// CLI and as a stand-in where no renderer is attached.
type WriterSink struct {
	W io.Writer
}

// Render implements PlotSink.
func (s *WriterSink) Render(ctx context.Context, table *models.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	widths := make([]int, len(table.Columns))
	for i, col := range table.Columns {
		widths[i] = len(col)
	}
	for _, row := range table.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeRow := func(cells []string) error {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		_, err := fmt.Fprintln(s.W, strings.TrimRight(strings.Join(parts, "  "), " "))
		return err
	}

	if err := writeRow(table.Columns); err != nil {
		return err
	}
	for _, row := range table.Rows {
		if err := writeRow(row); err != nil {
			return err
		}
	}
	return nil
}
