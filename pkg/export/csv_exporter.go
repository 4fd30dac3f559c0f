package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errNoColumns = errors.New("export: dataset has no columns")

// Dataset is a table of cells. Each row is positional against Headers; short
// rows are padded with empty cells and long rows are rejected.
type Dataset struct {
	Headers []string
	Rows    [][]string
}

// AddRow appends one row.
func (d *Dataset) AddRow(cells ...string) {
	d.Rows = append(d.Rows, cells)
}

func (d Dataset) cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// CSVExporter writes datasets as RFC 4180 CSV.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render returns the dataset as CSV bytes.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Write(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the dataset to w. Cells a spreadsheet would evaluate as a
// formula get a leading single quote.
func (e *CSVExporter) Write(w io.Writer, data Dataset) error {
	if len(data.Headers) == 0 {
		return errNoColumns
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(data.Headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(data.Headers))
	for n, row := range data.Rows {
		if len(row) > len(data.Headers) {
			return fmt.Errorf("csv row %d has %d cells for %d columns", n+1, len(row), len(data.Headers))
		}
		for i := range record {
			record[i] = neutralise(data.cell(row, i))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", n+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func neutralise(cell string) string {
	if cell != "" && strings.ContainsRune("=+-@\t\r", rune(cell[0])) {
		return "'" + cell
	}
	return cell
}
