package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const pageWidth = 190.0

// Field is a labelled value printed above the table.
type Field struct {
	Label string
	Value string
}

// Document describes a rendered PDF: a title, a summary block, an optional table and footer lines.
type Document struct {
	Title   string
	Summary []Field
	Table   Dataset
	Footer  []string
}

// PDFExporter renders documents into a basic A4 PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title, summary and table body.
func (e *PDFExporter) Render(doc Document) ([]byte, error) {
	if doc.Title == "" && len(doc.Summary) == 0 && len(doc.Table.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires a title, summary or table")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	if doc.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(doc.Title)), "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	if len(doc.Summary) > 0 {
		for _, f := range doc.Summary {
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(50, 6, tr(f.Label), "", 0, "", false, 0, "")
			pdf.SetFont("Arial", "", 10)
			pdf.MultiCell(pageWidth-50, 6, tr(f.Value), "", "", false)
		}
		pdf.Ln(4)
	}

	if len(doc.Table.Headers) > 0 {
		colWidth := pageWidth / float64(len(doc.Table.Headers))
		pdf.SetFont("Arial", "B", 10)
		for _, header := range doc.Table.Headers {
			pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 9)
		for _, row := range doc.Table.Rows {
			for i := range doc.Table.Headers {
				pdf.CellFormat(colWidth, 7, fit(pdf, tr(doc.Table.cell(row, i)), colWidth-2), "1", 0, "", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	if len(doc.Footer) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "I", 9)
		for _, line := range doc.Footer {
			pdf.MultiCell(0, 5, tr(line), "", "", false)
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// fit truncates text so it stays within width millimetres at the current font.
func fit(pdf *gofpdf.Fpdf, text string, width float64) string {
	if pdf.GetStringWidth(text) <= width {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
