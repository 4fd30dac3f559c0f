package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/qc-validator-api/internal/models"
	"github.com/noah-isme/qc-validator-api/internal/workflow"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
	"github.com/noah-isme/qc-validator-api/pkg/export"
)

// Export formats accepted by the inspection export.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (io.ReadSeekCloser, error)
	Exists(filename string) bool
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

// ExportResult is a rendered file ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders the current inspection report of a checklist on demand.
type ExportService struct {
	checklists checklistReader
	csv        csvRenderer
	pdf        pdfRenderer
	logger     *zap.Logger
	now        func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(checklists checklistReader, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		checklists: checklists,
		csv:        csv,
		pdf:        pdf,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Inspection renders the checklist items as CSV or PDF for either party.
func (s *ExportService) Inspection(ctx context.Context, actor models.Actor, checklistID, format string) (*ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	c, err := s.checklists.FindByID(ctx, checklistID)
	if err != nil {
		return nil, notFound(err, "checklist", "failed to load checklist")
	}
	if err := workflow.Require(actor, c, workflow.ActionExport); err != nil {
		return nil, err
	}

	dataset := inspectionDataset(*c)
	base := fmt.Sprintf("inspection-%s-%s", c.ID, s.now().Format("20060102T150405"))
	var payload []byte
	result := &ExportResult{}
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
		result.Filename = base + ".csv"
		result.ContentType = "text/csv"
	case ExportFormatPDF:
		payload, err = s.pdf.Render(export.Document{
			Title:   "Inspection report: " + c.Title,
			Summary: qcSummary(*c),
			Table:   dataset,
			Footer:  []string{fmt.Sprintf("Exported %s", s.now().Format(time.RFC3339))},
		})
		result.Filename = base + ".pdf"
		result.ContentType = "application/pdf"
	}
	if err != nil {
		s.logger.Error("failed to render inspection export", zap.String("checklist_id", c.ID), zap.String("format", format), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	result.Payload = payload
	return result, nil
}

func inspectionDataset(c models.Checklist) export.Dataset {
	data := export.Dataset{
		Headers: []string{"#", "Category", "Requirement", "Status", "Evidence before", "Evidence after"},
		Rows:    make([][]string, 0, len(c.Items)),
	}
	for i, item := range c.Items {
		data.AddRow(strconv.Itoa(i+1), item.Category, item.Requirement, string(item.Status),
			derefString(item.EvidenceBefore), derefString(item.EvidenceAfter))
	}
	return data
}

func qcSummary(c models.Checklist) []export.Field {
	score, threshold, result := workflow.QCOf(c)
	return []export.Field{
		{Label: "Checklist", Value: c.ID},
		{Label: "Status", Value: string(c.AgreementStatus)},
		{Label: "Score", Value: fmt.Sprintf("%d%%", score)},
		{Label: "Threshold", Value: fmt.Sprintf("%d%%", threshold)},
		{Label: "QC result", Value: string(result)},
	}
}
