package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/qc-validator-api/internal/dto"
	"github.com/noah-isme/qc-validator-api/internal/models"
	"github.com/noah-isme/qc-validator-api/internal/workflow"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
	"github.com/noah-isme/qc-validator-api/pkg/export"
	"github.com/noah-isme/qc-validator-api/pkg/jobs"
	"github.com/noah-isme/qc-validator-api/pkg/storage"
)

// JobTypeAgreementDocument is the job type handled by the document queue.
const JobTypeAgreementDocument = "document.agreement"

type documentStore interface {
	FindByID(ctx context.Context, id string) (*models.Checklist, error)
	SetDocument(ctx context.Context, id, path string, generatedAt time.Time) error
}

type tokenSigner interface {
	Generate(subjectID, relPath string) (string, time.Time, error)
	Parse(token string) (subjectID, relPath string, expiresAt time.Time, err error)
}

// DocumentConfig tunes document links.
type DocumentConfig struct {
	APIPrefix string
}

// DocumentService renders the signed agreement once both parties sign and serves it through
// short-lived signed links.
type DocumentService struct {
	checklists documentStore
	storage    fileStorage
	signer     tokenSigner
	pdf        pdfRenderer
	queue      jobEnqueuer
	cfg        DocumentConfig
	workflowDeps
}

// NewDocumentService constructs the service. A nil renderer falls back to the default PDF exporter.
func NewDocumentService(checklists documentStore, files fileStorage, signer tokenSigner, pdf pdfRenderer, cfg DocumentConfig, logger *zap.Logger, opts ...WorkflowOption) *DocumentService {
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	cfg.APIPrefix = strings.TrimRight(cfg.APIPrefix, "/")
	return &DocumentService{
		checklists:   checklists,
		storage:      files,
		signer:       signer,
		pdf:          pdf,
		cfg:          cfg,
		workflowDeps: newWorkflowDeps(logger, opts),
	}
}

// UseQueue routes ScheduleAgreement through q. Handle must be the handler q runs.
func (s *DocumentService) UseQueue(q jobEnqueuer) {
	s.queue = q
}

// ScheduleAgreement implements DocumentScheduler. Enqueue failures are logged; the document can
// be regenerated by rescheduling.
func (s *DocumentService) ScheduleAgreement(ctx context.Context, checklistID string) {
	if s.queue == nil {
		if err := s.RenderAgreement(ctx, checklistID); err != nil {
			s.logger.Error("agreement render failed", zap.String("checklist_id", checklistID), zap.Error(err))
		}
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: JobTypeAgreementDocument, Payload: checklistID}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Error("failed to enqueue agreement render", zap.String("checklist_id", checklistID), zap.Error(err))
	}
}

// Handle is the queue handler for agreement jobs.
func (s *DocumentService) Handle(ctx context.Context, job jobs.Job) error {
	checklistID, ok := job.Payload.(string)
	if !ok || checklistID == "" {
		return jobs.Permanent(fmt.Errorf("document job %s: unexpected payload %T", job.ID, job.Payload))
	}
	return s.RenderAgreement(ctx, checklistID)
}

// RenderAgreement renders and stores the agreement of a completed checklist. It is idempotent:
// an already stored document is left alone.
func (s *DocumentService) RenderAgreement(ctx context.Context, checklistID string) error {
	c, err := s.checklists.FindByID(ctx, checklistID)
	if err != nil {
		return fmt.Errorf("load checklist %s: %w", checklistID, err)
	}
	if c.AgreementStatus != models.AgreementCompleted {
		s.logger.Warn("skipping agreement render for incomplete checklist",
			zap.String("checklist_id", checklistID),
			zap.String("status", string(c.AgreementStatus)))
		return nil
	}
	if c.DocumentPath != nil && s.storage.Exists(*c.DocumentPath) {
		return nil
	}

	now := s.now()
	payload, err := s.pdf.Render(agreementDocument(*c, now))
	if err != nil {
		return fmt.Errorf("render agreement: %w", err)
	}
	relPath, err := s.storage.Save(path.Join("agreements", c.ID+".pdf"), payload)
	if err != nil {
		return fmt.Errorf("store agreement: %w", err)
	}
	if err := s.checklists.SetDocument(ctx, c.ID, relPath, now); err != nil {
		return fmt.Errorf("record agreement path: %w", err)
	}
	s.logger.Info("agreement document generated", zap.String("checklist_id", c.ID), zap.String("path", relPath))

	next := c.Clone()
	next.DocumentPath = &relPath
	next.DocumentGeneratedAt = &now
	next.Version++
	next.UpdatedAt = now
	for _, party := range next.Parties() {
		s.publish(ctx, EventChecklistUpdated, workflow.ProjectChecklist(next, models.Actor{ID: party}), party)
	}
	return nil
}

// Link returns a signed download URL of the agreement for either party.
func (s *DocumentService) Link(ctx context.Context, actor models.Actor, checklistID string) (*dto.DocumentLink, error) {
	c, err := s.checklists.FindByID(ctx, checklistID)
	if err != nil {
		return nil, notFound(err, "checklist", "failed to load checklist")
	}
	if err := workflow.Require(actor, c, workflow.ActionExport); err != nil {
		return nil, err
	}
	if c.AgreementStatus != models.AgreementCompleted || c.DocumentPath == nil {
		return nil, appErrors.WithDetails(appErrors.ErrDocumentNotReady, "", map[string]interface{}{
			"current_state": string(c.AgreementStatus),
		})
	}
	token, expiresAt, err := s.signer.Generate(c.ID, *c.DocumentPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign document link")
	}
	return &dto.DocumentLink{
		URL:       fmt.Sprintf("%s/documents/%s", s.cfg.APIPrefix, token),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// Open resolves a signed token to the stored file. The caller closes the reader.
func (s *DocumentService) Open(ctx context.Context, token string) (io.ReadSeekCloser, string, error) {
	checklistID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "download link expired")
		}
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}
	if !s.storage.Exists(relPath) {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open document")
	}
	return file, fmt.Sprintf("agreement-%s.pdf", checklistID), nil
}

func agreementDocument(c models.Checklist, generatedAt time.Time) export.Document {
	summary := []export.Field{
		{Label: "Seller", Value: c.SellerEmail},
		{Label: "Buyer", Value: derefString(c.BuyerEmail)},
	}
	summary = append(summary, qcSummary(c)...)
	summary = append(summary,
		export.Field{Label: "Accepted", Value: formatStamp(c.AcceptedAt)},
		export.Field{Label: "Seller signed", Value: formatStamp(c.SellerSignedAt)},
		export.Field{Label: "Buyer signed", Value: formatStamp(c.BuyerSignedAt)},
	)
	return export.Document{
		Title:   "Sale agreement: " + c.Title,
		Summary: summary,
		Table:   inspectionDataset(c),
		Footer: []string{
			"Both parties signed this agreement against the inspection report above.",
			fmt.Sprintf("Checklist %s, version %d. Generated %s.", c.ID, c.Version, generatedAt.Format(time.RFC3339)),
		},
	}
}

func formatStamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
