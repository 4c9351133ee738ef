// Package intake drives submitted receipt files through annotation.
// Files enter as a batch, are validated for supported media types, and
// are then annotated strictly one at a time: the pipeline never has
// more than one request in flight against the annotation service.
package intake

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// Annotator extracts structured fields from a receipt payload. A nil
// result with a nil error is treated as an annotation failure.
type Annotator interface {
	Analyze(ctx context.Context, payload []byte, mediaType string) (*models.AnnotationResult, error)
}

// IntakeFile is one submitted receipt file
type IntakeFile struct {
	Name      string
	MediaType string
	Data      []byte
}

// connectionFailureNote is the annotation recorded on a receipt whose
// annotation call failed at the transport level. It deliberately carries
// no detail from the underlying error.
const connectionFailureNote = "annotation service unavailable"

// mediaTypeByExtension maps receipt file extensions to media types for
// callers that submit files without an explicit type.
var mediaTypeByExtension = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

// DetectMediaType infers the media type from the filename extension,
// returning "" when the extension is not a supported receipt format.
func DetectMediaType(name string) string {
	return mediaTypeByExtension[strings.ToLower(filepath.Ext(name))]
}

// IsSupportedMediaType reports whether the pipeline accepts the type
func IsSupportedMediaType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/pdf"
}

// PipelineConfig holds configuration for the intake pipeline
type PipelineConfig struct {
	// CreatePreviews controls whether image receipts get a preview file
	// at intake time
	CreatePreviews bool
}

// DefaultPipelineConfig returns a configuration with sensible defaults
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		CreatePreviews: true,
	}
}

// ReceiptIntakePipeline owns the receipt lifecycle from submission to a
// terminal annotation state.
type ReceiptIntakePipeline struct {
	config    *PipelineConfig
	annotator Annotator
	previews  *PreviewStore
	logger    logger.Logger

	// inFlight serializes annotation calls
	inFlight sync.Mutex

	mu       sync.Mutex
	receipts []*models.Receipt
	payloads map[string][]byte
	failures []*errors.ReconcilerError
}

// NewReceiptIntakePipeline creates a pipeline around the given annotator
func NewReceiptIntakePipeline(config *PipelineConfig, annotator Annotator, previews *PreviewStore) (*ReceiptIntakePipeline, error) {
	if config == nil {
		config = DefaultPipelineConfig()
	}
	if annotator == nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "annotator", nil)
	}

	return &ReceiptIntakePipeline{
		config:    config,
		annotator: annotator,
		previews:  previews,
		logger:    logger.GetGlobalLogger().WithComponent("intake_pipeline"),
		payloads:  make(map[string][]byte),
	}, nil
}

// Intake admits a batch of receipt files. The batch is atomic: if any
// file has an unsupported media type, no file from the batch is
// admitted and a single error describes the rejection. Admitted files
// become pending receipts with fresh identities.
func (p *ReceiptIntakePipeline) Intake(files []IntakeFile) ([]*models.Receipt, error) {
	if len(files) == 0 {
		return nil, nil
	}

	for _, f := range files {
		mediaType := f.MediaType
		if mediaType == "" {
			mediaType = DetectMediaType(f.Name)
		}
		if !IsSupportedMediaType(mediaType) {
			p.logger.WithFields(logger.Fields{
				"file":       f.Name,
				"media_type": f.MediaType,
				"batch_size": len(files),
			}).Warn("Rejecting batch: unsupported media type")
			return nil, errors.ParseError(errors.CodeUnsupportedMedia, f.Name, nil)
		}
	}

	admitted := make([]*models.Receipt, 0, len(files))
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range files {
		mediaType := f.MediaType
		if mediaType == "" {
			mediaType = DetectMediaType(f.Name)
		}

		receipt := models.NewReceipt(f.Name, mediaType)
		p.payloads[receipt.ID] = f.Data

		if p.config.CreatePreviews && p.previews != nil && strings.HasPrefix(mediaType, "image/") {
			path, err := p.previews.Add(receipt.ID, f.Name, f.Data)
			if err != nil {
				p.logger.WithError(err).WithField("file", f.Name).Warn("Preview creation failed")
			} else {
				receipt.PreviewPath = path
			}
		}

		p.receipts = append(p.receipts, receipt)
		admitted = append(admitted, receipt)
	}

	p.logger.WithField("admitted", len(admitted)).Info("Admitted receipt batch")
	return admitted, nil
}

// Receipts returns all receipts in submission order
func (p *ReceiptIntakePipeline) Receipts() []*models.Receipt {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.Receipt, len(p.receipts))
	copy(out, p.receipts)
	return out
}

// ProcessAll annotates every pending receipt, one at a time and in
// submission order. A transport failure marks that receipt as errored
// and processing continues with the next one; only context cancellation
// stops the run early.
func (p *ReceiptIntakePipeline) ProcessAll(ctx context.Context) error {
	pending := p.pendingReceipts()
	if len(pending) == 0 {
		return nil
	}

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "receipt annotation",
		Total:     int64(len(pending)),
		Logger:    p.logger,
	})
	defer tracker.Complete()

	for _, receipt := range pending {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "annotation run cancelled")
		}

		if err := p.process(ctx, receipt); err != nil {
			return err
		}
		tracker.Increment()
	}

	if summary := p.FailureSummary(); summary.Total > 0 {
		p.logger.WithFields(logger.Fields{
			"failures": summary.Total,
			"receipts": len(pending),
		}).Warn(summary.Error())
	}

	return nil
}

// FailureSummary aggregates the annotation call failures recorded so
// far. Receipts whose annotation succeeded but came back with an error
// field are not failures in this sense; only failed calls count.
func (p *ReceiptIntakePipeline) FailureSummary() *errors.ErrorSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.NewErrorSummary(p.failures)
}

func (p *ReceiptIntakePipeline) recordFailure(err *errors.ReconcilerError) {
	p.mu.Lock()
	p.failures = append(p.failures, err)
	p.mu.Unlock()
}

// process drives one receipt from pending to a terminal state
func (p *ReceiptIntakePipeline) process(ctx context.Context, receipt *models.Receipt) error {
	p.inFlight.Lock()
	defer p.inFlight.Unlock()

	if err := receipt.Transition(models.StatusProcessing); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "receipt lifecycle violation")
	}

	log := p.logger.WithFields(logger.Fields{
		"receipt":    receipt.Name,
		"receipt_id": receipt.ID,
	})
	log.Debug("Annotating receipt")

	p.mu.Lock()
	payload := p.payloads[receipt.ID]
	p.mu.Unlock()

	annotation, err := p.annotator.Analyze(ctx, payload, receipt.MediaType)
	if err != nil {
		log.WithError(err).Warn("Annotation call failed")
		p.recordFailure(errors.WrapIfNeeded(err, errors.CategoryTransport, errors.CodeConnectionFailed, "annotation call failed").
			WithContext("receipt", receipt.Name))
		annotation = &models.AnnotationResult{Error: connectionFailureNote}
	}

	if err := receipt.CompleteWith(annotation); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "receipt lifecycle violation")
	}

	log.WithField("status", receipt.Status).Debug("Receipt annotation finished")
	return nil
}

func (p *ReceiptIntakePipeline) pendingReceipts() []*models.Receipt {
	p.mu.Lock()
	defer p.mu.Unlock()

	var pending []*models.Receipt
	for _, r := range p.receipts {
		if r.Status == models.StatusPending {
			pending = append(pending, r)
		}
	}
	return pending
}

// Reset drops all receipts and payloads and releases their previews
func (p *ReceiptIntakePipeline) Reset() {
	p.mu.Lock()
	receipts := p.receipts
	p.receipts = nil
	p.payloads = make(map[string][]byte)
	p.failures = nil
	p.mu.Unlock()

	if p.previews != nil {
		for _, r := range receipts {
			p.previews.Release(r.ID)
		}
	}
}
