// Package extraction runs the first pipeline stage: pulling text out of every
// unprocessed file attached to an appointment.
package extraction

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinical-intake-pipeline/internal/aiservice"
	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/internal/observability/metrics"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

var tracer = otel.Tracer("intake.internal.extraction")

// BlobFetcher downloads a stored file, enforcing the size ceiling.
type BlobFetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// FileOutcome records what happened to one file.
type FileOutcome struct {
	FileID   string          `json:"file_id"`
	FileName string          `json:"file_name"`
	FileType intake.FileType `json:"file_type"`
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"-"`

	text string
	err  error
}

// Err returns the underlying failure, if any.
func (o FileOutcome) Err() error { return o.err }

// BatchResult summarizes one pass over an appointment's unprocessed files.
type BatchResult struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Outcomes  []FileOutcome `json:"outcomes"`
}

// Processor extracts text from unprocessed files. The caller must hold the appointment lock.
type Processor struct {
	files     intake.FileRepository
	blobs     BlobFetcher
	documents aiservice.DocumentExtractor
	images    aiservice.ImageAnalyzer
	maxBytes  int64
	metrics   *metrics.PipelineMetrics
	logger    *logging.Logger
}

// Option customizes a Processor.
type Option func(*Processor)

// WithMaxBytes rejects files whose declared size already exceeds n before any download.
func WithMaxBytes(n int64) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// NewProcessor builds a Processor. The file repository, blob fetcher, document
// extractor and image analyzer are all required.
func NewProcessor(files intake.FileRepository, blobs BlobFetcher, documents aiservice.DocumentExtractor, images aiservice.ImageAnalyzer, logger *logging.Logger, opts ...Option) *Processor {
	if files == nil {
		panic("extraction: file repository cannot be nil")
	}
	if blobs == nil {
		panic("extraction: blob fetcher cannot be nil")
	}
	if documents == nil || images == nil {
		panic("extraction: document extractor and image analyzer are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{
		files:     files,
		blobs:     blobs,
		documents: documents,
		images:    images,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessAppointment attempts every unprocessed file in creation order and persists each
// outcome. Files named in skip were already attempted by the caller and are left alone.
// A failed file never aborts the batch; only a failure to list or persist does.
func (p *Processor) ProcessAppointment(ctx context.Context, appointmentID string, skip ...string) (BatchResult, error) {
	ctx, span := tracer.Start(ctx, "extraction.process_appointment")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", appointmentID))

	files, err := p.files.ListUnprocessedFiles(ctx, appointmentID)
	if err != nil {
		span.RecordError(err)
		return BatchResult{}, fmt.Errorf("extraction: list files: %w", err)
	}
	files = withoutFiles(files, skip)

	result := BatchResult{Total: len(files), Outcomes: make([]FileOutcome, 0, len(files))}
	log := p.logger.With("appointment_id", appointmentID)
	log.Info("document processor started", "files", len(files))

	for i := range files {
		file := files[i]
		outcome := p.processFile(ctx, file)
		if err := p.persist(ctx, outcome); err != nil {
			span.RecordError(err)
			return result, err
		}
		p.metrics.ObserveFile(string(file.FileType), outcome.OK)
		if outcome.OK {
			result.Succeeded++
			log.Info("file extracted", "file_id", file.ID, "file_type", file.FileType, "duration_ms", outcome.Duration.Milliseconds())
		} else {
			result.Failed++
			log.Warn("file extraction failed", "file_id", file.ID, "file_type", file.FileType, "error", outcome.Error)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	span.SetAttributes(attribute.Int("files.succeeded", result.Succeeded), attribute.Int("files.failed", result.Failed))
	log.Info("document processor finished", "succeeded", result.Succeeded, "failed", result.Failed)
	return result, nil
}

func withoutFiles(files []intake.PatientFile, skip []string) []intake.PatientFile {
	if len(skip) == 0 {
		return files
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, id := range skip {
		skipped[id] = struct{}{}
	}
	kept := files[:0]
	for _, f := range files {
		if _, ok := skipped[f.ID]; !ok {
			kept = append(kept, f)
		}
	}
	return kept
}

func (p *Processor) processFile(ctx context.Context, file intake.PatientFile) FileOutcome {
	start := time.Now()
	outcome := FileOutcome{FileID: file.ID, FileName: file.FileName, FileType: file.FileType}

	text, err := p.extract(ctx, file)
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.err = err
		outcome.Error = err.Error()
		return outcome
	}
	outcome.OK = true
	outcome.text = text
	return outcome
}

func (p *Processor) extract(ctx context.Context, file intake.PatientFile) (string, error) {
	switch file.FileType {
	case intake.FileTypeDocument, intake.FileTypeImage:
	default:
		return "", &intake.UnsupportedFileTypeError{FileID: file.ID, FileType: file.FileType}
	}
	if p.maxBytes > 0 && file.SizeBytes > p.maxBytes {
		return "", &intake.OversizeFileError{Path: file.FilePath, Size: file.SizeBytes, Limit: p.maxBytes}
	}

	data, err := p.blobs.Fetch(ctx, file.FilePath)
	if err != nil {
		return "", err
	}
	doc := aiservice.Document{Name: file.FileName, MIMEType: mimeTypeFor(file), Data: data}

	if file.FileType == intake.FileTypeImage {
		return p.images.AnalyzeImage(ctx, doc)
	}
	return p.documents.ExtractDocument(ctx, doc)
}

func (p *Processor) persist(ctx context.Context, outcome FileOutcome) error {
	if outcome.OK {
		if err := p.files.MarkFileProcessed(ctx, outcome.FileID, outcome.text); err != nil {
			return fmt.Errorf("extraction: record text for file %s: %w", outcome.FileID, err)
		}
		return nil
	}
	if err := p.files.MarkFileFailed(ctx, outcome.FileID, truncate(outcome.Error, maxErrorLen)); err != nil {
		return fmt.Errorf("extraction: record failure for file %s: %w", outcome.FileID, err)
	}
	return nil
}

const maxErrorLen = 1000

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func mimeTypeFor(file intake.PatientFile) string {
	if file.MIMEType != "" {
		return file.MIMEType
	}
	switch strings.ToLower(path.Ext(file.FileName)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	}
	if file.FileType == intake.FileTypeImage {
		return "image/jpeg"
	}
	return "application/pdf"
}
