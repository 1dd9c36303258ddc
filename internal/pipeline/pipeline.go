package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/avasiliev/invoice-auditor/internal/common"
	"github.com/avasiliev/invoice-auditor/internal/invoice"
	"github.com/avasiliev/invoice-auditor/internal/ocr"
)

// TextExtractor acquires raw text from a document path.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (ocr.ExtractionResult, error)
}

// Auditor submits normalized text to the completion service and returns the
// recovered record or a diagnostic.
type Auditor interface {
	Audit(ctx context.Context, text string) (invoice.Result, error)
}

// Pipeline runs one document through acquisition, normalization, completion,
// recovery, and validation. Single-threaded, one document per invocation.
type Pipeline struct {
	Extractor TextExtractor
	Client    Auditor
	Validator *invoice.Validator
	Log       *slog.Logger
}

func New(extractor TextExtractor, client Auditor, validator *invoice.Validator, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{Extractor: extractor, Client: client, Validator: validator, Log: log}
}

// Run audits a single document and returns the final record. Validation
// mismatches are logged, never fatal; the record is returned as recovered.
func (p *Pipeline) Run(ctx context.Context, path string) (invoice.Result, error) {
	start := time.Now()

	res, err := p.Extractor.Extract(ctx, path)
	if err != nil {
		return invoice.Result{}, common.WrapError(err, "extract document")
	}
	p.Log.Info("pipeline.extracted", "path", path, "method", res.Method,
		"pages", res.Pages, "bytes", len(res.Text), "warnings", len(res.Warnings))

	text := ocr.Normalize(res.Text)

	out, err := p.Client.Audit(ctx, text)
	if err != nil {
		return invoice.Result{}, common.WrapError(err, "audit document")
	}

	if out.Fields != nil {
		checks := p.Validator.Validate(*out.Fields)
		failed := 0
		for _, c := range checks {
			if !c.Passed {
				failed++
			}
		}
		p.Log.Info("pipeline.validated", "checks", len(checks), "failed", failed)
	} else {
		p.Log.Warn("pipeline.diagnostic_result", "path", path)
	}

	p.Log.Info("pipeline.done", "path", path, "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}
