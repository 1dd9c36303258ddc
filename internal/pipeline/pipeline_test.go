package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasiliev/invoice-auditor/internal/common"
	"github.com/avasiliev/invoice-auditor/internal/invoice"
	"github.com/avasiliev/invoice-auditor/internal/ocr"
)

type stubExtractor struct {
	res ocr.ExtractionResult
	err error
}

func (s *stubExtractor) Extract(context.Context, string) (ocr.ExtractionResult, error) {
	return s.res, s.err
}

type stubAuditor struct {
	gotText string
	res     invoice.Result
	err     error
}

func (s *stubAuditor) Audit(_ context.Context, text string) (invoice.Result, error) {
	s.gotText = text
	return s.res, s.err
}

func testPipeline(e *stubExtractor, a *stubAuditor) *Pipeline {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(e, a, invoice.NewValidator(log), log)
}

func TestRunNormalizesBeforeAudit(t *testing.T) {
	raw := "сч ё т  №  42  о т  01.01.2024"
	num := "42"
	extractor := &stubExtractor{res: ocr.ExtractionResult{Text: raw, Method: "pdf-text", Pages: 1}}
	auditor := &stubAuditor{res: invoice.Result{Fields: &invoice.Fields{InvoiceNumber: &num}}}

	res, err := testPipeline(extractor, auditor).Run(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, ocr.Normalize(raw), auditor.gotText)
	require.NotNil(t, res.Fields)
	assert.Equal(t, "42", *res.Fields.InvoiceNumber)
}

func TestRunExtractionErrorPropagates(t *testing.T) {
	extractor := &stubExtractor{err: common.NewAppError("EXTRACTION_FAILED", "blank", common.ErrExtraction)}
	auditor := &stubAuditor{}

	_, err := testPipeline(extractor, auditor).Run(context.Background(), "doc.pdf")
	assert.ErrorIs(t, err, common.ErrExtraction)
	assert.ErrorContains(t, err, "extract document")
	assert.Empty(t, auditor.gotText, "no completion call without text")
}

func TestRunValidationNeverBlocksResult(t *testing.T) {
	amount, vat, rate := 100.0, 25.0, 20.0 // deliberate VAT mismatch
	fields := &invoice.Fields{Amount: &amount, VAT: &vat, VATRate: &rate}
	extractor := &stubExtractor{res: ocr.ExtractionResult{Text: "текст", Method: "pdf-text"}}
	auditor := &stubAuditor{res: invoice.Result{Fields: fields}}

	res, err := testPipeline(extractor, auditor).Run(context.Background(), "doc.pdf")
	require.NoError(t, err)
	require.NotNil(t, res.Fields)
	assert.Equal(t, 25.0, *res.Fields.VAT, "mismatch is reported, record returned as-is")
}

func TestRunDiagnosticPassesThrough(t *testing.T) {
	diag := &invoice.Diagnostic{Error: "JSON parse failed", RawResponse: "noise"}
	extractor := &stubExtractor{res: ocr.ExtractionResult{Text: "текст", Method: "pdf-ocr"}}
	auditor := &stubAuditor{res: invoice.Result{Diagnostic: diag}}

	res, err := testPipeline(extractor, auditor).Run(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Nil(t, res.Fields)
	require.NotNil(t, res.Diagnostic)
	assert.Equal(t, "noise", res.Diagnostic.RawResponse)
}

func TestRunAuditErrorPropagates(t *testing.T) {
	extractor := &stubExtractor{res: ocr.ExtractionResult{Text: "текст", Method: "pdf-text"}}
	auditor := &stubAuditor{err: errors.Join(common.ErrExhausted, common.ErrTimeout)}

	_, err := testPipeline(extractor, auditor).Run(context.Background(), "doc.pdf")
	assert.ErrorIs(t, err, common.ErrExhausted)
	assert.ErrorContains(t, err, "audit document")
}
