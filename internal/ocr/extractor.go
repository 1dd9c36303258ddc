package ocr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/avasiliev/invoice-auditor/internal/common"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Mutool    string // binary name or absolute path; if empty -> "mutool"

	Languages   string // tesseract language list, default "rus+eng"
	DPI         int    // rasterization DPI for scanned PDFs, default 150
	MaxPages    int    // 0 = no limit
	TessdataDir string
}

type ExtractionResult struct {
	Text     string
	Pages    int
	Method   string // "pdf-text" | "pdf-ocr"
	Language string
	Duration time.Duration
	Warnings []string
}

// Extractor acquires text from a PDF: the embedded text layer first, then a
// render-and-recognize fallback when the document is a scan.
type Extractor struct {
	cfg        Config
	runner     Runner
	renderer   PageRenderer
	recognizer Recognizer
	logger     *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Mutool == "" {
		cfg.Mutool = "mutool"
	}
	if cfg.Languages == "" {
		cfg.Languages = "rus+eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}

	runner := newExecRunner(logger)
	renderer, err := DetectRenderer(cfg, runner)
	if err != nil {
		return nil, err
	}
	logger.Info("ocr.renderer.selected", "backend", renderer.Name(), "dpi", cfg.DPI)

	return &Extractor{
		cfg:        cfg,
		runner:     runner,
		renderer:   renderer,
		recognizer: NewTesseractRecognizer(cfg.Languages, cfg.DPI, cfg.TessdataDir),
		logger:     logger,
	}, nil
}

// Extract returns non-empty text from the document or fails. Embedded text
// wins; recognition runs only when every page's text layer is blank.
func (e *Extractor) Extract(ctx context.Context, path string) (ExtractionResult, error) {
	start := time.Now()

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ExtractionResult{}, common.NewAppError("NOT_FOUND", fmt.Sprintf("document %q", path), common.ErrNotFound)
		}
		// permission or I/O failure, not a missing document
		return ExtractionResult{}, common.NewAppError("EXTRACTION_FAILED", fmt.Sprintf("stat %q", path), fmt.Errorf("%w: %w", common.ErrExtraction, err))
	}

	res := ExtractionResult{Language: e.cfg.Languages}

	pageCount, err := api.PageCountFile(path)
	if err != nil {
		// advisory only; a damaged xref may still yield text downstream
		e.logger.Warn("ocr.pagecount_failed", "path", path, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("page count: %v", err))
	} else {
		e.logger.Debug("ocr.extract.start", "path", path, "pages", pageCount)
	}

	text, warns, err := e.embeddedText(ctx, path)
	res.Warnings = append(res.Warnings, warns...)
	if err != nil {
		res.Warnings = append(res.Warnings, err.Error())
	}
	if strings.TrimSpace(text) != "" {
		res.Text = text
		res.Pages = pageCount
		res.Method = "pdf-text"
		res.Duration = time.Since(start)
		e.logger.Info("ocr.extract.ok", "method", res.Method, "pages", res.Pages, "bytes", len(res.Text))
		return res, nil
	}

	e.logger.Info("ocr.extract.fallback", "path", path, "backend", e.renderer.Name())
	text, pages, warns, err := e.recognizePages(ctx, path)
	res.Warnings = append(res.Warnings, warns...)
	if err != nil {
		return res, common.NewAppError("EXTRACTION_FAILED", "recognition fallback", fmt.Errorf("%w: %w", common.ErrExtraction, err))
	}
	if strings.TrimSpace(text) == "" {
		return res, common.NewAppError("EXTRACTION_FAILED", "no text in embedded layer or recognition output", common.ErrExtraction)
	}

	res.Text = text
	res.Pages = pages
	res.Method = "pdf-ocr"
	res.Duration = time.Since(start)
	e.logger.Info("ocr.extract.ok", "method", res.Method, "pages", res.Pages, "bytes", len(res.Text))
	return res, nil
}

// embeddedText pulls the native text layer, keeping only non-blank pages.
func (e *Extractor) embeddedText(ctx context.Context, path string) (string, []string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", []string{string(errb)}, fmt.Errorf("pdftotext: %w", err)
	}
	// pdftotext separates pages with a form-feed
	var b strings.Builder
	for _, page := range strings.Split(string(out), "\f") {
		if strings.TrimSpace(page) == "" {
			continue
		}
		b.WriteString(page)
		b.WriteString("\n")
	}
	return b.String(), nil, nil
}

// recognizePages renders every page, preprocesses it, and recognizes it.
func (e *Extractor) recognizePages(ctx context.Context, path string) (string, int, []string, error) {
	tmpDir, err := os.MkdirTemp("", "ia-ocr-*")
	if err != nil {
		return "", 0, nil, err
	}
	defer func() {
		if rerr := os.RemoveAll(tmpDir); rerr != nil {
			e.logger.Warn("ocr.tmpdir_cleanup_failed", "dir", tmpDir, "error", rerr)
		}
	}()

	pages, err := e.renderer.RenderPages(ctx, path, tmpDir, e.cfg.DPI)
	if err != nil {
		return "", 0, nil, err
	}
	if e.cfg.MaxPages > 0 && len(pages) > e.cfg.MaxPages {
		pages = pages[:e.cfg.MaxPages]
	}
	if len(pages) == 0 {
		return "", 0, []string{"renderer produced no images"}, fmt.Errorf("no pages rendered")
	}

	var b strings.Builder
	var warns []string
	for i, img := range pages {
		pageStart := time.Now()
		txt, err := e.recognizePage(ctx, img)
		if err != nil {
			warns = append(warns, fmt.Sprintf("page %d: %v", i+1, err))
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n") // keep a clear page break marker
		}
		b.WriteString(txt)
		e.logger.Debug("ocr.page.ok", "page", i+1, "bytes", len(txt), "duration_ms", time.Since(pageStart).Milliseconds())
	}
	return b.String(), len(pages), warns, nil
}

func (e *Extractor) recognizePage(ctx context.Context, imgPath string) (string, error) {
	data, err := os.ReadFile(imgPath)
	if err != nil {
		return "", err
	}
	prepped, err := PreprocessPNG(data)
	if err != nil {
		return "", err
	}
	return e.recognizer.Recognize(ctx, prepped)
}
