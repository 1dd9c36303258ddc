package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasiliev/invoice-auditor/internal/common"
)

type stubRunner struct {
	stdout string
	err    error
	calls  []string
}

func (s *stubRunner) Run(_ context.Context, name string, _ ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, name)
	return []byte(s.stdout), nil, s.err
}

// stubRenderer writes real (tiny) PNG pages so preprocessing can run on them.
type stubRenderer struct {
	pages int
	calls int
}

func (s *stubRenderer) Name() string { return "stub" }

func (s *stubRenderer) RenderPages(_ context.Context, _, outDir string, _ int) ([]string, error) {
	s.calls++
	var paths []string
	for i := 1; i <= s.pages; i++ {
		img := image.NewGray(image.Rect(0, 0, 16, 16))
		for p := range img.Pix {
			img.Pix[p] = 200
		}
		img.SetGray(8, 8, color.Gray{Y: 10})
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		path := filepath.Join(outDir, "page-"+strconv.Itoa(i)+".png")
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

type stubRecognizer struct {
	text  string
	calls int
}

func (s *stubRecognizer) Recognize(context.Context, []byte) (string, error) {
	s.calls++
	return s.text, nil
}

func testExtractor(runner *stubRunner, renderer *stubRenderer, recognizer *stubRecognizer) *Extractor {
	return &Extractor{
		cfg:        Config{Pdftotext: "pdftotext", Languages: "rus+eng", DPI: 150},
		runner:     runner,
		renderer:   renderer,
		recognizer: recognizer,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func fakePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 not a real pdf"), 0o644))
	return path
}

func TestExtractMissingFile(t *testing.T) {
	e := testExtractor(&stubRunner{}, &stubRenderer{}, &stubRecognizer{})
	_, err := e.Extract(context.Background(), "/nonexistent/doc.pdf")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestExtractStatErrorIsNotReportedAsMissing(t *testing.T) {
	// a path component that is a regular file makes stat fail with ENOTDIR
	bogus := filepath.Join(fakePDF(t), "inner.pdf")
	e := testExtractor(&stubRunner{}, &stubRenderer{}, &stubRecognizer{})

	_, err := e.Extract(context.Background(), bogus)
	assert.ErrorIs(t, err, common.ErrExtraction)
	assert.NotErrorIs(t, err, common.ErrNotFound)
}

func TestExtractEmbeddedTextSkipsRecognition(t *testing.T) {
	runner := &stubRunner{stdout: "Счет-фактура № 42\fстраница два"}
	renderer := &stubRenderer{pages: 2}
	recognizer := &stubRecognizer{text: "unused"}
	e := testExtractor(runner, renderer, recognizer)

	res, err := e.Extract(context.Background(), fakePDF(t))
	require.NoError(t, err)
	assert.Equal(t, "pdf-text", res.Method)
	assert.Contains(t, res.Text, "Счет-фактура № 42")
	assert.Contains(t, res.Text, "страница два")
	assert.Zero(t, renderer.calls, "renderer must not run when the text layer is non-blank")
	assert.Zero(t, recognizer.calls, "recognizer must not run when the text layer is non-blank")
}

func TestExtractFallsBackToRecognitionPerPage(t *testing.T) {
	runner := &stubRunner{stdout: " \f \f "} // three blank pages
	renderer := &stubRenderer{pages: 3}
	recognizer := &stubRecognizer{text: "recognized line"}
	e := testExtractor(runner, renderer, recognizer)

	res, err := e.Extract(context.Background(), fakePDF(t))
	require.NoError(t, err)
	assert.Equal(t, "pdf-ocr", res.Method)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 1, renderer.calls)
	assert.Equal(t, 3, recognizer.calls, "every page goes through recognition")
	assert.Contains(t, res.Text, "recognized line")
}

func TestExtractFailsWhenBothTiersBlank(t *testing.T) {
	runner := &stubRunner{stdout: ""}
	e := testExtractor(runner, &stubRenderer{pages: 1}, &stubRecognizer{text: "   "})

	_, err := e.Extract(context.Background(), fakePDF(t))
	assert.ErrorIs(t, err, common.ErrExtraction)
}

func TestExtractEmbeddedErrorStillFallsBack(t *testing.T) {
	runner := &stubRunner{err: errors.New("pdftotext exploded")}
	recognizer := &stubRecognizer{text: "salvaged"}
	e := testExtractor(runner, &stubRenderer{pages: 1}, recognizer)

	res, err := e.Extract(context.Background(), fakePDF(t))
	require.NoError(t, err)
	assert.Equal(t, "pdf-ocr", res.Method)
	assert.NotEmpty(t, res.Warnings)
}

func TestExtractMaxPagesCapsRecognition(t *testing.T) {
	runner := &stubRunner{stdout: ""}
	recognizer := &stubRecognizer{text: "page"}
	e := testExtractor(runner, &stubRenderer{pages: 5}, recognizer)
	e.cfg.MaxPages = 2

	res, err := e.Extract(context.Background(), fakePDF(t))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2, recognizer.calls)
}
