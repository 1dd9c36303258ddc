package ocr

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// PageRenderer rasterizes every page of a PDF into PNG files inside outDir.
// Implementations are interchangeable; the extractor picks one at startup and
// never branches on which backend is active.
type PageRenderer interface {
	Name() string
	RenderPages(ctx context.Context, path, outDir string, dpi int) ([]string, error)
}

// for stubbing binary probes in tests
var lookPath = exec.LookPath

// DetectRenderer probes for a rasterizer binary once and returns the first one
// available: poppler's pdftoppm, then mupdf's mutool.
func DetectRenderer(cfg Config, r Runner) (PageRenderer, error) {
	if _, err := lookPath(cfg.Pdftoppm); err == nil {
		return &popplerRenderer{bin: cfg.Pdftoppm, runner: r}, nil
	}
	if _, err := lookPath(cfg.Mutool); err == nil {
		return &mupdfRenderer{bin: cfg.Mutool, runner: r}, nil
	}
	return nil, fmt.Errorf("no PDF renderer found: tried %q and %q", cfg.Pdftoppm, cfg.Mutool)
}

type popplerRenderer struct {
	bin    string
	runner Runner
}

func (p *popplerRenderer) Name() string { return "pdftoppm" }

func (p *popplerRenderer) RenderPages(ctx context.Context, path, outDir string, dpi int) ([]string, error) {
	prefix := filepath.Join(outDir, "page")
	// pdftoppm -r <dpi> -png <in.pdf> <outDir/page>
	_, errb, err := p.runner.Run(ctx, p.bin, "-r", strconv.Itoa(dpi), "-png", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}
	matches, _ := filepath.Glob(prefix + "-*.png")
	sortPages(matches)
	return matches, nil
}

type mupdfRenderer struct {
	bin    string
	runner Runner
}

func (m *mupdfRenderer) Name() string { return "mutool" }

func (m *mupdfRenderer) RenderPages(ctx context.Context, path, outDir string, dpi int) ([]string, error) {
	out := filepath.Join(outDir, "page-%d.png")
	// mutool draw -r <dpi> -o <outDir/page-%d.png> <in.pdf>
	_, errb, err := m.runner.Run(ctx, m.bin, "draw", "-r", strconv.Itoa(dpi), "-o", out, path)
	if err != nil {
		return nil, fmt.Errorf("mutool draw: %w: %s", err, truncate(string(errb), 512))
	}
	matches, _ := filepath.Glob(filepath.Join(outDir, "page-*.png"))
	sortPages(matches)
	return matches, nil
}

var rePageNum = regexp.MustCompile(`-(\d+)\.png$`)

// sortPages orders rendered files by page number. Lexicographic order is not
// enough: mutool does not zero-pad, so page-10 would sort before page-2.
func sortPages(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		return pageNum(paths[i]) < pageNum(paths[j])
	})
}

func pageNum(path string) int {
	m := rePageNum.FindStringSubmatch(path)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
