package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortPagesNumeric(t *testing.T) {
	paths := []string{
		"/tmp/x/page-10.png",
		"/tmp/x/page-2.png",
		"/tmp/x/page-1.png",
	}
	sortPages(paths)
	assert.Equal(t, []string{
		"/tmp/x/page-1.png",
		"/tmp/x/page-2.png",
		"/tmp/x/page-10.png",
	}, paths)
}

func TestDetectRendererPrefersPoppler(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()

	cfg := Config{Pdftoppm: "pdftoppm", Mutool: "mutool"}

	lookPath = func(string) (string, error) { return "/usr/bin/fake", nil }
	r, err := DetectRenderer(cfg, newExecRunner(nil))
	assert.NoError(t, err)
	assert.Equal(t, "pdftoppm", r.Name())

	lookPath = func(name string) (string, error) {
		if name == "mutool" {
			return "/usr/bin/mutool", nil
		}
		return "", assert.AnError
	}
	r, err = DetectRenderer(cfg, newExecRunner(nil))
	assert.NoError(t, err)
	assert.Equal(t, "mutool", r.Name())

	lookPath = func(string) (string, error) { return "", assert.AnError }
	_, err = DetectRenderer(cfg, newExecRunner(nil))
	assert.Error(t, err)
}
