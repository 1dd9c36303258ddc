package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Recognizer turns a prepared page image (encoded PNG) into text.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

// TesseractRecognizer recognizes text through the gosseract Tesseract binding.
// A fresh client is created per page; gosseract clients are not safe to reuse
// across differently-sized images.
type TesseractRecognizer struct {
	languages   []string
	dpi         int
	tessdataDir string
}

func NewTesseractRecognizer(languages string, dpi int, tessdataDir string) *TesseractRecognizer {
	langs := strings.Split(languages, "+")
	if len(langs) == 0 || langs[0] == "" {
		langs = []string{"rus", "eng"}
	}
	return &TesseractRecognizer{languages: langs, dpi: dpi, tessdataDir: tessdataDir}
}

func (t *TesseractRecognizer) Recognize(ctx context.Context, png []byte) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	c := gosseract.NewClient()
	defer func() {
		_ = c.Close()
	}()

	if t.tessdataDir != "" {
		if err := c.SetTessdataPrefix(t.tessdataDir); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if err := c.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	// PSM 6: assume a single uniform block of text, the layout of a rendered
	// invoice page.
	if err := c.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("set psm: %w", err)
	}
	if t.dpi > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(t.dpi)); err != nil {
			return "", fmt.Errorf("set dpi: %w", err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
