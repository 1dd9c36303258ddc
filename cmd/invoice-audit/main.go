package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/avasiliev/invoice-auditor/internal/common"
	"github.com/avasiliev/invoice-auditor/internal/gigachat"
	"github.com/avasiliev/invoice-auditor/internal/invoice"
	"github.com/avasiliev/invoice-auditor/internal/ocr"
	"github.com/avasiliev/invoice-auditor/internal/pipeline"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	pdfPath := os.Getenv("PDF_FILE")
	if len(os.Args) > 1 {
		pdfPath = os.Args[1]
	}
	if pdfPath == "" {
		logger.Error("usage", "cmd", "invoice-audit <invoice.pdf>")
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if _, err := exec.LookPath(cfg.OCR.Pdftotext); err != nil {
		logger.Warn("pdftotext not found; embedded text extraction will fail over to recognition",
			"bin", cfg.OCR.Pdftotext)
	}

	extractor, err := ocr.NewExtractor(ocr.Config{
		Pdftotext:   cfg.OCR.Pdftotext,
		Pdftoppm:    cfg.OCR.Pdftoppm,
		Mutool:      cfg.OCR.Mutool,
		Languages:   cfg.OCR.Languages,
		DPI:         cfg.OCR.DPI,
		MaxPages:    cfg.OCR.MaxPages,
		TessdataDir: cfg.OCR.TessdataDir,
	}, logger)
	if err != nil {
		logger.Error("ocr setup failed", "error", err)
		os.Exit(1)
	}

	auth := gigachat.NewAuthClient(gigachat.AuthConfig{
		URL:     cfg.GigaChat.AuthURL,
		AuthKey: cfg.GigaChat.AuthKey,
		Scope:   cfg.GigaChat.Scope,
		Timeout: cfg.GigaChat.AuthTimeout,
	}, logger)

	client := gigachat.NewClient(gigachat.Config{
		URL:         cfg.GigaChat.APIURL,
		Model:       cfg.GigaChat.Model,
		Temperature: cfg.GigaChat.Temperature,
		MaxTokens:   cfg.GigaChat.MaxTokens,
		Timeout:     cfg.GigaChat.Timeout,
	}, auth, invoice.NewParser(logger), logger)

	p := pipeline.New(extractor, client, invoice.NewValidator(logger), logger)

	result, err := p.Run(context.Background(), pdfPath)
	if err != nil {
		logger.Error("audit failed", "path", pdfPath, "error", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Error("encode result", "error", err)
		os.Exit(1)
	}

	outPath := strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + "_audit_result.json"
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		logger.Error("write result", "path", outPath, "error", err)
		os.Exit(1)
	}
	logger.Info("audit complete", "path", pdfPath, "result", outPath)
}
