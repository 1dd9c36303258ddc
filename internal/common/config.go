package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	OCR      OCRConfig
	GigaChat GigaChatConfig
}

// OCRConfig holds text-extraction configuration
type OCRConfig struct {
	Pdftotext   string
	Pdftoppm    string
	Mutool      string
	Languages   string // tesseract language list, e.g. "rus+eng"
	DPI         int
	MaxPages    int
	TessdataDir string
}

// GigaChatConfig holds the external completion service configuration
type GigaChatConfig struct {
	AuthURL     string
	APIURL      string
	AuthKey     string
	Scope       string
	Model       string
	Temperature float32
	MaxTokens   int
	AuthTimeout time.Duration
	Timeout     time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		OCR: OCRConfig{
			Pdftotext:   getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:    getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Mutool:      getEnv("MUTOOL_BIN", "mutool"),
			Languages:   getEnv("TESSERACT_LANG", "rus+eng"),
			DPI:         getEnvAsInt("PDF_DPI", 150),
			MaxPages:    getEnvAsInt("PDF_MAX_PAGES", 0),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
		},
		GigaChat: GigaChatConfig{
			AuthURL:     getEnv("GIGACHAT_AUTH_URL", "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"),
			APIURL:      getEnv("GIGACHAT_API_URL", "https://gigachat.devices.sberbank.ru/api/v1/chat/completions"),
			AuthKey:     getEnv("GIGACHAT_AUTH_KEY", ""),
			Scope:       getEnv("GIGACHAT_SCOPE", "GIGACHAT_API_PERS"),
			Model:       getEnv("GIGACHAT_MODEL", "GigaChat"),
			Temperature: getEnvAsFloat32("GIGACHAT_TEMPERATURE", 0.1),
			MaxTokens:   getEnvAsInt("GIGACHAT_MAX_TOKENS", 1024),
			AuthTimeout: getEnvAsDuration("GIGACHAT_AUTH_TIMEOUT", 30*time.Second),
			Timeout:     getEnvAsDuration("GIGACHAT_TIMEOUT", 60*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.GigaChat.AuthKey == "" {
		return NewAppError("CONFIG_ERROR", "GIGACHAT_AUTH_KEY is required", ErrAuth)
	}
	if c.OCR.DPI <= 0 {
		return NewAppError("CONFIG_ERROR", "PDF_DPI must be positive", ErrExtraction)
	}
	return nil
}
