package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"receipts/internal/history"
	"receipts/internal/logger"
	"receipts/internal/ocr"
	"receipts/internal/rows"
	"receipts/internal/total"
)

type Config struct {
	// OCR Configuration
	OCREngine    string
	OCRLanguages []string
	OCRTimeout   time.Duration

	// Preprocessing Configuration
	PreprocessGrayscale bool
	PreprocessThreshold bool
	ThresholdLevel      int

	// Row Assembly Configuration
	RowYThreshold float64
	RowOrder      string

	// Total Extraction Configuration
	TotalFuzzyThreshold     int
	TotalMagnitudeThreshold float64
	TotalTailWindow         int
	TotalKeywords           []string

	// History Configuration
	HistoryBackend  string
	HistoryFile     string
	DatabaseURL     string
	RedisURL        string
	RedisHistoryKey string

	// Google Cloud Configuration
	GoogleCloudProject         string
	GoogleCloudLocation        string
	DocumentAIProcessorID      string
	DocumentAIProcessorVersion string
	GoogleCredentials          string
	GoogleCredentialsFile      string

	// Google Sheets Configuration
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// HTTP Configuration
	HTTPAddr      string
	MaxUploadSize int64

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		OCREngine:               ocr.EngineTesseract,
		OCRLanguages:            []string{"fr"},
		OCRTimeout:              60 * time.Second,
		PreprocessGrayscale:     true,
		ThresholdLevel:          ocr.DefaultThresholdLevel,
		RowYThreshold:           rows.DefaultYThreshold,
		RowOrder:                string(rows.OrderByX),
		TotalFuzzyThreshold:     total.DefaultFuzzyThreshold,
		TotalMagnitudeThreshold: total.DefaultMagnitudeThreshold,
		TotalTailWindow:         total.DefaultTailWindow,
		TotalKeywords:           append([]string(nil), total.DefaultKeywords...),
		HistoryBackend:          history.BackendFile,
		HistoryFile:             "totals.txt",
		RedisHistoryKey:         history.DefaultRedisKey,
		GoogleCloudLocation:     "us",
		GoogleSheetWorksheet:    history.DefaultWorksheet,
		HTTPAddr:                ":8080",
		MaxUploadSize:           ocr.MaxImageSizeBytes,
		LogLevel:                "info",
		LogFormat:               "console",
		LogTimeFormat:           "2006-01-02T15:04:05Z07:00",
		LogOutput:               "stderr",
	}
}

func Load() (*Config, error) {
	def := Default()
	config := &Config{
		OCREngine:                  getEnv("OCR_ENGINE", def.OCREngine),
		OCRLanguages:               getEnvList("OCR_LANGUAGES", def.OCRLanguages),
		PreprocessGrayscale:        getEnvBool("PREPROCESS_GRAYSCALE", def.PreprocessGrayscale),
		PreprocessThreshold:        getEnvBool("PREPROCESS_THRESHOLD", def.PreprocessThreshold),
		RowOrder:                   getEnv("ROW_ORDER", def.RowOrder),
		TotalKeywords:              getEnvList("TOTAL_KEYWORDS", def.TotalKeywords),
		HistoryBackend:             getEnv("HISTORY_BACKEND", def.HistoryBackend),
		HistoryFile:                getEnv("HISTORY_FILE", def.HistoryFile),
		DatabaseURL:                getEnv("DATABASE_URL", ""),
		RedisURL:                   getEnv("REDIS_URL", ""),
		RedisHistoryKey:            getEnv("REDIS_HISTORY_KEY", def.RedisHistoryKey),
		GoogleCloudProject:         getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:        getEnv("GOOGLE_CLOUD_LOCATION", def.GoogleCloudLocation),
		DocumentAIProcessorID:      getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocumentAIProcessorVersion: getEnv("DOCUMENT_AI_PROCESSOR_VERSION", ""),
		GoogleCredentials:          getEnv("GOOGLE_CREDENTIALS", ""),
		GoogleCredentialsFile:      getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		GoogleSheetURL:             getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet:       getEnv("GOOGLE_SHEET_WORKSHEET", def.GoogleSheetWorksheet),
		HTTPAddr:                   getEnv("HTTP_ADDR", def.HTTPAddr),
		LogLevel:                   getEnv("LOG_LEVEL", def.LogLevel),
		LogFormat:                  getEnv("LOG_FORMAT", def.LogFormat),
		LogTimeFormat:              getEnv("LOG_TIME_FORMAT", def.LogTimeFormat),
		LogOutput:                  getEnv("LOG_OUTPUT", def.LogOutput),
	}

	var err error
	if config.OCRTimeout, err = getEnvDuration("OCR_TIMEOUT", def.OCRTimeout); err != nil {
		return nil, err
	}
	if config.ThresholdLevel, err = getEnvInt("PREPROCESS_THRESHOLD_LEVEL", def.ThresholdLevel); err != nil {
		return nil, err
	}
	if config.RowYThreshold, err = getEnvFloat("ROW_Y_THRESHOLD", def.RowYThreshold); err != nil {
		return nil, err
	}
	if config.TotalFuzzyThreshold, err = getEnvInt("TOTAL_FUZZY_THRESHOLD", def.TotalFuzzyThreshold); err != nil {
		return nil, err
	}
	if config.TotalMagnitudeThreshold, err = getEnvFloat("TOTAL_MAGNITUDE_THRESHOLD", def.TotalMagnitudeThreshold); err != nil {
		return nil, err
	}
	if config.TotalTailWindow, err = getEnvInt("TOTAL_TAIL_WINDOW", def.TotalTailWindow); err != nil {
		return nil, err
	}
	var maxUpload int
	if maxUpload, err = getEnvInt("MAX_UPLOAD_SIZE", int(def.MaxUploadSize)); err != nil {
		return nil, err
	}
	config.MaxUploadSize = int64(maxUpload)

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks the configuration, e.g. after CLI flags were applied.
func (c *Config) Validate() error {
	return c.validate()
}

func (c *Config) validate() error {
	switch strings.ToLower(c.OCREngine) {
	case ocr.EngineTesseract, ocr.EngineVision:
	case ocr.EngineDocumentAI:
		if c.GoogleCloudProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the documentai engine")
		}
		if c.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required for the documentai engine")
		}
	default:
		return fmt.Errorf("OCR_ENGINE must be one of %s, got %q", strings.Join(ocr.Engines(), ", "), c.OCREngine)
	}

	if c.RowYThreshold < 0 {
		return fmt.Errorf("ROW_Y_THRESHOLD must not be negative")
	}
	if _, err := rows.ParseMemberOrder(c.RowOrder); err != nil {
		return fmt.Errorf("ROW_ORDER: %w", err)
	}
	if c.TotalFuzzyThreshold < 0 || c.TotalFuzzyThreshold > 100 {
		return fmt.Errorf("TOTAL_FUZZY_THRESHOLD must be between 0 and 100")
	}
	if c.TotalTailWindow < 0 {
		return fmt.Errorf("TOTAL_TAIL_WINDOW must not be negative")
	}
	if c.ThresholdLevel < 1 || c.ThresholdLevel > 255 {
		return fmt.Errorf("PREPROCESS_THRESHOLD_LEVEL must be between 1 and 255")
	}

	switch strings.ToLower(c.HistoryBackend) {
	case history.BackendMemory:
	case history.BackendFile:
		if c.HistoryFile == "" {
			return fmt.Errorf("HISTORY_FILE is required for the file history backend")
		}
	case history.BackendSheets:
		if c.GoogleSheetURL == "" {
			return fmt.Errorf("GOOGLE_SHEET_URL is required for the sheets history backend")
		}
	case history.BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres history backend")
		}
	case history.BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis history backend")
		}
	default:
		return fmt.Errorf("HISTORY_BACKEND must be one of memory, file, sheets, postgres, redis, got %q", c.HistoryBackend)
	}

	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// RowConfig returns the row assembler configuration.
func (c *Config) RowConfig() rows.Config {
	order, err := rows.ParseMemberOrder(c.RowOrder)
	if err != nil {
		order = rows.OrderByX
	}
	return rows.Config{YThreshold: c.RowYThreshold, Order: order}
}

// TotalConfig returns the total extractor configuration.
func (c *Config) TotalConfig() total.Config {
	cfg := total.DefaultConfig()
	if len(c.TotalKeywords) > 0 {
		cfg.Keywords = c.TotalKeywords
	}
	cfg.FuzzyThreshold = c.TotalFuzzyThreshold
	cfg.MagnitudeThreshold = c.TotalMagnitudeThreshold
	cfg.TailWindow = c.TotalTailWindow
	return cfg
}

// PreprocessOptions returns the image preprocessing options.
func (c *Config) PreprocessOptions() ocr.PreprocessOptions {
	return ocr.PreprocessOptions{
		Grayscale:      c.PreprocessGrayscale,
		Threshold:      c.PreprocessThreshold,
		ThresholdLevel: uint8(c.ThresholdLevel),
	}
}

// Credentials returns the Google credentials shared by the Google adapters.
func (c *Config) Credentials() ocr.Credentials {
	return ocr.Credentials{JSON: c.GoogleCredentials, File: c.GoogleCredentialsFile}
}

// EngineConfig returns the OCR engine configuration.
func (c *Config) EngineConfig() ocr.EngineConfig {
	return ocr.EngineConfig{
		Name:        c.OCREngine,
		Languages:   c.OCRLanguages,
		Credentials: c.Credentials(),
		DocumentAI: ocr.DocumentAIConfig{
			ProjectID:        c.GoogleCloudProject,
			Location:         c.GoogleCloudLocation,
			ProcessorID:      c.DocumentAIProcessorID,
			ProcessorVersion: c.DocumentAIProcessorVersion,
			Timeout:          c.OCRTimeout,
			Credentials:      c.Credentials(),
		},
	}
}

// HistoryConfig returns the history backend configuration.
func (c *Config) HistoryConfig() history.Config {
	return history.Config{
		Backend:         c.HistoryBackend,
		FilePath:        c.HistoryFile,
		SheetURL:        c.GoogleSheetURL,
		Worksheet:       c.GoogleSheetWorksheet,
		CredentialsJSON: c.GoogleCredentials,
		CredentialsFile: c.GoogleCredentialsFile,
		DatabaseURL:     c.DatabaseURL,
		RedisURL:        c.RedisURL,
		RedisKey:        c.RedisHistoryKey,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s: %w", key, err)
	}
	return d, nil
}
