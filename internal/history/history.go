// Package history records extracted receipt totals.
//
// A Sink only appends; a Reader lists what was appended in insertion order.
// Backends:
//   - memory: process (or HTTP session) lifetime
//   - file: one "%.2f" line per total
//   - sheets: Google Sheets rows of [timestamp, total]
//   - postgres: receipt_totals table through gorm, amounts in cents
//   - redis: RPUSH of "%.2f" strings under a list key
package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Backend names accepted by New.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSheets   = "sheets"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

var (
	// ErrUnknownBackend is returned by New for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown history backend")

	// ErrInvalidConfiguration is returned when a backend is configured incompletely.
	ErrInvalidConfiguration = errors.New("invalid history configuration")
)

// Sink receives extracted totals.
type Sink interface {
	Append(ctx context.Context, total float64) error
}

// Reader lists recorded totals in the order they were appended.
type Reader interface {
	List(ctx context.Context) ([]float64, error)
}

// Store is a Sink that can also be read back.
type Store interface {
	Sink
	Reader
	Close() error
}

// Config selects and configures a history backend.
type Config struct {
	Backend string

	// FilePath is used by the file backend.
	FilePath string

	// SheetURL and Worksheet are used by the sheets backend.
	SheetURL  string
	Worksheet string
	// CredentialsJSON or CredentialsFile authenticate the sheets backend.
	CredentialsJSON string
	CredentialsFile string

	// DatabaseURL is the postgres DSN.
	DatabaseURL string

	// RedisURL and RedisKey are used by the redis backend.
	RedisURL string
	RedisKey string
}

// New opens the store named by cfg.Backend. An empty backend selects memory.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("%w: HISTORY_FILE is required for the file backend", ErrInvalidConfiguration)
		}
		return NewFile(cfg.FilePath), nil
	case BackendSheets:
		if cfg.SheetURL == "" {
			return nil, fmt.Errorf("%w: GOOGLE_SHEET_URL is required for the sheets backend", ErrInvalidConfiguration)
		}
		return NewSheets(ctx, cfg.SheetURL, cfg.Worksheet, cfg.CredentialsJSON, cfg.CredentialsFile)
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("%w: DATABASE_URL is required for the postgres backend", ErrInvalidConfiguration)
		}
		return NewPostgres(cfg.DatabaseURL)
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("%w: REDIS_URL is required for the redis backend", ErrInvalidConfiguration)
		}
		return NewRedis(ctx, cfg.RedisURL, cfg.RedisKey)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Round2 rounds a total to cents, the precision every backend stores.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromCents(c int64) float64 {
	return float64(c) / 100
}
