package history

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"receipts/internal/logger"
)

// File appends one total per line to a text file.
type File struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

// NewFile returns a store backed by path. The file is created on first append.
func NewFile(path string) *File {
	return &File{
		path: path,
		log:  logger.WithComponent("history-file"),
	}
}

// Append implements Sink.
func (f *File) Append(_ context.Context, total float64) error {
	const op = "File.Append"

	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%s: failed to open %s: %w", op, f.path, err)
	}
	if _, err := fmt.Fprintf(fh, "%.2f\n", total); err != nil {
		fh.Close()
		return fmt.Errorf("%s: failed to write %s: %w", op, f.path, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("%s: failed to close %s: %w", op, f.path, err)
	}

	f.log.Debug().Float64("total", total).Str("path", f.path).Msg("Recorded total")
	return nil
}

// List implements Reader. A missing file lists as empty; unparsable lines are skipped.
func (f *File) List(_ context.Context) ([]float64, error) {
	const op = "File.List"

	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []float64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open %s: %w", op, f.path, err)
	}
	defer fh.Close()

	totals := []float64{}
	scanner := bufio.NewScanner(fh)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			f.log.Warn().Int("line", lineNo).Str("value", line).Msg("Skipping unparsable history line")
			continue
		}
		totals = append(totals, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: failed to read %s: %w", op, f.path, err)
	}
	return totals, nil
}

// Close implements Store.
func (f *File) Close() error { return nil }
