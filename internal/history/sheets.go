package history

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"receipts/internal/logger"
)

// DefaultWorksheet is the worksheet used when none is configured.
const DefaultWorksheet = "Totals"

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// Sheets records totals as [timestamp, total] rows of a Google Sheets worksheet.
type Sheets struct {
	sheetsService *sheets.Service
	spreadsheetID string
	worksheet     string
	log           zerolog.Logger

	mu    sync.Mutex
	ready bool
	now   func() time.Time
}

// NewSheets creates a Sheets store for the spreadsheet at sheetURL. Credentials
// come from credsJSON, else the file at credsFile.
func NewSheets(ctx context.Context, sheetURL, worksheet, credsJSON, credsFile string) (*Sheets, error) {
	const op = "NewSheets"

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}

	var creds []byte
	switch {
	case credsJSON != "":
		creds = []byte(credsJSON)
	case credsFile != "":
		creds, err = os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
	default:
		return nil, fmt.Errorf("%s: %w: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set", op, ErrInvalidConfiguration)
	}

	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	return newSheets(svc, spreadsheetID, worksheet), nil
}

func newSheets(svc *sheets.Service, spreadsheetID, worksheet string) *Sheets {
	if worksheet == "" {
		worksheet = DefaultWorksheet
	}
	return &Sheets{
		sheetsService: svc,
		spreadsheetID: spreadsheetID,
		worksheet:     worksheet,
		log:           logger.WithComponent("history-sheets"),
		now:           time.Now,
	}
}

// extractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL
func extractSpreadsheetID(url string) (string, error) {
	matches := spreadsheetIDPattern.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", fmt.Errorf("invalid Google Sheets URL format")
	}
	return matches[1], nil
}

// Append implements Sink.
func (s *Sheets) Append(ctx context.Context, total float64) error {
	const op = "Sheets.Append"

	if err := s.ensureReady(ctx); err != nil {
		return fmt.Errorf("%s: failed to ensure sheet exists: %w", op, err)
	}

	values := [][]interface{}{{s.now().Format("2006-01-02 15:04:05"), Round2(total)}}
	_, err := s.sheetsService.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.worksheet+"!A:B",
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to append values to sheet: %w", op, err)
	}

	s.log.Debug().Float64("total", total).Str("sheet", s.worksheet).Msg("Recorded total")
	return nil
}

// List implements Reader. The header row and cells that are not numbers are skipped.
func (s *Sheets) List(ctx context.Context) ([]float64, error) {
	const op = "Sheets.List"

	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, s.worksheet+"!B2:B").
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read range: %w", op, err)
	}

	totals := []float64{}
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		switch v := row[0].(type) {
		case float64:
			totals = append(totals, v)
		case string:
			if f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", "."), 64); err == nil {
				totals = append(totals, f)
			}
		}
	}
	return totals, nil
}

// ensureReady runs ensureSheetWithHeaders until it succeeds once.
func (s *Sheets) ensureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := s.ensureSheetWithHeaders(ctx); err != nil {
		return err
	}
	s.ready = true
	return nil
}

// ensureSheetWithHeaders ensures the worksheet exists and has a header row.
func (s *Sheets) ensureSheetWithHeaders(ctx context.Context) error {
	const op = "ensureSheetWithHeaders"

	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var sheetExists bool
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.worksheet {
			sheetExists = true
			break
		}
	}

	if !sheetExists {
		s.log.Info().Str("sheet", s.worksheet).Msg("Creating new sheet")

		batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: s.worksheet}}},
			},
		}
		if _, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, batchUpdateReq).Context(ctx).Do(); err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
	}

	headerRange := s.worksheet + "!A1:B1"
	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}

	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		s.log.Info().Str("sheet", s.worksheet).Msg("Adding headers to sheet")

		_, err = s.sheetsService.Spreadsheets.Values.Update(
			s.spreadsheetID,
			headerRange,
			&sheets.ValueRange{Values: [][]interface{}{{"Scanned at", "Total"}}},
		).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to add headers: %w", op, err)
		}
	}

	return nil
}

// Close implements Store.
func (s *Sheets) Close() error { return nil }
