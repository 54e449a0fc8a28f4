package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"salesrecord/internal/core"
	"salesrecord/internal/export"
	ports "salesrecord/internal/sheets"
)

// Client mirrors yearly views into tabs named "<year> <base>".
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	baseName      string

	mu    sync.Mutex
	known map[string]bool // tabs known to exist
}

var _ ports.YearWriter = (*Client)(nil)

// Config selects the spreadsheet and the service account used to reach it.
type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, cfg.ServiceAccountJSON, cfg.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SpreadsheetID, cfg.SheetName), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetName string) *Client {
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Sales"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(spreadsheetID),
		baseName:      strings.TrimSpace(sheetName),
		known:         make(map[string]bool),
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Inline JSON wins over the file; GOOGLE_APPLICATION_CREDENTIALS is the last resort.
func newSheetsService(ctx context.Context, inlineJSON, file string) (*gsheet.Service, error) {
	inlineJSON = strings.TrimSpace(inlineJSON)
	file = strings.TrimSpace(file)
	if inlineJSON == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case inlineJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(inlineJSON)
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// SheetName is the tab that holds year.
func (c *Client) SheetName(year int) string {
	return yearPrefixedName(c.baseName, year)
}

// ReplaceYear clears the year's tab, creating it if needed, and writes the
// header followed by one row per record.
func (c *Client) ReplaceYear(ctx context.Context, year int, records []core.SalesRecord) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	tab := c.SheetName(year)
	if err := c.ensureSheet(ctx, tab); err != nil {
		return err
	}

	rng := quoteSheet(tab) + "!A:K"
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}

	vr := &gsheet.ValueRange{Values: values(records)}
	start := quoteSheet(tab) + "!A1"
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, start, vr).
		ValueInputOption("RAW").
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("write %s: %w", start, err)
	}

	slog.InfoContext(ctx, "Sheet tab replaced",
		"sheet", tab,
		"year", year,
		"rows", len(records))
	return nil
}

func (c *Client) ensureSheet(ctx context.Context, tab string) error {
	c.mu.Lock()
	ok := c.known[tab]
	c.mu.Unlock()
	if ok {
		return nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}

	if !containsTitle(titles, tab) {
		req := &gsheet.BatchUpdateSpreadsheetRequest{
			Requests: []*gsheet.Request{{
				AddSheet: &gsheet.AddSheetRequest{
					Properties: &gsheet.SheetProperties{Title: tab},
				},
			}},
		}
		if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("add sheet %q: %w", tab, err)
		}
		slog.InfoContext(ctx, "Sheet tab created", "sheet", tab)
	}

	c.mu.Lock()
	c.known[tab] = true
	c.mu.Unlock()
	return nil
}

// values renders the header and records; amounts are sent as numbers.
func values(records []core.SalesRecord) [][]interface{} {
	out := make([][]interface{}, 0, len(records)+1)
	header := make([]interface{}, len(export.Header))
	for i, h := range export.Header {
		header[i] = h
	}
	out = append(out, header)

	for _, cells := range export.Rows(records) {
		row := make([]interface{}, len(cells))
		for i, cell := range cells {
			if cell.Kind == export.KindAmount {
				row[i] = cell.Amount.InexactFloat64()
				continue
			}
			row[i] = cell.Text
		}
		out = append(out, row)
	}
	return out
}

func containsTitle(titles []string, tab string) bool {
	for _, t := range titles {
		if strings.EqualFold(strings.TrimSpace(t), tab) {
			return true
		}
	}
	return false
}

// quoteSheet quotes a tab name for A1 notation.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// yearPrefixedName returns "<year> <base>". A 4-digit year already leading
// base is replaced, so "2023 Sales" still yields one tab per year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			base = strings.TrimSpace(base[5:])
		}
	}
	if base == "" {
		return strconv.Itoa(year)
	}
	return fmt.Sprintf("%d %s", year, base)
}
