package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"salesrecord/internal/core"
)

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Sales", 2024, "2024 Sales"},
		{"  Sales  ", 2023, "2023 Sales"},
		{"2020 Sales", 2024, "2024 Sales"},
		{"", 2024, "2024"},
		{"1234", 2024, "2024 1234"},
	}

	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
		}
	}
}

func TestQuoteSheet(t *testing.T) {
	if got := quoteSheet("2024 Sales"); got != "'2024 Sales'" {
		t.Errorf("quoteSheet = %s", got)
	}
	if got := quoteSheet("Kofi's"); got != "'Kofi''s'" {
		t.Errorf("quoteSheet = %s", got)
	}
}

func sale(client string) core.SalesRecord {
	return core.SalesRecord{
		ID:              client,
		Date:            core.NewDate(2024, 1, 5),
		ClientName:      client,
		Location:        "Accra",
		AmountOnInvoice: decimal.RequireFromString("100.50"),
		AmountPaid:      decimal.RequireFromString("40"),
	}.Derive()
}

func TestValues(t *testing.T) {
	got := values([]core.SalesRecord{sale("Kofi")})

	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0][0] != "Date" || got[0][10] != "Balance" {
		t.Errorf("unexpected header: %v", got[0])
	}
	row := got[1]
	if row[0] != "2024-01-05" || row[1] != "Kofi" {
		t.Errorf("unexpected text cells: %v", row)
	}
	if row[3] != 100.5 || row[10] != 60.5 {
		t.Errorf("amounts should be numbers, got %v and %v", row[3], row[10])
	}
}

func TestValuesNegativeBalance(t *testing.T) {
	overpaid := sale("Ama")
	overpaid.AmountPaid = decimal.RequireFromString("150")
	overpaid = overpaid.Derive()

	got := values([]core.SalesRecord{overpaid})
	if bal := got[1][10]; bal != -49.5 {
		t.Errorf("balance cell = %v, want -49.5", bal)
	}
}

func TestNewMissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewInvalidCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{
		SpreadsheetID:      "test-id",
		ServiceAccountJSON: "invalid-json",
	})
	if err == nil {
		t.Fatal("expected error with invalid credentials")
	}
}

func TestReplaceYearNilService(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	if err := c.ReplaceYear(context.Background(), 2024, nil); err == nil {
		t.Fatal("expected error without a service")
	}
}

// fakeSheets records the calls made against the Sheets REST API.
type fakeSheets struct {
	mu      sync.Mutex
	titles  []string
	calls   []string
	written [][]interface{}
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet:
		f.calls = append(f.calls, "get")
		sheets := make([]map[string]any, 0, len(f.titles))
		for _, t := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
		}
		json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	case strings.HasSuffix(path, ":batchUpdate"):
		f.calls = append(f.calls, "add")
		var req gsheet.BatchUpdateSpreadsheetRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Requests) == 1 && req.Requests[0].AddSheet != nil {
			f.titles = append(f.titles, req.Requests[0].AddSheet.Properties.Title)
		}
		io.WriteString(w, `{}`)
	case strings.HasSuffix(path, ":clear"):
		f.calls = append(f.calls, "clear")
		io.WriteString(w, `{}`)
	case r.Method == http.MethodPut:
		f.calls = append(f.calls, "update")
		var vr gsheet.ValueRange
		json.NewDecoder(r.Body).Decode(&vr)
		f.written = vr.Values
		io.WriteString(w, `{}`)
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func newFakeClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return NewWithService(svc, "sheet-id", "Sales")
}

func TestReplaceYearCreatesMissingTab(t *testing.T) {
	fake := &fakeSheets{titles: []string{"2023 Sales"}}
	c := newFakeClient(t, fake)

	if err := c.ReplaceYear(context.Background(), 2024, []core.SalesRecord{sale("Kofi"), sale("Ama")}); err != nil {
		t.Fatalf("ReplaceYear() error = %v", err)
	}

	want := "get,add,clear,update"
	if got := strings.Join(fake.calls, ","); got != want {
		t.Errorf("calls = %s, want %s", got, want)
	}
	if len(fake.written) != 3 {
		t.Errorf("written rows = %d, want 3", len(fake.written))
	}

	// The tab is now known; no further lookups.
	fake.calls = nil
	if err := c.ReplaceYear(context.Background(), 2024, nil); err != nil {
		t.Fatalf("ReplaceYear() error = %v", err)
	}
	if got := strings.Join(fake.calls, ","); got != "clear,update" {
		t.Errorf("calls = %s, want clear,update", got)
	}
	if len(fake.written) != 1 {
		t.Errorf("written rows = %d, want header only", len(fake.written))
	}
}

func TestReplaceYearExistingTab(t *testing.T) {
	fake := &fakeSheets{titles: []string{"2024 Sales"}}
	c := newFakeClient(t, fake)

	if err := c.ReplaceYear(context.Background(), 2024, nil); err != nil {
		t.Fatalf("ReplaceYear() error = %v", err)
	}
	if got := strings.Join(fake.calls, ","); got != "get,clear,update" {
		t.Errorf("calls = %s, want get,clear,update", got)
	}
}
