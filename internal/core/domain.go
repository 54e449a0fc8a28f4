package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of a sales date.
const DateLayout = "2006-01-02"

type (
	Date struct {
		time.Time
	}

	// SalesRecord is one sales transaction as stored in the collection.
	SalesRecord struct {
		ID                 string          `json:"id"`
		Date               Date            `json:"date"`
		ClientName         string          `json:"clientName"`
		Location           string          `json:"location"`
		AmountOnInvoice    decimal.Decimal `json:"amountOnInvoice"`
		AmountPaid         decimal.Decimal `json:"amountPaid"`
		CarpentersDiscount decimal.Decimal `json:"carpentersDiscount"`
		MarketersDiscount  decimal.Decimal `json:"marketersDiscount"`
		Transport          decimal.Decimal `json:"transport"`
		Installation       decimal.Decimal `json:"installation"`
		Accessories        decimal.Decimal `json:"accessories"`
		Balance            decimal.Decimal `json:"balance"`
		Year               int             `json:"year"`
		CreatedAt          int64           `json:"createdAt"` // epoch millis
	}
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// String returns the date as YYYY-MM-DD, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ComputeBalance returns the amount still owed by the client.
func ComputeBalance(amountOnInvoice, amountPaid decimal.Decimal) decimal.Decimal {
	return amountOnInvoice.Sub(amountPaid)
}

// Derive recomputes the fields that are never taken from input.
func (r SalesRecord) Derive() SalesRecord {
	r.Year = r.Date.Year()
	r.Balance = ComputeBalance(r.AmountOnInvoice, r.AmountPaid)
	return r
}

// Validate checks the invariants every stored record must satisfy.
func (r SalesRecord) Validate() error {
	if err := r.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.ClientName) == "" {
		return errors.New("empty client name")
	}
	if strings.TrimSpace(r.Location) == "" {
		return errors.New("empty location")
	}
	for _, amt := range r.amounts() {
		if amt.IsNegative() {
			return ErrInvalidAmount
		}
	}
	if r.Year != r.Date.Year() {
		return fmt.Errorf("year %d does not match date %s", r.Year, r.Date)
	}
	if !r.Balance.Equal(ComputeBalance(r.AmountOnInvoice, r.AmountPaid)) {
		return errors.New("balance is not derived from invoice and paid amounts")
	}
	return nil
}

func (r SalesRecord) amounts() []decimal.Decimal {
	return []decimal.Decimal{
		r.AmountOnInvoice,
		r.AmountPaid,
		r.CarpentersDiscount,
		r.MarketersDiscount,
		r.Transport,
		r.Installation,
		r.Accessories,
	}
}
