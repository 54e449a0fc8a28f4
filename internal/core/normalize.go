package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// FormValue is a raw form field. JSON bodies may carry it as a string or as a
// bare number.
type FormValue string

func (v *FormValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = FormValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = FormValue(n.String())
	return nil
}

// FormInput is the untrusted input of the sales form, before normalization.
type FormInput struct {
	Date               FormValue `json:"date" validate:"required,datetime=2006-01-02"`
	ClientName         FormValue `json:"clientName" validate:"required"`
	Location           FormValue `json:"location" validate:"required"`
	AmountOnInvoice    FormValue `json:"amountOnInvoice" validate:"required"`
	AmountPaid         FormValue `json:"amountPaid" validate:"required"`
	CarpentersDiscount FormValue `json:"carpentersDiscount"`
	MarketersDiscount  FormValue `json:"marketersDiscount"`
	Transport          FormValue `json:"transport"`
	Installation       FormValue `json:"installation"`
	Accessories        FormValue `json:"accessories"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// FormInputFromValues reads a form-encoded submission.
func FormInputFromValues(v url.Values) FormInput {
	get := func(k string) FormValue { return FormValue(v.Get(k)) }
	return FormInput{
		Date:               get("date"),
		ClientName:         get("clientName"),
		Location:           get("location"),
		AmountOnInvoice:    get("amountOnInvoice"),
		AmountPaid:         get("amountPaid"),
		CarpentersDiscount: get("carpentersDiscount"),
		MarketersDiscount:  get("marketersDiscount"),
		Transport:          get("transport"),
		Installation:       get("installation"),
		Accessories:        get("accessories"),
	}
}

// FormInputFromRecord pre-fills the form from a stored record, as the edit
// dialog does.
func FormInputFromRecord(r SalesRecord) FormInput {
	return FormInput{
		Date:               FormValue(r.Date.String()),
		ClientName:         FormValue(r.ClientName),
		Location:           FormValue(r.Location),
		AmountOnInvoice:    FormValue(r.AmountOnInvoice.String()),
		AmountPaid:         FormValue(r.AmountPaid.String()),
		CarpentersDiscount: FormValue(r.CarpentersDiscount.String()),
		MarketersDiscount:  FormValue(r.MarketersDiscount.String()),
		Transport:          FormValue(r.Transport.String()),
		Installation:       FormValue(r.Installation.String()),
		Accessories:        FormValue(r.Accessories.String()),
	}
}

func (in FormInput) sanitized() FormInput {
	return FormInput{
		Date:               FormValue(SanitizeText(string(in.Date))),
		ClientName:         FormValue(SanitizeText(string(in.ClientName))),
		Location:           FormValue(SanitizeText(string(in.Location))),
		AmountOnInvoice:    FormValue(SanitizeText(string(in.AmountOnInvoice))),
		AmountPaid:         FormValue(SanitizeText(string(in.AmountPaid))),
		CarpentersDiscount: FormValue(SanitizeText(string(in.CarpentersDiscount))),
		MarketersDiscount:  FormValue(SanitizeText(string(in.MarketersDiscount))),
		Transport:          FormValue(SanitizeText(string(in.Transport))),
		Installation:       FormValue(SanitizeText(string(in.Installation))),
		Accessories:        FormValue(SanitizeText(string(in.Accessories))),
	}
}

// Normalize turns form input into a canonical record. Required fields that are
// missing or malformed yield a *ValidationError; optional amounts that do not
// parse become zero. prior, when set, supplies the identity of the record being
// edited. Year and balance are always derived here.
func Normalize(in FormInput, prior *SalesRecord) (SalesRecord, error) {
	in = in.sanitized()

	verr := &ValidationError{}
	if err := validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return SalesRecord{}, err
		}
		for _, fe := range fieldErrs {
			verr.Add(fe.Field(), messageFor(fe.Tag()))
		}
	}

	var date Date
	if !verr.Has("date") {
		d, err := ParseDate(string(in.Date))
		if err != nil {
			verr.Add("date", messageFor("datetime"))
		}
		date = d
	}
	required := func(field string, v FormValue) decimal.Decimal {
		if verr.Has(field) {
			return decimal.Zero
		}
		d, err := ParseAmount(string(v))
		if err != nil {
			verr.Add(field, "must be a non-negative number")
			return decimal.Zero
		}
		return d
	}
	invoice := required("amountOnInvoice", in.AmountOnInvoice)
	paid := required("amountPaid", in.AmountPaid)

	if len(verr.Fields) > 0 {
		return SalesRecord{}, verr
	}

	rec := SalesRecord{
		Date:               date,
		ClientName:         string(in.ClientName),
		Location:           string(in.Location),
		AmountOnInvoice:    invoice,
		AmountPaid:         paid,
		CarpentersDiscount: ParseAmountOrZero(string(in.CarpentersDiscount)),
		MarketersDiscount:  ParseAmountOrZero(string(in.MarketersDiscount)),
		Transport:          ParseAmountOrZero(string(in.Transport)),
		Installation:       ParseAmountOrZero(string(in.Installation)),
		Accessories:        ParseAmountOrZero(string(in.Accessories)),
	}
	if prior != nil {
		rec.ID = prior.ID
		rec.CreatedAt = prior.CreatedAt
	}
	return rec.Derive(), nil
}

func messageFor(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	default:
		return "is invalid"
	}
}

// SanitizeText trims whitespace and removes control characters except tab,
// newline and carriage return.
func SanitizeText(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
