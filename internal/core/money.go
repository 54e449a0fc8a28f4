// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts typed into the
// sales form and formatting them back for display.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string to a non-negative amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Signs,
// exponents, thousands separators and empty input are rejected with
// ErrInvalidAmount. Precision is kept as typed; rounding happens at display time.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("1000")   -> 1000, nil
//	ParseAmount("-1")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	if parts[0] == "" {
		if len(parts) == 1 || parts[1] == "" {
			return decimal.Zero, ErrInvalidAmount
		}
		s = "0" + s
	}
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsDigit(r) || r > unicode.MaxASCII {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(s, "."))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseAmountOrZero is the lenient variant used for optional amounts: any
// input ParseAmount rejects becomes zero.
func ParseAmountOrZero(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FormatAmount renders an amount with two decimals and no currency symbol.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
