// Package sheets defines the spreadsheet mirror port: one tab per year holding
// that year's filtered sales view.
package sheets

import (
	"context"

	"salesrecord/internal/core"
)

// Ports for outbound adapters.
type (
	// YearWriter replaces the contents of a year's tab with records, in the
	// given order, below the export header.
	YearWriter interface {
		ReplaceYear(ctx context.Context, year int, records []core.SalesRecord) error
	}
)
