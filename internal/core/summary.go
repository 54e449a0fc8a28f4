package core

import "github.com/shopspring/decimal"

// YearlySummary is the aggregate over the records of one selected year.
type YearlySummary struct {
	TotalInvoice decimal.Decimal `json:"totalInvoice"`
	TotalPaid    decimal.Decimal `json:"totalPaid"`
	TotalBalance decimal.Decimal `json:"totalBalance"`
	EntriesCount int             `json:"entriesCount"`
}

// Summarize folds records into a YearlySummary. An empty slice yields all zeros.
func Summarize(records []SalesRecord) YearlySummary {
	s := YearlySummary{
		TotalInvoice: decimal.Zero,
		TotalPaid:    decimal.Zero,
		TotalBalance: decimal.Zero,
	}
	for _, r := range records {
		s.TotalInvoice = s.TotalInvoice.Add(r.AmountOnInvoice)
		s.TotalPaid = s.TotalPaid.Add(r.AmountPaid)
		s.TotalBalance = s.TotalBalance.Add(r.Balance)
		s.EntriesCount++
	}
	return s
}
