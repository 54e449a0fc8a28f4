// Package projection derives the dashboard view of the sales collection:
// records ordered newest first, the years present, the records of one year and
// their totals.
package projection

import (
	"sort"

	"salesrecord/internal/core"
)

// View is the derived state for one selected year.
type View struct {
	SelectedYear int                `json:"selectedYear"`
	All          []core.SalesRecord `json:"all"`
	Years        []int              `json:"availableYears"`
	Filtered     []core.SalesRecord `json:"filtered"`
	Summary      core.YearlySummary `json:"summary"`
}

// Project recomputes the whole view from scratch. It does not modify records
// and never fails.
func Project(records []core.SalesRecord, year int) View {
	all := SortByCreatedDesc(records)
	filtered := FilterYear(all, year)
	return View{
		SelectedYear: year,
		All:          all,
		Years:        AvailableYears(all),
		Filtered:     filtered,
		Summary:      core.Summarize(filtered),
	}
}

// SortByCreatedDesc returns a copy ordered by CreatedAt, newest first. Records
// with equal CreatedAt keep their input order.
func SortByCreatedDesc(records []core.SalesRecord) []core.SalesRecord {
	out := make([]core.SalesRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

// AvailableYears lists the distinct years present, descending.
func AvailableYears(records []core.SalesRecord) []int {
	seen := make(map[int]struct{}, 4)
	years := make([]int, 0, 4)
	for _, r := range records {
		if _, ok := seen[r.Year]; ok {
			continue
		}
		seen[r.Year] = struct{}{}
		years = append(years, r.Year)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years
}

// FilterYear keeps the records of year, preserving order.
func FilterYear(records []core.SalesRecord, year int) []core.SalesRecord {
	out := make([]core.SalesRecord, 0, len(records))
	for _, r := range records {
		if r.Year == year {
			out = append(out, r)
		}
	}
	return out
}
