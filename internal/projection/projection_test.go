package projection

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesrecord/internal/core"
)

func record(id string, year int, invoice, paid string, createdAt int64) core.SalesRecord {
	return core.SalesRecord{
		ID:              id,
		Date:            core.NewDate(year, 6, 15),
		ClientName:      "client " + id,
		Location:        "somewhere",
		AmountOnInvoice: decimal.RequireFromString(invoice),
		AmountPaid:      decimal.RequireFromString(paid),
		CreatedAt:       createdAt,
	}.Derive()
}

func ids(records []core.SalesRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func sample() []core.SalesRecord {
	return []core.SalesRecord{
		record("a", 2024, "1000", "600", 100),
		record("b", 2024, "500", "500", 300),
		record("c", 2023, "200", "0", 200),
	}
}

func TestProjectExample(t *testing.T) {
	v := Project(sample(), 2024)

	assert.Equal(t, 2024, v.SelectedYear)
	assert.Equal(t, []string{"b", "c", "a"}, ids(v.All))
	assert.Equal(t, []int{2024, 2023}, v.Years)
	assert.Equal(t, []string{"b", "a"}, ids(v.Filtered))

	assert.Equal(t, 2, v.Summary.EntriesCount)
	assert.True(t, v.Summary.TotalInvoice.Equal(decimal.NewFromInt(1500)), "invoice %s", v.Summary.TotalInvoice)
	assert.True(t, v.Summary.TotalPaid.Equal(decimal.NewFromInt(1100)), "paid %s", v.Summary.TotalPaid)
	assert.True(t, v.Summary.TotalBalance.Equal(decimal.NewFromInt(400)), "balance %s", v.Summary.TotalBalance)
}

func TestProjectFilterProperty(t *testing.T) {
	records := sample()
	for _, year := range []int{2022, 2023, 2024} {
		v := Project(records, year)
		require.Equal(t, len(v.Filtered), v.Summary.EntriesCount)

		want := 0
		for _, r := range records {
			if r.Year == year {
				want++
			}
		}
		require.Len(t, v.Filtered, want)
		for _, r := range v.Filtered {
			require.Equal(t, year, r.Year)
		}
	}
}

func TestProjectEmpty(t *testing.T) {
	v := Project(nil, 2024)
	assert.Empty(t, v.All)
	assert.Empty(t, v.Years)
	assert.Empty(t, v.Filtered)
	assert.Equal(t, 0, v.Summary.EntriesCount)
	assert.True(t, v.Summary.TotalInvoice.IsZero())
	assert.True(t, v.Summary.TotalPaid.IsZero())
	assert.True(t, v.Summary.TotalBalance.IsZero())
}

func TestProjectYearWithoutRecords(t *testing.T) {
	v := Project(sample(), 1999)
	assert.Len(t, v.All, 3)
	assert.Empty(t, v.Filtered)
	assert.True(t, v.Summary.TotalBalance.IsZero())
}

func TestProjectIdempotent(t *testing.T) {
	records := sample()
	first := Project(records, 2024)
	second := Project(records, 2024)
	assert.True(t, reflect.DeepEqual(first, second))
}

func TestProjectDoesNotMutateInput(t *testing.T) {
	records := sample()
	Project(records, 2024)
	assert.Equal(t, []string{"a", "b", "c"}, ids(records))
}

func TestSortByCreatedDescStableTies(t *testing.T) {
	records := []core.SalesRecord{
		record("x", 2024, "1", "0", 5),
		record("y", 2024, "1", "0", 5),
		record("z", 2024, "1", "0", 9),
	}
	assert.Equal(t, []string{"z", "x", "y"}, ids(SortByCreatedDesc(records)))
}

func TestAvailableYearsDistinctDescending(t *testing.T) {
	records := []core.SalesRecord{
		record("1", 2021, "1", "0", 1),
		record("2", 2025, "1", "0", 2),
		record("3", 2021, "1", "0", 3),
		record("4", 2023, "1", "0", 4),
	}
	assert.Equal(t, []int{2025, 2023, 2021}, AvailableYears(records))
}
