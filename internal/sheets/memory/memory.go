// Package memory is an in-process sheets.YearWriter for local runs and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"salesrecord/internal/core"
	ports "salesrecord/internal/sheets"
)

type Store struct {
	mu     sync.Mutex
	tabs   map[int][]core.SalesRecord
	writes int
	err    error
}

var _ ports.YearWriter = (*Store)(nil)

func New() *Store {
	return &Store{tabs: make(map[int][]core.SalesRecord)}
}

// FailWith makes every following ReplaceYear return err; nil restores success.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// ReplaceYear stores a copy of records as the year's tab.
func (s *Store) ReplaceYear(ctx context.Context, year int, records []core.SalesRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tabs[year] = slices.Clone(records)
	s.writes++
	return nil
}

// Year returns the records last written for year.
func (s *Store) Year(year int) ([]core.SalesRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, ok := s.tabs[year]
	return slices.Clone(recs), ok
}

// Years lists the years that have a tab, ascending.
func (s *Store) Years() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	years := make([]int, 0, len(s.tabs))
	for y := range s.tabs {
		years = append(years, y)
	}
	slices.Sort(years)
	return years
}

// Writes counts successful ReplaceYear calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
