package reader

import (
	"context"
	"sync"
)

// SlicePageSource serves pages from an in-memory slice. It records every page
// requested, which makes it useful for checking how many queries a reader issues.
type SlicePageSource[T any] struct {
	mu      sync.Mutex
	items   []T
	fetched []int
}

// NewSlicePageSource creates a source over items.
func NewSlicePageSource[T any](items []T) *SlicePageSource[T] {
	return &SlicePageSource[T]{items: items}
}

// FetchPage implements PageSource.
func (s *SlicePageSource[T]) FetchPage(ctx context.Context, pageIndex, pageSize int) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetched = append(s.fetched, pageIndex)
	start := pageIndex * pageSize
	if start >= len(s.items) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(s.items) {
		end = len(s.items)
	}
	page := make([]T, end-start)
	copy(page, s.items[start:end])
	return page, nil
}

// FetchedPages returns the page indexes requested so far, in order.
func (s *SlicePageSource[T]) FetchedPages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.fetched...)
}

// Reset clears the fetch history.
func (s *SlicePageSource[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = nil
}
