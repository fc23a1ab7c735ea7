package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

const (
	// DefaultPageSize is used when PagingReaderConfig.PageSize is not set.
	DefaultPageSize = 10

	readCountKey    = "read.count"
	readCountMaxKey = "read.count.max"
)

// ErrReaderNotOpen is returned by Read before Open or after Close.
var ErrReaderNotOpen = errors.New("reader is not open")

// PageSource fetches one page of an ordered input. Page pageIndex holds the items
// [pageIndex*pageSize, (pageIndex+1)*pageSize) of the deterministic ordering.
// An empty page means the input is exhausted.
type PageSource[T any] interface {
	FetchPage(ctx context.Context, pageIndex, pageSize int) ([]T, error)
}

// PageSourceFunc adapts a function to PageSource.
type PageSourceFunc[T any] func(ctx context.Context, pageIndex, pageSize int) ([]T, error)

// FetchPage implements PageSource.
func (f PageSourceFunc[T]) FetchPage(ctx context.Context, pageIndex, pageSize int) ([]T, error) {
	return f(ctx, pageIndex, pageSize)
}

// PageSourceOpener is implemented by sources that keep restart state of their own.
// keyPrefix is "<readerName>." and must prefix every key the source touches.
type PageSourceOpener interface {
	OpenSource(ctx context.Context, ec *model.ExecutionContext, keyPrefix string) error
}

// PageSourceUpdater is implemented by sources that persist restart state on Update.
type PageSourceUpdater interface {
	UpdateSource(ec *model.ExecutionContext, keyPrefix string, itemCount int64, pageSize int)
}

// PageJumper is implemented by sources that need to position themselves before the
// page containing itemIndex is fetched (e.g. keyset sources without saved cursor values).
type PageJumper interface {
	JumpToItem(ctx context.Context, itemIndex, pageSize int) error
}

// PageSourceCloser is implemented by sources holding resources.
type PageSourceCloser interface {
	CloseSource(ctx context.Context) error
}

// PagingReaderConfig configures a PagingReader.
type PagingReaderConfig struct {
	// Name prefixes the reader's ExecutionContext keys. Required when SaveState is set.
	Name string `yaml:"name"`
	// PageSize is the number of items per page. Defaults to DefaultPageSize.
	PageSize int `yaml:"page_size"`
	// MaxItemCount stops the reader after this many items. Zero means unlimited.
	MaxItemCount int64 `yaml:"max_item_count"`
	// SaveState enables restart state in the ExecutionContext.
	SaveState bool `yaml:"save_state"`
}

// NewPagingReaderConfig returns a config with the default page size and SaveState enabled.
func NewPagingReaderConfig(name string) PagingReaderConfig {
	return PagingReaderConfig{Name: name, PageSize: DefaultPageSize, SaveState: true}
}

func (c *PagingReaderConfig) validate() error {
	const component = "PagingReader"
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize < 0 {
		return exception.NewConfigError(component, "PageSize", "must be greater than zero")
	}
	if c.MaxItemCount < 0 {
		return exception.NewConfigError(component, "MaxItemCount", "must not be negative")
	}
	if c.SaveState && c.Name == "" {
		return exception.NewConfigError(component, "Name", "is required when SaveState is enabled")
	}
	return nil
}

type readerState int

const (
	stateUninitialized readerState = iota
	stateOpen
	stateExhausted
	stateClosed
)

// PagingReader is a restartable ItemReader that reads an ordered input page by page
// from a PageSource, keeping one page in memory.
//
// Restart state is the absolute number of items returned so far ("<name>.read.count"),
// not a page number or row offset, so it stays valid when the page size changes.
// On Open the reader jumps to that position by fetching the page that contains it.
// This is only correct when the source ordering is stable between attempts.
//
// A mutex serializes calls, but a single reader is meant to be driven by one step.
type PagingReader[T any] struct {
	name         string
	pageSize     int
	maxItemCount int64
	saveState    bool
	source       PageSource[T]
	recorder     metrics.MetricRecorder

	mu               sync.Mutex
	state            readerState
	page             int
	current          int
	results          []T
	loaded           bool
	currentItemCount int64
}

// NewPagingReader validates cfg and creates a reader over source.
func NewPagingReader[T any](cfg PagingReaderConfig, source PageSource[T]) (*PagingReader[T], error) {
	if source == nil {
		return nil, exception.NewConfigError("PagingReader", "PageSource", "must not be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &PagingReader[T]{
		name:         cfg.Name,
		pageSize:     cfg.PageSize,
		maxItemCount: cfg.MaxItemCount,
		saveState:    cfg.SaveState,
		source:       source,
		recorder:     metrics.NewNoOpMetricRecorder(),
	}, nil
}

// SetMetricRecorder sets the recorder used for page and item metrics.
func (r *PagingReader[T]) SetMetricRecorder(recorder metrics.MetricRecorder) {
	if recorder != nil {
		r.recorder = recorder
	}
}

// Name returns the reader name.
func (r *PagingReader[T]) Name() string { return r.name }

// PageSize returns the configured page size.
func (r *PagingReader[T]) PageSize() int { return r.pageSize }

// Page returns the index of the next page to fetch.
func (r *PagingReader[T]) Page() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page
}

// CurrentItemCount returns the absolute number of items returned so far.
func (r *PagingReader[T]) CurrentItemCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentItemCount
}

func (r *PagingReader[T]) keyPrefix() string {
	return r.name + "."
}

func (r *PagingReader[T]) reset() {
	r.page = 0
	r.current = 0
	r.results = nil
	r.loaded = false
	r.currentItemCount = 0
}

// Open implements port.ItemStream. It restores the read position from ec when SaveState is set.
func (r *PagingReader[T]) Open(ctx context.Context, ec *model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reset()
	if ec == nil {
		ec = model.NewExecutionContext()
	}

	if opener, ok := r.source.(PageSourceOpener); ok && r.saveState {
		if err := opener.OpenSource(ctx, ec, r.keyPrefix()); err != nil {
			return exception.NewBatchError("reader", fmt.Sprintf("PagingReader '%s': failed to open page source", r.name), err, false, false)
		}
	}

	if r.saveState {
		if maxCount, ok := ec.GetLong(r.keyPrefix() + readCountMaxKey); ok {
			r.maxItemCount = maxCount
		}
		if count, ok := ec.GetLong(r.keyPrefix() + readCountKey); ok {
			if count > 0 && (r.maxItemCount == 0 || count < r.maxItemCount) {
				if err := r.jumpToItem(ctx, count); err != nil {
					return err
				}
			}
			r.currentItemCount = count
			logger.Infof("PagingReader '%s': resuming after %d items (page %d, offset %d).", r.name, count, r.page, r.current)
		}
	}

	r.state = stateOpen
	logger.Debugf("PagingReader '%s' opened with page size %d.", r.name, r.pageSize)
	return nil
}

// Read implements port.ItemReader. It returns port.ErrNoMoreItems once the source
// returns an empty page or MaxItemCount is reached, and keeps returning it afterwards.
func (r *PagingReader[T]) Read(ctx context.Context) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	switch r.state {
	case stateExhausted:
		return zero, port.ErrNoMoreItems
	case stateOpen:
	default:
		return zero, exception.NewBatchError("reader", fmt.Sprintf("PagingReader '%s': read called on a reader that is not open", r.name), ErrReaderNotOpen, false, false)
	}

	if r.maxItemCount > 0 && r.currentItemCount >= r.maxItemCount {
		r.state = stateExhausted
		return zero, port.ErrNoMoreItems
	}

	if !r.loaded || r.current >= len(r.results) {
		if r.loaded {
			r.current = 0
		}
		items, err := r.fetch(ctx)
		if err != nil {
			return zero, err
		}
		r.results = items
		r.loaded = true
		r.page++
		if r.current >= len(r.results) {
			r.state = stateExhausted
			logger.Debugf("PagingReader '%s': no more items after %d.", r.name, r.currentItemCount)
			return zero, port.ErrNoMoreItems
		}
	}

	item := r.results[r.current]
	r.current++
	r.currentItemCount++
	r.recorder.RecordItemRead(ctx, r.name)
	return item, nil
}

func (r *PagingReader[T]) fetch(ctx context.Context) ([]T, error) {
	start := time.Now()
	items, err := r.source.FetchPage(ctx, r.page, r.pageSize)
	if err != nil {
		return nil, exception.NewBatchError("reader", fmt.Sprintf("PagingReader '%s': failed to read page %d", r.name, r.page), err, false, false)
	}
	r.recorder.RecordPageFetch(ctx, r.name, r.pageSize, len(items), time.Since(start))
	logger.Debugf("PagingReader '%s': fetched page %d with %d items.", r.name, r.page, len(items))
	return items, nil
}

// JumpToItem positions the reader so that the next Read returns the item at itemIndex.
// Only the page containing itemIndex is fetched, on the next Read.
func (r *PagingReader[T]) JumpToItem(ctx context.Context, itemIndex int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if itemIndex < 0 {
		return exception.NewBatchErrorf("reader", "PagingReader '%s': invalid item index %d", r.name, itemIndex)
	}
	if err := r.jumpToItem(ctx, itemIndex); err != nil {
		return err
	}
	r.currentItemCount = itemIndex
	if r.state == stateExhausted {
		r.state = stateOpen
	}
	return nil
}

func (r *PagingReader[T]) jumpToItem(ctx context.Context, itemIndex int64) error {
	r.page = int(itemIndex / int64(r.pageSize))
	r.current = int(itemIndex % int64(r.pageSize))
	r.results = nil
	r.loaded = false

	if jumper, ok := r.source.(PageJumper); ok {
		if err := jumper.JumpToItem(ctx, int(itemIndex), r.pageSize); err != nil {
			return exception.NewBatchError("reader", fmt.Sprintf("PagingReader '%s': failed to jump to item %d", r.name, itemIndex), err, false, false)
		}
	}
	logger.Debugf("PagingReader '%s': jumped to item %d (page %d, offset %d).", r.name, itemIndex, r.page, r.current)
	return nil
}

// Update implements port.ItemStream. It stores the absolute item count under
// "<name>.read.count" when SaveState is set.
func (r *PagingReader[T]) Update(ctx context.Context, ec *model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.saveState {
		return nil
	}
	if ec == nil {
		return exception.NewBatchErrorf("reader", "PagingReader '%s': ExecutionContext must not be nil", r.name)
	}
	ec.PutLong(r.keyPrefix()+readCountKey, r.currentItemCount)
	if r.maxItemCount > 0 {
		ec.PutLong(r.keyPrefix()+readCountMaxKey, r.maxItemCount)
	}
	if updater, ok := r.source.(PageSourceUpdater); ok {
		updater.UpdateSource(ec, r.keyPrefix(), r.currentItemCount, r.pageSize)
	}
	return nil
}

// Close implements port.ItemStream.
func (r *PagingReader[T]) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reset()
	r.state = stateClosed
	if closer, ok := r.source.(PageSourceCloser); ok {
		if err := closer.CloseSource(ctx); err != nil {
			return exception.NewBatchError("reader", fmt.Sprintf("PagingReader '%s': failed to close page source", r.name), err, false, false)
		}
	}
	logger.Debugf("PagingReader '%s' closed.", r.name)
	return nil
}

var _ port.ItemReader[any] = (*PagingReader[any])(nil)
