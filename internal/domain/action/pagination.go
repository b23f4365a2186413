package action

import (
	"context"
	"encoding/json"
	"time"
)

// FetchAllKey is the argument that opts a read call into auto-pagination.
const FetchAllKey = "fetch_all_pages"

// Pagination defaults and safety caps.
const (
	DefaultPageParam       = "page"
	DefaultSizeParam       = "pageSize"
	DefaultPageSize        = 100
	DefaultMaxSize         = 100
	DefaultStartPage       = 1
	DefaultTotalPagesField = "totalPages"
	DefaultLastPageField   = "last"

	DefaultMaxPages       = 50
	DefaultMaxItems       = 10000
	DefaultMaxTimeSeconds = 120

	// maxEmptyPages stops the loop after this many consecutive empty pages.
	maxEmptyPages = 3
)

// itemContainers are the response fields probed for the item array when the
// config names no data_field.
var itemContainers = []string{"content", "items", "data", "results", "records"}

// PageConfig is the parsed auto-pagination configuration of an action.
type PageConfig struct {
	PageParam       string
	SizeParam       string
	DefaultSize     int
	MaxSize         int
	StartPage       int
	DataField       string
	TotalPagesField string
	LastPageField   string

	MaxPages       int
	MaxItems       int
	MaxTimeSeconds int
}

// ParsePageConfig converts the raw pagination map of an action into its
// typed form with defaults applied. A nil map means the action does not
// paginate and returns (zero, false).
func ParsePageConfig(raw map[string]interface{}) (PageConfig, bool) {
	if raw == nil {
		return PageConfig{}, false
	}

	cfg := PageConfig{
		PageParam:       stringOr(raw, "page_param", DefaultPageParam),
		SizeParam:       stringOr(raw, "size_param", DefaultSizeParam),
		DefaultSize:     intOr(raw, "default_size", DefaultPageSize),
		MaxSize:         intOr(raw, "max_size", DefaultMaxSize),
		StartPage:       intOr(raw, "start_page", DefaultStartPage),
		DataField:       stringOr(raw, "data_field", ""),
		TotalPagesField: stringOr(raw, "total_pages_field", DefaultTotalPagesField),
		LastPageField:   stringOr(raw, "last_page_field", DefaultLastPageField),
		MaxPages:        intOr(raw, "max_pages", DefaultMaxPages),
		MaxItems:        intOr(raw, "max_items", DefaultMaxItems),
		MaxTimeSeconds:  intOr(raw, "max_time_seconds", DefaultMaxTimeSeconds),
	}
	return cfg, true
}

// ApplyOverrides narrows the safety caps from client arguments and strips
// the recognized override keys from args. Caps only shrink; a client cannot
// raise them past the action's configuration.
func (c *PageConfig) ApplyOverrides(args map[string]interface{}) {
	if v, ok := args["max_pages"]; ok {
		if n := toInt(v); n > 0 && n < c.MaxPages {
			c.MaxPages = n
		}
		delete(args, "max_pages")
	}
	if v, ok := args["max_items"]; ok {
		if n := toInt(v); n > 0 && n < c.MaxItems {
			c.MaxItems = n
		}
		delete(args, "max_items")
	}
}

// PageSize returns the per-page size honoring the max_size clamp.
func (c *PageConfig) PageSize() int {
	if c.DefaultSize > c.MaxSize {
		return c.MaxSize
	}
	return c.DefaultSize
}

// PageFetch retrieves one page. The executor supplies a closure that runs
// the upstream call with the page and size parameters merged in.
type PageFetch func(ctx context.Context, page, size int) CallResult

// PageIterator walks pages until a terminal indicator or a safety cap.
// It exists separately from Collect so the cap logic is testable without
// HTTP: Next() returns one page's items and whether to continue.
type PageIterator struct {
	cfg   PageConfig
	fetch PageFetch
	now   func() time.Time

	page       int
	pages      int
	items      int
	emptyRun   int
	started    time.Time
	lastDigest string
	done       bool
	failure    *CallResult

	// StopReason records why iteration ended, for logging.
	StopReason string
}

// NewPageIterator creates an iterator over the configured page sequence.
func NewPageIterator(cfg PageConfig, fetch PageFetch) *PageIterator {
	return &PageIterator{cfg: cfg, fetch: fetch, now: time.Now, page: cfg.StartPage - 1}
}

// Next fetches the next page and returns its items. ok is false when
// iteration has ended; check Failed for a mid-loop upstream failure.
func (it *PageIterator) Next(ctx context.Context) (items []interface{}, ok bool) {
	if it.done {
		return nil, false
	}
	if it.started.IsZero() {
		it.started = it.now()
	}

	if it.pages >= it.cfg.MaxPages {
		return it.stop("max_pages")
	}
	if it.items >= it.cfg.MaxItems {
		return it.stop("max_items")
	}
	if it.now().Sub(it.started) >= time.Duration(it.cfg.MaxTimeSeconds)*time.Second {
		return it.stop("max_time")
	}
	if ctx.Err() != nil {
		return it.stop("cancelled")
	}

	it.page++
	it.pages++
	size := it.cfg.PageSize()

	res := it.fetch(ctx, it.page, size)
	if res.Kind != CallOk {
		it.failure = &res
		return it.stop("upstream_error")
	}

	items, found := it.extractItems(res.Data)
	if !found || len(items) == 0 {
		it.emptyRun++
		if it.emptyRun >= maxEmptyPages {
			return it.stop("empty_pages")
		}
	} else {
		it.emptyRun = 0
	}

	// Duplicate-page guard: an upstream that ignores the page parameter
	// returns the same page forever.
	digest := pageDigest(items)
	if len(items) > 0 && digest == it.lastDigest {
		return it.stop("duplicate_page")
	}
	it.lastDigest = digest
	it.items += len(items)

	// Terminal indicators only apply to pages with a recognized item
	// container; unrecognized shapes fall through to the empty-run cap.
	if found && it.isLastPage(res.Data, len(items), size) {
		it.done = true
	}
	return items, true
}

// Failed returns the upstream failure that ended iteration, if any.
func (it *PageIterator) Failed() *CallResult {
	return it.failure
}

// Pages returns the number of pages fetched so far.
func (it *PageIterator) Pages() int {
	return it.pages
}

func (it *PageIterator) stop(reason string) ([]interface{}, bool) {
	it.done = true
	it.StopReason = reason
	return nil, false
}

// isLastPage evaluates the terminal indicators of the fetched page.
func (it *PageIterator) isLastPage(data interface{}, count, size int) bool {
	if count < size {
		it.StopReason = "short_page"
		return true
	}
	body, ok := data.(map[string]interface{})
	if !ok {
		return false
	}
	if last, ok := body[it.cfg.LastPageField].(bool); ok && last {
		it.StopReason = "last_page"
		return true
	}
	if total, ok := body[it.cfg.TotalPagesField]; ok {
		if n := toInt(total); n > 0 && it.page >= it.cfg.StartPage+n-1 {
			it.StopReason = "total_pages"
			return true
		}
	}
	return false
}

// extractItems pulls the item array out of one page body: the configured
// data_field first, then the conventional container fields, then a
// top-level array. found is false when no container was recognized.
func (it *PageIterator) extractItems(data interface{}) (items []interface{}, found bool) {
	if arr, ok := data.([]interface{}); ok {
		return arr, true
	}
	body, ok := data.(map[string]interface{})
	if !ok {
		return nil, false
	}
	if it.cfg.DataField != "" {
		if arr, ok := body[it.cfg.DataField].([]interface{}); ok {
			return arr, true
		}
		return nil, false
	}
	for _, field := range itemContainers {
		if arr, ok := body[field].([]interface{}); ok {
			return arr, true
		}
	}
	return nil, false
}

// Collect drives the iterator to completion and renders the client-facing
// envelope: all collected items plus pagination metadata, or a partial-data
// failure when a page errored mid-loop.
func Collect(ctx context.Context, cfg PageConfig, fetch PageFetch) map[string]interface{} {
	it := NewPageIterator(cfg, fetch)
	start := time.Now()

	var all []interface{}
	for {
		items, ok := it.Next(ctx)
		if !ok {
			break
		}
		all = append(all, items...)
	}

	elapsed := time.Since(start).Seconds()

	if fail := it.Failed(); fail != nil {
		env := fail.Envelope()
		env["partial_data"] = emptySlice(all)
		env["pagination"] = map[string]interface{}{
			"total_items":     len(all),
			"pages_fetched":   it.Pages(),
			"elapsed_seconds": elapsed,
		}
		return env
	}

	return map[string]interface{}{
		"success": true,
		"data":    emptySlice(all),
		"pagination": map[string]interface{}{
			"total_items":     len(all),
			"pages_fetched":   it.Pages(),
			"elapsed_seconds": elapsed,
		},
	}
}

// emptySlice normalizes a nil collection to an empty JSON array.
func emptySlice(items []interface{}) []interface{} {
	if items == nil {
		return []interface{}{}
	}
	return items
}

// pageDigest fingerprints one page's items for the duplicate guard.
func pageDigest(items []interface{}) string {
	raw, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(raw)
}

func stringOr(m map[string]interface{}, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intOr(m map[string]interface{}, key string, fallback int) int {
	if v, ok := m[key]; ok {
		if n := toInt(v); n > 0 {
			return n
		}
	}
	return fallback
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}
