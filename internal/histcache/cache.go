package histcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quotehistory/internal/ticks"
	"quotehistory/internal/yahoo"
)

// entry holds one cached series with its expiry.
type entry struct {
	expiresAt time.Time
	series    yahoo.Series
}

// Fetcher caches series per (symbol, period, frequency, variant) for a TTL.
// It requests only the symbols missing from the cache and combines cached +
// fresh results in request order. Absent symbols are cached too, so a symbol
// the service does not know is not re-asked on every call.
type Fetcher struct {
	Inner      yahoo.Fetcher
	TTL        time.Duration
	MaxEntries int

	mu    sync.RWMutex
	items map[string]entry
}

func requestKey(symbol string, period ticks.Period, freq ticks.Frequency, variant ticks.Variant) string {
	return fmt.Sprintf("%s|%d|%d|%s|%s", symbol, period.Start(), period.End(), freq.Code(), variant.EventParam())
}

// FetchMany returns series for the requested symbols using the cache when
// valid. With TTL <= 0 every call passes straight through.
func (f *Fetcher) FetchMany(ctx context.Context, symbols []string, period ticks.Period, freq ticks.Frequency, variant ticks.Variant) (*yahoo.SeriesSet, error) {
	if f.TTL <= 0 {
		return f.Inner.FetchMany(ctx, symbols, period, freq, variant)
	}
	// Validate up front so a fully cached call rejects the same inputs a
	// pass-through call would. Past this point symbols are unique.
	if err := yahoo.ValidateSymbols(symbols); err != nil {
		return nil, err
	}

	now := time.Now()

	cached := make(map[string]yahoo.Series, len(symbols))
	missing := make([]string, 0, len(symbols))

	f.mu.RLock()
	for _, s := range symbols {
		if e, ok := f.items[requestKey(s, period, freq, variant)]; ok && now.Before(e.expiresAt) {
			cached[s] = e.series
			continue
		}
		missing = append(missing, s)
	}
	f.mu.RUnlock()

	var fresh *yahoo.SeriesSet
	if len(missing) > 0 {
		var err error
		fresh, err = f.Inner.FetchMany(ctx, missing, period, freq, variant)
		if err != nil {
			return nil, err
		}

		expiry := now.Add(f.TTL)
		f.mu.Lock()
		if f.items == nil {
			f.items = make(map[string]entry, fresh.Len())
		}
		for _, sr := range fresh.All() {
			f.items[requestKey(sr.Symbol, period, freq, variant)] = entry{expiresAt: expiry, series: sr}
		}
		// best-effort cap on cache size: expired entries first, then arbitrary
		if f.MaxEntries > 0 && len(f.items) > f.MaxEntries {
			for k, e := range f.items {
				if now.After(e.expiresAt) {
					delete(f.items, k)
				}
				if len(f.items) <= f.MaxEntries {
					break
				}
			}
			for k := range f.items {
				if len(f.items) <= f.MaxEntries {
					break
				}
				delete(f.items, k)
			}
		}
		f.mu.Unlock()
	}

	// Merge cached and fresh preserving request order.
	out := make([]yahoo.Series, 0, len(symbols))
	for _, s := range symbols {
		if sr, ok := cached[s]; ok {
			out = append(out, sr)
			continue
		}
		if sr, ok := fresh.Get(s); ok {
			out = append(out, sr)
		}
	}
	return yahoo.NewSeriesSet(out...), nil
}
