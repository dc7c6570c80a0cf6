package yahoo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"quotehistory/internal/ticks"
)

// Fetcher retrieves one variant of tick data for a list of symbols.
// *Client is the canonical implementation; decorators wrap it.
type Fetcher interface {
	FetchMany(ctx context.Context, symbols []string, period ticks.Period, freq ticks.Frequency, variant ticks.Variant) (*SeriesSet, error)
}

// Series is the outcome for one requested symbol.
type Series struct {
	Symbol string       `json:"symbol"`
	Ticks  []ticks.Tick `json:"ticks"`
	// Absent marks a symbol the service does not know at all, as opposed to
	// a known symbol with no ticks inside the period.
	Absent bool `json:"absent,omitempty"`
}

// HistoryTicks returns just the price bars in the series.
func (s Series) HistoryTicks() []ticks.HistoryTick {
	out := make([]ticks.HistoryTick, 0, len(s.Ticks))
	for _, t := range s.Ticks {
		if h, ok := t.(ticks.HistoryTick); ok {
			out = append(out, h)
		}
	}
	return out
}

// DividendTicks returns just the dividend payments in the series.
func (s Series) DividendTicks() []ticks.DividendTick {
	out := make([]ticks.DividendTick, 0, len(s.Ticks))
	for _, t := range s.Ticks {
		if d, ok := t.(ticks.DividendTick); ok {
			out = append(out, d)
		}
	}
	return out
}

// SplitTicks returns just the splits in the series.
func (s Series) SplitTicks() []ticks.SplitTick {
	out := make([]ticks.SplitTick, 0, len(s.Ticks))
	for _, t := range s.Ticks {
		if sp, ok := t.(ticks.SplitTick); ok {
			out = append(out, sp)
		}
	}
	return out
}

// SeriesSet holds one Series per requested symbol, in request order.
type SeriesSet struct {
	order    []string
	bySymbol map[string]Series
}

// NewSeriesSet builds a set from series in the given order. Later entries
// overwrite earlier ones with the same symbol.
func NewSeriesSet(series ...Series) *SeriesSet {
	set := &SeriesSet{
		order:    make([]string, 0, len(series)),
		bySymbol: make(map[string]Series, len(series)),
	}
	for _, sr := range series {
		if _, ok := set.bySymbol[sr.Symbol]; !ok {
			set.order = append(set.order, sr.Symbol)
		}
		set.bySymbol[sr.Symbol] = sr
	}
	return set
}

// Symbols lists the requested symbols in request order.
func (s *SeriesSet) Symbols() []string {
	return append([]string(nil), s.order...)
}

// Get returns the series for one symbol.
func (s *SeriesSet) Get(symbol string) (Series, bool) {
	sr, ok := s.bySymbol[symbol]
	return sr, ok
}

// All returns every series in request order.
func (s *SeriesSet) All() []Series {
	out := make([]Series, 0, len(s.order))
	for _, symbol := range s.order {
		out = append(out, s.bySymbol[symbol])
	}
	return out
}

// Len returns the number of series in the set.
func (s *SeriesSet) Len() int { return len(s.order) }

// FetchMany downloads one variant of tick data for every symbol concurrently
// and returns one series per symbol in request order. A symbol the service
// does not know comes back marked absent; any other per-symbol failure fails
// the whole call and cancels the downloads still in flight.
func (c *Client) FetchMany(ctx context.Context, symbols []string, period ticks.Period, freq ticks.Frequency, variant ticks.Variant) (*SeriesSet, error) {
	if err := ValidateSymbols(symbols); err != nil {
		return nil, err
	}

	series := make([]Series, len(symbols))
	g, ctx := errgroup.WithContext(ctx)
	if c.maxConcurrency > 0 {
		g.SetLimit(c.maxConcurrency)
	}
	for i, symbol := range symbols {
		i, symbol := i, symbol // the closure must capture this iteration's values
		g.Go(func() error {
			ts, absent, err := c.fetchOne(ctx, symbol, period, freq, variant)
			if err != nil {
				return err
			}
			series[i] = Series{Symbol: symbol, Ticks: ts, Absent: absent}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewSeriesSet(series...), nil
}

// ValidateSymbols rejects lists a fetch must not even start on: empty
// input, blank entries, duplicates (case-sensitive).
func ValidateSymbols(symbols []string) error {
	if len(symbols) == 0 {
		return &ValidationError{Message: "no symbols requested"}
	}
	for i, s := range symbols {
		if strings.TrimSpace(s) == "" {
			return &ValidationError{Message: fmt.Sprintf("symbol at index %d is blank", i)}
		}
	}
	counts := make(map[string]int, len(symbols))
	for _, s := range symbols {
		counts[s]++
	}
	var dups []string
	listed := make(map[string]bool, len(counts))
	for _, s := range symbols {
		if counts[s] > 1 && !listed[s] {
			listed[s] = true
			dups = append(dups, strconv.Quote(s))
		}
	}
	if len(dups) > 0 {
		return &ValidationError{Message: fmt.Sprintf("Duplicate symbol(s): %s.", strings.Join(dups, ", "))}
	}
	return nil
}

// fetchOne runs the per-symbol download state machine: request with current
// credentials, decode on 200, finish absent on 404, refresh and re-request
// exactly once on the first 401. Anything else is terminal.
func (c *Client) fetchOne(ctx context.Context, symbol string, period ticks.Period, freq ticks.Frequency, variant ticks.Variant) (out []ticks.Tick, absent bool, err error) {
	retried := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		// On the retry pass this forces a refresh, so the re-request runs
		// with a pair minted after the 401, never the rejected one.
		creds, err := c.session.Credentials(ctx, retried)
		if err != nil {
			return nil, false, err
		}

		u := BuildDownloadURL(c.downloadURL, symbol, period, freq, variant, creds.Crumb)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return nil, false, fmt.Errorf("creating download request: %w", err)
		}
		req.Header = c.header.Clone()
		for _, ck := range creds.Jar.Cookies(req.URL) {
			req.AddCookie(ck)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, false, fmt.Errorf("downloading %s: %w", symbol, err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			ts, err := decodeAll(resp.Body, variant)
			resp.Body.Close()
			if err != nil {
				return nil, false, fmt.Errorf("decoding %s: %w", symbol, err)
			}
			return ts, false, nil

		case http.StatusNotFound:
			// Normal outcome: the service has nothing under this symbol.
			resp.Body.Close()
			return nil, true, nil

		case http.StatusUnauthorized:
			resp.Body.Close()
			if retried {
				return nil, false, &StatusError{Symbol: symbol, Status: resp.StatusCode}
			}
			retried = true

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
			resp.Body.Close()
			return nil, false, &StatusError{Symbol: symbol, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
	}
}

// decodeAll drains one download body through the decoder, so decoding
// overlaps the network read instead of buffering the body first.
func decodeAll(r io.Reader, variant ticks.Variant) ([]ticks.Tick, error) {
	dec := NewDecoder(r, variant)
	out := make([]ticks.Tick, 0, 16)
	for {
		tk, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tk)
	}
}
