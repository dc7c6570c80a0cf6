package aggregate

import (
	"context"

	"golang.org/x/sync/errgroup"

	"quotehistory/internal/ticks"
	"quotehistory/internal/yahoo"
)

// Actions bundles every kind of tick data for one symbol over one period.
type Actions struct {
	Symbol    string               `json:"symbol"`
	Absent    bool                 `json:"absent,omitempty"`
	Bars      []ticks.HistoryTick  `json:"bars"`
	Dividends []ticks.DividendTick `json:"dividends"`
	Splits    []ticks.SplitTick    `json:"splits"`
}

// FetchActions downloads price bars, dividends and splits for every symbol,
// running the three variants concurrently over the same fetcher, and zips
// them per symbol in request order. Any variant failing fails the call.
func FetchActions(ctx context.Context, f yahoo.Fetcher, symbols []string, period ticks.Period, freq ticks.Frequency) ([]Actions, error) {
	var history, dividends, splits *yahoo.SeriesSet

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = f.FetchMany(ctx, symbols, period, freq, ticks.History)
		return err
	})
	g.Go(func() error {
		var err error
		dividends, err = f.FetchMany(ctx, symbols, period, freq, ticks.Dividend)
		return err
	})
	g.Go(func() error {
		var err error
		splits, err = f.FetchMany(ctx, symbols, period, freq, ticks.Split)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Actions, 0, len(symbols))
	for _, s := range history.Symbols() {
		h, _ := history.Get(s)
		d, _ := dividends.Get(s)
		sp, _ := splits.Get(s)
		out = append(out, Actions{
			Symbol: s,
			// Unknown symbols 404 on every variant, so only a symbol no
			// variant knows is reported absent.
			Absent:    h.Absent && d.Absent && sp.Absent,
			Bars:      h.HistoryTicks(),
			Dividends: d.DividendTicks(),
			Splits:    sp.SplitTicks(),
		})
	}
	return out, nil
}
