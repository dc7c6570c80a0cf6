package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quotehistory/internal/aggregate"
	"quotehistory/internal/ticks"
	"quotehistory/internal/yahoo"
)

const maxSymbolsPerRequest = 1000

// historyFetcher is the slice of the download client the handlers need.
type historyFetcher interface {
	FetchMany(ctx context.Context, symbols []string, period ticks.Period, freq ticks.Frequency, variant ticks.Variant) (*yahoo.SeriesSet, error)
}

type server struct {
	fetcher historyFetcher
	timeout time.Duration
}

type seriesResponse struct {
	Series []yahoo.Series `json:"series"`
}

type actionsResponse struct {
	Actions []aggregate.Actions `json:"actions"`
}

// historyQuery carries one request's parameters, whether they came in as
// query params or as a POST body.
type historyQuery struct {
	Symbols  []string `json:"symbols"`
	Days     int      `json:"days"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Zone     string   `json:"zone"`
	Interval string   `json:"interval"`
	Events   string   `json:"events"`
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q, ok := queryToHistoryQuery(w, r)
		if !ok {
			return
		}
		s.writeSeries(r.Context(), w, q)
	case http.MethodPost:
		var q historyQuery
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&q); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		s.writeSeries(r.Context(), w, q)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q, ok := queryToHistoryQuery(w, r)
	if !ok {
		return
	}
	if !checkSymbols(w, q.Symbols) {
		return
	}
	freq, _, period, ok := resolveRequest(w, q)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	actions, err := aggregate.FetchActions(ctx, s.fetcher, q.Symbols, period, freq)
	if err != nil {
		writeFetchError(w, err)
		return
	}
	writeJSON(w, actionsResponse{Actions: actions})
}

func (s *server) writeSeries(ctx context.Context, w http.ResponseWriter, q historyQuery) {
	if !checkSymbols(w, q.Symbols) {
		return
	}
	freq, variant, period, ok := resolveRequest(w, q)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	set, err := s.fetcher.FetchMany(ctx, q.Symbols, period, freq, variant)
	if err != nil {
		writeFetchError(w, err)
		return
	}
	writeJSON(w, seriesResponse{Series: set.All()})
}

func queryToHistoryQuery(w http.ResponseWriter, r *http.Request) (historyQuery, bool) {
	vals := r.URL.Query()
	q := historyQuery{
		Symbols:  splitCSV(vals.Get("symbols")),
		Start:    vals.Get("start"),
		End:      vals.Get("end"),
		Zone:     vals.Get("zone"),
		Interval: vals.Get("interval"),
		Events:   vals.Get("events"),
	}
	if v := vals.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid days query param", http.StatusBadRequest)
			return q, false
		}
		q.Days = n
	}
	return q, true
}

func checkSymbols(w http.ResponseWriter, symbols []string) bool {
	if len(symbols) == 0 {
		http.Error(w, "missing symbols", http.StatusBadRequest)
		return false
	}
	if len(symbols) > maxSymbolsPerRequest {
		http.Error(w, fmt.Sprintf("too many symbols (max %d)", maxSymbolsPerRequest), http.StatusBadRequest)
		return false
	}
	return true
}

func resolveRequest(w http.ResponseWriter, q historyQuery) (ticks.Frequency, ticks.Variant, ticks.Period, bool) {
	interval := q.Interval
	if interval == "" {
		interval = "1d"
	}
	freq, err := ticks.ParseFrequency(interval)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, 0, ticks.Period{}, false
	}

	events := q.Events
	if events == "" {
		events = "history"
	}
	variant, err := ticks.ParseVariant(events)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, 0, ticks.Period{}, false
	}

	period, err := resolvePeriod(q.Days, q.Start, q.End, q.Zone)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, 0, ticks.Period{}, false
	}
	return freq, variant, period, true
}

// resolvePeriod prefers an explicit start/end pair of calendar days over the
// trailing days window.
func resolvePeriod(days int, startDate, endDate, zone string) (ticks.Period, error) {
	if zone == "" {
		zone = "America/New_York"
	}
	if startDate == "" {
		if days <= 0 {
			days = 30
		}
		return ticks.PeriodLast(time.Duration(days) * 24 * time.Hour), nil
	}
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return ticks.Period{}, fmt.Errorf("parsing start date: %w", err)
	}
	end := time.Now()
	if endDate != "" {
		end, err = time.Parse("2006-01-02", endDate)
		if err != nil {
			return ticks.Period{}, fmt.Errorf("parsing end date: %w", err)
		}
	}
	return ticks.PeriodBetweenDates(start, end, zone)
}

// writeFetchError distinguishes requests the caller got wrong from upstream
// trouble.
func writeFetchError(w http.ResponseWriter, err error) {
	var verr *yahoo.ValidationError
	if errors.As(err, &verr) {
		http.Error(w, verr.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
