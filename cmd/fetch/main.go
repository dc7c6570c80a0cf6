package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"quotehistory/internal/config"
	"quotehistory/internal/httpx"
	"quotehistory/internal/ticks"
	"quotehistory/internal/yahoo"
)

func main() {
	var symbolsCSV string
	var days int
	var startDate string
	var endDate string
	var zone string
	var freqFlag string
	var eventsFlag string
	var timeout int
	var configPath string

	flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", "AAPL"), "comma-separated symbols")
	flag.IntVar(&days, "days", 30, "fetch the trailing N days (ignored when -start is set)")
	flag.StringVar(&startDate, "start", "", "period start date, YYYY-MM-DD")
	flag.StringVar(&endDate, "end", "", "period end date, YYYY-MM-DD (defaults to today)")
	flag.StringVar(&zone, "zone", "America/New_York", "market time zone for -start/-end")
	flag.StringVar(&freqFlag, "freq", "d", "bar frequency: d, w or m")
	flag.StringVar(&eventsFlag, "events", "history", "data variant: history, div or split")
	flag.IntVar(&timeout, "timeout", getenvInt("REQUEST_TIMEOUT_SEC", 15), "request timeout seconds")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if timeout != 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}

	symbols := splitCSV(symbolsCSV)
	if len(symbols) == 0 {
		log.Fatal("no symbols provided")
	}

	freq, err := ticks.ParseFrequency(freqFlag)
	if err != nil {
		log.Fatalf("freq: %v", err)
	}
	variant, err := ticks.ParseVariant(eventsFlag)
	if err != nil {
		log.Fatalf("events: %v", err)
	}
	period, err := resolvePeriod(days, startDate, endDate, zone)
	if err != nil {
		log.Fatalf("period: %v", err)
	}

	client, err := newClient(cfg)
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.RequestTimeoutSec)*time.Second)
	defer cancel()

	set, err := client.FetchMany(ctx, symbols, period, freq, variant)
	if err != nil {
		log.Fatalf("fetch: %v", err)
	}

	out := struct {
		Series []yahoo.Series `json:"series"`
	}{Series: set.All()}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

// resolvePeriod prefers an explicit -start/-end pair of calendar days over
// the trailing -days window.
func resolvePeriod(days int, startDate, endDate, zone string) (ticks.Period, error) {
	if startDate == "" {
		return ticks.PeriodLast(time.Duration(days) * 24 * time.Hour), nil
	}
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return ticks.Period{}, fmt.Errorf("parsing -start: %w", err)
	}
	end := time.Now()
	if endDate != "" {
		end, err = time.Parse("2006-01-02", endDate)
		if err != nil {
			return ticks.Period{}, fmt.Errorf("parsing -end: %w", err)
		}
	}
	return ticks.PeriodBetweenDates(start, end, zone)
}

func newClient(cfg config.Config) (*yahoo.Client, error) {
	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	var httpClient *http.Client
	if cfg.Yahoo.SocksProxy != "" {
		var err error
		httpClient, err = httpx.NewWithSOCKS5(timeout, cfg.Yahoo.SocksProxy)
		if err != nil {
			return nil, err
		}
	} else {
		httpClient = httpx.New(timeout)
	}

	opts := []yahoo.ClientOption{yahoo.WithHTTPClient(httpClient)}
	if cfg.Yahoo.UserAgent != "" {
		opts = append(opts, yahoo.WithHeader(http.Header{"User-Agent": []string{cfg.Yahoo.UserAgent}}))
	}
	if cfg.Yahoo.DownloadEndpoint != "" {
		opts = append(opts, yahoo.WithDownloadURL(cfg.Yahoo.DownloadEndpoint))
	}
	if cfg.Yahoo.AuthEndpoint != "" || cfg.Yahoo.CrumbEndpoint != "" {
		opts = append(opts, yahoo.WithAuthEndpoints(cfg.Yahoo.AuthEndpoint, cfg.Yahoo.CrumbEndpoint))
	}
	if cfg.Yahoo.MaxConcurrency > 0 {
		opts = append(opts, yahoo.WithMaxConcurrency(cfg.Yahoo.MaxConcurrency))
	}
	return yahoo.NewClient(opts...), nil
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

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x != 0 {
			return x
		}
	}
	return def
}
