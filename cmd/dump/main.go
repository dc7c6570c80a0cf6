package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
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
	var (
		symbolsFile string
		outPath     string
		cfgPath     string
		batchSize   int
		days        int
		startDate   string
		endDate     string
		zone        string
		freqFlag    string
		eventsFlag  string
		timeoutSec  int
		maxRetries  int
	)
	flag.StringVar(&symbolsFile, "symbols-file", "symbols.txt", "text file with one symbol per line")
	flag.StringVar(&outPath, "out", "history_dump.json", "output JSON file path")
	flag.StringVar(&cfgPath, "config", "", "path to config.json (optional)")
	flag.IntVar(&batchSize, "batch", 50, "symbols per download call")
	flag.IntVar(&days, "days", 365, "fetch the trailing N days (ignored when -start is set)")
	flag.StringVar(&startDate, "start", "", "period start date, YYYY-MM-DD")
	flag.StringVar(&endDate, "end", "", "period end date, YYYY-MM-DD (defaults to today)")
	flag.StringVar(&zone, "zone", "America/New_York", "market time zone for -start/-end")
	flag.StringVar(&freqFlag, "freq", "d", "bar frequency: d, w or m")
	flag.StringVar(&eventsFlag, "events", "history", "data variant: history, div or split")
	flag.IntVar(&timeoutSec, "timeout", 60, "timeout seconds per batch")
	flag.IntVar(&maxRetries, "retries", 2, "max retries per failed batch")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if timeoutSec > 0 {
		cfg.Server.RequestTimeoutSec = timeoutSec
	}

	symbols, err := readSymbols(symbolsFile)
	if err != nil {
		log.Fatalf("read symbols: %v", err)
	}
	if len(symbols) == 0 {
		log.Fatal("no symbols found in symbols-file")
	}
	log.Printf("symbols: %d", len(symbols))

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

	// Prepare output writer (streaming)
	outFile, err := os.Create(outPath)
	if err != nil {
		log.Fatalf("create out: %v", err)
	}
	defer outFile.Close()
	bw := bufio.NewWriterSize(outFile, 1<<20)

	// Start JSON envelope
	_, _ = bw.WriteString("{\"series\":[")
	first := true

	// Batches run one after another; the client already downloads the
	// symbols of a batch concurrently.
	timeout := time.Duration(timeoutSec) * time.Second
	batches := 0
	failed := 0
	for i := 0; i < len(symbols); i += batchSize {
		end := min(i+batchSize, len(symbols))
		batch := symbols[i:end]
		batches++

		set, err := fetchBatch(client, batch, period, freq, variant, timeout, maxRetries)
		if err != nil {
			failed++
			log.Printf("batch %d (%s..%s): %v", batches, batch[0], batch[len(batch)-1], err)
			continue
		}
		for _, sr := range set.All() {
			raw, err := json.Marshal(sr)
			if err != nil {
				log.Printf("marshal %s: %v", sr.Symbol, err)
				continue
			}
			if !first {
				_, _ = bw.WriteString(",")
			} else {
				first = false
			}
			_, _ = bw.Write(raw)
		}
	}

	// Close JSON envelope
	_, _ = bw.WriteString("]}")
	if err := bw.Flush(); err != nil {
		log.Fatalf("flush: %v", err)
	}
	if failed > 0 {
		log.Printf("done with %d of %d batches failed: wrote %s", failed, batches, outPath)
		return
	}
	log.Printf("done: wrote %s", outPath)
}

// fetchBatch retries transient batch failures with backoff. Validation
// failures are not retried; the input will not improve.
func fetchBatch(client *yahoo.Client, batch []string, period ticks.Period, freq ticks.Frequency, variant ticks.Variant, timeout time.Duration, maxRetries int) (*yahoo.SeriesSet, error) {
	attempt := 0
	for {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		set, err := client.FetchMany(ctx, batch, period, freq, variant)
		cancel()
		if err == nil {
			return set, nil
		}
		var verr *yahoo.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		if attempt < maxRetries {
			back := time.Duration(250*(1<<attempt)) * time.Millisecond
			time.Sleep(back)
			attempt++
			continue
		}
		return nil, err
	}
}

// readSymbols reads one symbol per line, skipping blanks, comments and
// duplicates.
func readSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
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
