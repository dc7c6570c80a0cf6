package main

import (
	"compress/gzip"
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"quotehistory/internal/config"
	"quotehistory/internal/histcache"
	"quotehistory/internal/httpx"
	"quotehistory/internal/yahoo"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	port := cfg.Server.Port
	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second

	client, err := newClient(cfg)
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	var fetcher historyFetcher = client
	if cfg.Cache.TTLSeconds > 0 {
		fetcher = &histcache.Fetcher{
			Inner:      client,
			TTL:        time.Duration(cfg.Cache.TTLSeconds) * time.Second,
			MaxEntries: cfg.Cache.MaxEntries,
		}
		log.Printf("caching series for %ds (max %d entries)", cfg.Cache.TTLSeconds, cfg.Cache.MaxEntries)
	}

	s := &server{fetcher: fetcher, timeout: timeout}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/actions", s.handleActions)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("server listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
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

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		// Basic CORS for browser usage; adjust as needed.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses response when client supports gzip.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		// Prefer best speed to reduce CPU usage since payloads are JSON
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
		next.ServeHTTP(gw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
