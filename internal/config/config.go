package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

// Yahoo holds upstream settings. Empty endpoint and user agent fields mean
// the builtin defaults of the download client.
type Yahoo struct {
	DownloadEndpoint string `json:"download_endpoint"`
	AuthEndpoint     string `json:"auth_endpoint"`
	CrumbEndpoint    string `json:"crumb_endpoint"`
	UserAgent        string `json:"user_agent"`
	SocksProxy       string `json:"socks_proxy"`
	MaxConcurrency   int    `json:"max_concurrency"`
}

type Cache struct {
	TTLSeconds int `json:"ttl_sec"`
	MaxEntries int `json:"max_entries"`
}

type Config struct {
	Server Server `json:"server"`
	Yahoo  Yahoo  `json:"yahoo"`
	Cache  Cache  `json:"cache"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 15},
		Yahoo:  Yahoo{MaxConcurrency: 8},
		Cache:  Cache{TTLSeconds: 300, MaxEntries: 10000},
	}
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("YAHOO_DOWNLOAD_ENDPOINT"); v != "" {
		cfg.Yahoo.DownloadEndpoint = v
	}
	if v := os.Getenv("YAHOO_AUTH_ENDPOINT"); v != "" {
		cfg.Yahoo.AuthEndpoint = v
	}
	if v := os.Getenv("YAHOO_CRUMB_ENDPOINT"); v != "" {
		cfg.Yahoo.CrumbEndpoint = v
	}
	if v := os.Getenv("YAHOO_USER_AGENT"); v != "" {
		cfg.Yahoo.UserAgent = v
	}
	if v := os.Getenv("SOCKS_PROXY"); v != "" {
		cfg.Yahoo.SocksProxy = v
	}
	if v := os.Getenv("YAHOO_MAX_CONCURRENCY"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Yahoo.MaxConcurrency = x
		}
	}
	if v := os.Getenv("CACHE_TTL_SEC"); v != "" {
		var x int
		// Zero is a valid override here: it switches the cache off.
		if n, _ := fmt.Sscanf(v, "%d", &x); n == 1 && x >= 0 {
			cfg.Cache.TTLSeconds = x
		}
	}
	if v := os.Getenv("CACHE_MAX_ENTRIES"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Cache.MaxEntries = x
		}
	}
}
