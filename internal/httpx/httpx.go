package httpx

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// New returns an http.Client with sane defaults for talking to one upstream
// host: bounded dial and header timeouts, pooled keep-alive connections.
func New(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: newTransport()}
}

// NewWithSOCKS5 returns a client like New that dials through a SOCKS5 proxy.
// addr is "host:port" or "host:port:user:pass".
func NewWithSOCKS5(timeout time.Duration, addr string) (*http.Client, error) {
	parts := strings.Split(addr, ":")
	var auth *proxy.Auth
	switch len(parts) {
	case 2:
	case 4:
		auth = &proxy.Auth{User: parts[2], Password: parts[3]}
	default:
		return nil, fmt.Errorf("socks5 proxy %q: want host:port or host:port:user:pass", addr)
	}

	dialer, err := proxy.SOCKS5("tcp", net.JoinHostPort(parts[0], parts[1]), auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy %q: %w", addr, err)
	}

	transport := newTransport()
	transport.Proxy = nil
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.DialContext = nil
		transport.Dial = dialer.Dial
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
}
