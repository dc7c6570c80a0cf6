package yahoo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync/atomic"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"
)

// Credentials is one crumb/cookie pair minted from the auth endpoints. A pair
// is immutable; a refresh replaces the whole pair, never parts of it.
type Credentials struct {
	Jar   http.CookieJar
	Crumb string
}

// Session owns the crumb/cookie pair shared by every download in the
// process. Construct with NewSession; the zero value has no endpoints.
type Session struct {
	authURL    string
	crumbURL   string
	httpClient HTTPClient
	header     http.Header

	// current is the cached pair, nil until the first acquisition.
	current atomic.Pointer[Credentials]

	// coalesce concurrent acquisitions into one upstream round trip
	sf singleflight.Group
}

// SessionOption is a configuration option for the session.
type SessionOption func(*Session)

// WithSessionHTTPClient sets the HTTP client used for acquisition calls.
func WithSessionHTTPClient(httpClient HTTPClient) SessionOption {
	return func(s *Session) {
		s.httpClient = httpClient
	}
}

// WithSessionEndpoints overrides the auth landing and crumb endpoints.
// Empty strings keep the defaults.
func WithSessionEndpoints(authURL, crumbURL string) SessionOption {
	return func(s *Session) {
		if authURL != "" {
			s.authURL = authURL
		}
		if crumbURL != "" {
			s.crumbURL = crumbURL
		}
	}
}

// WithSessionHeader sets headers sent with acquisition calls.
func WithSessionHeader(header http.Header) SessionOption {
	return func(s *Session) {
		s.header = header
	}
}

// NewSession creates a session against the public auth endpoints.
func NewSession(options ...SessionOption) *Session {
	var session = &Session{
		authURL:    defaultAuthURL,
		crumbURL:   defaultCrumbURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	for _, option := range options {
		option(session)
	}
	return session
}

// Credentials returns the cached crumb/cookie pair, acquiring one when the
// cache is empty. forceRefresh discards the cached pair first; a caller that
// just saw a 401 uses it so the retry runs with a pair minted after the
// rejection. Acquisitions are coalesced: callers arriving while one is in
// flight await it and share its outcome.
func (s *Session) Credentials(ctx context.Context, forceRefresh bool) (*Credentials, error) {
	if !forceRefresh {
		if c := s.current.Load(); c != nil {
			return c, nil
		}
	}
	v, err, _ := s.sf.Do("session", func() (any, error) {
		if !forceRefresh {
			// Lost the cache race to an acquisition that finished between
			// our miss and here; its pair is good enough.
			if c := s.current.Load(); c != nil {
				return c, nil
			}
		}
		c, err := s.acquire(ctx)
		if err != nil {
			return nil, err
		}
		s.current.Store(c)
		return c, nil
	})
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	return v.(*Credentials), nil
}

// acquire mints a fresh pair: the landing request seeds a brand new cookie
// jar, then the crumb endpoint is read with those cookies attached. The old
// pair is never reused or merged into the new one.
func (s *Session) acquire(ctx context.Context) (*Credentials, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("new cookie jar: %w", err)
	}

	authReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.authURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating auth request: %w", err)
	}
	authReq.Header = s.header.Clone()
	resp, err := s.httpClient.Do(authReq)
	if err != nil {
		return nil, fmt.Errorf("performing auth request: %w", err)
	}
	// The landing page answers 404 yet still sets the session cookie, so the
	// status is ignored and only the cookies matter.
	jar.SetCookies(authReq.URL, resp.Cookies())
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
	if len(jar.Cookies(authReq.URL)) == 0 {
		return nil, fmt.Errorf("GET %s set no session cookie", s.authURL)
	}

	crumbReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.crumbURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating crumb request: %w", err)
	}
	crumbReq.Header = s.header.Clone()
	for _, ck := range jar.Cookies(crumbReq.URL) {
		crumbReq.AddCookie(ck)
	}
	resp, err = s.httpClient.Do(crumbReq)
	if err != nil {
		return nil, fmt.Errorf("performing crumb request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("GET %s -> %d: %s", s.crumbURL, resp.StatusCode, string(b))
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
	if err != nil {
		return nil, fmt.Errorf("reading crumb: %w", err)
	}
	crumb := strings.TrimSpace(string(b))
	// The endpoint answers failures with JSON or HTML bodies; a real crumb is
	// a short opaque token with neither.
	if crumb == "" || strings.ContainsAny(crumb, "{}<>") {
		return nil, fmt.Errorf("unparsable crumb %q", crumb)
	}
	return &Credentials{Jar: jar, Crumb: crumb}, nil
}
