package yahoo

import (
	"net/http"
)

const (
	defaultDownloadURL = "https://query1.finance.yahoo.com/v7/finance/download"
	defaultAuthURL     = "https://fc.yahoo.com"
	defaultCrumbURL    = "https://query1.finance.yahoo.com/v1/test/getcrumb"

	defaultUserAgent = "Mozilla/5.0 (compatible; quotehistory/1.0)"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=yahoo_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client downloads historical tick data for many symbols concurrently. All
// requests it makes share one crumb/cookie session.
type Client struct {
	// downloadURL is the base URL of the download endpoint.
	downloadURL string
	// authURL and crumbURL override the session endpoints when set.
	authURL  string
	crumbURL string
	// httpClient performs every request, downloads and session calls alike.
	httpClient HTTPClient
	// header is sent with each request.
	header http.Header
	// session owns the crumb/cookie pair.
	session *Session
	// maxConcurrency caps concurrent symbol downloads; 0 means unbounded.
	maxConcurrency int
}

// ClientOption is a configuration option for the client.
type ClientOption func(*Client)

// WithDownloadURL overrides the download endpoint.
func WithDownloadURL(u string) ClientOption {
	return func(c *Client) {
		c.downloadURL = u
	}
}

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader adds headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithAuthEndpoints overrides the auth landing and crumb endpoints of the
// client's private session. Empty strings keep the defaults; the option is
// ignored when WithSession supplies a session.
func WithAuthEndpoints(authURL, crumbURL string) ClientOption {
	return func(c *Client) {
		c.authURL = authURL
		c.crumbURL = crumbURL
	}
}

// WithSession shares an existing session instead of building a private one.
func WithSession(session *Session) ClientOption {
	return func(c *Client) {
		c.session = session
	}
}

// WithMaxConcurrency caps the number of symbols downloaded at once.
func WithMaxConcurrency(n int) ClientOption {
	return func(c *Client) {
		c.maxConcurrency = n
	}
}

// NewClient creates a client against the public endpoints. Options swap the
// endpoints, HTTP client and headers, which is how tests stay off the
// network.
func NewClient(options ...ClientOption) *Client {
	var client = &Client{
		downloadURL: defaultDownloadURL,
		httpClient:  http.DefaultClient,
		header:      http.Header{},
	}
	for _, option := range options {
		option(client)
	}
	if client.header.Get("User-Agent") == "" {
		client.header.Set("User-Agent", defaultUserAgent)
	}
	if client.session == nil {
		client.session = NewSession(
			WithSessionHTTPClient(client.httpClient),
			WithSessionHeader(client.header),
			WithSessionEndpoints(client.authURL, client.crumbURL),
		)
	}
	return client
}
