package teapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"gpetl/internal/metrics"
)

// DefaultBaseURL is the production Trading Economics endpoint.
const DefaultBaseURL = "https://api.tradingeconomics.com"

// Options configures a Client.
type Options struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// APIKey is required; it is appended to every request as the "c" query
	// parameter and never appears in endpoint strings returned for logging.
	APIKey string

	// Job is the metrics job label attached to HTTP metrics.
	Job string

	// MinInterval is the minimum spacing between successive requests from
	// this client. Defaults to 1s, the provider's documented request budget.
	MinInterval time.Duration

	// Cooldown is the fixed wait before the single retry after an HTTP 429.
	// Defaults to 2s.
	Cooldown time.Duration

	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client

	// Unexported test seams.
	now   func() time.Time
	sleep func(d time.Duration)
}

// Client issues paced GET requests against the API.
//
// Pacing and the 429 policy are fixed by the provider's documented limits:
// 1 request/second, and on 429 wait a 2s cooldown and retry exactly once.
// There is no exponential backoff and no general retry budget on purpose.
//
// Client is safe for concurrent use, but the jobs in this repository are
// sequential; the pacing lock exists so a future caller cannot accidentally
// break the request budget.
type Client struct {
	baseURL string
	apiKey  string
	job     string

	minInterval time.Duration
	cooldown    time.Duration

	hc *http.Client

	now   func() time.Time
	sleep func(d time.Duration)

	mu   sync.Mutex
	last time.Time
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("teapi: APIKey is required")
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	minInterval := opts.MinInterval
	if minInterval <= 0 {
		minInterval = time.Second
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	sleepFn := opts.sleep
	if sleepFn == nil {
		sleepFn = time.Sleep
	}

	return &Client{
		baseURL:     baseURL,
		apiKey:      opts.APIKey,
		job:         opts.Job,
		minInterval: minInterval,
		cooldown:    cooldown,
		hc:          hc,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

// Fetched carries the raw payload of a successful request.
//
// Endpoint is the credential-free request path, suitable for ingestion-log
// rows and diagnostics.
type Fetched struct {
	Endpoint string
	Status   int
	Raw      []byte
}

// CountryMetadataResult is the decoded /country/{country} response.
type CountryMetadataResult struct {
	Fetched
	Items []CountryMeta
}

// IndicatorsResult is the decoded /indicators response.
type IndicatorsResult struct {
	Fetched
	Items []IndicatorMeta
}

// SeriesResult is the decoded historical response.
type SeriesResult struct {
	Fetched
	Items []Observation
}

// CountryMetadata fetches the indicator snapshot for one country.
func (c *Client) CountryMetadata(ctx context.Context, country string) (*CountryMetadataResult, error) {
	endpoint := "/country/" + url.PathEscape(country)

	raw, status, err := c.get(ctx, endpoint, false)
	if err != nil {
		return nil, err
	}
	items, err := decodeCountryMeta(raw)
	if err != nil {
		return nil, err
	}
	return &CountryMetadataResult{
		Fetched: Fetched{Endpoint: endpoint, Status: status, Raw: raw},
		Items:   items,
	}, nil
}

// Indicators fetches the full indicator catalog.
func (c *Client) Indicators(ctx context.Context) (*IndicatorsResult, error) {
	const endpoint = "/indicators"

	raw, status, err := c.get(ctx, endpoint, false)
	if err != nil {
		return nil, err
	}
	items, err := decodeIndicatorMeta(raw)
	if err != nil {
		return nil, err
	}
	return &IndicatorsResult{
		Fetched: Fetched{Endpoint: endpoint, Status: status, Raw: raw},
		Items:   items,
	}, nil
}

// HistoricalSeries fetches observations for one (country, indicator) pair
// over a date range.
//
// This is the only endpoint where a transport failure is retried (once,
// after the cooldown): it is the high-volume call in every run, and a single
// dropped connection should not cost a whole (country, indicator) iteration.
func (c *Client) HistoricalSeries(ctx context.Context, country, indicator string, start, end time.Time) (*SeriesResult, error) {
	endpoint := fmt.Sprintf("/historical/country/%s/indicator/%s/%s/%s",
		url.PathEscape(country),
		url.PathEscape(indicator),
		start.Format("2006-01-02"),
		end.Format("2006-01-02"),
	)

	raw, status, err := c.get(ctx, endpoint, true)
	if err != nil {
		return nil, err
	}
	items, err := decodeObservations(raw)
	if err != nil {
		return nil, err
	}
	return &SeriesResult{
		Fetched: Fetched{Endpoint: endpoint, Status: status, Raw: raw},
		Items:   items,
	}, nil
}

// get performs one paced GET with the fixed retry policy.
//
// Policy (see package docs):
//   - HTTP 429: wait the cooldown, retry exactly once; a second failure of
//     any kind is terminal.
//   - transport failure: terminal, unless retryTransport is set, in which
//     case it gets the same single post-cooldown retry.
//   - any other non-2xx: terminal immediately.
func (c *Client) get(ctx context.Context, endpoint string, retryTransport bool) ([]byte, int, error) {
	c.pace()

	raw, status, err := c.attempt(ctx, endpoint)

	switch {
	case err != nil:
		if !retryTransport {
			return nil, 0, &TransportError{Endpoint: endpoint, Err: err}
		}
	case status == http.StatusTooManyRequests:
		// fall through to the retry below
	case status < 200 || status > 299:
		return nil, status, &HTTPError{Endpoint: endpoint, Status: status}
	default:
		return raw, status, nil
	}

	c.sleep(c.cooldown)

	raw, status, err = c.attempt(ctx, endpoint)
	switch {
	case err != nil:
		return nil, 0, &TransportError{Endpoint: endpoint, Err: err}
	case status == http.StatusTooManyRequests:
		return nil, status, &RateLimitError{Endpoint: endpoint, Cooldown: c.cooldown}
	case status < 200 || status > 299:
		return nil, status, &HTTPError{Endpoint: endpoint, Status: status}
	}
	return raw, status, nil
}

// pace enforces the minimum inter-request interval.
func (c *Client) pace() {
	c.mu.Lock()
	now := c.now()

	var wait time.Duration
	if !c.last.IsZero() {
		if elapsed := now.Sub(c.last); elapsed < c.minInterval {
			wait = c.minInterval - elapsed
		}
	}
	c.last = now.Add(wait)
	c.mu.Unlock()

	if wait > 0 {
		c.sleep(wait)
	}
}

// attempt performs a single HTTP round trip and records HTTP metrics.
func (c *Client) attempt(ctx context.Context, endpoint string) ([]byte, int, error) {
	full := c.baseURL + endpoint + "?c=" + url.QueryEscape(c.apiKey) + "&f=json"

	start := c.now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.RecordHTTP(c.job, 0, err, -1, -1, -1)
		return nil, 0, err
	}
	reqDur := c.now().Sub(start)
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	respDur := c.now().Sub(start)

	metrics.RecordHTTP(c.job, resp.StatusCode, readErr, reqDur, respDur, int64(len(raw)))

	if readErr != nil {
		return nil, 0, readErr
	}
	return raw, resp.StatusCode, nil
}
