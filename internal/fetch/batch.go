package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/torisolate/internal/config"
	"github.com/nao1215/torisolate/internal/proxyconfig"
	"github.com/nao1215/torisolate/internal/tor"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Defaults used when no option overrides them.
const (
	DefaultConcurrency = 4
	DefaultMaxBodySize = 5 * 1024 * 1024
)

// ClientSource returns an HTTP client whose requests travel over the
// circuit of siteKey. tor.Client implements it.
type ClientSource interface {
	HTTPClientForSite(siteKey string) *http.Client
}

// Result records the outcome of fetching one URL.
type Result struct {
	URL        string        `json:"url"`
	SiteKey    string        `json:"site_key,omitempty"`
	Username   string        `json:"proxy_username,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Bytes      int64         `json:"bytes"`
	Truncated  bool          `json:"truncated,omitempty"`
	Title      string        `json:"title,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Error      string        `json:"error,omitempty"`
}

// OK reports whether the URL was fetched without a transport error.
func (r Result) OK() bool {
	return r.Error == ""
}

// BatchFetcher fetches many URLs with bounded concurrency and a global
// request rate.
type BatchFetcher struct {
	clients ClientSource

	concurrency int
	limiter     *rate.Limiter
	maxBodySize int64
	userAgent   string
	sites       *config.File

	logger *slog.Logger
}

// BatchOption configures a BatchFetcher.
type BatchOption func(*BatchFetcher)

// WithBatchLogger sets a custom logger for batch fetching.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchFetcher) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent requests.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchFetcher) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithRequestInterval sets the minimum gap between request starts across
// the whole batch. Zero disables the limit.
func WithRequestInterval(d time.Duration) BatchOption {
	return func(b *BatchFetcher) {
		if d > 0 {
			b.limiter = rate.NewLimiter(rate.Every(d), 1)
		} else {
			b.limiter = nil
		}
	}
}

// WithMaxBodySize caps the number of response bytes read per URL.
func WithMaxBodySize(n int64) BatchOption {
	return func(b *BatchFetcher) {
		if n > 0 {
			b.maxBodySize = n
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) BatchOption {
	return func(b *BatchFetcher) {
		b.userAgent = ua
	}
}

// WithSiteConfig applies per-site headers, cookies and user agents.
func WithSiteConfig(sites *config.File) BatchOption {
	return func(b *BatchFetcher) {
		b.sites = sites
	}
}

// NewBatchFetcher creates a BatchFetcher that obtains per-site clients
// from clients.
func NewBatchFetcher(clients ClientSource, opts ...BatchOption) *BatchFetcher {
	b := &BatchFetcher{
		clients:     clients,
		concurrency: DefaultConcurrency,
		maxBodySize: DefaultMaxBodySize,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.logger == nil {
		b.logger = slog.Default()
	}

	return b
}

// FetchAll fetches every URL and returns one Result per URL in input order.
// Failures of individual URLs are recorded in their Result and never stop
// the batch. The returned error is non-nil only when ctx was cancelled;
// URLs not started by then carry the cancellation error.
func (b *BatchFetcher) FetchAll(ctx context.Context, urls []string) ([]Result, error) {
	results := make([]Result, len(urls))

	startTime := time.Now()
	err := b.FetchEach(ctx, urls, func(result Result, index int) {
		results[index] = result
	})

	b.logger.Info("batch fetch complete",
		"total", len(urls),
		"elapsed", time.Since(startTime),
	)

	return results, err
}

// FetchEach fetches every URL and calls fn with each result and the index
// of its URL as soon as it completes. fn is called from several goroutines
// but never twice for the same index.
func (b *BatchFetcher) FetchEach(ctx context.Context, urls []string, fn func(Result, int)) error {
	b.logger.Info("starting batch fetch",
		"total", len(urls),
		"concurrency", b.concurrency,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, rawURL := range urls {
		g.Go(func() error {
			if err := b.wait(ctx); err != nil {
				fn(Result{URL: rawURL, Error: err.Error()}, i)
				return err
			}

			b.logger.Debug("fetching",
				"url", rawURL,
				"index", i+1,
				"total", len(urls),
			)

			result := b.fetch(ctx, rawURL)
			if result.OK() {
				b.logger.Debug("fetched",
					"url", rawURL,
					"site", result.SiteKey,
					"status", result.StatusCode,
					"bytes", result.Bytes,
				)
			} else {
				b.logger.Warn("fetch failed",
					"url", rawURL,
					"error", result.Error,
				)
			}

			fn(result, i)
			return nil
		})
	}

	return g.Wait()
}

// wait blocks until the rate limiter admits another request.
func (b *BatchFetcher) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// fetch performs one GET and never returns a Result without URL.
func (b *BatchFetcher) fetch(ctx context.Context, rawURL string) (result Result) {
	result = Result{URL: rawURL}
	start := time.Now()
	defer func() {
		result.Elapsed = time.Since(start)
	}()

	siteKey, err := tor.SiteKey(rawURL)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.SiteKey = siteKey
	result.Username = proxyconfig.Username(siteKey)

	req, err := b.newRequest(ctx, rawURL, siteKey)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	resp, err := b.clients.HTTPClientForSite(siteKey).Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode

	body := io.LimitReader(resp.Body, b.maxBodySize+1)
	var n int64
	if isHTML(resp.Header.Get("Content-Type")) {
		var buf bytes.Buffer
		n, err = buf.ReadFrom(body)
		result.Title = pageTitle(io.LimitReader(&buf, b.maxBodySize))
	} else {
		n, err = io.Copy(io.Discard, body)
	}
	if n > b.maxBodySize {
		n = b.maxBodySize
		result.Truncated = true
	}
	result.Bytes = n
	if err != nil {
		result.Error = fmt.Sprintf("reading body: %v", err)
	}

	return result
}

// newRequest builds the GET request for rawURL with global and per-site
// headers applied. URLs without a scheme default to https.
func (b *BatchFetcher) newRequest(ctx context.Context, rawURL, siteKey string) (*http.Request, error) {
	target := strings.TrimSpace(rawURL)
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	site := b.sites.GetSiteConfig(siteKey)

	userAgent := b.userAgent
	if site.UserAgent != "" {
		userAgent = site.UserAgent
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	for k, v := range site.Headers {
		req.Header.Set(k, v)
	}
	if site.Cookie != "" {
		req.Header.Set("Cookie", site.Cookie)
	}

	return req, nil
}
