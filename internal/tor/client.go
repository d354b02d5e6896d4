package tor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/nao1215/torisolate/internal/credential"
	"github.com/nao1215/torisolate/internal/proxyconfig"
	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
)

// maxRedirects bounds redirect chains followed by clients from this package.
const maxRedirects = 10

// Client routes HTTP requests and raw connections through Tor with one
// circuit per site.
//
// Every request asks the provider for the site's current configuration, so
// a rotated credential is picked up on the next request. One http.Transport
// is kept per site username and replaced when the password changes; the old
// transport's idle connections are closed so no stream keeps using a
// retired circuit.
type Client struct {
	provider ConfigProvider
	timeout  time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	transports map[string]*siteTransport
}

// siteTransport is the cached transport for one site username.
type siteTransport struct {
	password  string
	transport *http.Transport
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger used by the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client that obtains proxy configurations from provider.
// timeout applies to HTTP clients created by this client.
func NewClient(provider ConfigProvider, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		provider:   provider,
		timeout:    timeout,
		transports: make(map[string]*siteTransport),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c
}

// HTTPClient returns an HTTP client that isolates each request by the site
// of its own URL. Redirects to another site therefore switch circuits.
func (c *Client) HTTPClient() *http.Client {
	return c.newHTTPClient(&isolatingTransport{client: c})
}

// HTTPClientForSite returns an HTTP client whose requests all use the
// circuit of siteKey, regardless of the host being fetched. This matches a
// browser tab, where subresources share the first-party site's circuit.
func (c *Client) HTTPClientForSite(siteKey string) *http.Client {
	return c.newHTTPClient(&isolatingTransport{client: c, siteKey: siteKey})
}

func (c *Client) newHTTPClient(rt http.RoundTripper) *http.Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}) //nolint:errcheck // cookiejar.New never fails

	return &http.Client{
		Transport: rt,
		Timeout:   c.timeout,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// DialContext opens a TCP connection to address through the circuit of siteKey.
func (c *Client) DialContext(ctx context.Context, siteKey, network, address string) (net.Conn, error) {
	cfg, err := c.latestConfig(siteKey)
	if err != nil {
		return nil, err
	}

	dialer, err := cfg.Dialer(nil)
	if err != nil {
		return nil, err
	}
	return dialContext(ctx, dialer, network, address)
}

// OnProxyConfigChanged implements Observer by retiring the site's transport.
func (c *Client) OnProxyConfigChanged(siteKey string, reason credential.EvictReason) {
	username := proxyconfig.Username(siteKey)

	c.mu.Lock()
	st, ok := c.transports[username]
	delete(c.transports, username)
	c.mu.Unlock()

	if ok {
		st.transport.CloseIdleConnections()
		c.logger.Debug("retired site transport",
			"site", siteKey,
			"reason", reason.String(),
		)
	}
}

// ResetProxyConfig implements ConfigSink by installing cfg for siteKey.
func (c *Client) ResetProxyConfig(siteKey string, cfg proxyconfig.Config) {
	if _, err := c.install(cfg); err != nil {
		c.logger.Warn("failed to install proxy config",
			"site", siteKey,
			"error", err,
		)
	}
}

// CloseIdleConnections closes idle connections on every cached transport.
func (c *Client) CloseIdleConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, st := range c.transports {
		st.transport.CloseIdleConnections()
	}
}

// transportFor returns the transport for siteKey's current configuration.
func (c *Client) transportFor(siteKey string) (*http.Transport, error) {
	cfg, err := c.latestConfig(siteKey)
	if err != nil {
		return nil, err
	}
	return c.install(cfg)
}

func (c *Client) latestConfig(siteKey string) (proxyconfig.Config, error) {
	cfg, availability, err := c.provider.LatestConfig(siteKey)
	if err != nil {
		return proxyconfig.Config{}, err
	}
	if availability != ConfigAvailable {
		return proxyconfig.Config{}, fmt.Errorf("%w: %s", ErrConfigUnavailable, availability)
	}
	return cfg, nil
}

// install returns the cached transport for cfg, replacing it when the
// password has changed.
func (c *Client) install(cfg proxyconfig.Config) (*http.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.transports[cfg.Username]
	if ok && st.password == cfg.Password {
		return st.transport, nil
	}

	transport, err := newSiteTransport(cfg)
	if err != nil {
		return nil, err
	}

	if ok {
		st.transport.CloseIdleConnections()
	}
	c.transports[cfg.Username] = &siteTransport{password: cfg.Password, transport: transport}
	return transport, nil
}

// newSiteTransport creates a transport dialing through cfg's SOCKS5 proxy.
func newSiteTransport(cfg proxyconfig.Config) (*http.Transport, error) {
	dialer, err := cfg.Dialer(nil)
	if err != nil {
		return nil, err
	}

	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialContext(ctx, dialer, network, addr)
		},
		// Each connection holds a Tor stream, so keep the pools small.
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		// Compressed response sizes can leak content (CRIME/BREACH).
		DisableCompression: true,
	}, nil
}

// dialContext uses the dialer's context support when it has one.
func dialContext(ctx context.Context, dialer proxy.Dialer, network, address string) (net.Conn, error) {
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := dialer.Dial(network, address)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case result := <-resultCh:
		return result.conn, result.err
	case <-ctx.Done():
		go func() {
			if result := <-resultCh; result.conn != nil {
				_ = result.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// isolatingTransport picks a per-site transport for every request.
type isolatingTransport struct {
	client *Client

	// siteKey pins every request to one site when non-empty.
	siteKey string
}

// RoundTrip implements http.RoundTripper.
func (t *isolatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	siteKey := t.siteKey
	if siteKey == "" {
		key, err := SiteKey(req.URL.String())
		if err != nil {
			return nil, err
		}
		siteKey = key
	}

	transport, err := t.client.transportFor(siteKey)
	if err != nil {
		return nil, err
	}
	return transport.RoundTrip(req)
}
