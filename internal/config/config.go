package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/nao1215/torisolate/internal/credential"
	"github.com/nao1215/torisolate/internal/proxyconfig"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "torisolate"

	// DefaultTorProxyAddress is the SOCKS port of a system Tor daemon.
	DefaultTorProxyAddress = "127.0.0.1:9050"

	// DefaultCredentialTTL is how long a site keeps its circuit. Ten minutes
	// matches Tor's own MaxCircuitDirtiness.
	DefaultCredentialTTL = 10 * time.Minute

	// DefaultMaxEntries bounds the number of cached site credentials.
	DefaultMaxEntries = credential.DefaultMaxEntries

	// DefaultTimeout covers one HTTP request through Tor, which takes
	// several relay hops.
	DefaultTimeout = 120 * time.Second

	// DefaultConcurrency is the number of URLs fetched in parallel.
	DefaultConcurrency = 4

	// DefaultRequestInterval is the minimum gap between request starts.
	DefaultRequestInterval = 1 * time.Second

	// DefaultUserAgent is sent with every HTTP request. It matches the Tor
	// Browser user agent so fetched pages cannot single us out by it.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:128.0) Gecko/20100101 Firefox/128.0"

	// DefaultMaxBodySize limits the response bytes read per URL.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute
)

// Config holds all configuration options for torisolate.
// It is populated from defaults, the config file and CLI flags, then passed
// explicitly to the components that need it.
type Config struct {
	// TorProxyAddress is the upstream Tor SOCKS5 proxy, as "host:port" or
	// "socks5://host:port". Only used when UseExternalTor is true.
	TorProxyAddress string

	// UseExternalTor disables the embedded Tor daemon and uses the proxy at
	// TorProxyAddress instead.
	UseExternalTor bool

	// TorStartupTimeout is the maximum time to wait for the embedded daemon.
	TorStartupTimeout time.Duration

	// CredentialTTL is the lifetime of a site's proxy credential. When it
	// expires the site moves to a new circuit.
	CredentialTTL time.Duration

	// MaxEntries bounds the number of cached credentials. Zero means
	// unbounded.
	MaxEntries int

	// SweepInterval is how often expired credentials are removed.
	// Zero means CredentialTTL.
	SweepInterval time.Duration

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// Concurrency is the number of URLs fetched at the same time.
	Concurrency int

	// RequestInterval is the minimum delay between starting two requests.
	RequestInterval time.Duration

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string

	// MaxBodySize is the maximum number of response bytes read per URL.
	// Zero means DefaultMaxBodySize.
	MaxBodySize int64

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is an explicit configuration file. When empty,
	// FindConfigFile searches the default locations.
	ConfigFilePath string

	// Sites holds per-site request settings loaded from the config file.
	Sites *File

	// JSONReport selects JSON output. Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport selects Markdown output.
	MarkdownReport bool

	// ReportFile writes the report to a file instead of stdout.
	ReportFile string

	// Targets is the list of URLs to resolve or fetch.
	Targets []string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		TorProxyAddress:   DefaultTorProxyAddress,
		TorStartupTimeout: DefaultTorStartupTimeout,
		CredentialTTL:     DefaultCredentialTTL,
		MaxEntries:        DefaultMaxEntries,
		Timeout:           DefaultTimeout,
		Concurrency:       DefaultConcurrency,
		RequestInterval:   DefaultRequestInterval,
		UserAgent:         DefaultUserAgent,
		MaxBodySize:       DefaultMaxBodySize,
	}
}

// XDGConfigDir returns the XDG config directory for torisolate.
// On Linux: ~/.config/torisolate
// On macOS: ~/Library/Application Support/torisolate
// On Windows: %APPDATA%\torisolate
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// EffectiveSweepInterval returns SweepInterval, or CredentialTTL when unset.
func (c *Config) EffectiveSweepInterval() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	return c.CredentialTTL
}

// ProxyEndpoint parses TorProxyAddress.
func (c *Config) ProxyEndpoint() (proxyconfig.Endpoint, error) {
	endpoint, err := proxyconfig.ParseEndpoint(c.TorProxyAddress)
	if err != nil {
		return proxyconfig.Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidProxyAddress, err)
	}
	return endpoint, nil
}

// Validate checks if the configuration is valid and returns the first
// problem found.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}

	if c.UseExternalTor {
		if _, err := c.ProxyEndpoint(); err != nil {
			return err
		}
	}

	if c.CredentialTTL <= 0 {
		return ErrInvalidCredentialTTL
	}

	if c.MaxEntries < 0 {
		return ErrInvalidMaxEntries
	}

	if c.SweepInterval < 0 {
		return ErrInvalidSweepInterval
	}

	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	if c.RequestInterval < 0 {
		return ErrInvalidRequestInterval
	}

	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}

	return nil
}
