package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file name looked up in the
// current directory.
const DefaultConfigFile = ".torisolate"

// xdgConfigFile is the configuration file name inside XDGConfigDir.
const xdgConfigFile = "config.yaml"

// File represents the structure of the configuration file.
type File struct {
	Proxy       ProxySection       `yaml:"proxy,omitempty"`
	Credentials CredentialsSection `yaml:"credentials,omitempty"`
	Fetch       FetchSection       `yaml:"fetch,omitempty"`

	// Sites maps site keys (registrable domains such as "example.com") to
	// per-site request settings.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults applies to every site unless overridden in Sites.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// ProxySection configures the upstream Tor proxy.
type ProxySection struct {
	// Address of an external Tor SOCKS port. Setting it implies external.
	Address        string        `yaml:"address,omitempty"`
	External       *bool         `yaml:"external,omitempty"`
	StartupTimeout time.Duration `yaml:"startup_timeout,omitempty"`
}

// CredentialsSection configures the credential cache.
type CredentialsSection struct {
	TTL           time.Duration `yaml:"ttl,omitempty"`
	MaxEntries    *int          `yaml:"max_entries,omitempty"`
	SweepInterval time.Duration `yaml:"sweep_interval,omitempty"`
}

// FetchSection configures the fetch command.
type FetchSection struct {
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Concurrency int           `yaml:"concurrency,omitempty"`
	Interval    time.Duration `yaml:"interval,omitempty"`
	UserAgent   string        `yaml:"user_agent,omitempty"`
	MaxBodySize int64         `yaml:"max_body_size,omitempty"`
}

// LoadConfigFile loads a YAML configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}

	if cf.Sites == nil {
		cf.Sites = make(map[string]SiteConfig)
	}

	return &cf, nil
}

// Apply overlays the values set in the file onto cfg and attaches the
// per-site settings. Unset values leave cfg unchanged.
func (cf *File) Apply(cfg *Config) {
	if cf.Proxy.Address != "" {
		cfg.TorProxyAddress = cf.Proxy.Address
		cfg.UseExternalTor = true
	}
	if cf.Proxy.External != nil {
		cfg.UseExternalTor = *cf.Proxy.External
	}
	if cf.Proxy.StartupTimeout != 0 {
		cfg.TorStartupTimeout = cf.Proxy.StartupTimeout
	}

	if cf.Credentials.TTL != 0 {
		cfg.CredentialTTL = cf.Credentials.TTL
	}
	if cf.Credentials.MaxEntries != nil {
		cfg.MaxEntries = *cf.Credentials.MaxEntries
	}
	if cf.Credentials.SweepInterval != 0 {
		cfg.SweepInterval = cf.Credentials.SweepInterval
	}

	if cf.Fetch.Timeout != 0 {
		cfg.Timeout = cf.Fetch.Timeout
	}
	if cf.Fetch.Concurrency != 0 {
		cfg.Concurrency = cf.Fetch.Concurrency
	}
	if cf.Fetch.Interval != 0 {
		cfg.RequestInterval = cf.Fetch.Interval
	}
	if cf.Fetch.UserAgent != "" {
		cfg.UserAgent = cf.Fetch.UserAgent
	}
	if cf.Fetch.MaxBodySize != 0 {
		cfg.MaxBodySize = cf.Fetch.MaxBodySize
	}

	cfg.Sites = cf
}

// XDGConfigFile returns the path of config.yaml in XDGConfigDir.
func XDGConfigFile() string {
	return filepath.Join(XDGConfigDir(), xdgConfigFile)
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .torisolate in the current directory
// 3. Look for config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err == nil {
		cwdConfig := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(cwdConfig); err == nil {
			return cwdConfig
		}
	}

	xdgConfig := XDGConfigFile()
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig
	}

	return ""
}
