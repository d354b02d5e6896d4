package proxyconfig

import (
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/nao1215/torisolate/internal/credential"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/proxy"
)

// usernamePrefix marks usernames produced by this package.
const usernamePrefix = "site-"

// usernameTagBytes is how many bytes of the site hash go into a username.
const usernameTagBytes = 16

// Config is a SOCKS5 proxy configuration for one site.
type Config struct {
	Endpoint Endpoint
	Username string
	Password string
}

// Username returns the proxy username for a site key.
// It is a hex tag of the site key's BLAKE2b hash, so it is stable for a
// site, never contains URL authority delimiters, and does not put the site
// name itself into the SOCKS handshake.
func Username(siteKey string) string {
	sum := blake2b.Sum256([]byte(siteKey))
	return usernamePrefix + hex.EncodeToString(sum[:usernameTagBytes])
}

// Build renders endpoint and cred into a Config.
func Build(endpoint Endpoint, cred credential.Credential) Config {
	return Config{
		Endpoint: endpoint,
		Username: Username(cred.SiteKey),
		Password: cred.Secret.Reveal(),
	}
}

// URL returns the config as a socks5 URL including credentials.
// The result contains the secret; use String for anything that is logged.
func (c Config) URL() *url.URL {
	return &url.URL{
		Scheme: c.Endpoint.Scheme,
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Endpoint.Address(),
	}
}

// String returns the proxy URL with the password redacted.
func (c Config) String() string {
	return c.URL().Redacted()
}

// Auth returns the RFC 1929 credentials for the SOCKS5 handshake.
func (c Config) Auth() *proxy.Auth {
	return &proxy.Auth{User: c.Username, Password: c.Password}
}

// Dialer returns a SOCKS5 dialer that authenticates with this config.
// If forward is nil, connections to the proxy are made directly.
func (c Config) Dialer(forward proxy.Dialer) (proxy.Dialer, error) {
	if forward == nil {
		forward = proxy.Direct
	}

	d, err := proxy.SOCKS5("tcp", c.Endpoint.Address(), c.Auth(), forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	return d, nil
}
