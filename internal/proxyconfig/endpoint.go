package proxyconfig

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// SchemeSOCKS5 is the only proxy scheme this package produces.
const SchemeSOCKS5 = "socks5"

// schemeSOCKS5H is accepted on input as an alias of socks5. Tor always
// resolves names remotely, so the distinction does not matter here.
const schemeSOCKS5H = "socks5h"

var (
	// ErrInvalidEndpoint is returned when a proxy endpoint cannot be parsed.
	ErrInvalidEndpoint = errors.New("invalid proxy endpoint: expected [socks5://]host:port")

	// ErrUnsupportedScheme is returned for proxy schemes other than socks5.
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme: only socks5 is supported")
)

// Endpoint is the upstream SOCKS5 proxy. It is configured once and never
// changes afterwards.
type Endpoint struct {
	Scheme string
	Host   string
	Port   uint16
}

// NewEndpoint creates a socks5 endpoint for host and port.
func NewEndpoint(host string, port uint16) Endpoint {
	return Endpoint{Scheme: SchemeSOCKS5, Host: host, Port: port}
}

// ParseEndpoint parses "socks5://host:port", "socks5h://host:port" or a bare
// "host:port". IPv6 hosts must be bracketed.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, ErrInvalidEndpoint
	}

	hostport := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
		}
		switch strings.ToLower(u.Scheme) {
		case SchemeSOCKS5, schemeSOCKS5H:
		default:
			return Endpoint{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
		}
		if u.User != nil || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
			return Endpoint{}, ErrInvalidEndpoint
		}
		hostport = u.Host
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	if host == "" {
		return Endpoint{}, ErrInvalidEndpoint
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Endpoint{}, ErrInvalidEndpoint
	}

	return NewEndpoint(host, uint16(port)), nil
}

// Address returns the endpoint in "host:port" form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.FormatUint(uint64(e.Port), 10))
}

// String returns the endpoint as a proxy URL without credentials.
func (e Endpoint) String() string {
	return e.Scheme + "://" + e.Address()
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}
