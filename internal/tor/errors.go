package tor

import (
	"errors"
	"fmt"
)

// Tor connectivity errors.
var (
	// ErrProxyNotTor is returned when the configured address answers but does
	// not behave like a Tor SOCKS5 port accepting username/password isolation.
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when no TCP connection to the proxy
	// can be established. Tor is usually not running.
	ErrProxyCannotConnect = errors.New("cannot connect to Tor proxy")

	// ErrProxyTimeout is returned when the proxy does not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to Tor proxy")

	// ErrConfigUnavailable is returned when a provider reports that no proxy
	// configuration is available. Requests are refused rather than sent
	// without the proxy.
	ErrConfigUnavailable = errors.New("proxy configuration unavailable")

	// ErrTorNotRunning is returned when the embedded Tor daemon is used before
	// it has started.
	ErrTorNotRunning = errors.New("embedded Tor daemon is not running")

	// ErrTorAlreadyRunning is returned by Start on a running daemon.
	ErrTorAlreadyRunning = errors.New("embedded Tor daemon is already running")
)

// ProxyStatus is the outcome of CheckProxy.
type ProxyStatus int

const (
	// ProxyStatusOK indicates a working SOCKS5 proxy that accepts
	// username/password authentication.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType indicates the peer is not a suitable SOCKS5 proxy.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect indicates the TCP connection failed.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout indicates the check timed out.
	ProxyStatusTimeout
)

// proxyStatusText and proxyStatusErr are indexed by ProxyStatus.
var (
	proxyStatusText = [...]string{"OK", "wrong type (not Tor)", "cannot connect", "timeout"}
	proxyStatusErr  = [...]error{nil, ErrProxyNotTor, ErrProxyCannotConnect, ErrProxyTimeout}
)

func (s ProxyStatus) known() bool {
	return s >= 0 && int(s) < len(proxyStatusText)
}

// String describes the status for logs and CLI output.
func (s ProxyStatus) String() string {
	if !s.known() {
		return "unknown"
	}
	return proxyStatusText[s]
}

// Error maps the status to its sentinel error; ProxyStatusOK maps to nil.
func (s ProxyStatus) Error() error {
	if !s.known() {
		return fmt.Errorf("unknown proxy status %d", int(s))
	}
	return proxyStatusErr[s]
}
