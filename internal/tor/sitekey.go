package tor

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// ErrInvalidSiteURL is returned when no host can be extracted from a site URL.
var ErrInvalidSiteURL = errors.New("invalid site URL: no host")

// SiteKey returns the isolation key for rawURL: the registrable domain
// (eTLD+1) of its host, so that "a.example.com" and "b.example.com" share a
// circuit while "example.org" gets its own.
//
// rawURL may be a full URL or a bare host. Hosts are lowercased and
// converted to their ASCII (punycode) form. IP literals and hosts without a
// registrable domain, such as "localhost", are returned unchanged.
func SiteKey(rawURL string) (string, error) {
	host, err := hostOf(rawURL)
	if err != nil {
		return "", err
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSiteURL, err)
	}

	site, err := publicsuffix.EffectiveTLDPlusOne(ascii)
	if err != nil {
		// The host is itself a public suffix or a single label.
		return ascii, nil
	}
	return site, nil
}

// hostOf extracts the lowercased host from a URL or bare host string.
func hostOf(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrInvalidSiteURL
	}

	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSiteURL, err)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", ErrInvalidSiteURL
	}
	return host, nil
}
