// Package proxyconfig renders per-site credentials into SOCKS5 proxy
// configurations.
//
// An Endpoint is the fixed upstream Tor SOCKS port. Build combines it with a
// credential.Credential into a Config whose username is a tag derived from
// the site key and whose password is the credential secret. Tor treats each
// distinct username/password pair as a separate isolation group, so each
// site gets its own circuit.
//
// Build is pure: it has no side effects and never fails. Configs are cheap,
// built fresh on every request, and never cached.
package proxyconfig
