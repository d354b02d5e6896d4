// Package tor isolates traffic to different sites onto different Tor
// circuits.
//
// Tor assigns a separate circuit to every distinct SOCKS5
// username/password pair (IsolateSOCKSAuth). Service exploits this by
// handing out a per-site proxy configuration: the username is derived from
// the site key and the password is a random secret cached in a
// credential.Store until it expires. When the secret expires or is
// rotated, the site moves to a fresh circuit on its next request.
//
// Client consumes those configurations to build HTTP clients and raw
// dialers, and EmbeddedTor launches a private daemon through tornago when
// no system Tor is available.
package tor
