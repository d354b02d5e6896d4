// Package credential holds the per-site proxy credentials handed to the
// Tor SOCKS5 proxy.
//
// A Credential binds a site key to a random secret for a fixed TTL. The Store
// keeps credentials in a map for lookup and in an ordered index keyed by
// (expiry, site key) so the earliest-expiring entries can be found without
// scanning every site. Both structures are mutated together under a single
// mutex.
//
// Credentials live only in memory. Nothing in this package writes to disk,
// and a process restart discards every credential.
package credential
