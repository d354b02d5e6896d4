// Package main provides the entry point for the torisolate CLI.
//
// torisolate fetches URLs through Tor while giving every site its own
// circuit. Each registrable domain gets its own SOCKS5 username and
// password, which Tor's IsolateSOCKSAuth turns into a separate circuit.
// Credentials expire after a TTL so long-lived sites move to fresh circuits.
//
// Usage:
//
//	torisolate fetch <url>...
//	torisolate resolve <url>...
//
// See --help for all available options.
package main

func main() {
	Execute()
}
