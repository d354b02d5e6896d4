// Package fetch downloads a list of URLs concurrently, each over the Tor
// circuit of its own site, and records what happened to every URL.
//
// Bodies are read up to a size limit and discarded. For HTML pages the
// <title> is kept so reports can show which page each circuit served.
package fetch
