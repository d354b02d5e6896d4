// Package config holds the runtime configuration of torisolate: the upstream
// Tor proxy, credential lifetimes, fetch limits and report preferences.
// Values start from NewConfig defaults, are overlaid by an optional YAML file
// and finally by command-line flags.
package config
