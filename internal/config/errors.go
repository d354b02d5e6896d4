package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoTarget is returned when no URL was given.
	ErrNoTarget = errors.New("no target specified: provide at least one URL")

	// ErrInvalidProxyAddress is returned when the proxy address cannot be
	// parsed as a SOCKS5 endpoint.
	ErrInvalidProxyAddress = errors.New("invalid proxy address: expected host:port or socks5://host:port")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidConcurrency is returned when the concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidRequestInterval is returned when the request interval is negative.
	ErrInvalidRequestInterval = errors.New("invalid request interval: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidCredentialTTL is returned when the credential lifetime is not
	// positive. A zero lifetime would mint a new circuit for every request.
	ErrInvalidCredentialTTL = errors.New("invalid credential TTL: must be positive")

	// ErrInvalidMaxEntries is returned when the credential bound is negative.
	ErrInvalidMaxEntries = errors.New("invalid max entries: must be non-negative")

	// ErrInvalidSweepInterval is returned when the sweep interval is negative.
	ErrInvalidSweepInterval = errors.New("invalid sweep interval: must be non-negative")

	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")
)
