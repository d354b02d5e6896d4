package credential

import "errors"

var (
	// ErrEntropyExhausted is returned when the random source cannot supply
	// enough bytes for a new secret. Callers must not fall back to a weaker
	// or reused secret.
	ErrEntropyExhausted = errors.New("entropy source exhausted: cannot generate credential")

	// ErrEmptySiteKey is returned when a credential is requested for an empty site key.
	ErrEmptySiteKey = errors.New("site key must not be empty")
)

// EvictReason describes why a credential left the store.
type EvictReason int

const (
	// EvictExpired indicates the credential was removed by a sweep after its expiry.
	EvictExpired EvictReason = iota

	// EvictReplaced indicates an expired credential was replaced by GetOrCreate.
	EvictReplaced

	// EvictCapacity indicates the credential was the earliest-expiring entry
	// when the store reached its maximum size.
	EvictCapacity

	// EvictForced indicates the credential was discarded by ForceRotate.
	EvictForced
)

// String returns a human-readable name for the eviction reason.
func (r EvictReason) String() string {
	switch r {
	case EvictExpired:
		return "expired"
	case EvictReplaced:
		return "replaced"
	case EvictCapacity:
		return "capacity"
	case EvictForced:
		return "forced"
	default:
		return "unknown"
	}
}
