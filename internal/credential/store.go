package credential

import (
	"sync"
	"time"

	"github.com/google/btree"
)

// DefaultMaxEntries bounds the number of sites tracked by a Store when no
// explicit bound is configured.
const DefaultMaxEntries = 1024

// btreeDegree is the branching factor of the expiry index.
const btreeDegree = 16

// Credential is a site-scoped proxy credential.
// Credentials are immutable: a refresh replaces the whole value.
type Credential struct {
	// SiteKey identifies the site this credential isolates.
	SiteKey string

	// Secret is the proxy password.
	Secret Secret

	// CreatedAt is when the credential was minted.
	CreatedAt time.Time

	// ExpiresAt is CreatedAt plus the store TTL. The credential is not
	// served at or after this instant.
	ExpiresAt time.Time
}

// LiveAt reports whether the credential may still be served at now.
func (c Credential) LiveAt(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// expiryKey orders the expiry index. Equal expiry times are broken by site
// key so eviction order never depends on insertion order.
type expiryKey struct {
	expiresAt time.Time
	siteKey   string
}

func lessExpiry(a, b expiryKey) bool {
	if !a.expiresAt.Equal(b.expiresAt) {
		return a.expiresAt.Before(b.expiresAt)
	}
	return a.siteKey < b.siteKey
}

// eviction is a pending listener notification collected under the lock.
type eviction struct {
	credential Credential
	reason     EvictReason
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxEntries bounds the number of credentials held at once.
// Zero or a negative value removes the bound.
func WithMaxEntries(n int) StoreOption {
	return func(s *Store) {
		s.maxEntries = n
	}
}

// WithGenerator sets the secret generator.
func WithGenerator(g Generator) StoreOption {
	return func(s *Store) {
		s.generator = g
	}
}

// Store caches one credential per site key.
//
// entries and expiry always hold the same key set; every mutation touches
// both while mu is held.
type Store struct {
	mu sync.Mutex

	// entries maps site key to its current credential.
	entries map[string]Credential

	// expiry orders credentials by (ExpiresAt, SiteKey).
	expiry *btree.BTreeG[expiryKey]

	ttl        time.Duration
	maxEntries int
	generator  Generator

	listenersMu sync.RWMutex
	listeners   []func(Credential, EvictReason)
}

// NewStore creates a Store whose credentials live for ttl.
func NewStore(ttl time.Duration, opts ...StoreOption) *Store {
	s := &Store{
		entries:    make(map[string]Credential),
		expiry:     btree.NewG[expiryKey](btreeDegree, lessExpiry),
		ttl:        ttl,
		maxEntries: DefaultMaxEntries,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.generator == nil {
		s.generator = NewRandomGenerator()
	}

	return s
}

// TTL returns the lifetime of credentials minted by this store.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// OnEvict registers fn to be called whenever a credential leaves the store.
// Listeners run after the store lock is released and may call back into
// the store.
func (s *Store) OnEvict(fn func(Credential, EvictReason)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// GetOrCreate returns the live credential for siteKey, minting a new one if
// none exists or the cached one has expired at now.
//
// The secret is generated before the store is modified, so a generation
// failure leaves the store untouched.
func (s *Store) GetOrCreate(siteKey string, now time.Time) (Credential, error) {
	if siteKey == "" {
		return Credential{}, ErrEmptySiteKey
	}

	s.mu.Lock()

	existing, ok := s.entries[siteKey]
	if ok && existing.LiveAt(now) {
		s.mu.Unlock()
		return existing, nil
	}

	secret, err := s.generator.Generate()
	if err != nil {
		s.mu.Unlock()
		return Credential{}, err
	}

	var evicted []eviction
	if ok {
		s.removeLocked(existing)
		evicted = append(evicted, eviction{credential: existing, reason: EvictReplaced})
	}

	for s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		oldest, found := s.expiry.Min()
		if !found {
			break
		}
		victim := s.entries[oldest.siteKey]
		s.removeLocked(victim)
		evicted = append(evicted, eviction{credential: victim, reason: EvictCapacity})
	}

	cred := Credential{
		SiteKey:   siteKey,
		Secret:    secret,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.entries[siteKey] = cred
	s.expiry.ReplaceOrInsert(expiryKey{expiresAt: cred.ExpiresAt, siteKey: siteKey})

	s.mu.Unlock()

	s.notify(evicted)
	return cred, nil
}

// Lookup returns the credential for siteKey if it is live at now.
// It never creates or removes entries.
func (s *Store) Lookup(siteKey string, now time.Time) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.entries[siteKey]
	if !ok || !cred.LiveAt(now) {
		return Credential{}, false
	}
	return cred, true
}

// Sweep removes every credential whose expiry is at or before now, in
// ascending expiry order, and returns how many were removed. It stops at
// the first live entry, so its cost is bounded by the number of expired
// credentials.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()

	var evicted []eviction
	for {
		oldest, ok := s.expiry.Min()
		if !ok || now.Before(oldest.expiresAt) {
			break
		}
		victim := s.entries[oldest.siteKey]
		s.removeLocked(victim)
		evicted = append(evicted, eviction{credential: victim, reason: EvictExpired})
	}

	s.mu.Unlock()

	s.notify(evicted)
	return len(evicted)
}

// ForceRotate discards the cached credential for siteKey regardless of its
// remaining lifetime. It reports whether a credential was removed.
func (s *Store) ForceRotate(siteKey string) bool {
	s.mu.Lock()

	cred, ok := s.entries[siteKey]
	if ok {
		s.removeLocked(cred)
	}

	s.mu.Unlock()

	if ok {
		s.notify([]eviction{{credential: cred, reason: EvictForced}})
	}
	return ok
}

// Len returns the number of cached credentials, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns copies of all cached credentials in ascending expiry order.
func (s *Store) Snapshot() []Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Credential, 0, len(s.entries))
	s.expiry.Ascend(func(k expiryKey) bool {
		result = append(result, s.entries[k.siteKey])
		return true
	})
	return result
}

// removeLocked deletes cred from both indexes. mu must be held.
func (s *Store) removeLocked(cred Credential) {
	delete(s.entries, cred.SiteKey)
	s.expiry.Delete(expiryKey{expiresAt: cred.ExpiresAt, siteKey: cred.SiteKey})
}

// notify delivers evictions to listeners. It must be called without mu held.
func (s *Store) notify(evicted []eviction) {
	if len(evicted) == 0 {
		return
	}

	s.listenersMu.RLock()
	listeners := make([]func(Credential, EvictReason), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()

	for _, ev := range evicted {
		for _, fn := range listeners {
			fn(ev.credential, ev.reason)
		}
	}
}
