package tor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/torisolate/internal/credential"
	"github.com/nao1215/torisolate/internal/proxyconfig"
)

// Availability reports whether a provider has a usable proxy configuration.
type Availability int

const (
	// ConfigAvailable means the returned configuration is usable.
	ConfigAvailable Availability = iota

	// ConfigPending means the provider cannot answer yet.
	ConfigPending

	// ConfigUnavailable means no configuration could be produced.
	// The caller must not fall back to a direct connection.
	ConfigUnavailable
)

// String returns a human-readable availability name.
func (a Availability) String() string {
	switch a {
	case ConfigAvailable:
		return "available"
	case ConfigPending:
		return "pending"
	case ConfigUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ConfigProvider supplies the current proxy configuration for a site.
type ConfigProvider interface {
	LatestConfig(siteKey string) (proxyconfig.Config, Availability, error)
}

// Observer is notified whenever a site's credential leaves the cache.
// Implementations should re-query LatestConfig before the next request for
// that site. Callbacks run synchronously on the goroutine that caused the
// eviction and must not block.
type Observer interface {
	OnProxyConfigChanged(siteKey string, reason credential.EvictReason)
}

// ConfigSink receives a forced configuration update for a site, typically
// the proxy-resolution layer of an HTTP client.
type ConfigSink interface {
	ResetProxyConfig(siteKey string, cfg proxyconfig.Config)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used by the service.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithSweepInterval sets how often Start sweeps expired credentials.
// The default is the store TTL.
func WithSweepInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// Service hands out per-site SOCKS5 configurations for a single Tor endpoint.
//
// The store is owned by the caller and must outlive the Service. Several
// services may share one store, in which case they also share credentials.
type Service struct {
	endpoint proxyconfig.Endpoint
	store    *credential.Store

	logger        *slog.Logger
	now           func() time.Time
	sweepInterval time.Duration

	observersMu sync.RWMutex
	observers   []Observer

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewService creates a Service for endpoint backed by store.
func NewService(endpoint proxyconfig.Endpoint, store *credential.Store, opts ...ServiceOption) *Service {
	s := &Service{
		endpoint:      endpoint,
		store:         store,
		now:           time.Now,
		sweepInterval: store.TTL(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	store.OnEvict(s.handleEviction)

	return s
}

// Endpoint returns the upstream proxy endpoint.
func (s *Service) Endpoint() proxyconfig.Endpoint {
	return s.endpoint
}

// LatestConfig returns the proxy configuration for siteKey, minting a new
// credential when the site has none or its credential has expired.
// Availability is ConfigAvailable whenever err is nil. A generation failure
// yields ConfigUnavailable and an error wrapping
// credential.ErrEntropyExhausted.
func (s *Service) LatestConfig(siteKey string) (proxyconfig.Config, Availability, error) {
	cred, err := s.store.GetOrCreate(siteKey, s.now())
	if err != nil {
		s.logger.Error("failed to obtain proxy credential",
			"site", siteKey,
			"error", err,
		)
		return proxyconfig.Config{}, ConfigUnavailable, fmt.Errorf("proxy config for %q: %w", siteKey, err)
	}

	return proxyconfig.Build(s.endpoint, cred), ConfigAvailable, nil
}

// AddObserver registers o for credential change notifications.
func (s *Service) AddObserver(o Observer) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, o)
}

// RemoveObserver unregisters o. Removing an unknown observer is a no-op.
func (s *Service) RemoveObserver(o Observer) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()

	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// NewIdentity discards the credential for siteKey so the next request gets
// a fresh circuit. It reports whether a credential was discarded.
func (s *Service) NewIdentity(siteKey string) bool {
	return s.store.ForceRotate(siteKey)
}

// SetProxy derives the site key for siteURL, optionally rotates its
// credential, and pushes the resulting configuration into sink.
func (s *Service) SetProxy(sink ConfigSink, siteURL string, newPassword bool) error {
	siteKey, err := SiteKey(siteURL)
	if err != nil {
		return err
	}

	if newPassword {
		s.store.ForceRotate(siteKey)
	}

	cfg, _, err := s.LatestConfig(siteKey)
	if err != nil {
		return err
	}

	sink.ResetProxyConfig(siteKey, cfg)
	s.logger.Debug("proxy config pushed",
		"site", siteKey,
		"username", cfg.Username,
		"rotated", newPassword,
	)
	return nil
}

// Sweep removes expired credentials at the service clock's current time.
func (s *Service) Sweep() int {
	n := s.store.Sweep(s.now())
	if n > 0 {
		s.logger.Debug("swept expired proxy credentials",
			"removed", n,
			"remaining", s.store.Len(),
		)
	}
	return n
}

// Start launches the periodic sweep. It returns immediately; the sweep
// runs until ctx is cancelled or Stop is called. Calling Start on a running
// service is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.sweepLoop(ctx, s.done)
}

// Stop halts the periodic sweep and waits for it to exit. After Stop
// returns no further sweeps run. It is safe to call Stop more than once.
func (s *Service) Stop() {
	s.lifecycleMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Service) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// handleEviction fans a store eviction out to the registered observers.
func (s *Service) handleEviction(cred credential.Credential, reason credential.EvictReason) {
	s.logger.Debug("proxy credential rotated",
		"site", cred.SiteKey,
		"reason", reason.String(),
	)

	s.observersMu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.observersMu.RUnlock()

	for _, o := range observers {
		o.OnProxyConfigChanged(cred.SiteKey, reason)
	}
}
