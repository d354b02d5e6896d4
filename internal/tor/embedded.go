package tor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nao1215/tornago"
	"github.com/nao1215/torisolate/internal/proxyconfig"
)

// DefaultStartupTimeout is how long Start waits for the daemon to bootstrap.
const DefaultStartupTimeout = 3 * time.Minute

// daemon is a running Tor process. *tornago.TorProcess satisfies it.
type daemon interface {
	SocksAddr() string
	ControlAddr() string
	Stop() error
}

// launchFunc starts a Tor daemon and blocks until it has bootstrapped.
type launchFunc func(startupTimeout time.Duration) (daemon, error)

// launchTornago starts a daemon on OS-assigned ports. Tor enables
// IsolateSOCKSAuth on every SOCKS port by default, which is what turns
// per-site credentials into per-site circuits.
func launchTornago(startupTimeout time.Duration) (daemon, error) {
	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(startupTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	process, err := tornago.StartTorDaemon(launchCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded Tor daemon: %w", err)
	}
	return process, nil
}

// EmbeddedTor runs a private Tor daemon through tornago and exposes its
// SOCKS port as the upstream proxy endpoint.
//
// Bootstrapping takes one to three minutes while Tor downloads directory
// information and builds its first circuits.
type EmbeddedTor struct {
	startupTimeout time.Duration
	launch         launchFunc

	mu          sync.Mutex
	process     daemon
	endpoint    proxyconfig.Endpoint
	controlAddr string
}

// EmbeddedTorOption configures an EmbeddedTor instance.
type EmbeddedTorOption func(*EmbeddedTor)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
// Non-positive values keep DefaultStartupTimeout.
func WithStartupTimeout(timeout time.Duration) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		if timeout > 0 {
			e.startupTimeout = timeout
		}
	}
}

// NewEmbeddedTor creates an embedded Tor manager. Call Start to launch it.
func NewEmbeddedTor(opts ...EmbeddedTorOption) *EmbeddedTor {
	e := &EmbeddedTor{
		startupTimeout: DefaultStartupTimeout,
		launch:         launchTornago,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start launches the daemon and blocks until it has bootstrapped, the
// startup timeout expires, or ctx is done. A daemon that finishes
// bootstrapping after ctx was cancelled is stopped in the background.
func (e *EmbeddedTor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.process != nil {
		return ErrTorAlreadyRunning
	}

	type launched struct {
		process daemon
		err     error
	}
	ch := make(chan launched, 1)
	go func() {
		process, err := e.launch(e.startupTimeout)
		ch <- launched{process: process, err: err}
	}()

	var l launched
	select {
	case l = <-ch:
	case <-ctx.Done():
		go func() {
			if late := <-ch; late.process != nil {
				_ = late.process.Stop() //nolint:errcheck // Best effort cleanup
			}
		}()
		return ctx.Err()
	}
	if l.err != nil {
		return l.err
	}

	endpoint, err := proxyconfig.ParseEndpoint(l.process.SocksAddr())
	if err != nil {
		_ = l.process.Stop() //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("embedded Tor reported an unusable SOCKS address: %w", err)
	}

	e.process = l.process
	e.endpoint = endpoint
	e.controlAddr = l.process.ControlAddr()

	return nil
}

// Stop shuts the daemon down. It is safe to call on a stopped or unstarted
// instance.
func (e *EmbeddedTor) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.process == nil {
		return nil
	}

	err := e.process.Stop()
	e.process = nil
	e.endpoint = proxyconfig.Endpoint{}
	e.controlAddr = ""
	return err
}

// IsRunning reports whether the daemon is running.
func (e *EmbeddedTor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.process != nil
}

// ControlAddr returns the control port address, or "" when not running.
func (e *EmbeddedTor) ControlAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.controlAddr
}

// Endpoint returns the daemon's SOCKS port as a proxy endpoint.
func (e *EmbeddedTor) Endpoint() (proxyconfig.Endpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.process == nil {
		return proxyconfig.Endpoint{}, ErrTorNotRunning
	}
	return e.endpoint, nil
}
