package tor

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/torisolate/internal/credential"
	"github.com/nao1215/torisolate/internal/proxyconfig"
	"github.com/nao1215/torisolate/internal/tor/tortest"
)

// stubProvider returns a fixed answer from LatestConfig.
type stubProvider struct {
	cfg          proxyconfig.Config
	availability Availability
	err          error
}

func (p stubProvider) LatestConfig(string) (proxyconfig.Config, Availability, error) {
	return p.cfg, p.availability, p.err
}

// newTestTarget starts an HTTP server that answers "ok".
func newTestTarget(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(server.Close)
	return server
}

// newTestService creates a Service routed through a fresh fake SOCKS5 server.
func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *tortest.Server) {
	t.Helper()

	socks := tortest.NewServer(t)
	store := credential.NewStore(10 * time.Minute)
	return NewService(socks.Endpoint(t), store, opts...), socks
}

func get(t *testing.T, client *http.Client, url string) {
	t.Helper()

	resp, err := client.Get(url) //nolint:noctx // test code
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("unexpected body %q", body)
	}
}

// TestClient_IsolatesSites tests that different sites authenticate with
// different usernames and the same site reuses its credential.
func TestClient_IsolatesSites(t *testing.T) {
	t.Parallel()

	svc, socks := newTestService(t)
	target := newTestTarget(t)
	client := NewClient(svc, 10*time.Second)
	t.Cleanup(client.CloseIdleConnections)

	get(t, client.HTTPClientForSite("a.example"), target.URL)
	get(t, client.HTTPClientForSite("b.example"), target.URL)
	get(t, client.HTTPClientForSite("a.example"), target.URL+"/again")

	seen := make(map[string]string)
	for _, auth := range socks.Auths() {
		if prev, ok := seen[auth.Username]; ok && prev != auth.Password {
			t.Errorf("username %s used two passwords without rotation", auth.Username)
		}
		seen[auth.Username] = auth.Password
	}

	for _, site := range []string{"a.example", "b.example"} {
		if _, ok := seen[proxyconfig.Username(site)]; !ok {
			t.Errorf("no SOCKS5 authentication for %s; saw %v", site, socks.Auths())
		}
	}
	if len(seen) != 2 {
		t.Errorf("expected 2 distinct usernames, got %d", len(seen))
	}
}

// TestClient_RotationUsesNewPassword tests that NewIdentity moves the site
// to a new password on its next connection.
func TestClient_RotationUsesNewPassword(t *testing.T) {
	t.Parallel()

	svc, socks := newTestService(t)
	target := newTestTarget(t)
	client := NewClient(svc, 10*time.Second)
	svc.AddObserver(client)
	t.Cleanup(client.CloseIdleConnections)

	httpClient := client.HTTPClientForSite("example.com")
	get(t, httpClient, target.URL)

	before := socks.Auths()
	if len(before) != 1 {
		t.Fatalf("expected 1 authentication, got %d", len(before))
	}

	if !svc.NewIdentity("example.com") {
		t.Fatal("expected NewIdentity to discard a credential")
	}
	get(t, httpClient, target.URL)

	after := socks.Auths()
	if len(after) != 2 {
		t.Fatalf("expected a new connection after rotation, got %d authentications", len(after))
	}
	if after[1].Username != before[0].Username {
		t.Errorf("username changed across rotation: %q -> %q", before[0].Username, after[1].Username)
	}
	if after[1].Password == before[0].Password {
		t.Error("expected a new password after rotation")
	}
}

// TestClient_StaleConfigAcceptedUpstream documents that the proxy cannot
// tell a stale credential apart from a current one: a caller that keeps a
// config across a rotation silently stays on the old circuit. Client avoids
// this by asking the provider on every dial.
func TestClient_StaleConfigAcceptedUpstream(t *testing.T) {
	t.Parallel()

	svc, socks := newTestService(t)
	target := newTestTarget(t)
	client := NewClient(svc, 10*time.Second)
	ctx := context.Background()

	stale, _, err := svc.LatestConfig("example.com")
	if err != nil {
		t.Fatalf("LatestConfig failed: %v", err)
	}
	svc.NewIdentity("example.com")

	dialer, err := stale.Dialer(nil)
	if err != nil {
		t.Fatalf("Dialer failed: %v", err)
	}
	conn, err := dialer.Dial("tcp", target.Listener.Addr().String())
	if err != nil {
		t.Fatalf("expected stale credential to be accepted, got %v", err)
	}
	_ = conn.Close()

	conn, err = client.DialContext(ctx, "example.com", "tcp", target.Listener.Addr().String())
	if err != nil {
		t.Fatalf("DialContext failed: %v", err)
	}
	_ = conn.Close()

	auths := socks.Auths()
	if len(auths) != 2 {
		t.Fatalf("expected 2 authentications, got %d", len(auths))
	}
	if auths[0].Password != stale.Password {
		t.Error("expected the first connection to use the stale password")
	}
	if auths[1].Password == stale.Password {
		t.Error("expected the client to use the rotated password")
	}
}

// TestClient_ConfigUnavailable tests that requests are refused, not sent
// directly, when no configuration is available.
func TestClient_ConfigUnavailable(t *testing.T) {
	t.Parallel()

	socks := tortest.NewServer(t)
	target := newTestTarget(t)
	t.Cleanup(func() {
		if socks.Conns() != 0 {
			t.Errorf("expected no proxy connections, got %d", socks.Conns())
		}
	})

	testCases := []struct {
		name     string
		provider ConfigProvider
		wantErr  error
	}{
		{
			name:     "pending",
			provider: stubProvider{availability: ConfigPending},
			wantErr:  ErrConfigUnavailable,
		},
		{
			name:     "unavailable",
			provider: stubProvider{availability: ConfigUnavailable},
			wantErr:  ErrConfigUnavailable,
		},
		{
			name: "entropy exhausted",
			provider: NewService(
				socks.Endpoint(t),
				credential.NewStore(time.Minute,
					credential.WithGenerator(credential.NewRandomGeneratorFrom(strings.NewReader("")))),
			),
			wantErr: credential.ErrEntropyExhausted,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := NewClient(tc.provider, 5*time.Second)

			_, err := client.HTTPClientForSite("example.com").Get(target.URL) //nolint:noctx,bodyclose // request must fail
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("GET error = %v, expected %v", err, tc.wantErr)
			}

			_, err = client.DialContext(context.Background(), "example.com", "tcp", target.Listener.Addr().String())
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("DialContext error = %v, expected %v", err, tc.wantErr)
			}
		})
	}
}

// TestClient_HTTPClientIsolatesByRequestHost tests that the unpinned client
// derives the site from each request URL.
func TestClient_HTTPClientIsolatesByRequestHost(t *testing.T) {
	t.Parallel()

	svc, socks := newTestService(t)
	target := newTestTarget(t)
	client := NewClient(svc, 10*time.Second)
	t.Cleanup(client.CloseIdleConnections)

	get(t, client.HTTPClient(), target.URL)

	auths := socks.Auths()
	if len(auths) != 1 {
		t.Fatalf("expected 1 authentication, got %d", len(auths))
	}
	if want := proxyconfig.Username("127.0.0.1"); auths[0].Username != want {
		t.Errorf("username = %q, expected %q", auths[0].Username, want)
	}
}

// TestClient_ResetProxyConfig tests that a pushed config replaces the cached
// transport only when the password changed.
func TestClient_ResetProxyConfig(t *testing.T) {
	t.Parallel()

	endpoint := proxyconfig.NewEndpoint("127.0.0.1", 9050)
	client := NewClient(stubProvider{availability: ConfigPending}, time.Second)

	cfg := proxyconfig.Config{Endpoint: endpoint, Username: proxyconfig.Username("example.com"), Password: "one"}
	client.ResetProxyConfig("example.com", cfg)
	first := client.transports[cfg.Username].transport

	client.ResetProxyConfig("example.com", cfg)
	if client.transports[cfg.Username].transport != first {
		t.Error("expected the same transport for an unchanged config")
	}

	cfg.Password = "two"
	client.ResetProxyConfig("example.com", cfg)
	if client.transports[cfg.Username].transport == first {
		t.Error("expected a new transport after a password change")
	}

	client.OnProxyConfigChanged("example.com", credential.EvictForced)
	if _, ok := client.transports[cfg.Username]; ok {
		t.Error("expected OnProxyConfigChanged to retire the transport")
	}
}

// TestDialContextHelper tests context handling of the dial helper.
func TestDialContextHelper(t *testing.T) {
	t.Parallel()

	t.Run("returns error for cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := dialContext(ctx, blockingDialer{}, "tcp", "example.com:80")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

// blockingDialer implements only proxy.Dialer and never connects.
type blockingDialer struct{}

func (blockingDialer) Dial(string, string) (net.Conn, error) {
	time.Sleep(50 * time.Millisecond)
	return nil, errors.New("unreachable")
}
