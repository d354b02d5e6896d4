// Package tortest provides a SOCKS5 server that stands in for a Tor SOCKS
// port in tests.
package tortest

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/nao1215/torisolate/internal/proxyconfig"
)

const (
	socks5Version    = 0x05
	authUserPass     = 0x02
	authNoAcceptable = 0xFF
	cmdConnect       = 0x01
	atypIPv4         = 0x01
	atypDomain       = 0x03
	atypIPv6         = 0x04
	userPassVersion  = 0x01

	replySucceeded       = 0x00
	replyHostUnreachable = 0x04
	replyConnRefused     = 0x05
)

// Auth is one RFC 1929 credential pair presented to a Server.
type Auth struct {
	Username string
	Password string
}

// Server is a minimal SOCKS5 proxy that behaves like a Tor SOCKS port: it
// requires username/password authentication, accepts any credential,
// records it, and relays CONNECT requests directly to the target.
// Targets under the ".invalid" TLD are refused with "host unreachable".
type Server struct {
	listener net.Listener

	mu    sync.Mutex
	auths []Auth
	conns int
}

// NewServer starts a Server on a loopback port. It is closed when the test
// ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start fake SOCKS5 server: %v", err)
	}

	s := &Server{listener: listener}
	go s.serve()
	t.Cleanup(func() { _ = listener.Close() })

	return s
}

// Addr returns the "host:port" the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Endpoint returns the proxy endpoint of the server.
func (s *Server) Endpoint(t testing.TB) proxyconfig.Endpoint {
	t.Helper()

	endpoint, err := proxyconfig.ParseEndpoint(s.Addr())
	if err != nil {
		t.Fatalf("failed to parse fake SOCKS5 address: %v", err)
	}
	return endpoint
}

// Auths returns the credentials presented so far, in order.
func (s *Server) Auths() []Auth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Auth(nil), s.auths...)
}

// Usernames returns the distinct usernames presented so far.
func (s *Server) Usernames() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make(map[string]bool, len(s.auths))
	for _, a := range s.auths {
		names[a.Username] = true
	}
	return names
}

// Conns returns the number of accepted connections.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	// VER NMETHODS METHODS...
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil || header[0] != socks5Version {
		return
	}
	methods := make([]byte, header[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return
	}
	offered := false
	for _, m := range methods {
		if m == authUserPass {
			offered = true
		}
	}
	if !offered {
		_, _ = conn.Write([]byte{socks5Version, authNoAcceptable})
		return
	}
	if _, err := conn.Write([]byte{socks5Version, authUserPass}); err != nil {
		return
	}

	auth, ok := readUserPass(conn)
	if !ok {
		return
	}
	s.mu.Lock()
	s.auths = append(s.auths, auth)
	s.mu.Unlock()
	if _, err := conn.Write([]byte{userPassVersion, 0x00}); err != nil {
		return
	}

	host, port, ok := readConnect(conn)
	if !ok {
		return
	}

	if strings.HasSuffix(host, ".invalid") {
		_ = writeReply(conn, replyHostUnreachable)
		return
	}

	target, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port)))) //nolint:noctx // test code
	if err != nil {
		_ = writeReply(conn, replyConnRefused)
		return
	}
	defer target.Close()

	if err := writeReply(conn, replySucceeded); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(target, conn)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(conn, target)
		done <- struct{}{}
	}()
	<-done
}

// writeReply sends a CONNECT reply with an all-zero IPv4 bound address.
func writeReply(w io.Writer, code byte) error {
	_, err := w.Write([]byte{socks5Version, code, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0})
	return err
}

// readUserPass reads an RFC 1929 request.
func readUserPass(r io.Reader) (Auth, bool) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil || header[0] != userPassVersion {
		return Auth{}, false
	}
	user := make([]byte, header[1])
	if _, err := io.ReadFull(r, user); err != nil {
		return Auth{}, false
	}
	plen := make([]byte, 1)
	if _, err := io.ReadFull(r, plen); err != nil {
		return Auth{}, false
	}
	pass := make([]byte, plen[0])
	if _, err := io.ReadFull(r, pass); err != nil {
		return Auth{}, false
	}
	return Auth{Username: string(user), Password: string(pass)}, true
}

// readConnect reads a CONNECT request and returns its target.
func readConnect(r io.Reader) (string, uint16, bool) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil || header[1] != cmdConnect {
		return "", 0, false
	}

	var host string
	switch header[3] {
	case atypIPv4:
		addr := make([]byte, net.IPv4len)
		if _, err := io.ReadFull(r, addr); err != nil {
			return "", 0, false
		}
		host = net.IP(addr).String()
	case atypIPv6:
		addr := make([]byte, net.IPv6len)
		if _, err := io.ReadFull(r, addr); err != nil {
			return "", 0, false
		}
		host = net.IP(addr).String()
	case atypDomain:
		n := make([]byte, 1)
		if _, err := io.ReadFull(r, n); err != nil {
			return "", 0, false
		}
		name := make([]byte, n[0])
		if _, err := io.ReadFull(r, name); err != nil {
			return "", 0, false
		}
		host = string(name)
	default:
		return "", 0, false
	}

	port := make([]byte, 2)
	if _, err := io.ReadFull(r, port); err != nil {
		return "", 0, false
	}
	return host, binary.BigEndian.Uint16(port), true
}
