package tor

import (
	"io"
	"net"
	"testing"

	"github.com/nao1215/torisolate/internal/proxyconfig"
)

// scriptedServer accepts one connection, reads the client's first message
// and answers with each reply in turn, reading once between replies.
func scriptedServer(t *testing.T, replies ...[]byte) proxyconfig.Endpoint {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start mock server: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 512)
		for _, reply := range replies {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
		// Hold the connection until the client hangs up.
		_, _ = io.Copy(io.Discard, conn)
	}()

	endpoint, err := proxyconfig.ParseEndpoint(listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to parse mock address: %v", err)
	}
	return endpoint
}
