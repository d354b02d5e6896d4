package tor

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/nao1215/torisolate/internal/proxyconfig"
)

// checkProxyTimeout bounds the whole proxy check. It is a local
// connectivity check, not a request through Tor.
const checkProxyTimeout = 2 * time.Second

// SOCKS5 protocol constants.
const (
	socks5Version       = 0x05
	socks5AuthUserPass  = 0x02
	socks5AuthNoAccept  = 0xFF
	socks5CmdConnect    = 0x01
	socks5AddrTypeDomID = 0x03

	// userPassVersion is the RFC 1929 subnegotiation version.
	userPassVersion = 0x01
	userPassSuccess = 0x00

	// probeUsername and probePassword authenticate the check itself. Tor
	// accepts any credentials, so they only need to be well-formed.
	probeUsername = "torisolate-probe"
	probePassword = "probe"

	// probeHost is a syntactically valid name under a reserved TLD. The
	// check only needs the proxy to answer the CONNECT, not to succeed.
	probeHost = "connectivity-check.invalid"
	probePort = 80
)

// CheckProxy verifies that endpoint is a SOCKS5 proxy that accepts
// username/password authentication, which Tor needs for stream isolation.
//
// The check negotiates RFC 1929 authentication with a probe credential and
// sends a CONNECT request. Any well-formed SOCKS5 reply counts as success;
// Tor answers with a failure code for the unreachable probe host.
func CheckProxy(ctx context.Context, endpoint proxyconfig.Endpoint) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint.Address())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ProxyStatusCannotConnect
	}

	// Greeting: offer username/password only.
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthUserPass}); err != nil {
		return ProxyStatusCannotConnect
	}

	method := make([]byte, 2)
	if _, err := io.ReadFull(conn, method); err != nil {
		return readFailureStatus(err)
	}
	if method[0] != socks5Version || method[1] == socks5AuthNoAccept || method[1] != socks5AuthUserPass {
		return ProxyStatusWrongType
	}

	// RFC 1929: VER ULEN UNAME PLEN PASSWD
	auth := []byte{userPassVersion, byte(len(probeUsername))}
	auth = append(auth, probeUsername...)
	auth = append(auth, byte(len(probePassword)))
	auth = append(auth, probePassword...)
	if _, err := conn.Write(auth); err != nil {
		return ProxyStatusCannotConnect
	}

	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		return readFailureStatus(err)
	}
	if authResp[0] != userPassVersion || authResp[1] != userPassSuccess {
		return ProxyStatusWrongType
	}

	connectReq := []byte{
		socks5Version,
		socks5CmdConnect,
		0x00, // reserved
		socks5AddrTypeDomID,
		byte(len(probeHost)),
	}
	connectReq = append(connectReq, probeHost...)
	connectReq = append(connectReq, byte(probePort>>8), byte(probePort&0xFF))
	if _, err := conn.Write(connectReq); err != nil {
		return ProxyStatusCannotConnect
	}

	// VER REP RSV ATYP; the bound address that follows is irrelevant here.
	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		return readFailureStatus(err)
	}
	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}

	return ProxyStatusOK
}

// readFailureStatus maps a failed handshake read to a status.
func readFailureStatus(err error) ProxyStatus {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ProxyStatusTimeout
	}
	return ProxyStatusWrongType
}
