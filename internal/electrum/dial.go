// Copyright Project Hosh Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package electrum

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// plaintextPort is the conventional Electrum TCP port. Servers on
	// it speak the protocol without TLS.
	plaintextPort = 50001

	directConnectTimeout = 10 * time.Second
	socksConnectTimeout  = 30 * time.Second
)

// A conn is an established Electrum transport with its negotiated
// properties.
type conn struct {
	net.Conn
	br *bufio.Reader

	tlsVersion string
	selfSigned bool
	plaintext  bool
}

// dialer establishes Electrum transports. Onion hosts are reached
// through the SOCKS5 proxy, which resolves the hostname remotely.
type dialer struct {
	socksProxy string
}

func isOnion(host string) bool {
	return strings.HasSuffix(host, ".onion")
}

// connectTimeout is the budget for establishing the transport, which
// the TLS handshake inherits.
func (d dialer) connectTimeout(host string) time.Duration {
	if isOnion(host) {
		return socksConnectTimeout
	}
	return directConnectTimeout
}

// dial connects to host:port and negotiates TLS unless the port is
// the designated plaintext port. TLS is attempted with standard
// verification first; on a verification failure the connection is
// re-established with verification disabled and marked self-signed.
func (d dialer) dial(ctx context.Context, host string, port uint16) (*conn, error) {
	raw, err := d.dialTCP(ctx, host, port)
	if err != nil {
		return nil, err
	}

	if port == plaintextPort {
		return &conn{Conn: raw, tlsVersion: "None (plaintext)", plaintext: true}, nil
	}

	tc, err := handshake(ctx, raw, host, false, d.connectTimeout(host))
	if err == nil {
		return &conn{Conn: tc, tlsVersion: versionString(tc)}, nil
	}
	raw.Close()

	// Retry accepting whatever certificate the server presents. The
	// point is availability measurement, not authentication; the
	// result row records that the chain did not verify.
	raw, dialErr := d.dialTCP(ctx, host, port)
	if dialErr != nil {
		return nil, dialErr
	}
	tc, retryErr := handshake(ctx, raw, host, true, d.connectTimeout(host))
	if retryErr != nil {
		raw.Close()
		return nil, fmt.Errorf("SSL handshake failed with %s:%d - %v", host, port, err)
	}
	return &conn{Conn: tc, tlsVersion: versionString(tc), selfSigned: true}, nil
}

func (d dialer) dialTCP(ctx context.Context, host string, port uint16) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	if isOnion(host) {
		socks, err := proxy.SOCKS5("tcp", d.socksProxy, nil, &net.Dialer{Timeout: socksConnectTimeout})
		if err != nil {
			return nil, &torError{err: fmt.Errorf("failed to connect to .onion via Tor: %w", err)}
		}
		cd, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, &torError{err: fmt.Errorf("SOCKS5 dialer does not support contexts")}
		}
		dctx, cancel := context.WithTimeout(ctx, socksConnectTimeout)
		defer cancel()
		c, err := cd.DialContext(dctx, "tcp", addr)
		if err != nil {
			return nil, &torError{err: fmt.Errorf("failed to connect to .onion via Tor: %w", err)}
		}
		return c, nil
	}

	c, err := (&net.Dialer{Timeout: directConnectTimeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s - %w", addr, err)
	}
	return c, nil
}

// handshake negotiates TLS within timeout, independent of how much of
// the caller's deadline remains.
func handshake(ctx context.Context, raw net.Conn, host string, insecure bool, timeout time.Duration) (*tls.Conn, error) {
	if err := raw.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	tc := tls.Client(raw, &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS10,
		InsecureSkipVerify: insecure,
	})
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	if err := raw.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return tc, nil
}

func versionString(tc *tls.Conn) string {
	switch tc.ConnectionState().Version {
	case tls.VersionTLS13:
		return "TLSv1.3"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS10:
		return "TLSv1"
	default:
		return "unknown"
	}
}

// torError marks a failure to reach a hidden service through the
// SOCKS proxy, which classifies differently from ordinary connection
// failures.
type torError struct {
	err error
}

func (e *torError) Error() string { return e.err.Error() }
func (e *torError) Unwrap() error { return e.err }
