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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecthosh/hosh/internal/fixture"
)

// startFakeElectrum runs a TLS Electrum server with a self-signed
// certificate and returns its port.
func startFakeElectrum(t *testing.T, responses map[string]string) uint16 {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "fake-electrum"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadBytes('\n')
					if err != nil {
						return
					}
					var req struct {
						Method string `json:"method"`
					}
					if json.Unmarshal(line, &req) != nil {
						return
					}
					resp, ok := responses[req.Method]
					if !ok {
						resp = `{"id":1,"error":{"code":-32601,"message":"unknown method"}}`
					}
					if _, err := c.Write(append([]byte(resp), '\n')); err != nil {
						return
					}
				}
			}(c)
		}
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return uint16(port)
}

func TestProbeHealthyServer(t *testing.T) {
	port := startFakeElectrum(t, map[string]string{
		"server.version":                `{"id":1,"result":["ElectrumX 1.16.0","1.4"]}`,
		"blockchain.headers.subscribe": `{"id":1,"result":{"height":878812,"hex":"` + genesisHeaderHex + `"}}`,
	})

	p := NewProber("", fixture.NewTestLogger(t))
	p.LookupHost = func(context.Context, string) ([]string, error) {
		return []string{"203.0.113.7"}, nil
	}

	report := p.Probe(context.Background(), "127.0.0.1", port)

	assert.Equal(t, "online", report.Status)
	assert.Equal(t, uint64(878812), report.Height)
	assert.Equal(t, "ElectrumX 1.16.0", report.ServerVersion)
	assert.Equal(t, "blockchain.headers.subscribe", report.MethodUsed)
	assert.Equal(t, []string{"203.0.113.7"}, report.ResolvedIPs)
	assert.Greater(t, report.Ping, 0.0)
	assert.Empty(t, report.Error)

	// The chain is self-signed, so the first handshake fails and the
	// permissive retry records it.
	require.NotNil(t, report.SelfSigned)
	assert.True(t, *report.SelfSigned)
	assert.Equal(t, "SSL (self-signed)", report.ConnectionType)
	assert.NotEmpty(t, report.TLSVersion)

	// Decoded header fields.
	assert.Equal(t, int32(1), report.Version)
	assert.Equal(t, uint32(1231006505), report.Timestamp)
	assert.Equal(t, "Sat, 3 Jan 2009 18:15:05 GMT", report.TimestampHuman)
}

func TestProbeRefusedConnection(t *testing.T) {
	// Grab a port that nothing is listening on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	p := NewProber("", fixture.NewTestLogger(t))
	report := p.Probe(context.Background(), "127.0.0.1", uint16(port))

	assert.Equal(t, "offline", report.Status)
	assert.Equal(t, "host_unreachable", report.ErrorType)
	assert.NotEmpty(t, report.Error)
}

func TestProbeProtocolError(t *testing.T) {
	port := startFakeElectrum(t, map[string]string{
		"server.version": `{"id":1,"result":["ElectrumX 1.16.0","1.4"]}`,
	})

	p := NewProber("", fixture.NewTestLogger(t))
	p.LookupHost = func(context.Context, string) ([]string, error) { return nil, nil }

	report := p.Probe(context.Background(), "127.0.0.1", port)

	assert.Equal(t, "offline", report.Status)
	assert.Equal(t, "protocol_error", report.ErrorType)
}

func TestProbeZeroPortUsesDefault(t *testing.T) {
	p := NewProber("", fixture.NewDiscardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	report := p.Probe(ctx, "192.0.2.1", 0)
	assert.Equal(t, DefaultPort, report.Port)
	assert.Equal(t, "offline", report.Status)
}
