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

// Package electrum probes Electrum servers over newline-delimited
// JSON-RPC. A probe negotiates the transport (TLS, plaintext, or Tor
// via SOCKS5), asks for the server version, and times a
// blockchain.headers.subscribe call whose 80-byte header payload is
// decoded into the protocol-specific result fields.
package electrum

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// clientID is the identifier sent in server.version.
const clientID = "btc-backend"

// protocolRange is the supported Electrum protocol version range.
var protocolRange = []string{"1.4", "1.4.5"}

// DefaultPort is the module's default (TLS) port, substituted when a
// target carries port 0.
const DefaultPort uint16 = 50002

// A Report is the full response_data payload for one probe.
type Report struct {
	Host           string   `json:"host"`
	Port           uint16   `json:"port"`
	Height         uint64   `json:"height"`
	Status         string   `json:"status"`
	Ping           float64  `json:"ping"`
	ServerVersion  string   `json:"server_version"`
	MethodUsed     string   `json:"method_used,omitempty"`
	TLSVersion     string   `json:"tls_version,omitempty"`
	SelfSigned     *bool    `json:"self_signed,omitempty"`
	ConnectionType string   `json:"connection_type,omitempty"`
	ResolvedIPs    []string `json:"resolved_ips"`

	// Header fields, present when the subscribe result carried hex.
	Version        int32  `json:"version,omitempty"`
	PrevBlock      string `json:"prev_block,omitempty"`
	MerkleRoot     string `json:"merkle_root,omitempty"`
	Timestamp      uint32 `json:"timestamp,omitempty"`
	TimestampHuman string `json:"timestamp_human,omitempty"`
	Bits           uint32 `json:"bits,omitempty"`
	Nonce          uint32 `json:"nonce,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// Prober runs Electrum probes.
type Prober struct {
	// SocksProxy is the host:port of the SOCKS5 proxy used for
	// .onion targets.
	SocksProxy string

	// LookupHost overrides DNS resolution, for tests.
	LookupHost func(ctx context.Context, host string) ([]string, error)

	logrus.FieldLogger
}

// NewProber returns a Prober routing hidden services through
// socksProxy.
func NewProber(socksProxy string, log logrus.FieldLogger) *Prober {
	return &Prober{
		SocksProxy:  socksProxy,
		FieldLogger: log.WithField("context", "electrum"),
	}
}

// Probe checks one server. Failures never return an error; they are
// reported in the Report's error fields so the observation is stored
// either way.
func (p *Prober) Probe(ctx context.Context, host string, port uint16) Report {
	if port == 0 {
		port = DefaultPort
	}
	report := Report{
		Host:        host,
		Port:        port,
		Status:      "offline",
		ResolvedIPs: []string{},
	}

	log := p.WithField("host", host).WithField("port", port)
	log.Info("starting probe")

	d := dialer{socksProxy: p.SocksProxy}
	c, err := d.dial(ctx, host, port)
	if err != nil {
		report.Error, report.ErrorType = classifyDialError(ctx, err)
		log.WithError(err).Error("connection failed")
		return report
	}
	defer c.Close()

	report.TLSVersion = c.tlsVersion
	if !c.plaintext {
		selfSigned := c.selfSigned
		report.SelfSigned = &selfSigned
	}
	report.ConnectionType = connectionType(host, c)

	// A failed version request is not fatal; the height probe decides
	// whether the server is up.
	report.ServerVersion = "unknown"
	if resp, err := c.request("server.version", []any{clientID, protocolRange}); err == nil {
		var fields []json.RawMessage
		if json.Unmarshal(resp.Result, &fields) == nil && len(fields) > 0 {
			var v string
			if json.Unmarshal(fields[0], &v) == nil {
				report.ServerVersion = v
			}
		}
	} else {
		log.WithError(err).Warn("server.version failed")
	}

	if !isOnion(host) {
		report.ResolvedIPs = p.resolve(ctx, host)
	}

	start := time.Now()
	resp, err := c.request("blockchain.headers.subscribe", []any{})
	if err != nil {
		report.Error = "Failed to query headers for " + net.JoinHostPort(host, strconv.Itoa(int(port))) + " - " + err.Error()
		report.ErrorType = classifyRequestError(ctx, err)
		log.WithError(err).Error("headers.subscribe failed")
		return report
	}
	report.Ping = float64(time.Since(start).Microseconds()) / 1000.0
	report.MethodUsed = "blockchain.headers.subscribe"

	var tip struct {
		Height uint64 `json:"height"`
		Hex    string `json:"hex"`
	}
	if err := json.Unmarshal(resp.Result, &tip); err != nil {
		report.Error = "malformed headers.subscribe result: " + err.Error()
		report.ErrorType = "protocol_error"
		return report
	}
	report.Height = tip.Height

	if tip.Hex != "" {
		header, err := DecodeHeader(tip.Hex)
		if err != nil {
			report.Error = "Failed to parse block header - " + err.Error()
			report.ErrorType = "parse_error"
			return report
		}
		report.Version = header.Version
		report.PrevBlock = header.PrevBlock
		report.MerkleRoot = header.MerkleRoot
		report.Timestamp = header.Timestamp
		report.TimestampHuman = header.TimestampHuman()
		report.Bits = header.Bits
		report.Nonce = header.Nonce
	}

	if report.Height > 0 {
		report.Status = "online"
	}
	log.WithField("height", report.Height).WithField("ping_ms", report.Ping).Info("probe complete")
	return report
}

func (p *Prober) resolve(ctx context.Context, host string) []string {
	lookup := p.LookupHost
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		}
	}
	ips, err := lookup(ctx, host)
	if err != nil {
		p.WithError(err).WithField("host", host).Warn("DNS lookup failed")
		return []string{}
	}
	if ips == nil {
		ips = []string{}
	}
	return ips
}

func connectionType(host string, c *conn) string {
	switch {
	case isOnion(host):
		return "Tor"
	case c.plaintext:
		return "Plaintext"
	case c.selfSigned:
		return "SSL (self-signed)"
	default:
		return "SSL"
	}
}

func classifyDialError(ctx context.Context, err error) (string, string) {
	msg := err.Error()

	var tor *torError
	switch {
	case deadlineExpired(ctx, err):
		return msg, "timeout_error"
	case errors.As(err, &tor):
		return msg, "tor_error"
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "host unreachable"):
		return msg, "host_unreachable"
	default:
		return msg, "connection_error"
	}
}

func classifyRequestError(ctx context.Context, err error) string {
	if deadlineExpired(ctx, err) {
		return "timeout_error"
	}
	return "protocol_error"
}

func deadlineExpired(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
