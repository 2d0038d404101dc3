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

// Package lightwalletd probes Zcash lightwalletd servers over gRPC.
// A probe calls CompactTxStreamer/GetLightdInfo with permissive TLS,
// times the round trip, and reports the server's chain metadata.
// Hidden services are dialed through a SOCKS5 proxy with the hostname
// resolved remotely.
package lightwalletd

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// DefaultPort is the module's default port, substituted when a target
// carries port 0.
const DefaultPort uint16 = 443

const (
	methodGetLightdInfo = "/cash.z.wallet.sdk.rpc.CompactTxStreamer/GetLightdInfo"

	// probeTimeout bounds the whole RPC, connect included.
	probeTimeout = 10 * time.Second
)

// A Report is the full response_data payload for one probe.
type Report struct {
	Host   string  `json:"host"`
	Port   uint16  `json:"port"`
	Height uint64  `json:"height"`
	Status string  `json:"status"`
	Ping   float64 `json:"ping"`

	LightdInfo

	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// Prober runs lightwalletd probes.
type Prober struct {
	// SocksProxy is the host:port of the SOCKS5 proxy used for
	// .onion targets.
	SocksProxy string

	logrus.FieldLogger
}

// NewProber returns a Prober routing hidden services through
// socksProxy.
func NewProber(socksProxy string, log logrus.FieldLogger) *Prober {
	return &Prober{
		SocksProxy:  socksProxy,
		FieldLogger: log.WithField("context", "lightwalletd"),
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
		Host:   host,
		Port:   port,
		Status: "offline",
	}

	log := p.WithField("host", host).WithField("port", port)
	log.Info("starting probe")

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: true, //nolint:gosec
		})),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	}
	if isOnion(host) {
		if p.SocksProxy == "" {
			report.Error = "Tor proxy not configured"
			report.ErrorType = "tor_error"
			return report
		}
		opts = append(opts, grpc.WithContextDialer(socksDialer(p.SocksProxy)))
	}

	conn, err := grpc.NewClient(net.JoinHostPort(host, strconv.Itoa(int(port))), opts...)
	if err != nil {
		report.Error = CollapseError(err.Error())
		report.ErrorType = classifyError(ctx, err)
		log.WithError(err).Error("client setup failed")
		return report
	}
	defer conn.Close()

	var out []byte
	start := time.Now()
	err = conn.Invoke(ctx, methodGetLightdInfo, []byte{}, &out)
	if err != nil {
		report.Error = CollapseError(err.Error())
		report.ErrorType = classifyError(ctx, err)
		log.WithError(err).Error("GetLightdInfo failed")
		return report
	}
	report.Ping = math.Round(float64(time.Since(start).Microseconds())/1000.0*100) / 100

	info, err := decodeLightdInfo(out)
	if err != nil {
		report.Error = "malformed GetLightdInfo response: " + err.Error()
		report.ErrorType = "parse_error"
		log.WithError(err).Error("response decode failed")
		return report
	}
	report.LightdInfo = info
	report.Height = info.BlockHeight

	if report.Height > 0 {
		report.Status = "online"
	}
	log.WithField("height", report.Height).WithField("ping_ms", report.Ping).Info("probe complete")
	return report
}

// socksDialer dials through a SOCKS5 proxy, passing the hostname to
// the proxy so hidden services resolve remotely.
func socksDialer(proxyAddr string) func(context.Context, string) (net.Conn, error) {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		d, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
		if err != nil {
			return nil, err
		}
		return d.(proxy.ContextDialer).DialContext(ctx, "tcp", addr)
	}
}

func isOnion(host string) bool {
	return strings.HasSuffix(host, ".onion")
}

func classifyError(ctx context.Context, err error) string {
	msg := err.Error()
	switch {
	case ctx.Err() != nil,
		os.IsTimeout(err),
		strings.Contains(msg, "DeadlineExceeded"),
		strings.Contains(msg, "deadline exceeded"):
		return "timeout_error"
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "host unreachable"):
		return "host_unreachable"
	default:
		return "connection_error"
	}
}
