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

package query

// APIServer is one entry of the /api/v0/{network}.json payload.
type APIServer struct {
	Hostname                 string   `json:"hostname"`
	Port                     uint16   `json:"port"`
	Protocol                 string   `json:"protocol"`
	Ping                     *float64 `json:"ping,omitempty"`
	Online                   bool     `json:"online"`
	Community                bool     `json:"community"`
	Height                   uint64   `json:"height"`
	Uptime30D                *float64 `json:"uptime_30d,omitempty"`
	FirstSeen                *string  `json:"first_seen,omitempty"`
	LightwalletServerVersion *string  `json:"lightwallet_server_version,omitempty"`
	NodeVersion              *string  `json:"node_version,omitempty"`
	DonationAddress          *string  `json:"donation_address,omitempty"`
}

// networkProtocol maps a module to its wire protocol and default port.
func networkProtocol(network string) (string, uint16) {
	switch network {
	case NetworkZEC:
		return "grpc", 443
	case NetworkBTC:
		return "ssl", 50002
	default:
		return "http", 80
	}
}

// APIServers shapes dashboard rows into the v0 API payload. Uptime is
// exposed as a fraction of 1, and the network-B node version is the
// zcashd subversion with its '/' delimiters stripped.
func APIServers(network string, servers []Server) []APIServer {
	protocol, defaultPort := networkProtocol(network)

	out := make([]APIServer, 0, len(servers))
	for _, s := range servers {
		port := s.Port
		if port == 0 {
			port = defaultPort
		}
		api := APIServer{
			Hostname:  s.Hostname,
			Port:      port,
			Protocol:  protocol,
			Ping:      s.PingMS,
			Online:    s.Online,
			Community: s.Community,
			Height:    s.Height,
		}
		if s.Uptime30D != nil {
			u := *s.Uptime30D / 100
			api.Uptime30D = &u
		}
		if s.FirstSeen != nil {
			first := s.FirstSeen.Format("2006-01-02 15:04:05")
			api.FirstSeen = &first
		}
		if lwd := s.Response.Lightwalletd; lwd != nil {
			if v := DisplayVersion(lwd.Version); v != "" {
				version := v
				api.LightwalletServerVersion = &version
			}
			if v := DisplayVersion(lwd.ZcashdSubversion); v != "" {
				node := v
				api.NodeVersion = &node
			}
			if lwd.DonationAddress != "" {
				addr := lwd.DonationAddress
				api.DonationAddress = &addr
			}
		}
		out = append(out, api)
	}
	return out
}
