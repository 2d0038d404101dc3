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

import (
	"encoding/json"
	"strings"

	"github.com/projecthosh/hosh/internal/jsonfix"
)

// Common holds the response_data fields every checker module emits.
type Common struct {
	Host          string   `json:"host"`
	Hostname      string   `json:"hostname"`
	Port          uint16   `json:"port"`
	Height        uint64   `json:"height"`
	Status        string   `json:"status"`
	ServerVersion string   `json:"server_version"`
	Ping          *float64 `json:"ping"`
	PingMS        *float64 `json:"ping_ms"`
	Error         string   `json:"error"`
	ErrorType     string   `json:"error_type"`
	ErrorMessage  string   `json:"error_message"`
	LastUpdated   string   `json:"last_updated"`
}

// ElectrumData is the network-A response payload.
type ElectrumData struct {
	Common
	Version        int32    `json:"version"`
	PrevBlock      string   `json:"prev_block"`
	MerkleRoot     string   `json:"merkle_root"`
	Timestamp      uint32   `json:"timestamp"`
	TimestampHuman string   `json:"timestamp_human"`
	Bits           uint32   `json:"bits"`
	Nonce          uint32   `json:"nonce"`
	TLSVersion     string   `json:"tls_version"`
	SelfSigned     *bool    `json:"self_signed"`
	ConnectionType string   `json:"connection_type"`
	ResolvedIPs    []string `json:"resolved_ips"`
}

// LightwalletdData is the network-B response payload.
type LightwalletdData struct {
	Common
	Version                 string `json:"version"`
	Vendor                  string `json:"vendor"`
	TaddrSupport            bool   `json:"taddr_support"`
	ChainName               string `json:"chain_name"`
	SaplingActivationHeight uint64 `json:"sapling_activation_height"`
	ConsensusBranchID       string `json:"consensus_branch_id"`
	GitCommit               string `json:"git_commit"`
	Branch                  string `json:"branch"`
	BuildDate               string `json:"build_date"`
	BuildUser               string `json:"build_user"`
	EstimatedHeight         uint64 `json:"estimated_height"`
	ZcashdBuild             string `json:"zcashd_build"`
	ZcashdSubversion        string `json:"zcashd_subversion"`
	DonationAddress         string `json:"donation_address"`
}

// Response is the per-module payload union, discriminated by
// checker_module. Exactly one of Electrum and Lightwalletd is set.
type Response struct {
	Module       string
	Electrum     *ElectrumData
	Lightwalletd *LightwalletdData
}

// Shared returns the module-independent fields.
func (r Response) Shared() Common {
	switch {
	case r.Electrum != nil:
		return r.Electrum.Common
	case r.Lightwalletd != nil:
		return r.Lightwalletd.Common
	default:
		return Common{}
	}
}

// DecodeResponse parses a response_data blob for the given module.
// The blob comes from external workers, so it runs through the repair
// pipeline first; if even repair fails, a skeleton error record for
// (host, port) is decoded instead. A row is never dropped.
func DecodeResponse(module, raw, host string, port uint16) Response {
	fixed, ok := jsonfix.Repair(raw)
	if !ok {
		fixed = jsonfix.Skeleton(host, int(port))
	}

	r := Response{Module: module}
	switch module {
	case "zec":
		var d LightwalletdData
		if json.Unmarshal([]byte(fixed), &d) != nil {
			json.Unmarshal([]byte(jsonfix.Skeleton(host, int(port))), &d) //nolint:errcheck
		}
		r.Lightwalletd = &d
	default:
		var d ElectrumData
		if json.Unmarshal([]byte(fixed), &d) != nil {
			json.Unmarshal([]byte(jsonfix.Skeleton(host, int(port))), &d) //nolint:errcheck
		}
		r.Electrum = &d
	}
	return r
}

// DisplayVersion strips wrapping quotes (and for network B the
// Bitcoin-style '/' delimiters) off a reported server version.
func DisplayVersion(v string) string {
	v = strings.Trim(strings.TrimSpace(v), `"`)
	return strings.Trim(v, "/")
}
