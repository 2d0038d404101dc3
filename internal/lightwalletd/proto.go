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

package lightwalletd

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// LightdInfo is the response of
// cash.z.wallet.sdk.rpc.CompactTxStreamer/GetLightdInfo. The message
// is flat scalars, so it is decoded directly with protowire instead of
// carrying generated bindings for a service owned elsewhere.
type LightdInfo struct {
	Version                 string `json:"version"`
	Vendor                  string `json:"vendor"`
	TaddrSupport            bool   `json:"taddr_support"`
	ChainName               string `json:"chain_name"`
	SaplingActivationHeight uint64 `json:"sapling_activation_height"`
	ConsensusBranchID       string `json:"consensus_branch_id"`
	BlockHeight             uint64 `json:"block_height"`
	GitCommit               string `json:"git_commit"`
	Branch                  string `json:"branch"`
	BuildDate               string `json:"build_date"`
	BuildUser               string `json:"build_user"`
	EstimatedHeight         uint64 `json:"estimated_height"`
	ZcashdBuild             string `json:"zcashd_build"`
	ZcashdSubversion        string `json:"zcashd_subversion"`
	DonationAddress         string `json:"donation_address"`
}

// Field numbers from the lightwalletd service definition.
const (
	fieldVersion                 = 1
	fieldVendor                  = 2
	fieldTaddrSupport            = 3
	fieldChainName               = 4
	fieldSaplingActivationHeight = 5
	fieldConsensusBranchID       = 6
	fieldBlockHeight             = 7
	fieldGitCommit               = 8
	fieldBranch                  = 9
	fieldBuildDate               = 10
	fieldBuildUser               = 11
	fieldEstimatedHeight         = 12
	fieldZcashdBuild             = 13
	fieldZcashdSubversion        = 14
	fieldDonationAddress         = 15
)

// decodeLightdInfo parses the wire form of a LightdInfo message.
// Unknown fields are skipped.
func decodeLightdInfo(b []byte) (LightdInfo, error) {
	var info LightdInfo

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return info, fmt.Errorf("malformed tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return info, fmt.Errorf("malformed bytes field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			s := string(v)
			switch num {
			case fieldVersion:
				info.Version = s
			case fieldVendor:
				info.Vendor = s
			case fieldChainName:
				info.ChainName = s
			case fieldConsensusBranchID:
				info.ConsensusBranchID = s
			case fieldGitCommit:
				info.GitCommit = s
			case fieldBranch:
				info.Branch = s
			case fieldBuildDate:
				info.BuildDate = s
			case fieldBuildUser:
				info.BuildUser = s
			case fieldZcashdBuild:
				info.ZcashdBuild = s
			case fieldZcashdSubversion:
				info.ZcashdSubversion = s
			case fieldDonationAddress:
				info.DonationAddress = s
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return info, fmt.Errorf("malformed varint field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldTaddrSupport:
				info.TaddrSupport = v != 0
			case fieldSaplingActivationHeight:
				info.SaplingActivationHeight = v
			case fieldBlockHeight:
				info.BlockHeight = v
			case fieldEstimatedHeight:
				info.EstimatedHeight = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return info, fmt.Errorf("malformed field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return info, nil
}

// encodeLightdInfo builds the wire form of a LightdInfo. Used by
// tests standing in for a lightwalletd server.
func encodeLightdInfo(info LightdInfo) []byte {
	var b []byte
	appendString := func(num protowire.Number, s string) {
		if s == "" {
			return
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	appendUint := func(num protowire.Number, v uint64) {
		if v == 0 {
			return
		}
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}

	appendString(fieldVersion, info.Version)
	appendString(fieldVendor, info.Vendor)
	if info.TaddrSupport {
		appendUint(fieldTaddrSupport, 1)
	}
	appendString(fieldChainName, info.ChainName)
	appendUint(fieldSaplingActivationHeight, info.SaplingActivationHeight)
	appendString(fieldConsensusBranchID, info.ConsensusBranchID)
	appendUint(fieldBlockHeight, info.BlockHeight)
	appendString(fieldGitCommit, info.GitCommit)
	appendString(fieldBranch, info.Branch)
	appendString(fieldBuildDate, info.BuildDate)
	appendString(fieldBuildUser, info.BuildUser)
	appendUint(fieldEstimatedHeight, info.EstimatedHeight)
	appendString(fieldZcashdBuild, info.ZcashdBuild)
	appendString(fieldZcashdSubversion, info.ZcashdSubversion)
	appendString(fieldDonationAddress, info.DonationAddress)
	return b
}
