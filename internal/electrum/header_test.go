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
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The Bitcoin genesis block header.
const genesisHeaderHex = "01000000" +
	"0000000000000000000000000000000000000000000000000000000000000000" +
	"3ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a" +
	"29ab5f49" + "ffff001d" + "1dac2b7c"

func TestDecodeGenesisHeader(t *testing.T) {
	h, err := DecodeHeader(genesisHeaderHex)
	require.NoError(t, err)

	assert.Equal(t, int32(1), h.Version)
	assert.Equal(t, "0000000000000000000000000000000000000000000000000000000000000000", h.PrevBlock)
	assert.Equal(t, "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b", h.MerkleRoot)
	assert.Equal(t, uint32(1231006505), h.Timestamp)
	assert.Equal(t, uint32(486604799), h.Bits)
	assert.Equal(t, uint32(2083236893), h.Nonce)
}

func TestTimestampHumanUsesGMT(t *testing.T) {
	h, err := DecodeHeader(genesisHeaderHex)
	require.NoError(t, err)
	assert.Equal(t, "Sat, 3 Jan 2009 18:15:05 GMT", h.TimestampHuman())
}

func TestHeaderRoundTrip(t *testing.T) {
	h, err := DecodeHeader(genesisHeaderHex)
	require.NoError(t, err)

	raw, err := h.Encode()
	require.NoError(t, err)
	assert.Equal(t, genesisHeaderHex, hex.EncodeToString(raw))

	again, err := DecodeHeader(hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, h, again)
}

func TestDecodeHeaderRejectsBadInput(t *testing.T) {
	_, err := DecodeHeader("zz")
	assert.Error(t, err)

	_, err = DecodeHeader("beef")
	assert.Error(t, err)
}
