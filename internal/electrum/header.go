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
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// headerSize is the wire size of a Bitcoin block header.
const headerSize = 80

// A BlockHeader is a decoded 80-byte Bitcoin block header. PrevBlock
// and MerkleRoot hold the display form, which is the byte-reversed hex
// of the wire form.
type BlockHeader struct {
	Version    int32  `json:"version"`
	PrevBlock  string `json:"prev_block"`
	MerkleRoot string `json:"merkle_root"`
	Timestamp  uint32 `json:"timestamp"`
	Bits       uint32 `json:"bits"`
	Nonce      uint32 `json:"nonce"`
}

// DecodeHeader parses the hex form of an 80-byte block header as
// returned by blockchain.headers.subscribe.
func DecodeHeader(headerHex string) (BlockHeader, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(headerHex))
	if err != nil {
		return BlockHeader{}, fmt.Errorf("hex decode error: %w", err)
	}
	if len(raw) != headerSize {
		return BlockHeader{}, fmt.Errorf("header must be %d bytes, got %d", headerSize, len(raw))
	}

	return BlockHeader{
		Version:    int32(binary.LittleEndian.Uint32(raw[0:4])),
		PrevBlock:  reversedHex(raw[4:36]),
		MerkleRoot: reversedHex(raw[36:68]),
		Timestamp:  binary.LittleEndian.Uint32(raw[68:72]),
		Bits:       binary.LittleEndian.Uint32(raw[72:76]),
		Nonce:      binary.LittleEndian.Uint32(raw[76:80]),
	}, nil
}

// Encode returns the 80-byte wire form of the header.
func (h BlockHeader) Encode() ([]byte, error) {
	prev, err := wireBytes(h.PrevBlock)
	if err != nil {
		return nil, fmt.Errorf("prev_block: %w", err)
	}
	merkle, err := wireBytes(h.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("merkle_root: %w", err)
	}

	raw := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(raw[0:4], uint32(h.Version))
	copy(raw[4:36], prev)
	copy(raw[36:68], merkle)
	binary.LittleEndian.PutUint32(raw[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(raw[72:76], h.Bits)
	binary.LittleEndian.PutUint32(raw[76:80], h.Nonce)
	return raw, nil
}

// TimestampHuman renders the header timestamp as an RFC2822 date with
// the zero offset spelled GMT, matching how pages display it.
func (h BlockHeader) TimestampHuman() string {
	ts := time.Unix(int64(h.Timestamp), 0).UTC()
	s := ts.Format("Mon, 2 Jan 2006 15:04:05 +0000")
	return strings.Replace(s, "+0000", "GMT", 1)
}

func reversedHex(b []byte) string {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return hex.EncodeToString(out)
}

func wireBytes(displayHex string) ([]byte, error) {
	b, err := hex.DecodeString(displayHex)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out, nil
}
