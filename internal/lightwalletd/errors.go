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
	"regexp"
	"strings"
)

var httpStatusRE = regexp.MustCompile(`(?i)http status(?: code[^0-9]*)?[:= ]+(\d{3})`)

// CollapseError maps raw gRPC transport errors to the short phrases
// shown to operators. Unrecognized errors keep their message, with the
// quoted message: payload extracted when the transport wrapped one.
func CollapseError(msg string) string {
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "tls handshake eof"),
		strings.Contains(lower, "handshake failure"),
		strings.Contains(lower, "first record does not look like a tls handshake"):
		return "TLS handshake failed - server may be offline"
	case strings.Contains(lower, "connection refused"):
		return "Connection refused - server may be offline"
	case strings.Contains(lower, "invalid content-type"),
		strings.Contains(lower, "invalid content type"):
		return "Invalid content type - server may not be a valid node"
	case strings.Contains(lower, "deadline exceeded"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "timeout"):
		return "Connection timeout"
	case strings.Contains(lower, "no such host"),
		strings.Contains(lower, "name resolution"):
		return "DNS resolution failed"
	}

	if m := httpStatusRE.FindStringSubmatch(msg); m != nil {
		return "Server returned HTTP status " + m[1]
	}
	if m := extractMessage(msg); m != "" {
		return m
	}
	return msg
}

// extractMessage pulls the message: payload out of a wrapped transport
// error, stripping surrounding quotes.
func extractMessage(msg string) string {
	idx := strings.Index(msg, "message: ")
	if idx < 0 {
		return ""
	}
	m := msg[idx+len("message: "):]
	if end := strings.IndexAny(m, ",}"); end >= 0 {
		m = m[:end]
	}
	m = strings.TrimSpace(m)
	m = strings.Trim(m, `"`)
	return m
}
