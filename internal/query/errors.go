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

import "strings"

const maxErrorLength = 200

// NormalizeError maps a raw worker error string to the form shown on
// the dashboard. Known transport failures collapse to short phrases;
// anything else is cleaned so it cannot break re-serialization.
func NormalizeError(raw string) string {
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)

	switch {
	case strings.Contains(lower, "tls handshake eof"),
		strings.Contains(lower, "handshake failure"),
		strings.Contains(lower, "tls handshake failed"):
		return "TLS handshake failed - server may be offline"
	case strings.Contains(lower, "connection refused"):
		return "Connection refused - server may be offline"
	case strings.Contains(lower, "invalid content-type"),
		strings.Contains(lower, "invalid content type"):
		return "Invalid content type - server may not be a valid node"
	case strings.Contains(lower, "timed out"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "deadline exceeded"):
		return "Connection timeout"
	case strings.Contains(lower, "no such host"),
		strings.Contains(lower, "dns error"),
		strings.Contains(lower, "failed to lookup"):
		return "DNS resolution failed"
	}

	if n := httpStatusIn(raw); n != "" {
		return "Server returned HTTP status " + n
	}
	return CleanErrorMessage(raw)
}

// httpStatusIn extracts the numeric code following a "status: " marker
// in a Debug-formatted transport error.
func httpStatusIn(raw string) string {
	idx := strings.Index(raw, "status: ")
	if idx < 0 {
		return ""
	}
	rest := raw[idx+len("status: "):]
	var digits strings.Builder
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		digits.WriteRune(r)
	}
	return digits.String()
}

// CleanErrorMessage rewrites an arbitrary error string so it embeds
// safely in JSON and HTML: escape sequences collapse, double quotes
// become single quotes, braces and brackets become parentheses, runs
// of spaces collapse, and anything over 200 characters is truncated.
func CleanErrorMessage(raw string) string {
	s := strings.ReplaceAll(raw, `\"`, "'")
	s = strings.ReplaceAll(s, `\n`, " ")
	s = strings.ReplaceAll(s, `\t`, " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, `"`, "'")
	s = strings.NewReplacer("{", "(", "}", ")", "[", "(", "]", ")").Replace(s)
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	s = strings.TrimSpace(s)
	if len(s) > maxErrorLength {
		s = s[:maxErrorLength-3] + "..."
	}
	return s
}
