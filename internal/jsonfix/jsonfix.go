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

// Package jsonfix repairs malformed JSON blobs produced by probe
// workers. Result payloads routinely embed raw transport error strings
// containing unescaped quotes, Debug-formatted structs, and truncated
// frames; the row must still be stored and rendered. Each fixer is a
// pure function tried in sequence, and the pipeline as a whole never
// rejects a row: callers that exhaust Repair fall back to Skeleton.
package jsonfix

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ReplacePatterns rewrites known problematic substrings that appear
// when a worker embeds a Debug-formatted HTTP response in an error
// field. Braces become parentheses so the surrounding JSON structure
// stays balanced.
func ReplacePatterns(input string) string {
	if !strings.Contains(input, "UnsyncBoxBody") &&
		!strings.Contains(input, "Response {") &&
		!strings.Contains(input, "Status {") {
		return input
	}

	cleaned := strings.ReplaceAll(input, "UnsyncBoxBody", "Response body")

	replacer := strings.NewReplacer(
		"Response {", "Response(",
		"Status {", "Status(",
		"headers: {", "headers: (",
		"body: {", "body: (",
		"},", "),",
		"}", ")",
	)
	return replacer.Replace(cleaned)
}

// Repair attempts to turn input into parseable JSON. It returns the
// repaired document and true on success. The strategies are tried in
// order, each on the output of the previous successful transformation:
//
//  1. pattern substitution for embedded Debug-formatted structs
//  2. strict parse of the substituted document
//  3. escaping of unescaped quotes inside string values
//  4. trailing comma removal and missing comma insertion
//  5. extraction of the largest balanced {...} or [...] substring
//  6. regex salvage of "key":"value" pairs into a minimal object
func Repair(input string) (string, bool) {
	if strings.TrimSpace(input) == "" {
		return "", false
	}

	fixed := ReplacePatterns(input)
	if json.Valid([]byte(fixed)) {
		return fixed, true
	}

	escaped := escapeQuotes(fixed)
	if json.Valid([]byte(escaped)) {
		return escaped, true
	}

	aggressive := strings.NewReplacer(
		",}", "}",
		",]", "]",
		",,", ",",
	).Replace(escaped)
	aggressive = strings.NewReplacer(
		"}{", "},{",
		"][", "],[",
		"}[", "},[",
	).Replace(aggressive)
	if json.Valid([]byte(aggressive)) {
		return aggressive, true
	}

	if extracted, ok := extractBalanced(input); ok {
		return extracted, true
	}

	if minimal, ok := salvagePairs(input); ok {
		return minimal, true
	}

	return "", false
}

// Skeleton returns the minimal valid record stored when every repair
// strategy fails. Rows are never dropped.
func Skeleton(host string, port int) string {
	doc := map[string]any{
		"host":       host,
		"port":       port,
		"height":     0,
		"status":     "error",
		"error":      "unparseable response data",
		"error_type": "parse_error",
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

// escapeQuotes walks the input once, tracking string state, and
// escapes quotes that appear inside a string value without terminating
// it. A quote terminates the current string only if the next
// non-space character could legally follow a string in JSON.
func escapeQuotes(input string) string {
	var b strings.Builder
	b.Grow(len(input))

	inString := false
	escaped := false

	runes := []rune(input)
	for i, ch := range runes {
		switch {
		case escaped:
			escaped = false
			b.WriteRune(ch)
		case ch == '\\' && inString:
			escaped = true
			b.WriteRune(ch)
		case ch == '"':
			if !inString {
				inString = true
				b.WriteRune(ch)
				break
			}
			if terminatesString(runes, i+1) {
				inString = false
				b.WriteRune(ch)
			} else {
				b.WriteString(`\"`)
			}
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// terminatesString reports whether a closing quote at this position
// would be followed by syntax that can legally follow a JSON string.
func terminatesString(runes []rune, next int) bool {
	for ; next < len(runes); next++ {
		switch runes[next] {
		case ' ', '\t', '\n', '\r':
			continue
		case ',', ':', '}', ']':
			return true
		default:
			return false
		}
	}
	return true
}

// extractBalanced finds the first balanced {...} or [...] span that
// parses as JSON.
func extractBalanced(input string) (string, bool) {
	for _, pair := range [][2]rune{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexRune(input, pair[0])
		if start < 0 {
			continue
		}
		end, ok := matchDelimiter(input[start:], pair[0], pair[1])
		if !ok {
			continue
		}
		candidate := input[start : start+end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

func matchDelimiter(input string, open, closer rune) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i, ch := range input {
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case ch == open && !inString:
			depth++
		case ch == closer && !inString:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

var pairPattern = regexp.MustCompile(`"([^"]+)"\s*:\s*(?:"([^"]*)"|([^,}\]]+))`)

// salvagePairs regex-extracts "key":"value" pairs from the wreckage
// and synthesizes a minimal object. All values come back as strings.
func salvagePairs(input string) (string, bool) {
	matches := pairPattern.FindAllStringSubmatch(input, -1)
	if len(matches) == 0 {
		return "", false
	}

	var pairs []string
	for _, m := range matches {
		key := m[1]
		value := m[2]
		if value == "" && m[3] != "" {
			value = m[3]
		}
		value = strings.ReplaceAll(strings.TrimSpace(value), `"`, "'")
		pairs = append(pairs, fmt.Sprintf("%q:%q", key, value))
	}
	return "{" + strings.Join(pairs, ",") + "}", true
}
