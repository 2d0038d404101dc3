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
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// timeLayouts covers the timestamp shapes workers emit: RFC3339 with
// 3, 6, or 9 fractional digits, with or without a trailing Z, plus the
// store's own DateTime64 text form.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a worker- or store-supplied timestamp.
// Surrounding single quotes are tolerated.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.Trim(strings.TrimSpace(raw), "'")
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time format: %s", raw)
}

// LastUpdatedDisplay renders a last_updated value for the page,
// keeping the raw string visible when it cannot be parsed.
func LastUpdatedDisplay(raw string) string {
	t, err := ParseTimestamp(raw)
	if err != nil {
		return "Invalid time format: " + raw
	}
	return t.Format("2006-01-02 15:04:05") + " UTC"
}

// Relative renders an age as the dashboard's short relative form.
func Relative(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

var relativeRE = regexp.MustCompile(`^(\d+)([smhd]) ago$`)

// ParseRelative inverts Relative. The health poller uses it to read
// "last checked" ages back off the rendered dashboard.
func ParseRelative(s string) (time.Duration, error) {
	m := relativeRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("not a relative age: %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, err
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * 24 * time.Hour, nil
	}
}
