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
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ErrNotFound marks a detail lookup for an endpoint with no rows in
// the window.
var ErrNotFound = fmt.Errorf("no results for endpoint")

// UptimeWindows holds one endpoint's uptime over the four windows.
type UptimeWindows struct {
	Day      *float64
	Week     *float64
	Month    *float64
	Lifetime *float64
}

// Stats holds one endpoint's lifetime check counters.
type Stats struct {
	TotalChecks     uint64
	ChecksSucceeded uint64
	ChecksFailed    uint64
	LastCheck       time.Time
	LastOnline      time.Time
	FirstSeen       time.Time
}

// Detail is everything the single-endpoint page shows.
type Detail struct {
	Server Server
	Uptime UptimeWindows
	Stats  Stats
}

// Detail returns the latest row plus uptime windows and counters for
// one endpoint. Port 0 matches any port.
func (r *Runner) Detail(ctx context.Context, network, hostname string, port uint16) (*Detail, error) {
	if !ValidNetwork(network) {
		return nil, fmt.Errorf("unknown network %q", network)
	}

	rows, err := r.store.Query(ctx, latestResultSQL(r.store.Database(), network, hostname, port, r.windowDays))
	if err != nil {
		return nil, fmt.Errorf("detail query: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	var sr statusRow
	if err := json.Unmarshal([]byte(rows[0]), &sr); err != nil {
		return nil, fmt.Errorf("decode detail row: %w", err)
	}

	d := &Detail{Server: r.shapeServer(network, sr, time.Now().UTC())}

	d.Uptime, err = r.uptimeWindows(ctx, network, hostname, port)
	if err != nil {
		return nil, err
	}
	d.Stats, err = r.stats(ctx, network, hostname, port)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// periodRow is the scan shape of uptimeWindowsSQL.
type periodRow struct {
	Period string  `json:"period"`
	Uptime float64 `json:"uptime"`
}

func (r *Runner) uptimeWindows(ctx context.Context, network, hostname string, port uint16) (UptimeWindows, error) {
	var w UptimeWindows
	rows, err := r.store.Query(ctx, uptimeWindowsSQL(r.store.Database(), network, hostname, port, calendarUptime(network)))
	if err != nil {
		return w, fmt.Errorf("uptime windows query: %w", err)
	}
	for _, row := range rows {
		var pr periodRow
		if err := json.Unmarshal([]byte(row), &pr); err != nil {
			r.WithError(err).Warn("skipping malformed uptime row")
			continue
		}
		u := clampPercent(pr.Uptime)
		switch pr.Period {
		case "1d":
			w.Day = &u
		case "7d":
			w.Week = &u
		case "30d":
			w.Month = &u
		case "lifetime":
			w.Lifetime = &u
		}
	}
	return w, nil
}

// statsRow is the scan shape of statsSQL.
type statsRow struct {
	TotalChecks     uint64 `json:"total_checks"`
	ChecksSucceeded uint64 `json:"checks_succeeded"`
	ChecksFailed    uint64 `json:"checks_failed"`
	LastCheck       string `json:"last_check"`
	LastOnline      string `json:"last_online"`
	FirstSeen       string `json:"first_seen"`
}

func (r *Runner) stats(ctx context.Context, network, hostname string, port uint16) (Stats, error) {
	var s Stats
	rows, err := r.store.Query(ctx, statsSQL(r.store.Database(), network, hostname, port))
	if err != nil {
		return s, fmt.Errorf("stats query: %w", err)
	}
	if len(rows) == 0 {
		return s, nil
	}
	var sr statsRow
	if err := json.Unmarshal([]byte(rows[0]), &sr); err != nil {
		return s, fmt.Errorf("decode stats row: %w", err)
	}
	s.TotalChecks = sr.TotalChecks
	s.ChecksSucceeded = sr.ChecksSucceeded
	s.ChecksFailed = sr.ChecksFailed
	if t, err := ParseTimestamp(sr.LastCheck); err == nil {
		s.LastCheck = t
	}
	if t, err := ParseTimestamp(sr.LastOnline); err == nil && t.Year() > 1970 {
		s.LastOnline = t
	}
	if t, err := ParseTimestamp(sr.FirstSeen); err == nil && t.Year() > 1970 {
		s.FirstSeen = t
	}
	return s, nil
}
