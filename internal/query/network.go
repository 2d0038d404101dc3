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

// Package query shapes result-store rows into the views the web layer
// serves: per-network server lists, endpoint detail with uptime
// windows, leaderboards, and explorer heights. All SQL against the
// store is built here; templates and API encoders receive finished
// structs.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/projecthosh/hosh/internal/store"
)

// heightSlack is the tolerance around the fleet p90 height before a
// server is flagged behind or ahead.
const heightSlack = 3

// Network names served by the dashboard, in checker_module terms.
const (
	NetworkBTC = "btc"
	NetworkZEC = "zec"
)

// ValidNetwork reports whether a request path names a known network.
func ValidNetwork(network string) bool {
	return network == NetworkBTC || network == NetworkZEC
}

// calendarUptime reports whether a network uses the fleet-maximum
// denominator instead of per-endpoint check counts.
func calendarUptime(network string) bool { return network == NetworkZEC }

// A Server is one shaped dashboard row.
type Server struct {
	Hostname      string
	Port          uint16
	Status        string
	Online        bool
	PingMS        *float64
	Height        uint64
	ServerVersion string
	Error         string
	CheckedAt     time.Time
	LastChecked   string
	FirstSeen     *time.Time
	Uptime30D     *float64
	Community     bool
	UserSubmitted bool
	Behind        bool
	Ahead         bool
	Response      Response
}

// Runner executes the read-side queries.
type Runner struct {
	store      *store.Client
	windowDays int

	logrus.FieldLogger
}

// NewRunner returns a Runner windowing dashboard rows to windowDays.
func NewRunner(c *store.Client, windowDays int, log logrus.FieldLogger) *Runner {
	return &Runner{
		store:       c,
		windowDays:  windowDays,
		FieldLogger: log.WithField("context", "query"),
	}
}

// statusRow is the scan shape of networkStatusSQL.
type statusRow struct {
	Hostname      string   `json:"hostname"`
	Port          uint16   `json:"port"`
	Status        string   `json:"status"`
	PingMS        *float64 `json:"ping_ms"`
	CheckedAt     string   `json:"checked_at"`
	ResponseData  string   `json:"response_data"`
	FirstSeen     string   `json:"first_seen"`
	Uptime30D     *float64 `json:"uptime_30d"`
	Community     bool     `json:"community"`
	UserSubmitted bool     `json:"user_submitted"`
}

// NetworkStatus returns the shaped server list for one network,
// newest row per endpoint, with uptime, first_seen, and height
// markings attached.
func (r *Runner) NetworkStatus(ctx context.Context, network string) ([]Server, error) {
	if !ValidNetwork(network) {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	stmt := networkStatusSQL(r.store.Database(), network, r.windowDays, calendarUptime(network))
	rows, err := r.store.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("network status query: %w", err)
	}

	now := time.Now().UTC()
	servers := make([]Server, 0, len(rows))
	for _, row := range rows {
		var sr statusRow
		if err := json.Unmarshal([]byte(row), &sr); err != nil {
			r.WithError(err).Warn("skipping malformed status row")
			continue
		}
		servers = append(servers, r.shapeServer(network, sr, now))
	}
	MarkHeightOutliers(servers)
	return servers, nil
}

func (r *Runner) shapeServer(network string, sr statusRow, now time.Time) Server {
	s := Server{
		Hostname:      sr.Hostname,
		Port:          sr.Port,
		Status:        sr.Status,
		Online:        sr.Status == "online",
		Community:     sr.Community,
		UserSubmitted: sr.UserSubmitted,
		Response:      DecodeResponse(network, sr.ResponseData, sr.Hostname, sr.Port),
	}

	common := s.Response.Shared()
	s.Height = common.Height
	s.ServerVersion = DisplayVersion(common.ServerVersion)
	if s.Response.Lightwalletd != nil && s.ServerVersion == "" {
		s.ServerVersion = DisplayVersion(s.Response.Lightwalletd.Version)
	}

	if sr.PingMS != nil {
		p := math.Round(*sr.PingMS*100) / 100
		s.PingMS = &p
	} else if common.Ping != nil {
		p := math.Round(*common.Ping*100) / 100
		s.PingMS = &p
	}

	errText := common.Error
	if errText == "" {
		errText = common.ErrorMessage
	}
	s.Error = NormalizeError(errText)

	if t, err := ParseTimestamp(sr.CheckedAt); err == nil {
		s.CheckedAt = t
		s.LastChecked = Relative(now.Sub(t))
	}
	if t, err := ParseTimestamp(sr.FirstSeen); err == nil && t.Year() > 1970 {
		first := t
		s.FirstSeen = &first
	}
	if sr.Uptime30D != nil {
		u := clampPercent(*sr.Uptime30D)
		s.Uptime30D = &u
	}
	return s
}

func clampPercent(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}

// MarkHeightOutliers flags servers whose height trails or leads the
// 90th percentile of non-zero heights by more than the slack.
func MarkHeightOutliers(servers []Server) {
	heights := make([]uint64, 0, len(servers))
	for _, s := range servers {
		if s.Height > 0 {
			heights = append(heights, s.Height)
		}
	}
	if len(heights) == 0 {
		return
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	idx := int(math.Ceil(0.9*float64(len(heights)))) - 1
	if idx < 0 {
		idx = 0
	}
	p90 := heights[idx]

	for i := range servers {
		h := servers[i].Height
		if h == 0 {
			continue
		}
		servers[i].Behind = h+heightSlack < p90
		servers[i].Ahead = h > p90+heightSlack
	}
}

// leaderboardRow is the scan shape of leaderboardSQL.
type leaderboardRow struct {
	Hostname    string  `json:"hostname"`
	Port        string  `json:"port"`
	Uptime      float64 `json:"uptime"`
	TotalChecks uint64  `json:"total_checks"`
}

// A LeaderboardEntry ranks one endpoint by 30-day uptime.
type LeaderboardEntry struct {
	Rank        int
	Hostname    string
	Port        string
	Uptime      float64
	TotalChecks uint64
}

// Leaderboard returns the top endpoints for one network by raw
// check-based 30-day uptime.
func (r *Runner) Leaderboard(ctx context.Context, network string, limit int) ([]LeaderboardEntry, error) {
	if !ValidNetwork(network) {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	rows, err := r.store.Query(ctx, leaderboardSQL(r.store.Database(), network, limit))
	if err != nil {
		return nil, fmt.Errorf("leaderboard query: %w", err)
	}
	entries := make([]LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		var lr leaderboardRow
		if err := json.Unmarshal([]byte(row), &lr); err != nil {
			r.WithError(err).Warn("skipping malformed leaderboard row")
			continue
		}
		entries = append(entries, LeaderboardEntry{
			Rank:        len(entries) + 1,
			Hostname:    lr.Hostname,
			Port:        lr.Port,
			Uptime:      clampPercent(math.Round(lr.Uptime*100) / 100),
			TotalChecks: lr.TotalChecks,
		})
	}
	return entries, nil
}

// explorerRow is the scan shape of explorerHeightsSQL.
type explorerRow struct {
	Explorer       string  `json:"explorer"`
	Chain          string  `json:"chain"`
	BlockHeight    uint64  `json:"block_height"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	Error          string  `json:"error"`
	CheckedAt      string  `json:"checked_at"`
}

// An ExplorerHeight is the newest observation of one external
// explorer's tip height.
type ExplorerHeight struct {
	Explorer       string
	Chain          string
	BlockHeight    uint64
	ResponseTimeMS float64
	Error          string
	CheckedAt      time.Time
}

// ExplorerHeights returns the newest height per (explorer, chain).
func (r *Runner) ExplorerHeights(ctx context.Context) ([]ExplorerHeight, error) {
	rows, err := r.store.Query(ctx, explorerHeightsSQL(r.store.Database()))
	if err != nil {
		return nil, fmt.Errorf("explorer heights query: %w", err)
	}
	heights := make([]ExplorerHeight, 0, len(rows))
	for _, row := range rows {
		var er explorerRow
		if err := json.Unmarshal([]byte(row), &er); err != nil {
			r.WithError(err).Warn("skipping malformed explorer row")
			continue
		}
		h := ExplorerHeight{
			Explorer:       er.Explorer,
			Chain:          er.Chain,
			BlockHeight:    er.BlockHeight,
			ResponseTimeMS: er.ResponseTimeMS,
			Error:          NormalizeError(er.Error),
		}
		if t, err := ParseTimestamp(er.CheckedAt); err == nil {
			h.CheckedAt = t
		}
		heights = append(heights, h)
	}
	return heights, nil
}
