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

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CheckedAtFormat is the layout of server-assigned result timestamps,
// millisecond precision in UTC.
const CheckedAtFormat = "2006-01-02 15:04:05.000"

// A ResultRow is one probe observation. The extracted columns survive
// response_data retention; response_data carries the full payload the
// worker posted.
type ResultRow struct {
	Hostname      string   `json:"hostname"`
	CheckerModule string   `json:"checker_module"`
	Status        string   `json:"status"`
	PingMS        *float64 `json:"ping_ms"`
	Port          uint16   `json:"port"`
	ServerVersion string   `json:"server_version"`
	Error         string   `json:"error"`
	BlockHeight   uint64   `json:"block_height"`
	ResponseData  string   `json:"response_data"`
	CheckedAt     string   `json:"checked_at"`
}

// InsertResult appends one result row. checked_at is always assigned
// here, never taken from the submitter.
func (c *Client) InsertResult(ctx context.Context, row ResultRow) error {
	row.CheckedAt = time.Now().UTC().Format(CheckedAtFormat)

	stmt := fmt.Sprintf(
		"INSERT INTO %s.results (hostname, checker_module, status, ping_ms, port, server_version, error, block_height, response_data, checked_at) FORMAT JSONEachRow",
		c.database)
	return c.InsertRow(ctx, stmt, row)
}

// HostPort identifies an endpoint within one module.
type HostPort struct {
	Host string
	Port uint16
}

// RecentlyChecked returns the (hostname, port) pairs with any result
// row inside the window. This set backs the dispatch duplicate filter.
func (c *Client) RecentlyChecked(ctx context.Context, module string, window time.Duration) (map[HostPort]struct{}, error) {
	stmt := fmt.Sprintf(`SELECT DISTINCT
			hostname AS host,
			port
		FROM %s.results
		WHERE checker_module = '%s'
		AND checked_at >= now() - INTERVAL %d SECOND
		FORMAT JSONEachRow`,
		c.database, escapeSQL(module), int(window.Seconds()))

	rows, err := c.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}

	seen := make(map[HostPort]struct{}, len(rows))
	for _, row := range rows {
		var r struct {
			Host string `json:"host"`
			Port uint16 `json:"port"`
		}
		if err := json.Unmarshal([]byte(row), &r); err != nil {
			continue
		}
		seen[HostPort{Host: r.Host, Port: r.Port}] = struct{}{}
	}
	return seen, nil
}

// An ExplorerHeight is a block height observed on an external
// explorer website.
type ExplorerHeight struct {
	Explorer       string  `json:"explorer"`
	Chain          string  `json:"chain"`
	BlockHeight    uint64  `json:"block_height"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	Error          string  `json:"error"`
	CheckedAt      string  `json:"checked_at"`
}

// InsertExplorerHeight appends one explorer height observation.
func (c *Client) InsertExplorerHeight(ctx context.Context, row ExplorerHeight) error {
	row.CheckedAt = time.Now().UTC().Format(CheckedAtFormat)

	stmt := fmt.Sprintf(
		"INSERT INTO %s.block_explorer_heights (explorer, chain, block_height, response_time_ms, error, checked_at) FORMAT JSONEachRow",
		c.database)
	return c.InsertRow(ctx, stmt, row)
}
