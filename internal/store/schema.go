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
	"fmt"
)

// EnsureSchema creates the tables and the uptime materialized view if
// they do not exist. Safe to run on every startup.
func (c *Client) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.targets (
			target_id UUID,
			module LowCardinality(String),
			hostname String,
			port UInt16 DEFAULT 0,
			last_queued_at DateTime64(3, 'UTC'),
			last_checked_at DateTime64(3, 'UTC'),
			user_submitted Bool DEFAULT false,
			community Bool DEFAULT false
		) ENGINE = MergeTree
		ORDER BY (module, hostname, port)`, c.database),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.results (
			hostname String,
			checker_module LowCardinality(String),
			status LowCardinality(String),
			ping_ms Nullable(Float64),
			port UInt16 DEFAULT 0,
			server_version String DEFAULT '',
			error String DEFAULT '',
			block_height UInt64 DEFAULT 0,
			response_data String CODEC(ZSTD(3)),
			checked_at DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		PARTITION BY toYYYYMM(checked_at)
		ORDER BY (checker_module, hostname, port, checked_at)`, c.database),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.uptime_stats_by_port (
			hostname String,
			port String,
			checker_module LowCardinality(String),
			time_bucket DateTime('UTC'),
			online_count UInt64,
			total_checks UInt64
		) ENGINE = SummingMergeTree
		ORDER BY (hostname, port, checker_module, time_bucket)`, c.database),

		fmt.Sprintf(`CREATE MATERIALIZED VIEW IF NOT EXISTS %s.uptime_stats_by_port_mv
		TO %s.uptime_stats_by_port AS
		SELECT
			hostname,
			toString(port) AS port,
			checker_module,
			toStartOfInterval(checked_at, INTERVAL 10 MINUTE) AS time_bucket,
			toUInt64(status = 'online') AS online_count,
			toUInt64(1) AS total_checks
		FROM %s.results`, c.database, c.database, c.database),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.block_explorer_heights (
			explorer LowCardinality(String),
			chain LowCardinality(String),
			block_height UInt64,
			response_time_ms Float64,
			error String DEFAULT '',
			checked_at DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (explorer, chain, checked_at)`, c.database),
	}

	for _, stmt := range stmts {
		if err := c.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
