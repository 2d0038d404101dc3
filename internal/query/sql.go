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
	"strings"

	"github.com/projecthosh/hosh/internal/store"
)

// networkStatusSQL builds the dashboard query for one module: the
// latest row per (hostname, port) in the results window, joined to the
// 30-day uptime sums, the per-endpoint first_seen, and the target
// flags.
//
// The first_seen join carries percentage_of_month, which scales the
// uptime of servers younger than 30 days so a server seen for one day
// cannot read as 100% for the month.
//
// In calendar mode (network B) the uptime denominator is the fleet
// maximum check count over the same window. A server that was down
// produces no rows at all, so dividing by its own total_checks would
// overstate; the fleet maximum approximates wall-clock time.
func networkStatusSQL(db, module string, windowDays int, calendar bool) string {
	uptimeCTE := fmt.Sprintf(`uptime_30_day AS (
    SELECT
        hostname,
        port,
        sum(online_count) * 100.0 / greatest(sum(total_checks), 1) AS uptime
    FROM %[1]s.uptime_stats_by_port
    WHERE checker_module = '%[2]s'
      AND time_bucket >= now() - INTERVAL 30 DAY
    GROUP BY hostname, port
)`, db, module)
	if calendar {
		uptimeCTE = fmt.Sprintf(`uptime_sums AS (
    SELECT
        hostname,
        port,
        sum(online_count) AS online_count,
        sum(total_checks) AS total_checks
    FROM %[1]s.uptime_stats_by_port
    WHERE checker_module = '%[2]s'
      AND time_bucket >= now() - INTERVAL 30 DAY
    GROUP BY hostname, port
),
uptime_30_day AS (
    SELECT
        hostname,
        port,
        online_count * 100.0 / greatest((SELECT max(total_checks) FROM uptime_sums), 1) AS uptime
    FROM uptime_sums
)`, db, module)
	}

	return fmt.Sprintf(`WITH latest_results AS (
    SELECT
        hostname,
        port,
        status,
        ping_ms,
        checked_at,
        response_data,
        ROW_NUMBER() OVER (PARTITION BY hostname, port ORDER BY checked_at DESC) AS rn
    FROM %[1]s.results
    WHERE checker_module = '%[2]s'
      AND checked_at >= now() - INTERVAL %[3]d DAY
),
first_seen_per_server AS (
    SELECT
        hostname,
        port,
        min(checked_at) AS first_seen,
        least(dateDiff('day', min(checked_at), now()), 30) / 30.0 AS percentage_of_month
    FROM %[1]s.results
    WHERE checker_module = '%[2]s'
    GROUP BY hostname, port
),
%[4]s
SELECT
    l.hostname AS hostname,
    l.port AS port,
    l.status AS status,
    l.ping_ms AS ping_ms,
    toString(l.checked_at) AS checked_at,
    l.response_data AS response_data,
    toString(f.first_seen) AS first_seen,
    round(u.uptime * f.percentage_of_month, 2) AS uptime_30d,
    t.community AS community,
    t.user_submitted AS user_submitted
FROM latest_results l
LEFT JOIN uptime_30_day u ON u.hostname = l.hostname AND u.port = toString(l.port)
LEFT JOIN first_seen_per_server f ON f.hostname = l.hostname AND f.port = l.port
LEFT JOIN %[1]s.targets t ON t.module = '%[2]s' AND t.hostname = l.hostname
WHERE l.rn = 1
ORDER BY l.hostname, l.port
FORMAT JSONEachRow`, db, module, windowDays, uptimeCTE)
}

// latestResultSQL builds the detail-page query for one endpoint.
func latestResultSQL(db, module, hostname string, port uint16, windowDays int) string {
	portClause := ""
	if port != 0 {
		portClause = fmt.Sprintf(" AND port = %d", port)
	}
	return fmt.Sprintf(`SELECT
    hostname,
    port,
    status,
    ping_ms,
    toString(checked_at) AS checked_at,
    response_data
FROM %s.results
WHERE checker_module = '%s'
  AND hostname = '%s'%s
  AND checked_at >= now() - INTERVAL %d DAY
ORDER BY checked_at DESC
LIMIT 1
FORMAT JSONEachRow`, db, module, store.EscapeString(hostname), portClause, windowDays)
}

// uptimeWindowsSQL builds the four-window uptime query for one
// endpoint: 1 day, 7 days, 30 days, and lifetime, in one round trip.
func uptimeWindowsSQL(db, module, hostname string, port uint16, calendar bool) string {
	windows := []struct {
		label  string
		clause string
	}{
		{"1d", "AND time_bucket >= now() - INTERVAL 1 DAY"},
		{"7d", "AND time_bucket >= now() - INTERVAL 7 DAY"},
		{"30d", "AND time_bucket >= now() - INTERVAL 30 DAY"},
		{"lifetime", ""},
	}

	portClause := ""
	if port != 0 {
		portClause = fmt.Sprintf(" AND port = '%d'", port)
	}

	var parts []string
	for _, w := range windows {
		denom := "greatest(sum(total_checks), 1)"
		if calendar {
			denom = fmt.Sprintf(`greatest((
        SELECT max(total_checks) FROM (
            SELECT sum(total_checks) AS total_checks
            FROM %[1]s.uptime_stats_by_port
            WHERE checker_module = '%[2]s' %[3]s
            GROUP BY hostname, port
        )
    ), 1)`, db, module, w.clause)
		}
		parts = append(parts, fmt.Sprintf(`SELECT
    '%[1]s' AS period,
    sum(online_count) * 100.0 / %[2]s AS uptime
FROM %[3]s.uptime_stats_by_port
WHERE checker_module = '%[4]s'
  AND hostname = '%[5]s'%[6]s %[7]s`,
			w.label, denom, db, module, store.EscapeString(hostname), portClause, w.clause))
	}
	return strings.Join(parts, "\nUNION ALL\n") + "\nFORMAT JSONEachRow"
}

// statsSQL builds the lifetime check counters for one endpoint.
func statsSQL(db, module, hostname string, port uint16) string {
	portClause := ""
	if port != 0 {
		portClause = fmt.Sprintf(" AND port = %d", port)
	}
	return fmt.Sprintf(`SELECT
    count() AS total_checks,
    countIf(status = 'online') AS checks_succeeded,
    countIf(status != 'online') AS checks_failed,
    toString(max(checked_at)) AS last_check,
    toString(maxIf(checked_at, status = 'online')) AS last_online,
    toString(min(checked_at)) AS first_seen
FROM %s.results
WHERE checker_module = '%s'
  AND hostname = '%s'%s
FORMAT JSONEachRow`, db, module, store.EscapeString(hostname), portClause)
}

// leaderboardSQL ranks endpoints by raw 30-day check-based uptime.
func leaderboardSQL(db, module string, limit int) string {
	return fmt.Sprintf(`SELECT
    hostname,
    port,
    sum(online_count) * 100.0 / greatest(sum(total_checks), 1) AS uptime,
    sum(total_checks) AS total_checks
FROM %s.uptime_stats_by_port
WHERE checker_module = '%s'
  AND time_bucket >= now() - INTERVAL 30 DAY
GROUP BY hostname, port
ORDER BY uptime DESC, hostname ASC
LIMIT %d
FORMAT JSONEachRow`, db, module, limit)
}

// explorerHeightsSQL returns the newest observation per
// (explorer, chain).
func explorerHeightsSQL(db string) string {
	return fmt.Sprintf(`SELECT
    explorer,
    chain,
    argMax(block_height, checked_at) AS block_height,
    argMax(response_time_ms, checked_at) AS response_time_ms,
    argMax(error, checked_at) AS error,
    toString(max(checked_at)) AS checked_at
FROM %s.block_explorer_heights
GROUP BY explorer, chain
ORDER BY chain, explorer
FORMAT JSONEachRow`, db)
}
