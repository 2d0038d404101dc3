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

	"github.com/google/uuid"
)

// A Target is a persistent monitoring subject, identified by
// (module, hostname, port). Targets are created by discovery on first
// sight and never deleted.
type Target struct {
	TargetID      string `json:"target_id"`
	Module        string `json:"module"`
	Hostname      string `json:"hostname"`
	Port          uint16 `json:"port"`
	UserSubmitted bool   `json:"user_submitted"`
	Community     bool   `json:"community"`
}

// TargetID derives the stable id for a target. Identity is a UUIDv5
// over "module:hostname" so rediscovery always produces the same id.
func TargetID(module, hostname string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(module+":"+hostname)).String()
}

// Targets returns every target registered for the given module.
func (c *Client) Targets(ctx context.Context, module string) ([]Target, error) {
	stmt := fmt.Sprintf(`SELECT
			toString(target_id) AS target_id,
			module,
			hostname,
			port,
			user_submitted,
			community
		FROM %s.targets
		WHERE module = '%s'
		ORDER BY hostname, port
		FORMAT JSONEachRow`, c.database, escapeSQL(module))

	rows, err := c.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}

	var targets []Target
	for _, row := range rows {
		var t Target
		if err := json.Unmarshal([]byte(row), &t); err != nil {
			c.WithError(err).WithField("row", row).Warn("skipping unparseable target row")
			continue
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// InsertTarget registers a target if it is not already present.
// The insert is conditional on (module, hostname, port) so rediscovery
// is idempotent. Existing rows are never rewritten.
func (c *Client) InsertTarget(ctx context.Context, module, hostname string, port uint16, community bool) error {
	stmt := fmt.Sprintf(`INSERT INTO %s.targets
			(target_id, module, hostname, port, last_queued_at, last_checked_at, user_submitted, community)
		SELECT '%s', '%s', '%s', %d, now64(3, 'UTC'), now64(3, 'UTC'), false, %t
		WHERE NOT EXISTS (
			SELECT 1 FROM %s.targets
			WHERE module = '%s' AND hostname = '%s' AND port = %d
		)`,
		c.database,
		TargetID(module, hostname), escapeSQL(module), escapeSQL(hostname), port, community,
		c.database,
		escapeSQL(module), escapeSQL(hostname), port)

	return c.Exec(ctx, stmt)
}

// TargetExists reports whether a target is already registered.
func (c *Client) TargetExists(ctx context.Context, module, hostname string, port uint16) (bool, error) {
	stmt := fmt.Sprintf(
		"SELECT count() AS n FROM %s.targets WHERE module = '%s' AND hostname = '%s' AND port = %d FORMAT JSONEachRow",
		c.database, escapeSQL(module), escapeSQL(hostname), port)

	rows, err := c.Query(ctx, stmt)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	var count struct {
		N json.Number `json:"n"`
	}
	if err := json.Unmarshal([]byte(rows[0]), &count); err != nil {
		return false, err
	}
	n, err := count.N.Int64()
	return n > 0, err
}

// TouchLastQueued records that a target was handed out to a worker.
func (c *Client) TouchLastQueued(ctx context.Context, targetID string) error {
	stmt := fmt.Sprintf(
		"ALTER TABLE %s.targets UPDATE last_queued_at = now64(3, 'UTC') WHERE target_id = '%s'",
		c.database, escapeSQL(targetID))
	return c.Exec(ctx, stmt)
}

// TouchLastChecked records that a result was ingested for a target.
func (c *Client) TouchLastChecked(ctx context.Context, module, hostname string) error {
	stmt := fmt.Sprintf(
		"ALTER TABLE %s.targets UPDATE last_checked_at = now64(3, 'UTC') WHERE module = '%s' AND hostname = '%s'",
		c.database, escapeSQL(module), escapeSQL(hostname))
	return c.Exec(ctx, stmt)
}
