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
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecthosh/hosh/internal/config"
	"github.com/projecthosh/hosh/internal/fixture"
)

// fakeClickHouse records statements and replays canned JSONEachRow
// responses.
type fakeClickHouse struct {
	statements []string
	bodies     []string
	respond    func(stmt string) (int, string)
}

func (f *fakeClickHouse) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		stmt := r.URL.Query().Get("query")
		if stmt == "" {
			stmt = string(body)
		} else {
			f.bodies = append(f.bodies, string(body))
		}
		f.statements = append(f.statements, stmt)

		status, resp := http.StatusOK, ""
		if f.respond != nil {
			status, resp = f.respond(stmt)
		}
		w.WriteHeader(status)
		io.WriteString(w, resp)
	}
}

func newTestClient(t *testing.T, fake *fakeClickHouse) *Client {
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, port, _ := strings.Cut(u.Host, ":")

	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	return NewClient(config.ClickHouse{
		Host:     host,
		Port:     p,
		User:     "hosh",
		Password: "pw",
		Database: "hosh",
	}, fixture.NewTestLogger(t))
}

func TestTargetIDIsStable(t *testing.T) {
	a := TargetID("btc", "electrum.blockstream.info")
	b := TargetID("btc", "electrum.blockstream.info")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, TargetID("zec", "electrum.blockstream.info"))
}

func TestTargetsParsesRows(t *testing.T) {
	fake := &fakeClickHouse{
		respond: func(string) (int, string) {
			return http.StatusOK, `{"target_id":"x","module":"btc","hostname":"a.example","port":50002,"user_submitted":false,"community":true}` + "\n" +
				"not json\n" +
				`{"target_id":"y","module":"btc","hostname":"b.example","port":0,"user_submitted":false,"community":false}` + "\n"
		},
	}
	c := newTestClient(t, fake)

	targets, err := c.Targets(context.Background(), "btc")
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "a.example", targets[0].Hostname)
	assert.True(t, targets[0].Community)
	assert.Equal(t, uint16(0), targets[1].Port)
}

func TestInsertTargetIsConditional(t *testing.T) {
	fake := &fakeClickHouse{}
	c := newTestClient(t, fake)

	require.NoError(t, c.InsertTarget(context.Background(), "zec", "zec.rocks", 443, false))
	require.Len(t, fake.statements, 1)
	assert.Contains(t, fake.statements[0], "WHERE NOT EXISTS")
	assert.Contains(t, fake.statements[0], "'zec'")
	assert.Contains(t, fake.statements[0], "'zec.rocks'")
	assert.Contains(t, fake.statements[0], TargetID("zec", "zec.rocks"))
}

func TestInsertTargetEscapesHostname(t *testing.T) {
	fake := &fakeClickHouse{}
	c := newTestClient(t, fake)

	require.NoError(t, c.InsertTarget(context.Background(), "btc", "bad'host", 50002, false))
	assert.Contains(t, fake.statements[0], `bad\'host`)
}

func TestInsertResultAssignsCheckedAt(t *testing.T) {
	fake := &fakeClickHouse{}
	c := newTestClient(t, fake)

	ping := 157.55
	err := c.InsertResult(context.Background(), ResultRow{
		Hostname:      "electrum.blockstream.info",
		CheckerModule: "btc",
		Status:        "online",
		PingMS:        &ping,
		Port:          50002,
		BlockHeight:   878812,
		ResponseData:  `{"host":"electrum.blockstream.info"}`,
		CheckedAt:     "submitter supplied, must be ignored",
	})
	require.NoError(t, err)

	require.Len(t, fake.bodies, 1)
	var row ResultRow
	require.NoError(t, json.Unmarshal([]byte(fake.bodies[0]), &row))

	ts, err := time.Parse(CheckedAtFormat, row.CheckedAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
	assert.Contains(t, fake.statements[0], "INSERT INTO hosh.results")
}

func TestRecentlyChecked(t *testing.T) {
	fake := &fakeClickHouse{
		respond: func(string) (int, string) {
			return http.StatusOK, `{"host":"a.example","port":50002}` + "\n" + `{"host":"b.onion","port":0}` + "\n"
		},
	}
	c := newTestClient(t, fake)

	seen, err := c.RecentlyChecked(context.Background(), "btc", 5*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, seen, HostPort{Host: "a.example", Port: 50002})
	assert.Contains(t, seen, HostPort{Host: "b.onion", Port: 0})
	assert.Contains(t, fake.statements[0], "INTERVAL 300 SECOND")
}

func TestQuerySurfacesServerErrors(t *testing.T) {
	fake := &fakeClickHouse{
		respond: func(string) (int, string) {
			return http.StatusInternalServerError, "Code: 62. DB::Exception: Syntax error"
		},
	}
	c := newTestClient(t, fake)

	_, err := c.Query(context.Background(), "SELECT broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Syntax error")
}

func TestEnsureSchemaCreatesAllTables(t *testing.T) {
	fake := &fakeClickHouse{}
	c := newTestClient(t, fake)

	require.NoError(t, c.EnsureSchema(context.Background()))

	all := strings.Join(fake.statements, "\n")
	for _, table := range []string{"targets", "results", "uptime_stats_by_port", "block_explorer_heights"} {
		assert.Contains(t, all, table)
	}
	assert.Contains(t, all, "MATERIALIZED VIEW")
}
