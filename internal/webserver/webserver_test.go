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

package webserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecthosh/hosh/internal/checker"
	"github.com/projecthosh/hosh/internal/config"
	"github.com/projecthosh/hosh/internal/fixture"
	"github.com/projecthosh/hosh/internal/metrics"
	"github.com/projecthosh/hosh/internal/query"
	"github.com/projecthosh/hosh/internal/rendercache"
	"github.com/projecthosh/hosh/internal/store"
)

// fakeClickHouse answers store queries with canned JSONEachRow lines
// keyed by a statement substring and records JSONEachRow inserts.
type fakeClickHouse struct {
	mu        sync.Mutex
	responses map[string]string
	inserts   []string
}

func (f *fakeClickHouse) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		stmt := r.URL.Query().Get("query")
		if stmt != "" {
			f.mu.Lock()
			f.inserts = append(f.inserts, string(body))
			f.mu.Unlock()
			return
		}
		stmt = string(body)
		f.mu.Lock()
		defer f.mu.Unlock()
		for marker, lines := range f.responses {
			if strings.Contains(stmt, marker) {
				io.WriteString(w, lines) //nolint:errcheck
				return
			}
		}
	}
}

func (f *fakeClickHouse) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts)
}

func newTestServer(t *testing.T, f *fakeClickHouse) *httptest.Server {
	t.Helper()
	backend := httptest.NewServer(f.handler())
	t.Cleanup(backend.Close)

	host, portStr, ok := strings.Cut(strings.TrimPrefix(backend.URL, "http://"), ":")
	require.True(t, ok)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	log := fixture.NewTestLogger(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	client := store.NewClient(config.ClickHouse{
		Host: host, Port: port, User: "hosh", Password: "pw", Database: "hosh",
	}, log)

	h := &Handlers{
		Store:       client,
		Runner:      query.NewRunner(client, 30, log),
		Cache:       rendercache.New(10*time.Second, m, log),
		APIKey:      "secret",
		Metrics:     m,
		FieldLogger: log.WithField("context", "webserver"),
	}
	svc := &Service{FieldLogger: log}
	h.Register(svc)

	front := httptest.NewServer(&svc.ServeMux)
	t.Cleanup(front.Close)
	return front
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func TestRootRedirectsToZec(t *testing.T) {
	srv := newTestServer(t, &fakeClickHouse{})

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/zec", resp.Header.Get("Location"))
}

func TestDashboard(t *testing.T) {
	row := `{"hostname":"electrum.blockstream.info","port":50002,"status":"online","ping_ms":157.55,"checked_at":"2025-01-15 10:30:00.000","response_data":"{\"host\":\"electrum.blockstream.info\",\"port\":50002,\"height\":878812}","uptime_30d":99.9,"community":false,"user_submitted":false}`
	srv := newTestServer(t, &fakeClickHouse{responses: map[string]string{"ROW_NUMBER": row + "\n"}})

	resp, body := get(t, srv.URL+"/btc")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "electrum.blockstream.info")
	assert.Contains(t, body, "157.55ms")
	assert.Equal(t, "public, max-age=10", resp.Header.Get("Cache-Control"))
	assert.NotEmpty(t, resp.Header.Get("X-Cache-Age"))
}

func TestDashboardUnknownNetwork(t *testing.T) {
	srv := newTestServer(t, &fakeClickHouse{})
	resp, _ := get(t, srv.URL+"/doge")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDashboardHideCommunity(t *testing.T) {
	rows := `{"hostname":"public.example","port":50002,"status":"online","checked_at":"2025-01-15 10:30:00.000","response_data":"{}","community":false}
{"hostname":"community.example","port":50002,"status":"online","checked_at":"2025-01-15 10:30:00.000","response_data":"{}","community":true}
`
	srv := newTestServer(t, &fakeClickHouse{responses: map[string]string{"ROW_NUMBER": rows}})

	_, body := get(t, srv.URL+"/btc?hide_community=true")
	assert.Contains(t, body, "public.example")
	assert.NotContains(t, body, "community.example")
}

func TestAPIV0(t *testing.T) {
	row := `{"hostname":"zec.rocks","port":443,"status":"online","ping_ms":42.0,"checked_at":"2025-01-15 10:30:00.000","response_data":"{\"host\":\"zec.rocks\",\"port\":443,\"height\":2801243,\"version\":\"v0.4.17\",\"zcashd_subversion\":\"/MagicBean:6.0.0/\"}","uptime_30d":99.5,"community":false,"user_submitted":false}`
	srv := newTestServer(t, &fakeClickHouse{responses: map[string]string{"ROW_NUMBER": row + "\n"}})

	resp, body := get(t, srv.URL+"/api/v0/zec.json")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Servers []query.APIServer `json:"servers"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	require.Len(t, payload.Servers, 1)
	s := payload.Servers[0]
	assert.Equal(t, "grpc", s.Protocol)
	assert.Equal(t, uint16(443), s.Port)
	require.NotNil(t, s.Uptime30D)
	assert.InDelta(t, 0.995, *s.Uptime30D, 1e-9)
	require.NotNil(t, s.NodeVersion)
	assert.Equal(t, "MagicBean:6.0.0", *s.NodeVersion)

	resp, _ = get(t, srv.URL+"/api/v0/doge.json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobsRequiresAPIKey(t *testing.T) {
	srv := newTestServer(t, &fakeClickHouse{})

	resp, _ := get(t, srv.URL+"/api/v1/jobs?api_key=wrong&checker_module=btc")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err := http.Post(srv.URL+"/api/v1/results?api_key=wrong", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJobsExcludesRecentlyChecked(t *testing.T) {
	targets := `{"target_id":"11111111-1111-1111-1111-111111111111","module":"btc","hostname":"fresh.example","port":0,"user_submitted":false,"community":false}
{"target_id":"22222222-2222-2222-2222-222222222222","module":"btc","hostname":"stale.example","port":50002,"user_submitted":true,"community":false}
`
	recent := `{"host":"fresh.example","port":50002}` + "\n"
	srv := newTestServer(t, &fakeClickHouse{responses: map[string]string{
		"FROM hosh.targets": targets,
		"DISTINCT":          recent,
	}})

	resp, body := get(t, srv.URL+"/api/v1/jobs?api_key=secret&checker_module=btc&limit=10")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var jobs []checker.Job
	require.NoError(t, json.Unmarshal([]byte(body), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "stale.example", jobs[0].Host)
	assert.Equal(t, uint16(50002), jobs[0].Port)
	assert.True(t, jobs[0].UserSubmitted)
}

func TestJobsNormalizesPortZero(t *testing.T) {
	targets := `{"target_id":"11111111-1111-1111-1111-111111111111","module":"zec","hostname":"zec.rocks","port":0,"user_submitted":false,"community":false}` + "\n"
	srv := newTestServer(t, &fakeClickHouse{responses: map[string]string{"FROM hosh.targets": targets}})

	_, body := get(t, srv.URL+"/api/v1/jobs?api_key=secret&checker_module=zec")
	var jobs []checker.Job
	require.NoError(t, json.Unmarshal([]byte(body), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, uint16(443), jobs[0].Port)
}

func TestResultsIngests(t *testing.T) {
	f := &fakeClickHouse{}
	srv := newTestServer(t, f)

	payload := `{"host":"electrum.blockstream.info","port":50002,"checker_module":"btc","status":"online","ping":157.55,"height":878812,"server_version":"ElectrumX 1.16.0","checked_at":"1999-01-01 00:00:00.000"}`
	resp, err := http.Post(srv.URL+"/api/v1/results?api_key=secret", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true}`, string(body))
	require.Equal(t, 1, f.insertCount())

	var row store.ResultRow
	require.NoError(t, json.Unmarshal([]byte(f.inserts[0]), &row))
	assert.Equal(t, "electrum.blockstream.info", row.Hostname)
	assert.Equal(t, "btc", row.CheckerModule)
	require.NotNil(t, row.PingMS)
	assert.Equal(t, 157.55, *row.PingMS)
	assert.Equal(t, uint64(878812), row.BlockHeight)
	assert.NotEqual(t, "1999-01-01 00:00:00.000", row.CheckedAt)
	assert.Contains(t, row.ResponseData, `"server_version"`)
}

func TestResultsRejectsGarbage(t *testing.T) {
	srv := newTestServer(t, &fakeClickHouse{})

	resp, err := http.Post(srv.URL+"/api/v1/results?api_key=secret", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v1/results?api_key=secret", "application/json", strings.NewReader(`{"status":"online"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// A port outside uint16 must be rejected, not truncated into a row
// for a different endpoint.
func TestResultsRejectsOutOfRangePort(t *testing.T) {
	f := &fakeClickHouse{}
	srv := newTestServer(t, f)

	for _, payload := range []string{
		`{"host":"h.example","port":65537,"checker_module":"btc","status":"online"}`,
		`{"host":"h.example","port":-1,"checker_module":"btc","status":"online"}`,
	} {
		resp, err := http.Post(srv.URL+"/api/v1/results?api_key=secret", "application/json", strings.NewReader(payload))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "payload %s", payload)
	}
	assert.Equal(t, 0, f.insertCount())
}

func TestDetailNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeClickHouse{})
	resp, _ := get(t, srv.URL+"/btc/gone.example")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeClickHouse{})
	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}
