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

package checker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecthosh/hosh/internal/config"
	"github.com/projecthosh/hosh/internal/fixture"
	"github.com/projecthosh/hosh/internal/metrics"
)

// fakeDispatch serves /api/v1/jobs once and records every posted
// result body.
type fakeDispatch struct {
	mu      sync.Mutex
	jobs    []Job
	served  bool
	results []map[string]any
	apiKeys []string
}

func (f *fakeDispatch) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.apiKeys = append(f.apiKeys, r.URL.Query().Get("api_key"))

		switch r.URL.Path {
		case "/api/v1/jobs":
			batch := f.jobs
			if f.served {
				batch = nil
			}
			f.served = true
			json.NewEncoder(w).Encode(batch) //nolint:errcheck
		case "/api/v1/results":
			body, _ := io.ReadAll(r.Body)
			var result map[string]any
			if err := json.Unmarshal(body, &result); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.results = append(f.results, result)
			w.Write([]byte(`{"success":true}`)) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}
}

func (f *fakeDispatch) resultCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

func newTestWorker(t *testing.T, dispatchURL string, probe ProbeFunc) *Worker {
	t.Helper()
	w := New("btc", probe, config.Worker{
		WebAPIURL:     dispatchURL,
		APIKey:        "secret",
		MaxConcurrent: 4,
	}, metrics.NewMetrics(prometheus.NewRegistry()), fixture.NewTestLogger(t))
	w.PollInterval = 10 * time.Millisecond
	return w
}

func TestWorkerProbesAndSubmits(t *testing.T) {
	f := &fakeDispatch{jobs: []Job{{Host: "electrum.blockstream.info", Port: 50002}}}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	probe := func(ctx context.Context, host string, port uint16) any {
		return map[string]any{
			"host":   host,
			"port":   port,
			"height": 878812,
			"status": "online",
			"ping":   157.55,
		}
	}

	w := newTestWorker(t, srv.URL, probe)
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- w.Start(stop) }()

	require.Eventually(t, func() bool { return f.resultCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	close(stop)
	require.NoError(t, <-done)

	result := f.results[0]
	assert.Equal(t, "electrum.blockstream.info", result["hostname"])
	assert.Equal(t, "btc", result["checker_module"])
	assert.Equal(t, "online", result["status"])
	assert.Equal(t, 157.55, result["ping_ms"])
	assert.Equal(t, float64(878812), result["height"])
	assert.Contains(t, f.apiKeys, "secret")
}

func TestWorkerSubmitsResultAfterProbeDeadline(t *testing.T) {
	f := &fakeDispatch{jobs: []Job{{Host: "stalled.example", Port: 50002}}}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	// Block until the per-job deadline expires, the way an adapter
	// behaves against a server that accepts TCP and then stalls.
	probe := func(ctx context.Context, host string, port uint16) any {
		<-ctx.Done()
		return map[string]any{
			"host":       host,
			"port":       port,
			"height":     0,
			"status":     "offline",
			"error":      "Connection timeout",
			"error_type": "timeout_error",
		}
	}

	w := newTestWorker(t, srv.URL, probe)
	w.JobTimeout = 50 * time.Millisecond
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- w.Start(stop) }()

	require.Eventually(t, func() bool { return f.resultCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	close(stop)
	require.NoError(t, <-done)

	result := f.results[0]
	assert.Equal(t, "stalled.example", result["hostname"])
	assert.Equal(t, "offline", result["status"])
	assert.Equal(t, "timeout_error", result["error_type"])
}

func TestWorkerBoundedConcurrency(t *testing.T) {
	var jobs []Job
	for i := 0; i < 16; i++ {
		jobs = append(jobs, Job{Host: "server.example", Port: uint16(50000 + i)})
	}
	f := &fakeDispatch{jobs: jobs}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	var mu sync.Mutex
	inflight, peak := 0, 0
	probe := func(ctx context.Context, host string, port uint16) any {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inflight--
		mu.Unlock()
		return map[string]any{"host": host, "port": port, "status": "online", "height": 1}
	}

	w := newTestWorker(t, srv.URL, probe)
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- w.Start(stop) }()

	require.Eventually(t, func() bool { return f.resultCount() == 16 }, 10*time.Second, 10*time.Millisecond)
	close(stop)
	require.NoError(t, <-done)

	assert.LessOrEqual(t, peak, 4)
}

func TestWorkerSurvivesPostFailure(t *testing.T) {
	f := &fakeDispatch{jobs: []Job{{Host: "a.example", Port: 1}}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs", f.handler())
	mux.HandleFunc("/api/v1/results", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "store down", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	probed := make(chan struct{}, 1)
	probe := func(ctx context.Context, host string, port uint16) any {
		select {
		case probed <- struct{}{}:
		default:
		}
		return map[string]any{"host": host, "port": port, "status": "offline", "height": 0}
	}

	w := newTestWorker(t, srv.URL, probe)
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- w.Start(stop) }()

	select {
	case <-probed:
	case <-time.After(5 * time.Second):
		t.Fatal("probe never ran")
	}
	time.Sleep(50 * time.Millisecond)
	close(stop)
	require.NoError(t, <-done)
}
