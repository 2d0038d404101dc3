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
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/projecthosh/hosh/internal/checker"
	"github.com/projecthosh/hosh/internal/query"
	"github.com/projecthosh/hosh/internal/store"
)

// dispatchWindow is how long an endpoint is suppressed from /jobs
// after any result row lands for it.
const dispatchWindow = 5 * time.Minute

// moduleDefaultPort maps a checker module to the port substituted for
// port 0 targets.
func moduleDefaultPort(module string) uint16 {
	switch module {
	case "zec":
		return 443
	case "btc":
		return 50002
	default:
		return 80
	}
}

// apiV0 serves /api/v0/{network}.json.
func (h *Handlers) apiV0(w http.ResponseWriter, r *http.Request) {
	network, ok := strings.CutSuffix(r.PathValue("file"), ".json")
	if !ok || !query.ValidNetwork(network) {
		http.Error(w, "unknown network", http.StatusBadRequest)
		return
	}

	servers, err := h.Runner.NetworkStatus(r.Context(), network)
	if err != nil {
		h.WithError(err).Error("network status query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=10")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"servers": query.APIServers(network, servers),
	})
}

// authorized checks the shared-secret api_key query parameter.
func (h *Handlers) authorized(w http.ResponseWriter, r *http.Request) bool {
	key := r.URL.Query().Get("api_key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.APIKey)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// jobs serves GET /api/v1/jobs: every target of the module without a
// result row inside the dispatch window, up to limit.
func (h *Handlers) jobs(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	module := r.URL.Query().Get("checker_module")
	if module == "" {
		http.Error(w, "checker_module is required", http.StatusBadRequest)
		return
	}
	limit := 10
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}

	targets, err := h.Store.Targets(r.Context(), module)
	if err != nil {
		h.WithError(err).Error("target query failed")
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	recent, err := h.Store.RecentlyChecked(r.Context(), module, dispatchWindow)
	if err != nil {
		h.WithError(err).Error("recent results query failed")
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}

	defaultPort := moduleDefaultPort(module)
	jobs := make([]checker.Job, 0, limit)
	for _, t := range targets {
		if len(jobs) == limit {
			break
		}
		port := t.Port
		if port == 0 {
			port = defaultPort
		}
		if _, seen := recent[store.HostPort{Host: t.Hostname, Port: port}]; seen {
			continue
		}
		jobs = append(jobs, checker.Job{
			Host:          t.Hostname,
			Port:          port,
			CheckID:       t.TargetID,
			UserSubmitted: t.UserSubmitted,
		})
		if err := h.Store.TouchLastQueued(r.Context(), t.TargetID); err != nil {
			h.WithError(err).WithField("hostname", t.Hostname).Warn("last_queued_at update failed")
		}
	}
	h.Metrics.JobsDispatched(module, len(jobs))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs) //nolint:errcheck
}

// results serves POST /api/v1/results: extract the envelope columns,
// keep the whole posted body as response_data, and append one row with
// a server-assigned timestamp.
func (h *Handlers) results(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	row := store.ResultRow{
		Hostname:      stringField(body, "hostname", "host"),
		CheckerModule: stringField(body, "checker_module"),
		Status:        stringField(body, "status"),
		PingMS:        floatField(body, "ping_ms", "ping"),
		ServerVersion: stringField(body, "server_version"),
		Error:         stringField(body, "error"),
	}
	if row.Hostname == "" || row.CheckerModule == "" {
		http.Error(w, "hostname and checker_module are required", http.StatusBadRequest)
		return
	}
	if p := floatField(body, "port"); p != nil {
		if *p < 0 || *p > 65535 {
			http.Error(w, "port out of range", http.StatusBadRequest)
			return
		}
		row.Port = uint16(*p)
	}
	if hgt := floatField(body, "height", "block_height"); hgt != nil && *hgt > 0 {
		row.BlockHeight = uint64(*hgt)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	row.ResponseData = string(payload)

	if err := h.Store.InsertResult(r.Context(), row); err != nil {
		h.WithError(err).Error("result insert failed")
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	if err := h.Store.TouchLastChecked(r.Context(), row.CheckerModule, row.Hostname); err != nil {
		h.WithError(err).WithField("hostname", row.Hostname).Warn("last_checked_at update failed")
	}
	h.Metrics.ResultIngested()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true}) //nolint:errcheck
}

// stringField returns the first present alias decoded as a string.
func stringField(body map[string]json.RawMessage, aliases ...string) string {
	for _, name := range aliases {
		raw, ok := body[name]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	return ""
}

// floatField returns the first present alias decoded as a number.
func floatField(body map[string]json.RawMessage, aliases ...string) *float64 {
	for _, name := range aliases {
		raw, ok := body[name]
		if !ok {
			continue
		}
		var f float64
		if json.Unmarshal(raw, &f) == nil {
			return &f
		}
	}
	return nil
}
