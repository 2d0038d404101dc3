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
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/projecthosh/hosh/internal/metrics"
	"github.com/projecthosh/hosh/internal/query"
	"github.com/projecthosh/hosh/internal/rendercache"
	"github.com/projecthosh/hosh/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"fptr": func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	},
}).ParseFS(templateFS, "templates/*.html"))

// Handlers wires the web routes onto a Service.
type Handlers struct {
	Store   *store.Client
	Runner  *query.Runner
	Cache   *rendercache.Cache
	APIKey  string
	Metrics *metrics.Metrics

	logrus.FieldLogger
}

// Register mounts every route and registers the dashboard renderers
// with the cache so the background refresher keeps them warm.
func (h *Handlers) Register(svc *Service) {
	for _, network := range []string{query.NetworkZEC, query.NetworkBTC} {
		for _, hide := range []bool{false, true} {
			network, hide := network, hide
			h.Cache.Register(rendercache.Key(network, hide), func(ctx context.Context) (string, error) {
				return h.renderDashboard(ctx, network, hide, false)
			})
		}
	}

	svc.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/zec", http.StatusFound)
	})
	svc.HandleFunc("GET /healthz", h.healthz)
	svc.HandleFunc("GET /explorers", h.explorers)
	svc.HandleFunc("GET /leaderboard", h.leaderboard)
	svc.HandleFunc("GET /api/v0/{file}", h.apiV0)
	svc.HandleFunc("GET /api/v1/jobs", h.jobs)
	svc.HandleFunc("POST /api/v1/results", h.results)
	svc.HandleFunc("GET /{network}", h.dashboard)
	svc.HandleFunc("GET /{network}/{host}", h.detail)
}

func boolParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	network := r.PathValue("network")
	if !query.ValidNetwork(network) {
		http.Error(w, "unknown network", http.StatusBadRequest)
		return
	}
	hideCommunity := boolParam(r, "hide_community")

	// The Tor-only view is a niche filter; it renders on demand
	// instead of occupying cache slots.
	if boolParam(r, "tor_only") {
		body, err := h.renderDashboard(r.Context(), network, hideCommunity, true)
		if err != nil {
			h.WithError(err).Error("dashboard render failed")
			http.Error(w, "render failed", http.StatusInternalServerError)
			return
		}
		writeHTML(w, body, 0)
		return
	}

	body, age, err := h.Cache.Get(r.Context(), rendercache.Key(network, hideCommunity))
	if err != nil {
		h.WithError(err).Error("dashboard render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	writeHTML(w, body, int(age.Seconds()))
}

func writeHTML(w http.ResponseWriter, body string, ageSeconds int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=10")
	w.Header().Set("X-Cache-Age", strconv.Itoa(ageSeconds))
	fmt.Fprint(w, body) //nolint:errcheck
}

func (h *Handlers) renderDashboard(ctx context.Context, network string, hideCommunity, torOnly bool) (string, error) {
	servers, err := h.Runner.NetworkStatus(ctx, network)
	if err != nil {
		return "", err
	}

	filtered := servers[:0:0]
	for _, s := range servers {
		if hideCommunity && s.Community {
			continue
		}
		if torOnly && !strings.HasSuffix(s.Hostname, ".onion") {
			continue
		}
		filtered = append(filtered, s)
	}

	var buf bytes.Buffer
	err = pageTemplates.ExecuteTemplate(&buf, "dashboard.html", map[string]any{
		"Network":       network,
		"Servers":       filtered,
		"HideCommunity": hideCommunity,
	})
	if err != nil {
		return "", fmt.Errorf("render dashboard: %w", err)
	}
	return buf.String(), nil
}

func (h *Handlers) detail(w http.ResponseWriter, r *http.Request) {
	network := r.PathValue("network")
	if !query.ValidNetwork(network) {
		http.Error(w, "unknown network", http.StatusBadRequest)
		return
	}

	hostname := r.PathValue("host")
	var port uint16
	if host, portStr, ok := strings.Cut(hostname, ":"); ok {
		n, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			http.Error(w, "bad port", http.StatusBadRequest)
			return
		}
		hostname, port = host, uint16(n)
	}

	d, err := h.Runner.Detail(r.Context(), network, hostname, port)
	if err == query.ErrNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.WithError(err).Error("detail query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, "detail.html", d); err != nil {
		h.WithError(err).Error("detail render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	writeHTML(w, buf.String(), 0)
}

func (h *Handlers) explorers(w http.ResponseWriter, r *http.Request) {
	heights, err := h.Runner.ExplorerHeights(r.Context())
	if err != nil {
		h.WithError(err).Error("explorer heights query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, "explorers.html", map[string]any{"Heights": heights}); err != nil {
		h.WithError(err).Error("explorers render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	writeHTML(w, buf.String(), 0)
}

func (h *Handlers) leaderboard(w http.ResponseWriter, r *http.Request) {
	network := r.URL.Query().Get("network")
	if network == "" {
		network = query.NetworkZEC
	}
	if !query.ValidNetwork(network) {
		http.Error(w, "unknown network", http.StatusBadRequest)
		return
	}

	entries, err := h.Runner.Leaderboard(r.Context(), network, 50)
	if err != nil {
		h.WithError(err).Error("leaderboard query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	err = pageTemplates.ExecuteTemplate(&buf, "leaderboard.html", map[string]any{
		"Network": network,
		"Entries": entries,
	})
	if err != nil {
		h.WithError(err).Error("leaderboard render failed")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	writeHTML(w, buf.String(), 0)
}

func (h *Handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`) //nolint:errcheck
}
