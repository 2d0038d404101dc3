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

package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/projecthosh/hosh/internal/config"
	"github.com/projecthosh/hosh/internal/query"
)

const fetchTimeout = 30 * time.Second

// lastCheckedRE pulls the relative age strings out of the rendered
// dashboard table.
var lastCheckedRE = regexp.MustCompile(`class="last-checked">([^<]+)<`)

// A Notifier delivers a state-transition message. The transport is
// outside this package; NopNotifier discards messages.
type Notifier interface {
	Notify(ctx context.Context, state State, message string) error
}

// NopNotifier discards every message.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, State, string) error { return nil }

// Poller samples the dashboard on an interval and feeds a Monitor.
type Poller struct {
	cfg      config.Health
	monitor  *Monitor
	notifier Notifier

	httpClient *http.Client

	logrus.FieldLogger
}

// New returns a Poller. A nil notifier logs transitions and nothing
// more.
func New(cfg config.Health, notifier Notifier, log logrus.FieldLogger) *Poller {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Poller{
		cfg:         cfg,
		monitor:     NewMonitor(cfg.MaxCheckAge),
		notifier:    notifier,
		httpClient:  &http.Client{Timeout: fetchTimeout},
		FieldLogger: log.WithField("context", "health"),
	}
}

// Start fulfills the workgroup contract: poll until stop is closed.
func (p *Poller) Start(stop <-chan struct{}) error {
	p.WithField("url", p.cfg.WebURL).WithField("interval", p.cfg.Interval).Info("started")
	defer p.Info("stopped")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pollOnce()
	for {
		select {
		case <-ticker.C:
			p.pollOnce()
		case <-stop:
			return nil
		}
	}
}

func (p *Poller) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	sample := p.Sample(ctx)
	message, changed := p.monitor.Observe(sample)
	if !changed {
		return
	}

	state := p.monitor.State()
	p.WithField("state", state.String()).WithField("severity", state.Severity()).Info(message)
	if err := p.notifier.Notify(ctx, state, message); err != nil {
		p.WithError(err).Error("notification delivery failed")
	}
}

// Sample fetches the JSON API and the HTML dashboard once.
func (p *Poller) Sample(ctx context.Context) Sample {
	servers, err := p.fetchServerCount(ctx)
	if err != nil {
		p.WithError(err).Warn("api fetch failed")
		return Sample{FetchFailed: true}
	}

	youngest, err := p.fetchYoungestCheck(ctx)
	if err != nil {
		p.WithError(err).Warn("dashboard fetch failed")
		return Sample{FetchFailed: true}
	}

	return Sample{Servers: servers, YoungestCheck: youngest}
}

func (p *Poller) fetchServerCount(ctx context.Context) (int, error) {
	body, err := p.get(ctx, fmt.Sprintf("%s/api/v0/%s.json", p.cfg.WebURL, p.cfg.Network))
	if err != nil {
		return 0, err
	}
	var payload struct {
		Servers []json.RawMessage `json:"servers"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode api response: %w", err)
	}
	return len(payload.Servers), nil
}

// fetchYoungestCheck scrapes the relative ages off the HTML table and
// returns the smallest one. A page with no parseable age counts as
// infinitely stale, not as a fetch failure.
func (p *Poller) fetchYoungestCheck(ctx context.Context) (time.Duration, error) {
	body, err := p.get(ctx, fmt.Sprintf("%s/%s", p.cfg.WebURL, p.cfg.Network))
	if err != nil {
		return 0, err
	}

	youngest := time.Duration(-1)
	for _, m := range lastCheckedRE.FindAllStringSubmatch(string(body), -1) {
		age, err := query.ParseRelative(m[1])
		if err != nil {
			continue
		}
		if youngest < 0 || age < youngest {
			youngest = age
		}
	}
	if youngest < 0 {
		return 1<<62 - 1, nil
	}
	return youngest, nil
}

func (p *Poller) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}
