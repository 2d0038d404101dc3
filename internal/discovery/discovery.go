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

// Package discovery seeds the target registry. Each cycle reconciles
// the static seed lists and one fetched third-party list into the
// store; inserts are conditional so re-runs are idempotent and nothing
// is ever deleted.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/projecthosh/hosh/internal/config"
	"github.com/projecthosh/hosh/internal/metrics"
)

const (
	// electrumServersURL is the canonical community list of Electrum
	// servers.
	electrumServersURL = "https://raw.githubusercontent.com/spesmilo/electrum/master/electrum/chains/servers.json"

	// onionHarvestExplorer is the explorer whose landing page links
	// its own hidden service.
	onionHarvestExplorer = "https://blockchair.com"

	fetchTimeout = 30 * time.Second
)

// onionLinkRE matches blockchair's hidden-service link. The host
// prefix is pinned so arbitrary onion links on the page are not
// harvested.
var onionLinkRE = regexp.MustCompile(`href="https?://(blkchair[a-z2-7]{40,}\.onion)[^"]*"`)

// Seed is one compile-time target.
type Seed struct {
	Module    string
	Hostname  string
	Port      uint16
	Community bool
}

// zecSeeds is the static lightwalletd fleet. The zcash-infra hosts are
// community operated.
var zecSeeds = []Seed{
	{Module: "zec", Hostname: "zec.rocks", Port: 443},
	{Module: "zec", Hostname: "na.zec.rocks", Port: 443},
	{Module: "zec", Hostname: "sa.zec.rocks", Port: 443},
	{Module: "zec", Hostname: "eu.zec.rocks", Port: 443},
	{Module: "zec", Hostname: "ap.zec.rocks", Port: 443},
	{Module: "zec", Hostname: "me.zec.rocks", Port: 443},
	{Module: "zec", Hostname: "testnet.zec.rocks", Port: 443},
	{Module: "zec", Hostname: "zcashd.zec.rocks", Port: 443},
	{Module: "zec", Hostname: "zaino.unsafe.zec.rocks", Port: 443},
	{Module: "zec", Hostname: "zaino.testnet.unsafe.zec.rocks", Port: 443},
	{Module: "zec", Hostname: "lwd1.zcash-infra.com", Port: 9067, Community: true},
	{Module: "zec", Hostname: "lwd2.zcash-infra.com", Port: 9067, Community: true},
	{Module: "zec", Hostname: "lwd3.zcash-infra.com", Port: 9067, Community: true},
	{Module: "zec", Hostname: "lwd4.zcash-infra.com", Port: 9067, Community: true},
	{Module: "zec", Hostname: "lwd5.zcash-infra.com", Port: 9067, Community: true},
	{Module: "zec", Hostname: "lwd6.zcash-infra.com", Port: 9067, Community: true},
	{Module: "zec", Hostname: "lwd7.zcash-infra.com", Port: 9067, Community: true},
	{Module: "zec", Hostname: "lwd8.zcash-infra.com", Port: 9067, Community: true},
}

// explorerSeeds are the HTTP explorer hosts checked for tip heights.
var explorerSeeds = []Seed{
	{Module: "http", Hostname: "blockchair.com", Port: 80},
	{Module: "http", Hostname: "blockstream.info", Port: 80},
	{Module: "http", Hostname: "zecrocks.com", Port: 80},
	{Module: "http", Hostname: "zcashexplorer.app", Port: 80},
}

// Registry is the subset of the store the reconciler writes to.
type Registry interface {
	InsertTarget(ctx context.Context, module, hostname string, port uint16, community bool) error
}

// Discoverer reconciles the seed lists into the target registry.
type Discoverer struct {
	registry Registry
	interval time.Duration

	// Overridable endpoints, for tests.
	ElectrumServersURL string
	OnionHarvestURL    string

	httpClient *http.Client
	metrics    *metrics.Metrics

	logrus.FieldLogger
}

// New returns a Discoverer writing to registry every cfg.Interval.
func New(registry Registry, cfg config.Discovery, m *metrics.Metrics, log logrus.FieldLogger) *Discoverer {
	return &Discoverer{
		registry:           registry,
		interval:           cfg.Interval,
		ElectrumServersURL: electrumServersURL,
		OnionHarvestURL:    onionHarvestExplorer,
		httpClient:         &http.Client{Timeout: fetchTimeout},
		metrics:            m,
		FieldLogger:        log.WithField("context", "discovery"),
	}
}

// Start runs reconciliation cycles until stop closes. The first cycle
// runs immediately.
func (d *Discoverer) Start(stop <-chan struct{}) error {
	d.WithField("interval", d.interval).Info("started discovery")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.RunOnce(context.Background())
		select {
		case <-stop:
			d.Info("stopped discovery")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one full reconciliation cycle. Individual source
// failures are logged and skipped; one bad source never blocks the
// others.
func (d *Discoverer) RunOnce(ctx context.Context) {
	inserted := 0
	inserted += d.insertSeeds(ctx, zecSeeds)
	inserted += d.insertSeeds(ctx, explorerSeeds)

	if onion, err := d.harvestOnion(ctx); err != nil {
		d.WithError(err).Warn("onion harvest failed")
	} else if onion != "" {
		inserted += d.insertSeeds(ctx, []Seed{{Module: "http", Hostname: onion, Port: 80}})
	}

	seeds, err := d.fetchElectrumServers(ctx)
	if err != nil {
		d.WithError(err).Warn("electrum server list fetch failed")
	} else {
		inserted += d.insertSeeds(ctx, seeds)
	}

	d.WithField("targets", inserted).Info("reconciliation cycle complete")
}

func (d *Discoverer) insertSeeds(ctx context.Context, seeds []Seed) int {
	n := 0
	for _, s := range seeds {
		if err := d.registry.InsertTarget(ctx, s.Module, s.Hostname, s.Port, s.Community); err != nil {
			d.WithError(err).WithField("hostname", s.Hostname).Error("target insert failed")
			continue
		}
		d.metrics.TargetInserted()
		n++
	}
	return n
}

// fetchElectrumServers pulls the community server list and shapes it
// into seeds. Entries advertising an SSL port use it; the rest get the
// plaintext default.
func (d *Discoverer) fetchElectrumServers(ctx context.Context) ([]Seed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.ElectrumServersURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch electrum servers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch electrum servers: status %d", resp.StatusCode)
	}

	var list map[string]struct {
		SSLPort json.Number `json:"s"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode electrum servers: %w", err)
	}

	seeds := make([]Seed, 0, len(list))
	for host, entry := range list {
		port := uint16(50001)
		if n, err := strconv.ParseUint(entry.SSLPort.String(), 10, 16); err == nil && n > 0 {
			port = uint16(n)
		}
		seeds = append(seeds, Seed{Module: "btc", Hostname: host, Port: port})
	}
	return seeds, nil
}

// harvestOnion fetches the designated explorer's landing page and
// extracts its hidden-service hostname, if linked.
func (d *Discoverer) harvestOnion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.OnionHarvestURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch explorer page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch explorer page: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	m := onionLinkRE.FindSubmatch(body)
	if m == nil {
		return "", nil
	}
	return string(m[1]), nil
}
