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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/projecthosh/hosh/internal/build"
	"github.com/projecthosh/hosh/internal/checker"
	"github.com/projecthosh/hosh/internal/config"
	"github.com/projecthosh/hosh/internal/debug"
	"github.com/projecthosh/hosh/internal/discovery"
	"github.com/projecthosh/hosh/internal/electrum"
	"github.com/projecthosh/hosh/internal/health"
	"github.com/projecthosh/hosh/internal/lightwalletd"
	"github.com/projecthosh/hosh/internal/metrics"
	"github.com/projecthosh/hosh/internal/query"
	"github.com/projecthosh/hosh/internal/rendercache"
	"github.com/projecthosh/hosh/internal/store"
	"github.com/projecthosh/hosh/internal/webserver"
	"github.com/projecthosh/hosh/internal/workgroup"
)

// roleNames are the service roles one process can run. "all" runs
// everything, which is the single-container deployment.
var roleNames = []string{"web", "checker-btc", "checker-zec", "discovery", "all"}

func main() {
	log := logrus.StandardLogger()
	app := kingpin.New("hosh", "Server uptime tracker for cryptocurrency infrastructure.")

	serve := app.Command("serve", "Run hosh services.")
	roles := serve.Flag("role", "Service role to run, repeatable. Defaults to the RUN_MODE environment variable, then to \"all\".").
		Enums(roleNames...)

	debugsvc := debug.Service{
		FieldLogger: log.WithField("context", "debugsvc"),
	}
	serve.Flag("debug-http-address", "Address the debug http endpoint will bind to.").Default("127.0.0.1").StringVar(&debugsvc.Addr)
	serve.Flag("debug-http-port", "Port the debug http endpoint will bind to.").Default("6060").IntVar(&debugsvc.Port)

	version := app.Command("version", "Print version information.")

	args := os.Args[1:]
	switch kingpin.MustParse(app.Parse(args)) {
	case version.FullCommand():
		build.PrintBuildInfo()
	case serve.FullCommand():
		doServe(log, &debugsvc, resolveRoles(*roles))
	default:
		app.Usage(args)
		os.Exit(2)
	}
}

// resolveRoles applies the RUN_MODE fallback and expands "all".
func resolveRoles(flags []string) map[string]bool {
	if len(flags) == 0 {
		if mode := os.Getenv("RUN_MODE"); mode != "" {
			flags = strings.Split(mode, ",")
		} else {
			flags = []string{"all"}
		}
	}

	roles := make(map[string]bool)
	for _, r := range flags {
		r = strings.TrimSpace(r)
		if r == "all" {
			for _, name := range roleNames {
				roles[name] = true
			}
			continue
		}
		roles[r] = true
	}
	return roles
}

func doServe(log *logrus.Logger, debugsvc *debug.Service, roles map[string]bool) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics(registry)

	var g workgroup.Group

	debugsvc.Registry = registry
	g.Add(debugsvc.Start)

	// stop the group on SIGINT or SIGTERM.
	g.Add(func(stop <-chan struct{}) error {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-c:
			log.WithField("signal", sig).Info("shutting down")
			return nil
		case <-stop:
			return nil
		}
	})

	// The web and discovery roles talk to the store directly; the
	// checkers only see the dispatch API.
	var client *store.Client
	if roles["web"] || roles["discovery"] {
		chCfg, err := config.ClickHouseFromEnv()
		check(err)
		client = store.NewClient(chCfg, log)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		check(client.EnsureSchema(ctx))
		cancel()
	}

	if roles["web"] {
		webCfg, err := config.WebFromEnv()
		check(err)

		cache := rendercache.New(rendercache.DefaultTTL, m, log)
		handlers := &webserver.Handlers{
			Store:       client,
			Runner:      query.NewRunner(client, webCfg.ResultsWindowDays, log),
			Cache:       cache,
			APIKey:      webCfg.APIKey,
			Metrics:     m,
			FieldLogger: log.WithField("context", "webserver"),
		}
		svc := &webserver.Service{
			Addr:        webCfg.BindAddress,
			Port:        webCfg.BindPort,
			FieldLogger: log.WithField("context", "websvc"),
		}
		handlers.Register(svc)

		g.Add(cache.Start)
		g.Add(svc.Start)
		g.Add(health.New(config.HealthFromEnv(), nil, log).Start)
	}

	if roles["checker-btc"] {
		cfg, err := config.WorkerFromEnv()
		check(err)
		prober := electrum.NewProber(cfg.SocksProxy, log)
		worker := checker.New("btc", func(ctx context.Context, host string, port uint16) any {
			return prober.Probe(ctx, host, port)
		}, cfg, m, log)
		g.Add(worker.Start)
	}

	if roles["checker-zec"] {
		cfg, err := config.WorkerFromEnv()
		check(err)
		prober := lightwalletd.NewProber(cfg.SocksProxy, log)
		worker := checker.New("zec", func(ctx context.Context, host string, port uint16) any {
			return prober.Probe(ctx, host, port)
		}, cfg, m, log)
		g.Add(worker.Start)
	}

	if roles["discovery"] {
		g.Add(discovery.New(client, config.DiscoveryFromEnv(), m, log).Start)
	}

	check(g.Run())
}

func check(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
