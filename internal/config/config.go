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

// Package config loads service configuration from the environment.
// Every service reads its settings from environment variables with
// sensible defaults; only secrets are mandatory.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ClickHouse holds the connection settings for the result store.
type ClickHouse struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// URL returns the HTTP base URL of the ClickHouse server.
func (c ClickHouse) URL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// ClickHouseFromEnv reads the ClickHouse settings.
// CLICKHOUSE_PASSWORD is mandatory.
func ClickHouseFromEnv() (ClickHouse, error) {
	password := os.Getenv("CLICKHOUSE_PASSWORD")
	if password == "" {
		return ClickHouse{}, fmt.Errorf("CLICKHOUSE_PASSWORD environment variable must be set")
	}
	return ClickHouse{
		Host:     getenv("CLICKHOUSE_HOST", "chronicler"),
		Port:     getenvInt("CLICKHOUSE_PORT", 8123),
		User:     getenv("CLICKHOUSE_USER", "hosh"),
		Password: password,
		Database: getenv("CLICKHOUSE_DB", "hosh"),
	}, nil
}

// Worker holds the settings for a probe worker process.
type Worker struct {
	WebAPIURL     string
	APIKey        string
	SocksProxy    string
	MaxConcurrent int
}

// WorkerFromEnv reads the worker settings. API_KEY is mandatory.
// The SOCKS proxy may be given either as SOCKS_PROXY (host:port) or as
// the TOR_PROXY_HOST / TOR_PROXY_PORT pair.
func WorkerFromEnv() (Worker, error) {
	key := os.Getenv("API_KEY")
	if key == "" {
		return Worker{}, fmt.Errorf("API_KEY environment variable must be set")
	}
	return Worker{
		WebAPIURL:     getenv("WEB_API_URL", "http://web:8080"),
		APIKey:        key,
		SocksProxy:    SocksProxyFromEnv(),
		MaxConcurrent: getenvInt("MAX_CONCURRENT_CHECKS", 10),
	}, nil
}

// SocksProxyFromEnv resolves the SOCKS5 proxy address used to reach
// hidden services.
func SocksProxyFromEnv() string {
	if p := os.Getenv("SOCKS_PROXY"); p != "" {
		return p
	}
	host := getenv("TOR_PROXY_HOST", "127.0.0.1")
	port := getenv("TOR_PROXY_PORT", "9050")
	return host + ":" + port
}

// Web holds the settings for the web service.
type Web struct {
	APIKey            string
	ResultsWindowDays int
	BindAddress       string
	BindPort          int
}

// WebFromEnv reads the web service settings. API_KEY is mandatory.
func WebFromEnv() (Web, error) {
	key := os.Getenv("API_KEY")
	if key == "" {
		return Web{}, fmt.Errorf("API_KEY environment variable must be set")
	}
	return Web{
		APIKey:            key,
		ResultsWindowDays: getenvInt("RESULTS_WINDOW_DAYS", 30),
		BindAddress:       getenv("BIND_ADDRESS", "0.0.0.0"),
		BindPort:          getenvInt("BIND_PORT", 8080),
	}, nil
}

// Health holds the settings for the dashboard health poller.
type Health struct {
	WebURL      string
	Network     string
	MaxCheckAge time.Duration
	Interval    time.Duration
}

// HealthFromEnv reads the health poller settings.
func HealthFromEnv() Health {
	return Health{
		WebURL:      getenv("WEB_URL", "http://web:8080"),
		Network:     getenv("HEALTH_NETWORK", "zec"),
		MaxCheckAge: time.Duration(getenvInt("MAX_CHECK_AGE", 10)) * time.Minute,
		Interval:    time.Duration(getenvInt("HEALTH_CHECK_INTERVAL", 60)) * time.Second,
	}
}

// Discovery holds the settings for the discovery service.
type Discovery struct {
	Interval time.Duration
}

// DiscoveryFromEnv reads the discovery settings.
func DiscoveryFromEnv() Discovery {
	return Discovery{
		Interval: time.Duration(getenvInt("DISCOVERY_INTERVAL", 3600)) * time.Second,
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
