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

// Package store is the client for the ClickHouse result store. All
// access goes over ClickHouse's HTTP interface: statements are POSTed
// as plain text and result sets come back line-by-line in JSONEachRow
// format. The store owns the target registry and the append-only
// result log.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/projecthosh/hosh/internal/config"
)

// Client speaks to a single ClickHouse server.
type Client struct {
	baseURL  string
	user     string
	password string
	database string

	httpClient *http.Client

	logrus.FieldLogger
}

// NewClient returns a Client for the given connection settings.
// The underlying HTTP client is shared and keepalive-enabled; callers
// are expected to create one Client per process.
func NewClient(cfg config.ClickHouse, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL:  cfg.URL(),
		user:     cfg.User,
		password: cfg.Password,
		database: cfg.Database,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     5 * time.Minute,
			},
		},
		FieldLogger: log.WithField("context", "store"),
	}
}

// Database returns the configured database name, for interpolation
// into statements.
func (c *Client) Database() string { return c.database }

// Exec runs a statement and discards any output.
func (c *Client) Exec(ctx context.Context, stmt string) error {
	_, err := c.post(ctx, c.baseURL, "text/plain", stmt)
	return err
}

// Query runs a SELECT and returns the raw response rows, one per
// line. Statements are expected to end in FORMAT JSONEachRow; blank
// lines are dropped. 64-bit integers are requested unquoted so rows
// decode into numeric Go fields.
func (c *Client) Query(ctx context.Context, stmt string) ([]string, error) {
	body, err := c.post(ctx, c.baseURL+"?output_format_json_quote_64bit_integers=0", "text/plain", stmt)
	if err != nil {
		return nil, err
	}
	var rows []string
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, line)
	}
	return rows, nil
}

// InsertRow inserts one row through a JSONEachRow INSERT. The
// statement travels in the query string and the row in the body, so
// values never need SQL escaping.
func (c *Client) InsertRow(ctx context.Context, stmt string, row any) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	u := c.baseURL + "?query=" + url.QueryEscape(stmt)
	_, err = c.post(ctx, u, "application/json", string(payload))
	return err
}

func (c *Client) post(ctx context.Context, u, contentType, body string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewBufferString(body))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("clickhouse request: %w", err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read clickhouse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.WithField("status", resp.StatusCode).Error("clickhouse query failed")
		return "", fmt.Errorf("clickhouse query failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	return string(text), nil
}

// EscapeString escapes a string for interpolation into a
// single-quoted SQL literal.
func EscapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func escapeSQL(s string) string { return EscapeString(s) }
