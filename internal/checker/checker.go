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

// Package checker runs a probe worker: it polls the dispatch API for
// due targets, fans them out to a bounded pool of probe goroutines,
// and posts each outcome back. Probe failures become result rows, not
// worker failures.
package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/projecthosh/hosh/internal/config"
	"github.com/projecthosh/hosh/internal/metrics"
)

const (
	defaultPollInterval = 10 * time.Second

	// jobTimeout bounds one probe end to end.
	jobTimeout = 30 * time.Second

	// submitTimeout bounds the result POST. It is separate from the
	// probe deadline: a probe that ran to its limit still has to be
	// recorded as a timeout_error row.
	submitTimeout = 10 * time.Second
)

// A Job is one dispatch API hand-out.
type Job struct {
	Host          string `json:"host"`
	Port          uint16 `json:"port"`
	CheckID       string `json:"check_id,omitempty"`
	UserSubmitted bool   `json:"user_submitted,omitempty"`
}

// ProbeFunc runs one protocol adapter probe and returns the
// result payload to submit. Implementations never return an error;
// failures are part of the payload.
type ProbeFunc func(ctx context.Context, host string, port uint16) any

// Worker polls for jobs of one module and probes them.
type Worker struct {
	module string
	probe  ProbeFunc
	cfg    config.Worker

	// PollInterval overrides the dispatch poll period, for tests.
	PollInterval time.Duration

	// JobTimeout overrides the per-probe deadline, for tests.
	JobTimeout time.Duration

	httpClient *http.Client
	metrics    *metrics.Metrics

	logrus.FieldLogger
}

// New returns a Worker for one checker module.
func New(module string, probe ProbeFunc, cfg config.Worker, m *metrics.Metrics, log logrus.FieldLogger) *Worker {
	return &Worker{
		module:       module,
		probe:        probe,
		cfg:          cfg,
		PollInterval: defaultPollInterval,
		JobTimeout:   jobTimeout,
		httpClient:   &http.Client{Timeout: jobTimeout + 5*time.Second},
		metrics:      m,
		FieldLogger:  log.WithField("context", "checker").WithField("module", module),
	}
}

// Start runs the worker until stop closes. In-flight probes finish
// under their own deadlines before Start returns.
func (w *Worker) Start(stop <-chan struct{}) error {
	w.WithField("max_concurrent", w.cfg.MaxConcurrent).Info("started checker")

	jobs := make(chan Job, w.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.MaxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				w.runJob(job)
			}
		}()
	}

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		w.pollOnce(stop, jobs)
		select {
		case <-stop:
			close(jobs)
			wg.Wait()
			w.Info("stopped checker")
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce fetches due jobs and queues them. Queueing blocks when the
// pool is saturated; stop aborts the wait.
func (w *Worker) pollOnce(stop <-chan struct{}, jobs chan<- Job) {
	batch, err := w.fetchJobs()
	if err != nil {
		w.WithError(err).Error("job poll failed")
		return
	}
	for _, job := range batch {
		select {
		case jobs <- job:
		case <-stop:
			return
		}
	}
}

func (w *Worker) fetchJobs() ([]Job, error) {
	u := fmt.Sprintf("%s/api/v1/jobs?api_key=%s&checker_module=%s&limit=%d",
		w.cfg.WebAPIURL, url.QueryEscape(w.cfg.APIKey), url.QueryEscape(w.module), w.cfg.MaxConcurrent)

	resp, err := w.httpClient.Get(u)
	if err != nil {
		return nil, fmt.Errorf("fetch jobs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jobs: status %d", resp.StatusCode)
	}

	var batch []Job
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return batch, nil
}

func (w *Worker) runJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.JobTimeout)
	report := w.probe(ctx, job.Host, job.Port)
	cancel()

	body, err := w.shapeResult(job, report)
	if err != nil {
		w.WithError(err).WithField("host", job.Host).Error("result shaping failed")
		return
	}

	status, _ := body["status"].(string)
	w.metrics.CheckPerformed(w.module, status)

	// The probe may have consumed its whole deadline; the submission
	// runs on its own.
	postCtx, cancelPost := context.WithTimeout(context.Background(), submitTimeout)
	defer cancelPost()
	if err := w.postResult(postCtx, body); err != nil {
		// Dropped on purpose; the target resurfaces after the
		// dispatch window.
		w.WithError(err).WithField("host", job.Host).Error("result submission failed")
	}
}

// shapeResult flattens the adapter report and adds the envelope fields
// the dispatch API extracts.
func (w *Worker) shapeResult(job Job, report any) (map[string]any, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("flatten report: %w", err)
	}

	body["hostname"] = job.Host
	body["checker_module"] = w.module
	if _, ok := body["port"]; !ok {
		body["port"] = job.Port
	}
	if ping, ok := body["ping"]; ok {
		body["ping_ms"] = ping
	}
	if job.CheckID != "" {
		body["check_id"] = job.CheckID
	}
	if job.UserSubmitted {
		body["user_submitted"] = true
	}
	return body, nil
}

func (w *Worker) postResult(ctx context.Context, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	u := w.cfg.WebAPIURL + "/api/v1/results?api_key=" + url.QueryEscape(w.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post result: status %d: %s", resp.StatusCode, bytes.TrimSpace(text))
	}
	return nil
}
