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

// Package health watches the public dashboard from the outside and
// classifies what a user would see. It polls the HTML page for the
// youngest "last checked" age and the JSON API for an empty server
// list, and raises one message per state transition. Delivery of that
// message is the caller's concern.
package health

import (
	"fmt"
	"time"
)

// State is the observed condition of the dashboard.
type State int

const (
	// StateUnknown is the state before the first observation.
	StateUnknown State = iota

	// StateHealthy means servers are listed and checks are recent.
	StateHealthy

	// StateStaleChecks means servers are listed but the youngest
	// check is older than the configured maximum.
	StateStaleChecks

	// StateEmpty means the API returned no servers at all.
	StateEmpty

	// StateError means the dashboard could not be fetched.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateStaleChecks:
		return "stale_checks"
	case StateEmpty:
		return "empty"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Severity maps the state to an alerting level.
func (s State) Severity() string {
	switch s {
	case StateHealthy:
		return "info"
	case StateStaleChecks:
		return "warning"
	case StateEmpty:
		return "critical"
	case StateError:
		return "critical"
	default:
		return "info"
	}
}

// A Sample is one round of observations of the dashboard.
type Sample struct {
	// FetchFailed is set when either the HTML page or the JSON API
	// could not be fetched or parsed.
	FetchFailed bool

	// Servers is the length of the API's server array.
	Servers int

	// YoungestCheck is the smallest "last checked" age found on the
	// HTML page. Meaningless when Servers is zero.
	YoungestCheck time.Duration
}

// Classify maps a sample to a state.
func Classify(s Sample, maxCheckAge time.Duration) State {
	switch {
	case s.FetchFailed:
		return StateError
	case s.Servers == 0:
		return StateEmpty
	case s.YoungestCheck > maxCheckAge:
		return StateStaleChecks
	default:
		return StateHealthy
	}
}

// A Monitor tracks the dashboard state across samples. Remaining in a
// bad state is quiet; only transitions produce a message.
type Monitor struct {
	maxCheckAge time.Duration
	state       State
}

// NewMonitor returns a Monitor in the unknown state.
func NewMonitor(maxCheckAge time.Duration) *Monitor {
	return &Monitor{maxCheckAge: maxCheckAge}
}

// State returns the most recently observed state.
func (m *Monitor) State() State { return m.state }

// Observe folds one sample into the monitor. On a state transition it
// returns a human-readable message and true; otherwise "" and false.
func (m *Monitor) Observe(s Sample) (string, bool) {
	next := Classify(s, m.maxCheckAge)
	if next == m.state {
		return "", false
	}
	prev := m.state
	m.state = next

	switch next {
	case StateHealthy:
		if prev == StateUnknown {
			return fmt.Sprintf("dashboard healthy: %d servers listed", s.Servers), true
		}
		return fmt.Sprintf("dashboard recovered: %d servers listed, youngest check %s old", s.Servers, s.YoungestCheck), true
	case StateStaleChecks:
		return fmt.Sprintf("dashboard checks are stale: youngest check is %s old (limit %s)", s.YoungestCheck, m.maxCheckAge), true
	case StateEmpty:
		return "dashboard is empty: API returned no servers", true
	case StateError:
		return "dashboard is unreachable", true
	default:
		return "", false
	}
}
