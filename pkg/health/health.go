// Package health runs dependency probes for liveness and readiness. The
// task store and postgres are critical; the result cache and each search
// server only degrade the service, since searches against other servers
// keep working.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the outcome of one Run. Failing lists the components that are
// not up, sorted by name.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Failing    []string                   `json:"failing,omitempty"`
	Timestamp  string                     `json:"timestamp"`
}

// FromPing adapts a ping-style probe. A failing critical dependency reports
// down, any other failure degraded.
func FromPing(ping func(ctx context.Context) error, critical bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			status := StatusDegraded
			if critical {
				status = StatusDown
			}
			return ComponentHealth{Status: status, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

const defaultCheckTimeout = 3 * time.Second

type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	groups  map[string]func() map[string]Check
	timeout time.Duration
}

type Option func(*Checker)

// WithCheckTimeout bounds every single probe.
func WithCheckTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		checks:  make(map[string]Check),
		groups:  make(map[string]func() map[string]Check),
		timeout: defaultCheckTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// RegisterGroup adds checks that are listed again on every Run, so a
// reloaded catalog's servers are probed without re-registering. Checks are
// reported as "<prefix>:<name>".
func (c *Checker) RegisterGroup(prefix string, list func() map[string]Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[prefix] = list
}

func (c *Checker) snapshot() map[string]Check {
	c.mu.RLock()
	defer c.mu.RUnlock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	for prefix, list := range c.groups {
		for name, check := range list() {
			checks[prefix+":"+name] = check
		}
	}
	return checks
}

// Run executes every check concurrently. The overall status is the worst
// component status.
func (c *Checker) Run(ctx context.Context) Report {
	checks := c.snapshot()
	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var mu sync.Mutex
	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			start := time.Now()
			result := check(checkCtx)
			result.Latency = time.Since(start).Round(time.Millisecond).String()
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for name, comp := range report.Components {
		if comp.Status == StatusUp {
			continue
		}
		report.Failing = append(report.Failing, name)
		if comp.Status == StatusDown {
			report.Status = StatusDown
		} else if report.Status == StatusUp {
			report.Status = comp.Status
		}
	}
	sort.Strings(report.Failing)
	return report
}

func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers 503 only when a critical dependency is down. A
// degraded service stays in rotation.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
