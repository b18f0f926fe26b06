package http

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// HealthChecker reports the health of the service.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc performs a single check and returns an error if it fails.
type HealthCheckFunc func(ctx context.Context) error

// Pinger is anything with a connectivity probe: the Postgres connection and
// the Redis cache both qualify.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

// Overall states reported in HealthStatus.State.
const (
	StateOK       = "ok"
	StateDegraded = "degraded"
	StateDown     = "down"
)

// HealthStatus is the body of /health. Healthy and Ready turn false only
// when a required dependency fails; an optional failure degrades the state.
type HealthStatus struct {
	State     string                 `json:"state"`
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type namedCheck struct {
	name     string
	fn       HealthCheckFunc
	optional bool
}

// CompositeHealthChecker runs its checks concurrently, each under its own
// timeout.
type CompositeHealthChecker struct {
	mu      sync.RWMutex
	checks  []namedCheck
	started time.Time
	version string
	timeout time.Duration
}

// NewCompositeHealthChecker creates a checker with a 5s per-check timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		started: time.Now(),
		version: version,
		timeout: 5 * time.Second,
	}
}

// SetTimeout sets the timeout for individual health checks.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

// AddCheck registers a required dependency. Re-adding a name replaces it.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.add(namedCheck{name: name, fn: check})
}

// AddOptionalCheck registers a dependency the service can run without, such
// as the summary cache.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.add(namedCheck{name: name, fn: check, optional: true})
}

func (c *CompositeHealthChecker) add(nc namedCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = slices.DeleteFunc(c.checks, func(e namedCheck) bool { return e.name == nc.name })
	c.checks = append(c.checks, nc)
}

// Check runs every registered check and aggregates the results.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := slices.Clone(c.checks)
	timeout := c.timeout
	c.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, nc := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, nc, timeout)
		}()
	}
	wg.Wait()

	status := HealthStatus{
		State:     StateOK,
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var down, degraded []string
	for i, nc := range checks {
		status.Checks[nc.name] = results[i]
		switch {
		case results[i].Healthy:
		case nc.optional:
			degraded = append(degraded, nc.name)
		default:
			down = append(down, nc.name)
		}
	}
	slices.Sort(down)
	slices.Sort(degraded)

	switch {
	case len(down) > 0:
		status.State = StateDown
		status.Healthy = false
		status.Ready = false
		status.Message = "Some checks failed: " + strings.Join(down, ", ")
	case len(degraded) > 0:
		status.State = StateDegraded
		status.Message = "Running without: " + strings.Join(degraded, ", ")
	case len(checks) == 0:
		status.Message = "No health checks registered"
	default:
		status.Message = "All checks passed"
	}
	return status
}

func runCheck(ctx context.Context, nc namedCheck, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := nc.fn(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Optional: nc.optional,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}
