// Package health aggregates component checks into liveness and readiness
// answers for the authority endpoints.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status of a component or of the whole service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// Result is the outcome of one check.
type Result struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Checked  time.Time     `json:"checked"`
	Duration time.Duration `json:"duration_ns"`
}

// Check reports the state of one component.
type Check func(ctx context.Context) Result

type component struct {
	critical bool
	check    Check
	timeout  time.Duration
}

// Checker runs registered checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]component
	started    time.Time
	now        func() time.Time
}

func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]component),
		started:    time.Now(),
		now:        time.Now,
	}
}

// Register adds a check. A failing critical check makes the service
// unhealthy; a failing non-critical one only degrades it.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = component{critical: critical, check: check, timeout: DefaultTimeout}
}

// Run executes every check concurrently. A check that panics or outlives
// its timeout is reported unhealthy.
func (c *Checker) Run(ctx context.Context) map[string]Result {
	c.mu.RLock()
	comps := make(map[string]component, len(c.components))
	for name, comp := range c.components {
		comps[name] = comp
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Result, len(comps))
	)
	for name, comp := range comps {
		wg.Add(1)
		go func(name string, comp component) {
			defer wg.Done()
			res := c.runOne(ctx, comp)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, comp)
	}
	wg.Wait()
	return results
}

func (c *Checker) runOne(ctx context.Context, comp component) Result {
	ctx, cancel := context.WithTimeout(ctx, comp.timeout)
	defer cancel()

	start := c.now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		done <- comp.check(ctx)
	}()

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = Result{Status: StatusUnhealthy, Message: "check timed out"}
	}
	res.Checked = start
	res.Duration = c.now().Sub(start)
	return res
}

// Overall folds results into one status.
func (c *Checker) Overall(results map[string]Result) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := StatusHealthy
	for name, res := range results {
		comp, ok := c.components[name]
		if !ok {
			continue
		}
		switch res.Status {
		case StatusUnhealthy:
			if comp.critical {
				return StatusUnhealthy
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		case StatusUnknown:
			if comp.critical && overall == StatusHealthy {
				overall = StatusUnknown
			}
		}
	}
	return overall
}

// Response is the body of the readiness endpoint.
type Response struct {
	Status     Status            `json:"status"`
	Uptime     string            `json:"uptime"`
	Components map[string]Result `json:"components,omitempty"`
}

// LivenessHandler answers 200 while the process serves requests.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("OK"))
	})
}

// ReadinessHandler runs the checks and answers 503 when the service is
// unhealthy. Degraded is still ready.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := c.Run(r.Context())
		resp := Response{
			Status:     c.Overall(results),
			Uptime:     c.now().Sub(c.started).Round(time.Second).String(),
			Components: results,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if resp.Status == StatusUnhealthy || resp.Status == StatusUnknown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	})
}
