package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/vyrodovalexey/quotes-service/internal/observability"
)

// DefaultCheckTimeout bounds a full readiness run.
const DefaultCheckTimeout = 5 * time.Second

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the service is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the service is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the service is degraded but operational.
	StatusDegraded Status = "degraded"
)

// Check is a single named dependency check.
type Check struct {
	Name string

	// Critical checks make the service unready when they fail.
	Critical bool

	Fn func(ctx context.Context) error
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Report is the readiness response body.
type Report struct {
	Status    Status                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(c *Checker) {
		c.metrics = metrics
	}
}

// WithTimeout sets the timeout for a readiness run.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Checker) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Checker runs registered checks.
type Checker struct {
	mu      sync.RWMutex
	checks  []Check
	timeout time.Duration
	logger  observability.Logger
	metrics *Metrics
}

// NewChecker creates a checker with no checks.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		timeout: DefaultCheckTimeout,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a check, replacing any check with the same name.
func (c *Checker) Register(check Check) {
	if check.Name == "" || check.Fn == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.checks {
		if c.checks[i].Name == check.Name {
			c.checks[i] = check
			return
		}
	}
	c.checks = append(c.checks, check)
}

// Names returns the registered check names in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for _, check := range c.checks {
		names = append(names, check.Name)
	}
	sort.Strings(names)
	return names
}

// Readiness runs every check concurrently and aggregates the results.
func (c *Checker) Readiness(ctx context.Context) Report {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i := range checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.run(ctx, checks[i])
		}(i)
	}
	wg.Wait()

	report := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now().UTC(),
	}
	for i, check := range checks {
		report.Checks[check.Name] = results[i]
		switch results[i].Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	c.metrics.recordReadiness(report.Status)
	return report
}

func (c *Checker) run(ctx context.Context, check Check) CheckResult {
	start := time.Now()
	err := check.Fn(ctx)
	elapsed := time.Since(start)

	result := CheckResult{Status: StatusHealthy, Duration: elapsed.String()}
	if err != nil {
		result.Error = err.Error()
		result.Status = StatusDegraded
		if check.Critical {
			result.Status = StatusUnhealthy
		}
		c.logger.Warn("health check failed",
			observability.String("check", check.Name),
			observability.Bool("critical", check.Critical),
			observability.Duration("duration", elapsed),
			observability.Error(err),
		)
	}
	c.metrics.recordCheck(check.Name, err == nil, elapsed)
	return result
}

// LivenessHandler reports that the process is up.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	})
}

// ReadinessHandler serves the readiness report. Only an unhealthy report
// answers 503.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Readiness(r.Context())
		status := http.StatusOK
		if report.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
