package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const probeTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check probes one dependency. A failing critical check takes readiness
// to "down"; a failing optional check only degrades it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// Database is the check every binary registers: without Postgres neither
// the API nor a worker can do anything.
func Database(db Pinger) Check {
	return Check{Name: "postgres", Critical: true, Probe: db.Ping}
}

// WorkerFleet reports whether any worker is UP. The API stays usable with
// an empty fleet (intentions just queue), so the check is not critical.
func WorkerFleet(countUp func(ctx context.Context) (int, error)) Check {
	return Check{
		Name: "workers",
		Probe: func(ctx context.Context) error {
			n, err := countUp(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("no workers up")
			}
			return nil
		},
	}
}

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response. Status is "up",
// "degraded", or "down".
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type Checker struct {
	checks []Check
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

// NewChecker creates an empty checker and registers its Prometheus gauge.
// Dependencies are attached with Add.
func NewChecker(logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "poolsched",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		logger: logger.With("component", "health"),
		gauge:  gauge,
	}
}

func (c *Checker) Add(check Check) {
	c.checks = append(c.checks, check)
}

// Liveness returns "up" as long as the process can answer at all.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness runs every registered check and folds the results: any failing
// critical check wins, otherwise any failing optional check degrades.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult, len(c.checks)),
	}

	for _, check := range c.checks {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := check.Probe(probeCtx)
		cancel()

		if err == nil {
			result.Checks[check.Name] = CheckResult{Status: "up"}
			c.gauge.WithLabelValues(check.Name).Set(1)
			continue
		}

		c.logger.Warn("health check failed", "check", check.Name, "error", err)
		result.Checks[check.Name] = CheckResult{Status: "down", Error: err.Error()}
		c.gauge.WithLabelValues(check.Name).Set(0)
		if check.Critical {
			result.Status = "down"
		} else if result.Status == "up" {
			result.Status = "degraded"
		}
	}

	return result
}
