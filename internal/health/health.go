// Package health reports process liveness and dependency readiness for the
// admin endpoints.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/caldsync/caldsync/internal/db"
)

// Status is the overall or per-check health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const databaseTimeout = 2 * time.Second

// Check is one dependency's result inside a report.
type Check struct {
	Status  Status `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report is the body served by the health endpoints.
type Report struct {
	Status    Status           `json:"status"`
	Version   string           `json:"version,omitempty"`
	Uptime    string           `json:"uptime"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

// Checker produces health reports against the storage layer.
type Checker struct {
	store   *db.DB
	version string
	started time.Time
}

func NewChecker(store *db.DB, version string) *Checker {
	return &Checker{
		store:   store,
		version: version,
		started: time.Now(),
	}
}

// Liveness reports only that the process is up. It never touches
// dependencies, so a wedged database cannot fail the liveness probe.
func (c *Checker) Liveness() Report {
	return Report{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
}

// Check probes the database and inspects connection state. The database is
// the only hard dependency: losing it makes the service unhealthy, while
// failing remote connections only degrade it.
func (c *Checker) Check(ctx context.Context) Report {
	report := c.Liveness()
	report.Checks = map[string]Check{
		"database":    c.checkDatabase(ctx),
		"connections": c.checkConnections(),
	}

	for _, chk := range report.Checks {
		switch chk.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

func (c *Checker) checkDatabase(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, databaseTimeout)
	defer cancel()

	start := time.Now()
	if err := c.store.Conn().PingContext(ctx); err != nil {
		return Check{Status: StatusUnhealthy, Error: err.Error()}
	}
	return Check{
		Status:  StatusHealthy,
		Latency: time.Since(start).Round(time.Millisecond).String(),
	}
}

func (c *Checker) checkConnections() Check {
	conns, err := c.store.GetConnections()
	if err != nil {
		return Check{Status: StatusUnhealthy, Error: err.Error()}
	}

	failing := 0
	for _, conn := range conns {
		if conn.Status == db.ConnectionStatusError {
			failing++
		}
	}
	if failing > 0 {
		return Check{
			Status: StatusDegraded,
			Error:  fmt.Sprintf("%d of %d connections failing", failing, len(conns)),
		}
	}
	return Check{Status: StatusHealthy}
}
