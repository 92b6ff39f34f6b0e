// Package web serves the admin and status API over gin. It is a JSON-only
// surface for operating the daemon: it never exposes calendar data beyond
// sync bookkeeping, and it carries no authentication, so bind it to
// loopback or a trusted network.
package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caldsync/caldsync/internal/activity"
	"github.com/caldsync/caldsync/internal/config"
	"github.com/caldsync/caldsync/internal/crypto"
	"github.com/caldsync/caldsync/internal/db"
	"github.com/caldsync/caldsync/internal/health"
	"github.com/caldsync/caldsync/internal/scheduler"
	"github.com/caldsync/caldsync/internal/validator"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	cfg       *config.Config
	db        *db.DB
	encryptor *crypto.Encryptor
	manager   *scheduler.Manager
	health    *health.Checker
	tracker   *activity.Tracker
	validator *validator.Validator
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	cfg *config.Config,
	database *db.DB,
	encryptor *crypto.Encryptor,
	manager *scheduler.Manager,
	healthChecker *health.Checker,
	tracker *activity.Tracker,
	v *validator.Validator,
) *Handlers {
	return &Handlers{
		cfg:       cfg,
		db:        database,
		encryptor: encryptor,
		manager:   manager,
		health:    healthChecker,
		tracker:   tracker,
		validator: v,
	}
}

// HealthCheck returns a full health report.
func (h *Handlers) HealthCheck(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Liveness returns a simple liveness check.
func (h *Handlers) Liveness(c *gin.Context) {
	report := h.health.Liveness()
	c.JSON(http.StatusOK, report)
}

// Readiness checks all dependencies.
func (h *Handlers) Readiness(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	if report.Status == health.StatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// APIStatusSummary aggregates connection and job state for the status endpoint.
type APIStatusSummary struct {
	TotalConnections int              `json:"total_connections"`
	Connected        int              `json:"connected"`
	Failing          int              `json:"failing"`
	AutoSync         int              `json:"auto_sync"`
	ActiveJobs       int              `json:"active_jobs"`
	SyncsToday       int              `json:"syncs_today"`
	Connections      []*APIConnection `json:"connections"`
}

// APIStatus returns an overview of every connection and the job state.
func (h *Handlers) APIStatus(c *gin.Context) {
	conns, err := h.db.GetConnections()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connections")})
		return
	}

	summary := APIStatusSummary{
		TotalConnections: len(conns),
		ActiveJobs:       h.manager.JobCount(),
		Connections:      make([]*APIConnection, 0, len(conns)),
	}

	today := time.Now().Truncate(24 * time.Hour)
	for _, conn := range conns {
		switch conn.Status {
		case db.ConnectionStatusConnected:
			summary.Connected++
		case db.ConnectionStatusError:
			summary.Failing++
		}
		if conn.AutoSync {
			summary.AutoSync++
		}

		logs, _ := h.db.GetSyncLogsByConnection(conn.ID, 100)
		for _, l := range logs {
			if l.CreatedAt.After(today) {
				summary.SyncsToday++
			}
		}

		summary.Connections = append(summary.Connections, connectionToAPI(conn))
	}

	c.JSON(http.StatusOK, summary)
}

// APIActivity returns in-flight and recently finished sync cycles.
func (h *Handlers) APIActivity(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.GetAll())
}
