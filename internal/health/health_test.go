package health

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caldsync/caldsync/internal/db"
)

// setupTestDB creates a temporary test database.
func setupTestDB(t *testing.T) (*db.DB, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "caldsync-health-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tempDir, "test.db")
	database, err := db.New(dbPath)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create test database: %v", err)
	}

	cleanup := func() {
		database.Close()
		os.RemoveAll(tempDir)
	}

	return database, cleanup
}

func seedConnection(t *testing.T, store *db.DB, accountID string) *db.Connection {
	t.Helper()

	conn := &db.Connection{
		AccountID: accountID,
		Name:      "Conn " + accountID,
		Endpoint:  "https://caldav.example.com/",
		Username:  "user@example.com",
		Password:  "encrypted",
	}
	if err := store.CreateConnection(conn); err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	return conn
}

func TestLiveness(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	checker := NewChecker(store, "1.2.3")
	report := checker.Liveness()

	if report.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.Status)
	}
	if report.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %q", report.Version)
	}
	if report.Uptime == "" {
		t.Error("expected uptime to be set")
	}
	if report.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if report.Checks != nil {
		t.Error("liveness must not run dependency checks")
	}
}

func TestCheckHealthy(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	seedConnection(t, store, "account-1")

	checker := NewChecker(store, "dev")
	report := checker.Check(context.Background())

	if report.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", report.Status)
	}

	database, ok := report.Checks["database"]
	if !ok {
		t.Fatal("expected a database check")
	}
	if database.Status != StatusHealthy {
		t.Errorf("expected healthy database, got %s (%s)", database.Status, database.Error)
	}
	if database.Latency == "" {
		t.Error("expected database latency to be recorded")
	}

	conns, ok := report.Checks["connections"]
	if !ok {
		t.Fatal("expected a connections check")
	}
	if conns.Status != StatusHealthy {
		t.Errorf("expected healthy connections, got %s", conns.Status)
	}
}

func TestCheckDegradedConnections(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	seedConnection(t, store, "account-1")
	failing := seedConnection(t, store, "account-2")

	if err := store.UpdateConnectionStatus(failing.ID, db.ConnectionStatusError, "bad credentials"); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	checker := NewChecker(store, "dev")
	report := checker.Check(context.Background())

	if report.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	conns := report.Checks["connections"]
	if conns.Status != StatusDegraded {
		t.Errorf("expected degraded connections check, got %s", conns.Status)
	}
	if !strings.Contains(conns.Error, "1 of 2 connections failing") {
		t.Errorf("unexpected detail: %q", conns.Error)
	}
	if report.Checks["database"].Status != StatusHealthy {
		t.Error("failing connections must not mark the database unhealthy")
	}
}

func TestCheckUnhealthyDatabase(t *testing.T) {
	store, cleanup := setupTestDB(t)
	checker := NewChecker(store, "dev")

	// Close the handle so every probe fails.
	cleanup()

	report := checker.Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", report.Status)
	}
	if report.Checks["database"].Status != StatusUnhealthy {
		t.Error("expected unhealthy database check")
	}
	if report.Checks["database"].Error == "" {
		t.Error("expected database error detail")
	}
}
