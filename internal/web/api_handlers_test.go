package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caldsync/caldsync/internal/activity"
	"github.com/caldsync/caldsync/internal/config"
	"github.com/caldsync/caldsync/internal/crypto"
	"github.com/caldsync/caldsync/internal/db"
	"github.com/caldsync/caldsync/internal/engine"
	"github.com/caldsync/caldsync/internal/health"
	"github.com/caldsync/caldsync/internal/scheduler"
	"github.com/caldsync/caldsync/internal/validator"
)

// fakeRunner satisfies scheduler.CycleRunner and records the options of
// every cycle it is asked to run.
type fakeRunner struct {
	mu    sync.Mutex
	calls []engine.CycleOptions
}

func (f *fakeRunner) RunCycle(ctx context.Context, conn *db.Connection, opts engine.CycleOptions) *engine.CycleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return &engine.CycleResult{Success: true, Message: "ok", Created: 1}
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) options() []engine.CycleOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.CycleOptions, len(f.calls))
	copy(out, f.calls)
	return out
}

type testHandlers struct {
	handlers  *Handlers
	store     *db.DB
	manager   *scheduler.Manager
	runner    *fakeRunner
	encryptor *crypto.Encryptor
	tracker   *activity.Tracker
}

func setupTestHandlers(t *testing.T) (*testHandlers, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "caldsync-web-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	store, err := db.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	encryptor, err := crypto.NewEncryptor(bytes.Repeat([]byte{0xab}, 32))
	if err != nil {
		store.Close()
		os.RemoveAll(tempDir)
		t.Fatalf("Failed to create encryptor: %v", err)
	}

	runner := &fakeRunner{}
	manager := scheduler.New(store, runner, scheduler.Config{
		MinInterval:     10 * time.Millisecond,
		MaxInterval:     time.Hour,
		DefaultInterval: time.Hour,
		BackgroundEvery: time.Hour,
		CycleTimeout:    5 * time.Second,
	})

	cfg := &config.Config{
		Sync:         config.SyncConfig{MinInterval: 30, MaxInterval: 3600, DefaultInterval: 300},
		RateLimiting: config.RateLimitConfig{RPS: 50, Burst: 100},
	}

	tracker := activity.NewTracker()
	handlers := NewHandlers(cfg, store, encryptor, manager,
		health.NewChecker(store, "test"), tracker,
		validator.New(validator.WithAllowPrivateIPs()))

	th := &testHandlers{
		handlers:  handlers,
		store:     store,
		manager:   manager,
		runner:    runner,
		encryptor: encryptor,
		tracker:   tracker,
	}
	cleanup := func() {
		manager.Stop()
		store.Close()
		os.RemoveAll(tempDir)
	}
	return th, cleanup
}

func seedConnection(t *testing.T, store *db.DB, accountID string) *db.Connection {
	t.Helper()
	conn := &db.Connection{
		AccountID:    accountID,
		Name:         "Connection " + accountID,
		Endpoint:     "https://caldav.example.com/dav/",
		Username:     "user@example.com",
		Password:     "sealed-password",
		SyncInterval: 300,
		AutoSync:     false,
	}
	if err := store.CreateConnection(conn); err != nil {
		t.Fatalf("Failed to seed connection: %v", err)
	}
	return conn
}

// newCalDAVServer answers the OPTIONS probe that creating a connection
// performs against the endpoint.
func newCalDAVServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("DAV", "1, 3, calendar-access")
		w.WriteHeader(http.StatusOK)
	}))
}

func newTestContext(req *http.Request) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c, w
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}
	return bytes.NewReader(data)
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestAPICreateConnection(t *testing.T) {
	t.Run("creates connection and attaches its job", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()

		server := newCalDAVServer(t)
		defer server.Close()

		body := jsonBody(t, APICreateConnectionRequest{
			AccountID:    "acct-create",
			Name:         "Work",
			Endpoint:     server.URL + "/dav/",
			Username:     "user@example.com",
			Password:     "hunter2-secret",
			SyncInterval: 600,
			AutoSync:     true,
		})
		c, w := newTestContext(httptest.NewRequest(http.MethodPost, "/api/connections", body))
		th.handlers.APICreateConnection(c)

		if w.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
		}
		if strings.Contains(w.Body.String(), "hunter2-secret") {
			t.Error("Response leaked the plaintext password")
		}

		var resp APIConnection
		decodeJSON(t, w, &resp)
		if resp.ID == "" {
			t.Error("Expected a generated connection ID")
		}
		if resp.SyncInterval != 600 {
			t.Errorf("Expected sync interval 600, got %d", resp.SyncInterval)
		}
		if !resp.HasJob {
			t.Error("Expected a job for an auto-sync connection")
		}

		stored, err := th.store.GetConnection(resp.ID)
		if err != nil {
			t.Fatalf("Failed to load stored connection: %v", err)
		}
		if stored.Password == "hunter2-secret" {
			t.Error("Password stored in plaintext")
		}
		plain, err := th.encryptor.Decrypt(stored.Password)
		if err != nil {
			t.Fatalf("Failed to decrypt stored password: %v", err)
		}
		if plain != "hunter2-secret" {
			t.Errorf("Decrypted password = %q, want hunter2-secret", plain)
		}

		waitFor(t, "the immediate cycle", func() bool { return th.runner.count() >= 1 })
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()

		req := httptest.NewRequest(http.MethodPost, "/api/connections",
			strings.NewReader(`{"account_id":"a","name":"n","endpoint":"https://x","username":"u"}`))
		c, w := newTestContext(req)
		th.handlers.APICreateConnection(c)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for missing password, got %d", w.Code)
		}
	})

	t.Run("rejects an endpoint without DAV support", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		body := jsonBody(t, APICreateConnectionRequest{
			AccountID: "acct-plain",
			Name:      "Plain",
			Endpoint:  server.URL,
			Username:  "u",
			Password:  "p",
		})
		c, w := newTestContext(httptest.NewRequest(http.MethodPost, "/api/connections", body))
		th.handlers.APICreateConnection(c)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400 for non-DAV endpoint, got %d: %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), "Endpoint validation failed") {
			t.Errorf("Expected a validation error, got: %s", w.Body.String())
		}
	})

	t.Run("conflicts on a duplicate account", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()

		server := newCalDAVServer(t)
		defer server.Close()

		seedConnection(t, th.store, "acct-dupe")

		body := jsonBody(t, APICreateConnectionRequest{
			AccountID: "acct-dupe",
			Name:      "Second",
			Endpoint:  server.URL,
			Username:  "u",
			Password:  "p",
		})
		c, w := newTestContext(httptest.NewRequest(http.MethodPost, "/api/connections", body))
		th.handlers.APICreateConnection(c)

		if w.Code != http.StatusConflict {
			t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), "already exists") {
			t.Errorf("Expected a duplicate-account error, got: %s", w.Body.String())
		}
	})
}

func TestAPIListAndGetConnection(t *testing.T) {
	th, cleanup := setupTestHandlers(t)
	defer cleanup()

	first := seedConnection(t, th.store, "acct-1")
	seedConnection(t, th.store, "acct-2")

	t.Run("lists all connections", func(t *testing.T) {
		c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/api/connections", nil))
		th.handlers.APIListConnections(c)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var conns []*APIConnection
		decodeJSON(t, w, &conns)
		if len(conns) != 2 {
			t.Fatalf("Expected 2 connections, got %d", len(conns))
		}
		for _, conn := range conns {
			if conn.Username != "user@example.com" {
				t.Errorf("Unexpected username %q", conn.Username)
			}
		}
	})

	t.Run("returns one connection by id", func(t *testing.T) {
		c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/api/connections/"+first.ID, nil))
		c.Params = gin.Params{{Key: "id", Value: first.ID}}
		th.handlers.APIGetConnection(c)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var conn APIConnection
		decodeJSON(t, w, &conn)
		if conn.AccountID != "acct-1" {
			t.Errorf("Expected account acct-1, got %q", conn.AccountID)
		}
		if conn.Status != string(db.ConnectionStatusDisconnected) {
			t.Errorf("Expected disconnected status, got %q", conn.Status)
		}
		if conn.LastSyncAt != nil {
			t.Errorf("Expected no last sync time, got %v", *conn.LastSyncAt)
		}
	})

	t.Run("404s on an unknown id", func(t *testing.T) {
		c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/api/connections/nope", nil))
		c.Params = gin.Params{{Key: "id", Value: "nope"}}
		th.handlers.APIGetConnection(c)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})
}

func TestAPIUpdateConnection(t *testing.T) {
	updateRequest := func(t *testing.T, th *testHandlers, id string, req APIUpdateConnectionRequest) *httptest.ResponseRecorder {
		t.Helper()
		c, w := newTestContext(httptest.NewRequest(http.MethodPut, "/api/connections/"+id, jsonBody(t, req)))
		c.Params = gin.Params{{Key: "id", Value: id}}
		th.handlers.APIUpdateConnection(c)
		return w
	}

	t.Run("applies partial updates and keeps the password", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()
		conn := seedConnection(t, th.store, "acct-upd")

		w := updateRequest(t, th, conn.ID, APIUpdateConnectionRequest{
			Name:         "Renamed",
			Username:     "other@example.com",
			SyncInterval: 45,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}

		stored, err := th.store.GetConnection(conn.ID)
		if err != nil {
			t.Fatalf("Failed to reload connection: %v", err)
		}
		if stored.Name != "Renamed" {
			t.Errorf("Expected renamed connection, got %q", stored.Name)
		}
		if stored.Username != "other@example.com" {
			t.Errorf("Expected updated username, got %q", stored.Username)
		}
		if stored.SyncInterval != 45 {
			t.Errorf("Expected interval 45, got %d", stored.SyncInterval)
		}
		if stored.Endpoint != conn.Endpoint {
			t.Errorf("Endpoint changed unexpectedly to %q", stored.Endpoint)
		}
		if stored.Password != "sealed-password" {
			t.Error("Password changed although none was supplied")
		}
	})

	t.Run("clamps the sync interval", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()
		conn := seedConnection(t, th.store, "acct-clamp")

		updateRequest(t, th, conn.ID, APIUpdateConnectionRequest{SyncInterval: 999999})
		stored, _ := th.store.GetConnection(conn.ID)
		if stored.SyncInterval != 3600 {
			t.Errorf("Expected interval clamped to 3600, got %d", stored.SyncInterval)
		}

		updateRequest(t, th, conn.ID, APIUpdateConnectionRequest{SyncInterval: 5})
		stored, _ = th.store.GetConnection(conn.ID)
		if stored.SyncInterval != 30 {
			t.Errorf("Expected interval clamped to 30, got %d", stored.SyncInterval)
		}
	})

	t.Run("re-encrypts a supplied password", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()
		conn := seedConnection(t, th.store, "acct-pass")

		w := updateRequest(t, th, conn.ID, APIUpdateConnectionRequest{Password: "next-secret"})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}

		stored, _ := th.store.GetConnection(conn.ID)
		if stored.Password == "next-secret" {
			t.Error("Password stored in plaintext")
		}
		plain, err := th.encryptor.Decrypt(stored.Password)
		if err != nil {
			t.Fatalf("Failed to decrypt updated password: %v", err)
		}
		if plain != "next-secret" {
			t.Errorf("Decrypted password = %q, want next-secret", plain)
		}
	})

	t.Run("rejects an invalid endpoint", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()
		conn := seedConnection(t, th.store, "acct-badurl")

		w := updateRequest(t, th, conn.ID, APIUpdateConnectionRequest{Endpoint: "ftp://example.com/dav"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for an ftp endpoint, got %d", w.Code)
		}
	})

	t.Run("reconciles the job with auto-sync", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()
		conn := seedConnection(t, th.store, "acct-toggle")

		if th.manager.HasJob("acct-toggle") {
			t.Fatal("Did not expect a job before enabling auto-sync")
		}

		updateRequest(t, th, conn.ID, APIUpdateConnectionRequest{AutoSync: true})
		if !th.manager.HasJob("acct-toggle") {
			t.Error("Expected a job after enabling auto-sync")
		}

		updateRequest(t, th, conn.ID, APIUpdateConnectionRequest{AutoSync: false})
		if th.manager.HasJob("acct-toggle") {
			t.Error("Expected the job to be detached after disabling auto-sync")
		}
	})

	t.Run("404s on an unknown id", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()

		w := updateRequest(t, th, "nope", APIUpdateConnectionRequest{Name: "X"})
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})
}

func TestAPIDeleteConnection(t *testing.T) {
	t.Run("deletes the connection and its job", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()

		conn := seedConnection(t, th.store, "acct-del")
		th.manager.AttachSession(conn)
		if !th.manager.HasJob("acct-del") {
			t.Fatal("Expected a job before deleting")
		}

		c, w := newTestContext(httptest.NewRequest(http.MethodDelete, "/api/connections/"+conn.ID, nil))
		c.Params = gin.Params{{Key: "id", Value: conn.ID}}
		th.handlers.APIDeleteConnection(c)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if th.manager.HasJob("acct-del") {
			t.Error("Expected the job to be detached")
		}
		if _, err := th.store.GetConnection(conn.ID); err == nil {
			t.Error("Expected the connection row to be gone")
		}
	})

	t.Run("404s on an unknown id", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()

		c, w := newTestContext(httptest.NewRequest(http.MethodDelete, "/api/connections/nope", nil))
		c.Params = gin.Params{{Key: "id", Value: "nope"}}
		th.handlers.APIDeleteConnection(c)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})
}

func TestAPITriggerSync(t *testing.T) {
	t.Run("runs a forced cycle", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()
		conn := seedConnection(t, th.store, "acct-sync")

		c, w := newTestContext(httptest.NewRequest(http.MethodPost, "/api/connections/"+conn.ID+"/sync", nil))
		c.Params = gin.Params{{Key: "id", Value: conn.ID}}
		th.handlers.APITriggerSync(c)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var result engine.CycleResult
		decodeJSON(t, w, &result)
		if !result.Success {
			t.Errorf("Expected a successful cycle, got: %s", result.Message)
		}

		calls := th.runner.options()
		if len(calls) != 1 {
			t.Fatalf("Expected 1 cycle, got %d", len(calls))
		}
		if !calls[0].ForceRefresh {
			t.Error("Expected a forced cycle")
		}
		if calls[0].IsBackgroundSync {
			t.Error("Manual sync must not be marked as background")
		}
	})

	t.Run("passes through cycle options", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()
		conn := seedConnection(t, th.store, "acct-opts")

		body := jsonBody(t, APITriggerSyncRequest{CalendarID: "cal-7", PreserveLocalDeletes: true})
		c, w := newTestContext(httptest.NewRequest(http.MethodPost, "/api/connections/"+conn.ID+"/sync", body))
		c.Params = gin.Params{{Key: "id", Value: conn.ID}}
		th.handlers.APITriggerSync(c)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		calls := th.runner.options()
		if len(calls) != 1 {
			t.Fatalf("Expected 1 cycle, got %d", len(calls))
		}
		if calls[0].CalendarID != "cal-7" {
			t.Errorf("Expected calendar cal-7, got %q", calls[0].CalendarID)
		}
		if !calls[0].PreserveLocalDeletes {
			t.Error("Expected preserve-local-deletes to pass through")
		}
	})

	t.Run("404s on an unknown id", func(t *testing.T) {
		th, cleanup := setupTestHandlers(t)
		defer cleanup()

		c, w := newTestContext(httptest.NewRequest(http.MethodPost, "/api/connections/nope/sync", nil))
		c.Params = gin.Params{{Key: "id", Value: "nope"}}
		th.handlers.APITriggerSync(c)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
		if th.runner.count() != 0 {
			t.Errorf("Expected no cycles, got %d", th.runner.count())
		}
	})
}

func TestAPIGetConnectionLogs(t *testing.T) {
	th, cleanup := setupTestHandlers(t)
	defer cleanup()
	conn := seedConnection(t, th.store, "acct-logs")

	for i := 0; i < 25; i++ {
		err := th.store.CreateSyncLog(&db.SyncLog{
			ConnectionID: conn.ID,
			Status:       db.CycleStatusSuccess,
			Message:      fmt.Sprintf("cycle %d", i),
		})
		if err != nil {
			t.Fatalf("Failed to seed sync log: %v", err)
		}
	}

	type logsResponse struct {
		Logs       []*db.SyncLog `json:"logs"`
		Page       int           `json:"page"`
		TotalPages int           `json:"total_pages"`
	}

	t.Run("returns the first page by default", func(t *testing.T) {
		c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/api/connections/"+conn.ID+"/logs", nil))
		c.Params = gin.Params{{Key: "id", Value: conn.ID}}
		th.handlers.APIGetConnectionLogs(c)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var resp logsResponse
		decodeJSON(t, w, &resp)
		if len(resp.Logs) != 20 {
			t.Errorf("Expected 20 logs on page 1, got %d", len(resp.Logs))
		}
		if resp.Page != 1 || resp.TotalPages != 2 {
			t.Errorf("Expected page 1 of 2, got page %d of %d", resp.Page, resp.TotalPages)
		}
	})

	t.Run("returns the remainder on page two", func(t *testing.T) {
		c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/api/connections/"+conn.ID+"/logs?page=2", nil))
		c.Params = gin.Params{{Key: "id", Value: conn.ID}}
		th.handlers.APIGetConnectionLogs(c)

		var resp logsResponse
		decodeJSON(t, w, &resp)
		if len(resp.Logs) != 5 {
			t.Errorf("Expected 5 logs on page 2, got %d", len(resp.Logs))
		}
	})

	t.Run("404s on an unknown id", func(t *testing.T) {
		c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/api/connections/nope/logs", nil))
		c.Params = gin.Params{{Key: "id", Value: "nope"}}
		th.handlers.APIGetConnectionLogs(c)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})
}

func TestAPIMalformedObjects(t *testing.T) {
	th, cleanup := setupTestHandlers(t)
	defer cleanup()

	first := seedConnection(t, th.store, "acct-m1")
	second := seedConnection(t, th.store, "acct-m2")

	seed := []*db.MalformedObject{
		{ConnectionID: first.ID, ObjectPath: "/cal/a.ics", ErrorMessage: "missing DTSTART"},
		{ConnectionID: first.ID, ObjectPath: "/cal/b.ics", ErrorMessage: "bad RRULE"},
		{ConnectionID: second.ID, ObjectPath: "/cal/c.ics", ErrorMessage: "not a VCALENDAR"},
	}
	for _, obj := range seed {
		if err := th.store.UpsertMalformedObject(obj); err != nil {
			t.Fatalf("Failed to seed malformed object: %v", err)
		}
	}

	t.Run("lists across connections", func(t *testing.T) {
		c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/api/malformed", nil))
		th.handlers.APIGetMalformedObjects(c)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var objs []*APIMalformedObject
		decodeJSON(t, w, &objs)
		if len(objs) != 3 {
			t.Fatalf("Expected 3 malformed objects, got %d", len(objs))
		}
		for _, obj := range objs {
			if obj.ConnectionName == "" {
				t.Errorf("Expected a connection name on %s", obj.ObjectPath)
			}
		}
	})

	t.Run("filters by connection", func(t *testing.T) {
		c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/api/malformed?connection_id="+first.ID, nil))
		th.handlers.APIGetMalformedObjects(c)

		var objs []*APIMalformedObject
		decodeJSON(t, w, &objs)
		if len(objs) != 2 {
			t.Fatalf("Expected 2 malformed objects for the first connection, got %d", len(objs))
		}
		for _, obj := range objs {
			if obj.ConnectionID != first.ID {
				t.Errorf("Got an object for connection %s", obj.ConnectionID)
			}
		}
	})

	t.Run("404s for an unknown filter", func(t *testing.T) {
		c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/api/malformed?connection_id=nope", nil))
		th.handlers.APIGetMalformedObjects(c)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})

	t.Run("clears one connection's records", func(t *testing.T) {
		c, w := newTestContext(httptest.NewRequest(http.MethodDelete, "/api/connections/"+first.ID+"/malformed", nil))
		c.Params = gin.Params{{Key: "id", Value: first.ID}}
		th.handlers.APIClearMalformedObjects(c)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		remaining, err := th.store.GetMalformedObjects(first.ID)
		if err != nil {
			t.Fatalf("Failed to reload malformed objects: %v", err)
		}
		if len(remaining) != 0 {
			t.Errorf("Expected no records left, got %d", len(remaining))
		}
		others, _ := th.store.GetMalformedObjects(second.ID)
		if len(others) != 1 {
			t.Errorf("Expected the other connection's record to survive, got %d", len(others))
		}
	})
}
