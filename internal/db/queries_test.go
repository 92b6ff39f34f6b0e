package db

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB creates a temporary test database.
func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	// Create a temp directory for the test database
	tempDir, err := os.MkdirTemp("", "caldsync-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tempDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tempDir)
	}

	return db, cleanup
}

// createTestConnection creates a test connection and returns it.
func createTestConnection(t *testing.T, db *DB, accountID string) *Connection {
	t.Helper()

	conn := &Connection{
		AccountID:    accountID,
		Name:         "Test Connection",
		Endpoint:     "https://caldav.example.com/",
		Username:     "user@example.com",
		Password:     "encrypted-password",
		SyncInterval: 300,
		AutoSync:     true,
	}

	err := db.CreateConnection(conn)
	if err != nil {
		t.Fatalf("failed to create test connection: %v", err)
	}
	return conn
}

// createTestCalendar creates a test calendar for a connection.
func createTestCalendar(t *testing.T, db *DB, connectionID, remoteURL string) *Calendar {
	t.Helper()

	cal := &Calendar{
		ConnectionID: connectionID,
		RemoteURL:    remoteURL,
		DisplayName:  "Test Calendar",
		Enabled:      true,
		Origin:       CalendarOriginRemote,
	}

	err := db.CreateCalendar(cal)
	if err != nil {
		t.Fatalf("failed to create test calendar: %v", err)
	}
	return cal
}

// createTestEvent creates a test event in a calendar.
func createTestEvent(t *testing.T, db *DB, calendarID, uid, title string) *Event {
	t.Helper()

	event := &Event{
		UID:        uid,
		CalendarID: calendarID,
		Title:      title,
		StartTime:  time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC),
	}

	err := db.CreateEvent(event)
	if err != nil {
		t.Fatalf("failed to create test event: %v", err)
	}
	return event
}

// ============================================================================
// Connection Tests
// ============================================================================

func TestCreateConnection(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	t.Run("creates connection with defaults", func(t *testing.T) {
		conn := &Connection{
			AccountID: "acct-1",
			Name:      "Work",
			Endpoint:  "https://dav.example.com/",
			Username:  "worker",
			Password:  "encrypted",
		}

		err := db.CreateConnection(conn)
		if err != nil {
			t.Fatalf("failed to create connection: %v", err)
		}

		if conn.ID == "" {
			t.Error("expected ID to be generated")
		}
		if conn.Status != ConnectionStatusDisconnected {
			t.Errorf("expected status disconnected, got %q", conn.Status)
		}
		if conn.SyncInterval != 300 {
			t.Errorf("expected default interval 300, got %d", conn.SyncInterval)
		}
	})

	t.Run("rejects duplicate account", func(t *testing.T) {
		createTestConnection(t, db, "acct-dup")

		dup := &Connection{
			AccountID: "acct-dup",
			Name:      "Second",
			Endpoint:  "https://other.example.com/",
			Username:  "user",
			Password:  "pwd",
		}
		err := db.CreateConnection(dup)
		if !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	})
}

func TestGetConnectionByAccount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	created := createTestConnection(t, db, "acct-lookup")

	t.Run("returns connection by account", func(t *testing.T) {
		found, err := db.GetConnectionByAccount("acct-lookup")
		if err != nil {
			t.Fatalf("failed to get connection: %v", err)
		}
		if found.ID != created.ID {
			t.Error("expected same connection")
		}
	})

	t.Run("returns ErrNotFound for unknown account", func(t *testing.T) {
		_, err := db.GetConnectionByAccount("acct-unknown")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdateConnectionStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-status")

	t.Run("records status and timestamp", func(t *testing.T) {
		err := db.UpdateConnectionStatus(conn.ID, ConnectionStatusError, "401 unauthorized")
		if err != nil {
			t.Fatalf("failed to update status: %v", err)
		}

		updated, _ := db.GetConnection(conn.ID)
		if updated.Status != ConnectionStatusError {
			t.Errorf("expected status error, got %q", updated.Status)
		}
		if updated.LastError != "401 unauthorized" {
			t.Errorf("expected error message, got %q", updated.LastError)
		}
		if updated.LastSyncAt == nil {
			t.Error("expected LastSyncAt to be set")
		}
	})

	t.Run("returns ErrNotFound for nonexistent connection", func(t *testing.T) {
		err := db.UpdateConnectionStatus("nonexistent-id", ConnectionStatusConnected, "")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDeleteConnection(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-delete")
	cal := createTestCalendar(t, db, conn.ID, "https://dav.example.com/cal1/")
	createTestEvent(t, db, cal.ID, "uid-cascade", "Cascaded")

	t.Run("deletes connection and cascades", func(t *testing.T) {
		err := db.DeleteConnection(conn.ID)
		if err != nil {
			t.Fatalf("failed to delete connection: %v", err)
		}

		if _, err := db.GetConnection(conn.ID); !errors.Is(err, ErrNotFound) {
			t.Error("connection should be deleted")
		}
		if _, err := db.GetCalendar(cal.ID); !errors.Is(err, ErrNotFound) {
			t.Error("calendar should be deleted by cascade")
		}
		if _, err := db.GetEventByUID("uid-cascade"); !errors.Is(err, ErrNotFound) {
			t.Error("event should be deleted by cascade")
		}
	})

	t.Run("returns ErrNotFound for nonexistent connection", func(t *testing.T) {
		err := db.DeleteConnection("nonexistent-id")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// ============================================================================
// Calendar Tests
// ============================================================================

func TestUpsertCalendarByRemoteURL(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-upsert-cal")

	t.Run("creates calendar on first upsert", func(t *testing.T) {
		cal := &Calendar{
			ConnectionID: conn.ID,
			RemoteURL:    "https://dav.example.com/work/",
			DisplayName:  "Work",
			Color:        "#336699",
		}

		err := db.UpsertCalendarByRemoteURL(cal)
		if err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}

		if cal.ID == "" {
			t.Error("expected ID to be generated")
		}
		if !cal.Enabled {
			t.Error("expected new calendar to be enabled")
		}
	})

	t.Run("preserves local state on re-upsert", func(t *testing.T) {
		// Disable the calendar and record a change token locally
		cals, _ := db.GetCalendarsByConnection(conn.ID)
		if len(cals) != 1 {
			t.Fatalf("expected 1 calendar, got %d", len(cals))
		}
		cals[0].Enabled = false
		if err := db.UpdateCalendar(cals[0]); err != nil {
			t.Fatalf("failed to disable calendar: %v", err)
		}
		if err := db.UpdateCalendarTokens(cals[0].ID, "ctag-1", "sync-1"); err != nil {
			t.Fatalf("failed to set tokens: %v", err)
		}

		// Re-discovery upserts the same URL with a new name
		cal := &Calendar{
			ConnectionID: conn.ID,
			RemoteURL:    "https://dav.example.com/work/",
			DisplayName:  "Work (renamed)",
		}
		if err := db.UpsertCalendarByRemoteURL(cal); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}

		if cal.ID != cals[0].ID {
			t.Error("expected upsert to reuse the existing row")
		}
		if cal.Enabled {
			t.Error("expected enabled flag to be preserved")
		}
		if cal.ChangeToken != "ctag-1" {
			t.Errorf("expected change token preserved, got %q", cal.ChangeToken)
		}

		reloaded, _ := db.GetCalendar(cals[0].ID)
		if reloaded.DisplayName != "Work (renamed)" {
			t.Errorf("expected display name updated, got %q", reloaded.DisplayName)
		}
	})
}

func TestUpdateCalendarTokens(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-tokens")
	cal := createTestCalendar(t, db, conn.ID, "https://dav.example.com/cal/")

	t.Run("updates tokens", func(t *testing.T) {
		err := db.UpdateCalendarTokens(cal.ID, "ctag-99", "http://example.com/sync/99")
		if err != nil {
			t.Fatalf("failed to update tokens: %v", err)
		}

		updated, _ := db.GetCalendar(cal.ID)
		if updated.ChangeToken != "ctag-99" {
			t.Errorf("expected change token, got %q", updated.ChangeToken)
		}
		if updated.SyncToken != "http://example.com/sync/99" {
			t.Errorf("expected sync token, got %q", updated.SyncToken)
		}
	})

	t.Run("returns ErrNotFound for nonexistent calendar", func(t *testing.T) {
		err := db.UpdateCalendarTokens("nonexistent-id", "a", "b")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// ============================================================================
// Event Tests
// ============================================================================

func TestCreateEvent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-events")
	cal := createTestCalendar(t, db, conn.ID, "https://dav.example.com/cal/")

	t.Run("defaults sync status to local", func(t *testing.T) {
		event := createTestEvent(t, db, cal.ID, "uid-default", "Default Event")

		if event.SyncStatus != SyncStatusLocal {
			t.Errorf("expected status local, got %q", event.SyncStatus)
		}
	})

	t.Run("derives recurring flag from rule", func(t *testing.T) {
		event := &Event{
			UID:            "uid-recurring",
			CalendarID:     cal.ID,
			Title:          "Standup",
			StartTime:      time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC),
			EndTime:        time.Date(2025, 6, 10, 9, 15, 0, 0, time.UTC),
			RecurrenceRule: "FREQ=DAILY",
		}
		if err := db.CreateEvent(event); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}

		retrieved, _ := db.GetEvent(event.ID)
		if !retrieved.IsRecurring {
			t.Error("expected IsRecurring to be set")
		}
		if retrieved.RecurrenceRule != "FREQ=DAILY" {
			t.Errorf("expected rule preserved, got %q", retrieved.RecurrenceRule)
		}
	})
}

func TestGetEventByUID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-uid")
	cal1 := createTestCalendar(t, db, conn.ID, "https://dav.example.com/cal1/")
	cal2 := createTestCalendar(t, db, conn.ID, "https://dav.example.com/cal2/")

	first := createTestEvent(t, db, cal1.ID, "uid-shared", "First Created")
	createTestEvent(t, db, cal2.ID, "uid-shared", "Second Created")

	t.Run("returns oldest event across calendars", func(t *testing.T) {
		found, err := db.GetEventByUID("uid-shared")
		if err != nil {
			t.Fatalf("failed to get event: %v", err)
		}
		if found.ID != first.ID {
			t.Errorf("expected oldest event %q, got %q", first.ID, found.ID)
		}
	})

	t.Run("returns all events sharing the UID", func(t *testing.T) {
		events, err := db.GetEventsByUID("uid-shared")
		if err != nil {
			t.Fatalf("failed to get events: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(events))
		}
		if events[0].ID != first.ID {
			t.Error("expected oldest event first")
		}
	})

	t.Run("returns ErrNotFound for unknown UID", func(t *testing.T) {
		_, err := db.GetEventByUID("uid-unknown")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestListEventsNeedingPush(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-push")
	cal := createTestCalendar(t, db, conn.ID, "https://dav.example.com/cal/")
	otherCal := createTestCalendar(t, db, conn.ID, "https://dav.example.com/other/")

	local := createTestEvent(t, db, cal.ID, "uid-local", "Local")
	pending := createTestEvent(t, db, cal.ID, "uid-pending", "Pending")
	needsSync := createTestEvent(t, db, cal.ID, "uid-needs", "Needs Sync")
	synced := createTestEvent(t, db, cal.ID, "uid-synced", "Synced")
	elsewhere := createTestEvent(t, db, otherCal.ID, "uid-elsewhere", "Elsewhere")

	db.UpdateEventSyncStatus(pending.ID, SyncStatusPending, "")
	db.UpdateEventSyncStatus(needsSync.ID, SyncStatusNeedsSync, "")
	db.UpdateEventSyncStatus(synced.ID, SyncStatusSynced, "")

	t.Run("returns only unsynced events in given calendars", func(t *testing.T) {
		events, err := db.ListEventsNeedingPush([]string{cal.ID})
		if err != nil {
			t.Fatalf("failed to list events: %v", err)
		}

		if len(events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(events))
		}
		for _, e := range events {
			if e.ID == synced.ID {
				t.Error("should not include synced event")
			}
			if e.ID == elsewhere.ID {
				t.Error("should not include event from other calendar")
			}
		}
		if events[0].ID != local.ID {
			t.Error("expected oldest event first")
		}
	})

	t.Run("returns nothing for empty calendar list", func(t *testing.T) {
		events, err := db.ListEventsNeedingPush(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(events) != 0 {
			t.Errorf("expected 0 events, got %d", len(events))
		}
	})
}

func TestUpdateEventRemote(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-remote")
	cal := createTestCalendar(t, db, conn.ID, "https://dav.example.com/cal/")
	event := createTestEvent(t, db, cal.ID, "uid-remote", "Pushed Event")

	t.Run("records remote location after push", func(t *testing.T) {
		err := db.UpdateEventRemote(event.ID, "https://dav.example.com/cal/uid-remote.ics", `"etag-1"`, SyncStatusSynced)
		if err != nil {
			t.Fatalf("failed to update remote state: %v", err)
		}

		updated, _ := db.GetEvent(event.ID)
		if updated.RemoteURL != "https://dav.example.com/cal/uid-remote.ics" {
			t.Errorf("expected remote URL, got %q", updated.RemoteURL)
		}
		if updated.ETag != `"etag-1"` {
			t.Errorf("expected etag, got %q", updated.ETag)
		}
		if updated.SyncStatus != SyncStatusSynced {
			t.Errorf("expected status synced, got %q", updated.SyncStatus)
		}
		if updated.LastSyncAttempt == nil {
			t.Error("expected LastSyncAttempt to be set")
		}
	})

	t.Run("returns ErrNotFound for nonexistent event", func(t *testing.T) {
		err := db.UpdateEventRemote("nonexistent-id", "url", "etag", SyncStatusSynced)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdateEventRecurrence(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-recur")
	cal := createTestCalendar(t, db, conn.ID, "https://dav.example.com/cal/")
	event := createTestEvent(t, db, cal.ID, "uid-recur", "Series Member")

	t.Run("sets rule and flags for sync", func(t *testing.T) {
		err := db.UpdateEventRecurrence(event.ID, "FREQ=WEEKLY;BYDAY=MO", SyncStatusPending)
		if err != nil {
			t.Fatalf("failed to update recurrence: %v", err)
		}

		updated, _ := db.GetEvent(event.ID)
		if updated.RecurrenceRule != "FREQ=WEEKLY;BYDAY=MO" {
			t.Errorf("expected rule, got %q", updated.RecurrenceRule)
		}
		if !updated.IsRecurring {
			t.Error("expected IsRecurring to be set")
		}
		if updated.SyncStatus != SyncStatusPending {
			t.Errorf("expected status pending, got %q", updated.SyncStatus)
		}
	})

	t.Run("clearing the rule clears the flag", func(t *testing.T) {
		err := db.UpdateEventRecurrence(event.ID, "", SyncStatusPending)
		if err != nil {
			t.Fatalf("failed to clear recurrence: %v", err)
		}

		updated, _ := db.GetEvent(event.ID)
		if updated.IsRecurring {
			t.Error("expected IsRecurring to be cleared")
		}
	})
}

func TestUpdateEventUID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-rewrite")
	cal := createTestCalendar(t, db, conn.ID, "https://dav.example.com/cal/")
	event := createTestEvent(t, db, cal.ID, "uid-old", "Repaired Event")

	t.Run("rewrites the UID", func(t *testing.T) {
		err := db.UpdateEventUID(event.ID, "uid-new")
		if err != nil {
			t.Fatalf("failed to update UID: %v", err)
		}

		updated, _ := db.GetEvent(event.ID)
		if updated.UID != "uid-new" {
			t.Errorf("expected new UID, got %q", updated.UID)
		}
	})
}

// ============================================================================
// SyncLog Tests
// ============================================================================

func TestSyncLog(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-logs")

	t.Run("creates and retrieves sync logs", func(t *testing.T) {
		log := &SyncLog{
			ConnectionID:    conn.ID,
			Status:          CycleStatusSuccess,
			Message:         "Cycle completed",
			DurationMs:      5200,
			EventsCreated:   10,
			EventsUpdated:   5,
			EventsDeleted:   2,
			EventsSkipped:   1,
			EventsPushed:    4,
			CalendarsSynced: 3,
		}

		err := db.CreateSyncLog(log)
		if err != nil {
			t.Fatalf("failed to create log: %v", err)
		}

		if log.ID == "" {
			t.Error("expected ID to be generated")
		}

		logs, err := db.GetSyncLogsByConnection(conn.ID, 10)
		if err != nil {
			t.Fatalf("failed to get logs: %v", err)
		}
		if len(logs) != 1 {
			t.Fatalf("expected 1 log, got %d", len(logs))
		}
		if logs[0].EventsCreated != 10 {
			t.Errorf("expected 10 created, got %d", logs[0].EventsCreated)
		}
		if logs[0].EventsPushed != 4 {
			t.Errorf("expected 4 pushed, got %d", logs[0].EventsPushed)
		}
		if logs[0].DurationMs != 5200 {
			t.Errorf("expected 5200ms duration, got %d", logs[0].DurationMs)
		}
	})

	t.Run("get logs respects limit", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			db.CreateSyncLog(&SyncLog{
				ConnectionID: conn.ID,
				Status:       CycleStatusSuccess,
				Message:      "Log entry",
			})
		}

		logs, _ := db.GetSyncLogsByConnection(conn.ID, 3)
		if len(logs) != 3 {
			t.Errorf("expected 3 logs with limit, got %d", len(logs))
		}
	})

	t.Run("clean old logs", func(t *testing.T) {
		deleted, err := db.CleanOldSyncLogs(time.Now().Add(-24 * time.Hour))
		if err != nil {
			t.Fatalf("failed to clean logs: %v", err)
		}
		// Should delete 0 since all logs are recent
		if deleted != 0 {
			t.Logf("deleted %d old logs", deleted)
		}
	})
}

// ============================================================================
// MalformedObject Tests
// ============================================================================

func TestMalformedObject(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conn := createTestConnection(t, db, "acct-malformed")

	t.Run("upsert records object once per path", func(t *testing.T) {
		obj := &MalformedObject{
			ConnectionID: conn.ID,
			ObjectPath:   "/calendar/broken.ics",
			ErrorMessage: "unparseable payload",
		}
		if err := db.UpsertMalformedObject(obj); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}

		// Same path again with a new message should not duplicate
		again := &MalformedObject{
			ConnectionID: conn.ID,
			ObjectPath:   "/calendar/broken.ics",
			ErrorMessage: "still unparseable",
		}
		if err := db.UpsertMalformedObject(again); err != nil {
			t.Fatalf("failed to upsert again: %v", err)
		}

		objs, err := db.GetMalformedObjects(conn.ID)
		if err != nil {
			t.Fatalf("failed to get objects: %v", err)
		}
		if len(objs) != 1 {
			t.Fatalf("expected 1 object, got %d", len(objs))
		}
		if objs[0].ErrorMessage != "still unparseable" {
			t.Errorf("expected updated message, got %q", objs[0].ErrorMessage)
		}
	})

	t.Run("clear removes all objects for connection", func(t *testing.T) {
		db.UpsertMalformedObject(&MalformedObject{ConnectionID: conn.ID, ObjectPath: "/a.ics", ErrorMessage: "bad"})
		db.UpsertMalformedObject(&MalformedObject{ConnectionID: conn.ID, ObjectPath: "/b.ics", ErrorMessage: "bad"})

		if err := db.ClearMalformedObjects(conn.ID); err != nil {
			t.Fatalf("failed to clear: %v", err)
		}

		objs, _ := db.GetMalformedObjects(conn.ID)
		if len(objs) != 0 {
			t.Errorf("expected 0 objects, got %d", len(objs))
		}
	})
}

// ============================================================================
// UIDAlias Tests
// ============================================================================

func TestUIDAlias(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	t.Run("save and get alias", func(t *testing.T) {
		alias := &UIDAlias{
			InternalID: "internal-1",
			UID:        "canonical-uid@example.com",
		}
		if err := db.SaveUIDAlias(alias); err != nil {
			t.Fatalf("failed to save alias: %v", err)
		}

		found, err := db.GetUIDAlias("internal-1")
		if err != nil {
			t.Fatalf("failed to get alias: %v", err)
		}
		if found.UID != "canonical-uid@example.com" {
			t.Errorf("expected UID, got %q", found.UID)
		}
	})

	t.Run("save overwrites existing alias", func(t *testing.T) {
		alias := &UIDAlias{
			InternalID: "internal-1",
			UID:        "replacement-uid@example.com",
		}
		if err := db.SaveUIDAlias(alias); err != nil {
			t.Fatalf("failed to save alias: %v", err)
		}

		found, _ := db.GetUIDAlias("internal-1")
		if found.UID != "replacement-uid@example.com" {
			t.Errorf("expected replacement UID, got %q", found.UID)
		}
	})

	t.Run("returns ErrNotFound for unknown internal ID", func(t *testing.T) {
		_, err := db.GetUIDAlias("internal-unknown")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("lists all aliases", func(t *testing.T) {
		db.SaveUIDAlias(&UIDAlias{InternalID: "internal-2", UID: "uid-2@example.com"})

		aliases, err := db.ListUIDAliases()
		if err != nil {
			t.Fatalf("failed to list aliases: %v", err)
		}
		if len(aliases) != 2 {
			t.Fatalf("expected 2 aliases, got %d", len(aliases))
		}
	})
}

// ============================================================================
// Database Connection Tests
// ============================================================================

func TestDatabaseConnection(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	t.Run("ping succeeds", func(t *testing.T) {
		err := db.Ping()
		if err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("conn returns connection", func(t *testing.T) {
		conn := db.Conn()
		if conn == nil {
			t.Error("expected non-nil connection")
		}
	})
}
