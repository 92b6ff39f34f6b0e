package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateConnection creates a new connection.
func (db *DB) CreateConnection(conn *Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	conn.CreatedAt = time.Now().UTC()
	conn.UpdatedAt = time.Now().UTC()

	if conn.Status == "" {
		conn.Status = ConnectionStatusDisconnected
	}
	if conn.SyncInterval <= 0 {
		conn.SyncInterval = 300
	}

	query := `INSERT INTO connections (
		id, account_id, name, endpoint, username, password,
		sync_interval, auto_sync, status, last_error, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query,
		conn.ID, conn.AccountID, conn.Name, conn.Endpoint, conn.Username, conn.Password,
		conn.SyncInterval, conn.AutoSync, conn.Status, conn.LastError, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}

	return nil
}

// GetConnection returns a connection by its ID.
func (db *DB) GetConnection(id string) (*Connection, error) {
	query := `SELECT id, account_id, name, endpoint, username, password,
		sync_interval, auto_sync, status, last_sync_at, last_error, created_at, updated_at
		FROM connections WHERE id = ?`

	row := db.conn.QueryRow(query, id)
	return scanConnection(row)
}

// GetConnectionByAccount returns the connection for an account.
func (db *DB) GetConnectionByAccount(accountID string) (*Connection, error) {
	query := `SELECT id, account_id, name, endpoint, username, password,
		sync_interval, auto_sync, status, last_sync_at, last_error, created_at, updated_at
		FROM connections WHERE account_id = ?`

	row := db.conn.QueryRow(query, accountID)
	return scanConnection(row)
}

// GetConnections returns all connections.
func (db *DB) GetConnections() ([]*Connection, error) {
	query := `SELECT id, account_id, name, endpoint, username, password,
		sync_interval, auto_sync, status, last_sync_at, last_error, created_at, updated_at
		FROM connections ORDER BY name`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		conn, err := scanConnectionFromRows(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return conns, nil
}

// GetAutoSyncConnections returns all connections with automatic sync enabled.
func (db *DB) GetAutoSyncConnections() ([]*Connection, error) {
	query := `SELECT id, account_id, name, endpoint, username, password,
		sync_interval, auto_sync, status, last_sync_at, last_error, created_at, updated_at
		FROM connections WHERE auto_sync = 1`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query auto-sync connections: %w", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		conn, err := scanConnectionFromRows(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return conns, nil
}

// UpdateConnection updates an existing connection.
func (db *DB) UpdateConnection(conn *Connection) error {
	conn.UpdatedAt = time.Now().UTC()

	query := `UPDATE connections SET
		name = ?, endpoint = ?, username = ?, password = ?,
		sync_interval = ?, auto_sync = ?, updated_at = ?
		WHERE id = ?`

	result, err := db.conn.Exec(query,
		conn.Name, conn.Endpoint, conn.Username, conn.Password,
		conn.SyncInterval, conn.AutoSync, conn.UpdatedAt, conn.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateConnectionStatus updates the status of a connection after a sync attempt.
func (db *DB) UpdateConnectionStatus(id string, status ConnectionStatus, errMsg string) error {
	now := time.Now().UTC()
	query := `UPDATE connections SET status = ?, last_sync_at = ?, last_error = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, status, now, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteConnection deletes a connection by its ID.
func (db *DB) DeleteConnection(id string) error {
	query := `DELETE FROM connections WHERE id = ?`

	result, err := db.conn.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// CreateCalendar creates a new calendar.
func (db *DB) CreateCalendar(cal *Calendar) error {
	if cal.ID == "" {
		cal.ID = uuid.New().String()
	}
	cal.CreatedAt = time.Now().UTC()
	cal.UpdatedAt = time.Now().UTC()

	if cal.Origin == "" {
		cal.Origin = CalendarOriginRemote
	}

	query := `INSERT INTO calendars (
		id, connection_id, remote_url, display_name, color,
		change_token, sync_token, enabled, origin, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query,
		cal.ID, cal.ConnectionID, cal.RemoteURL, cal.DisplayName, cal.Color,
		cal.ChangeToken, cal.SyncToken, cal.Enabled, cal.Origin, cal.CreatedAt, cal.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create calendar: %w", err)
	}

	return nil
}

// GetCalendar returns a calendar by its ID.
func (db *DB) GetCalendar(id string) (*Calendar, error) {
	query := `SELECT id, connection_id, remote_url, display_name, color,
		change_token, sync_token, enabled, origin, created_at, updated_at
		FROM calendars WHERE id = ?`

	row := db.conn.QueryRow(query, id)
	return scanCalendar(row)
}

// GetCalendarsByConnection returns all calendars for a connection.
func (db *DB) GetCalendarsByConnection(connectionID string) ([]*Calendar, error) {
	query := `SELECT id, connection_id, remote_url, display_name, color,
		change_token, sync_token, enabled, origin, created_at, updated_at
		FROM calendars WHERE connection_id = ? ORDER BY display_name`

	rows, err := db.conn.Query(query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendars: %w", err)
	}
	defer rows.Close()

	var cals []*Calendar
	for rows.Next() {
		cal, err := scanCalendarFromRows(rows)
		if err != nil {
			return nil, err
		}
		cals = append(cals, cal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calendars: %w", err)
	}

	return cals, nil
}

// UpdateCalendar updates an existing calendar.
func (db *DB) UpdateCalendar(cal *Calendar) error {
	cal.UpdatedAt = time.Now().UTC()

	query := `UPDATE calendars SET
		display_name = ?, color = ?, enabled = ?, updated_at = ?
		WHERE id = ?`

	result, err := db.conn.Exec(query, cal.DisplayName, cal.Color, cal.Enabled, cal.UpdatedAt, cal.ID)
	if err != nil {
		return fmt.Errorf("failed to update calendar: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateCalendarTokens updates the change detection tokens for a calendar.
func (db *DB) UpdateCalendarTokens(id, changeToken, syncToken string) error {
	query := `UPDATE calendars SET change_token = ?, sync_token = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, changeToken, syncToken, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update calendar tokens: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpsertCalendarByRemoteURL creates or updates a calendar keyed by its remote URL.
func (db *DB) UpsertCalendarByRemoteURL(cal *Calendar) error {
	now := time.Now().UTC()

	// Try to update first
	query := `UPDATE calendars SET display_name = ?, color = ?, updated_at = ?
		WHERE connection_id = ? AND remote_url = ?`

	result, err := db.conn.Exec(query, cal.DisplayName, cal.Color, now, cal.ConnectionID, cal.RemoteURL)
	if err != nil {
		return fmt.Errorf("failed to update calendar: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		// Insert new record
		if cal.ID == "" {
			cal.ID = uuid.New().String()
		}
		if cal.Origin == "" {
			cal.Origin = CalendarOriginRemote
		}
		cal.Enabled = true
		cal.CreatedAt = now
		cal.UpdatedAt = now

		insertQuery := `INSERT INTO calendars (id, connection_id, remote_url, display_name, color,
			change_token, sync_token, enabled, origin, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err = db.conn.Exec(insertQuery, cal.ID, cal.ConnectionID, cal.RemoteURL, cal.DisplayName, cal.Color,
			cal.ChangeToken, cal.SyncToken, cal.Enabled, cal.Origin, cal.CreatedAt, cal.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert calendar: %w", err)
		}
		return nil
	}

	// Reload generated fields for the caller
	existing := &Calendar{}
	row := db.conn.QueryRow(`SELECT id, enabled, change_token, sync_token, origin FROM calendars
		WHERE connection_id = ? AND remote_url = ?`, cal.ConnectionID, cal.RemoteURL)

	var changeToken, syncToken sql.NullString
	if err := row.Scan(&existing.ID, &existing.Enabled, &changeToken, &syncToken, &existing.Origin); err != nil {
		return fmt.Errorf("failed to reload calendar: %w", err)
	}
	cal.ID = existing.ID
	cal.Enabled = existing.Enabled
	cal.ChangeToken = changeToken.String
	cal.SyncToken = syncToken.String
	cal.Origin = existing.Origin

	return nil
}

// DeleteCalendar deletes a calendar by its ID.
func (db *DB) DeleteCalendar(id string) error {
	query := `DELETE FROM calendars WHERE id = ?`

	result, err := db.conn.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete calendar: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// CreateEvent creates a new event.
func (db *DB) CreateEvent(event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = time.Now().UTC()
	event.UpdatedAt = time.Now().UTC()

	if event.SyncStatus == "" {
		event.SyncStatus = SyncStatusLocal
	}
	event.IsRecurring = event.RecurrenceRule != ""

	query := `INSERT INTO events (
		id, uid, calendar_id, title, description, location,
		start_time, end_time, all_day, recurrence_rule, is_recurring,
		attendees, resources, organizer, sequence, event_status,
		remote_url, etag, raw_data, sync_status, last_error, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query,
		event.ID, event.UID, event.CalendarID, event.Title, event.Description, event.Location,
		event.StartTime, event.EndTime, event.AllDay, event.RecurrenceRule, event.IsRecurring,
		event.Attendees, event.Resources, event.Organizer, event.Sequence, event.EventStatus,
		event.RemoteURL, event.ETag, event.RawData, event.SyncStatus, event.LastError,
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// GetEvent returns an event by its ID.
func (db *DB) GetEvent(id string) (*Event, error) {
	query := eventSelectColumns + ` FROM events WHERE id = ?`

	row := db.conn.QueryRow(query, id)
	return scanEvent(row)
}

// GetEventByUID returns the oldest event with the given UID across all calendars.
func (db *DB) GetEventByUID(uid string) (*Event, error) {
	query := eventSelectColumns + ` FROM events WHERE uid = ? ORDER BY created_at, id LIMIT 1`

	row := db.conn.QueryRow(query, uid)
	return scanEvent(row)
}

// GetEventsByUID returns all events sharing a UID, oldest first.
func (db *DB) GetEventsByUID(uid string) ([]*Event, error) {
	query := eventSelectColumns + ` FROM events WHERE uid = ? ORDER BY created_at, id`

	rows, err := db.conn.Query(query, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by UID: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// GetEventsByCalendar returns all events in a calendar.
func (db *DB) GetEventsByCalendar(calendarID string) ([]*Event, error) {
	query := eventSelectColumns + ` FROM events WHERE calendar_id = ? ORDER BY start_time`

	rows, err := db.conn.Query(query, calendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListEventsNeedingPush returns events in the given calendars whose sync status
// requires an upload to the server.
func (db *DB) ListEventsNeedingPush(calendarIDs []string) ([]*Event, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(calendarIDs)), ",")
	query := fmt.Sprintf(`%s FROM events
		WHERE calendar_id IN (%s) AND sync_status IN (?, ?, ?)
		ORDER BY created_at`, eventSelectColumns, placeholders)

	args := make([]interface{}, 0, len(calendarIDs)+3)
	for _, id := range calendarIDs {
		args = append(args, id)
	}
	args = append(args, SyncStatusLocal, SyncStatusPending, SyncStatusNeedsSync)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events needing push: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// UpdateEvent updates an existing event.
func (db *DB) UpdateEvent(event *Event) error {
	event.UpdatedAt = time.Now().UTC()
	event.IsRecurring = event.RecurrenceRule != ""

	query := `UPDATE events SET
		uid = ?, title = ?, description = ?, location = ?,
		start_time = ?, end_time = ?, all_day = ?, recurrence_rule = ?, is_recurring = ?,
		attendees = ?, resources = ?, organizer = ?, sequence = ?, event_status = ?,
		remote_url = ?, etag = ?, raw_data = ?, sync_status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`

	result, err := db.conn.Exec(query,
		event.UID, event.Title, event.Description, event.Location,
		event.StartTime, event.EndTime, event.AllDay, event.RecurrenceRule, event.IsRecurring,
		event.Attendees, event.Resources, event.Organizer, event.Sequence, event.EventStatus,
		event.RemoteURL, event.ETag, event.RawData, event.SyncStatus, event.LastError,
		event.UpdatedAt, event.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateEventSyncStatus updates the sync status of an event after an attempt.
func (db *DB) UpdateEventSyncStatus(id string, status SyncStatus, errMsg string) error {
	now := time.Now().UTC()
	query := `UPDATE events SET sync_status = ?, last_sync_attempt = ?, last_error = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, status, now, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("failed to update event sync status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateEventRemote records the server location and etag after a successful push.
func (db *DB) UpdateEventRemote(id, remoteURL, etag string, status SyncStatus) error {
	now := time.Now().UTC()
	query := `UPDATE events SET remote_url = ?, etag = ?, sync_status = ?, last_sync_attempt = ?, last_error = '', updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, remoteURL, etag, status, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update event remote state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateEventETag updates just the etag of an event.
func (db *DB) UpdateEventETag(id, etag string) error {
	query := `UPDATE events SET etag = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, etag, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update event etag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateEventUID rewrites the UID of an event.
func (db *DB) UpdateEventUID(id, uid string) error {
	query := `UPDATE events SET uid = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, uid, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update event UID: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateEventRecurrence updates the recurrence rule of an event and flags it for sync.
func (db *DB) UpdateEventRecurrence(id, rule string, status SyncStatus) error {
	query := `UPDATE events SET recurrence_rule = ?, is_recurring = ?, sync_status = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.Exec(query, rule, rule != "", status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update event recurrence: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteEvent deletes an event by its ID.
func (db *DB) DeleteEvent(id string) error {
	query := `DELETE FROM events WHERE id = ?`

	result, err := db.conn.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// CreateSyncLog creates a new sync log entry.
func (db *DB) CreateSyncLog(log *SyncLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	log.CreatedAt = time.Now().UTC()

	query := `INSERT INTO sync_logs (id, connection_id, status, message, duration_ms,
		events_created, events_updated, events_deleted, events_skipped, events_pushed, calendars_synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query, log.ID, log.ConnectionID, log.Status, log.Message, log.DurationMs,
		log.EventsCreated, log.EventsUpdated, log.EventsDeleted, log.EventsSkipped, log.EventsPushed,
		log.CalendarsSynced, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}

	return nil
}

// GetSyncLogsByConnection returns sync logs for a connection, newest first.
func (db *DB) GetSyncLogsByConnection(connectionID string, limit int) ([]*SyncLog, error) {
	query := `SELECT id, connection_id, status, message, duration_ms,
		events_created, events_updated, events_deleted, events_skipped, events_pushed, calendars_synced, created_at
		FROM sync_logs WHERE connection_id = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.Query(query, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		log := &SyncLog{}
		var message sql.NullString
		err := rows.Scan(&log.ID, &log.ConnectionID, &log.Status, &message, &log.DurationMs,
			&log.EventsCreated, &log.EventsUpdated, &log.EventsDeleted, &log.EventsSkipped,
			&log.EventsPushed, &log.CalendarsSynced, &log.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		log.Message = message.String
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}

	return logs, nil
}

// CleanOldSyncLogs deletes sync logs older than the given time.
func (db *DB) CleanOldSyncLogs(olderThan time.Time) (int64, error) {
	query := `DELETE FROM sync_logs WHERE created_at < ?`

	result, err := db.conn.Exec(query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to clean old sync logs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}

// UpsertMalformedObject records an unparseable object, keyed by its server path.
func (db *DB) UpsertMalformedObject(obj *MalformedObject) error {
	now := time.Now().UTC()

	// Try to update first
	query := `UPDATE malformed_objects SET error_message = ?, discovered_at = ?
		WHERE connection_id = ? AND object_path = ?`

	result, err := db.conn.Exec(query, obj.ErrorMessage, now, obj.ConnectionID, obj.ObjectPath)
	if err != nil {
		return fmt.Errorf("failed to update malformed object: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		// Insert new record
		if obj.ID == "" {
			obj.ID = uuid.New().String()
		}
		obj.DiscoveredAt = now

		insertQuery := `INSERT INTO malformed_objects (id, connection_id, object_path, error_message, discovered_at)
			VALUES (?, ?, ?, ?, ?)`

		_, err = db.conn.Exec(insertQuery, obj.ID, obj.ConnectionID, obj.ObjectPath, obj.ErrorMessage, obj.DiscoveredAt)
		if err != nil {
			return fmt.Errorf("failed to insert malformed object: %w", err)
		}
	}

	return nil
}

// GetMalformedObjects returns all recorded malformed objects for a connection.
func (db *DB) GetMalformedObjects(connectionID string) ([]*MalformedObject, error) {
	query := `SELECT id, connection_id, object_path, error_message, discovered_at
		FROM malformed_objects WHERE connection_id = ? ORDER BY discovered_at DESC`

	rows, err := db.conn.Query(query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query malformed objects: %w", err)
	}
	defer rows.Close()

	var objs []*MalformedObject
	for rows.Next() {
		obj := &MalformedObject{}
		err := rows.Scan(&obj.ID, &obj.ConnectionID, &obj.ObjectPath, &obj.ErrorMessage, &obj.DiscoveredAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan malformed object: %w", err)
		}
		objs = append(objs, obj)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating malformed objects: %w", err)
	}

	return objs, nil
}

// ClearMalformedObjects removes all malformed object records for a connection.
func (db *DB) ClearMalformedObjects(connectionID string) error {
	query := `DELETE FROM malformed_objects WHERE connection_id = ?`

	_, err := db.conn.Exec(query, connectionID)
	if err != nil {
		return fmt.Errorf("failed to clear malformed objects: %w", err)
	}

	return nil
}

// SaveUIDAlias creates or updates a UID alias for an internal event ID.
func (db *DB) SaveUIDAlias(alias *UIDAlias) error {
	now := time.Now().UTC()

	// Try to update first
	query := `UPDATE uid_aliases SET uid = ? WHERE internal_id = ?`

	result, err := db.conn.Exec(query, alias.UID, alias.InternalID)
	if err != nil {
		return fmt.Errorf("failed to update UID alias: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		alias.CreatedAt = now

		insertQuery := `INSERT INTO uid_aliases (internal_id, uid, created_at) VALUES (?, ?, ?)`

		_, err = db.conn.Exec(insertQuery, alias.InternalID, alias.UID, alias.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert UID alias: %w", err)
		}
	}

	return nil
}

// GetUIDAlias returns the UID alias for an internal event ID.
func (db *DB) GetUIDAlias(internalID string) (*UIDAlias, error) {
	query := `SELECT internal_id, uid, created_at FROM uid_aliases WHERE internal_id = ?`

	row := db.conn.QueryRow(query, internalID)

	alias := &UIDAlias{}
	err := row.Scan(&alias.InternalID, &alias.UID, &alias.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get UID alias: %w", err)
	}

	return alias, nil
}

// ListUIDAliases returns all UID aliases.
func (db *DB) ListUIDAliases() ([]*UIDAlias, error) {
	query := `SELECT internal_id, uid, created_at FROM uid_aliases ORDER BY created_at`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query UID aliases: %w", err)
	}
	defer rows.Close()

	var aliases []*UIDAlias
	for rows.Next() {
		alias := &UIDAlias{}
		err := rows.Scan(&alias.InternalID, &alias.UID, &alias.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan UID alias: %w", err)
		}
		aliases = append(aliases, alias)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating UID aliases: %w", err)
	}

	return aliases, nil
}

const eventSelectColumns = `SELECT id, uid, calendar_id, title, description, location,
	start_time, end_time, all_day, recurrence_rule, is_recurring,
	attendees, resources, organizer, sequence, event_status,
	remote_url, etag, raw_data, sync_status, last_sync_attempt, last_error, created_at, updated_at`

// scanConnection scans a single row into a Connection struct.
func scanConnection(row *sql.Row) (*Connection, error) {
	conn := &Connection{}
	var lastSyncAt sql.NullTime
	var lastError sql.NullString

	err := row.Scan(
		&conn.ID, &conn.AccountID, &conn.Name, &conn.Endpoint, &conn.Username, &conn.Password,
		&conn.SyncInterval, &conn.AutoSync, &conn.Status,
		&lastSyncAt, &lastError, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	if lastSyncAt.Valid {
		conn.LastSyncAt = &lastSyncAt.Time
	}
	conn.LastError = lastError.String

	return conn, nil
}

// scanConnectionFromRows scans a row from sql.Rows into a Connection struct.
func scanConnectionFromRows(rows *sql.Rows) (*Connection, error) {
	conn := &Connection{}
	var lastSyncAt sql.NullTime
	var lastError sql.NullString

	err := rows.Scan(
		&conn.ID, &conn.AccountID, &conn.Name, &conn.Endpoint, &conn.Username, &conn.Password,
		&conn.SyncInterval, &conn.AutoSync, &conn.Status,
		&lastSyncAt, &lastError, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	if lastSyncAt.Valid {
		conn.LastSyncAt = &lastSyncAt.Time
	}
	conn.LastError = lastError.String

	return conn, nil
}

// scanCalendar scans a single row into a Calendar struct.
func scanCalendar(row *sql.Row) (*Calendar, error) {
	cal := &Calendar{}
	var remoteURL, color, changeToken, syncToken sql.NullString

	err := row.Scan(
		&cal.ID, &cal.ConnectionID, &remoteURL, &cal.DisplayName, &color,
		&changeToken, &syncToken, &cal.Enabled, &cal.Origin, &cal.CreatedAt, &cal.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan calendar: %w", err)
	}

	cal.RemoteURL = remoteURL.String
	cal.Color = color.String
	cal.ChangeToken = changeToken.String
	cal.SyncToken = syncToken.String

	return cal, nil
}

// scanCalendarFromRows scans a row from sql.Rows into a Calendar struct.
func scanCalendarFromRows(rows *sql.Rows) (*Calendar, error) {
	cal := &Calendar{}
	var remoteURL, color, changeToken, syncToken sql.NullString

	err := rows.Scan(
		&cal.ID, &cal.ConnectionID, &remoteURL, &cal.DisplayName, &color,
		&changeToken, &syncToken, &cal.Enabled, &cal.Origin, &cal.CreatedAt, &cal.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan calendar: %w", err)
	}

	cal.RemoteURL = remoteURL.String
	cal.Color = color.String
	cal.ChangeToken = changeToken.String
	cal.SyncToken = syncToken.String

	return cal, nil
}

// scanEvent scans a single row into an Event struct.
func scanEvent(row *sql.Row) (*Event, error) {
	event := &Event{}
	var description, location, recurrenceRule, attendees, resources sql.NullString
	var organizer, eventStatus, remoteURL, etag, rawData, lastError sql.NullString
	var lastSyncAttempt sql.NullTime

	err := row.Scan(
		&event.ID, &event.UID, &event.CalendarID, &event.Title, &description, &location,
		&event.StartTime, &event.EndTime, &event.AllDay, &recurrenceRule, &event.IsRecurring,
		&attendees, &resources, &organizer, &event.Sequence, &eventStatus,
		&remoteURL, &etag, &rawData, &event.SyncStatus, &lastSyncAttempt, &lastError,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	applyEventNulls(event, description, location, recurrenceRule, attendees, resources,
		organizer, eventStatus, remoteURL, etag, rawData, lastError, lastSyncAttempt)

	return event, nil
}

// scanEventFromRows scans a row from sql.Rows into an Event struct.
func scanEventFromRows(rows *sql.Rows) (*Event, error) {
	event := &Event{}
	var description, location, recurrenceRule, attendees, resources sql.NullString
	var organizer, eventStatus, remoteURL, etag, rawData, lastError sql.NullString
	var lastSyncAttempt sql.NullTime

	err := rows.Scan(
		&event.ID, &event.UID, &event.CalendarID, &event.Title, &description, &location,
		&event.StartTime, &event.EndTime, &event.AllDay, &recurrenceRule, &event.IsRecurring,
		&attendees, &resources, &organizer, &event.Sequence, &eventStatus,
		&remoteURL, &etag, &rawData, &event.SyncStatus, &lastSyncAttempt, &lastError,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	applyEventNulls(event, description, location, recurrenceRule, attendees, resources,
		organizer, eventStatus, remoteURL, etag, rawData, lastError, lastSyncAttempt)

	return event, nil
}

func applyEventNulls(event *Event, description, location, recurrenceRule, attendees, resources,
	organizer, eventStatus, remoteURL, etag, rawData, lastError sql.NullString, lastSyncAttempt sql.NullTime) {
	event.Description = description.String
	event.Location = location.String
	event.RecurrenceRule = recurrenceRule.String
	event.Attendees = attendees.String
	event.Resources = resources.String
	event.Organizer = organizer.String
	event.EventStatus = eventStatus.String
	event.RemoteURL = remoteURL.String
	event.ETag = etag.String
	event.RawData = rawData.String
	event.LastError = lastError.String
	if lastSyncAttempt.Valid {
		event.LastSyncAttempt = &lastSyncAttempt.Time
	}
}

func collectEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		event, err := scanEventFromRows(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
