// Package engine drives one full synchronization cycle for a connection:
// discover calendars, pull remote changes through the reconciler, push local
// edits back, and record the outcome. Failures inside a cycle degrade the
// result; they never propagate past the cycle boundary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caldsync/caldsync/internal/activity"
	"github.com/caldsync/caldsync/internal/caldav"
	"github.com/caldsync/caldsync/internal/crypto"
	"github.com/caldsync/caldsync/internal/db"
	"github.com/caldsync/caldsync/internal/discovery"
	"github.com/caldsync/caldsync/internal/ics"
	"github.com/caldsync/caldsync/internal/notify"
	"github.com/caldsync/caldsync/internal/reconcile"
	"github.com/caldsync/caldsync/internal/uid"
)

// CycleOptions tune one sync cycle.
type CycleOptions struct {
	// ForceRefresh pulls every calendar even when its change token says
	// nothing moved.
	ForceRefresh bool
	// CalendarID targets a single calendar instead of running discovery.
	CalendarID string
	// PreserveLocalDeletes treats remote objects without a local counterpart
	// as locally deleted and removes them remotely.
	PreserveLocalDeletes bool
	// IsBackgroundSync marks cycles started by the background scheduler.
	IsBackgroundSync bool
}

// CycleResult represents the outcome of one sync cycle.
type CycleResult struct {
	Success         bool          `json:"success"`
	Message         string        `json:"message"`
	Created         int           `json:"created"`
	Updated         int           `json:"updated"`
	Deleted         int           `json:"deleted"`
	Skipped         int           `json:"skipped"`
	Pushed          int           `json:"pushed"`
	CalendarsSynced int           `json:"calendars_synced"`
	Errors          []string      `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// RemoteClient is the remote operation surface a cycle needs. *caldav.Client
// implements it; tests substitute fakes.
type RemoteClient interface {
	TestConnection(ctx context.Context) error
	FetchObjects(ctx context.Context, calURL string, collector *caldav.MalformedObjectCollector) ([]caldav.Object, error)
	GetObject(ctx context.Context, href string) (*caldav.Object, error)
	CreateObject(ctx context.Context, calURL, uid, data string) (string, string, error)
	UpdateObject(ctx context.Context, href, etag, data string) (string, error)
	DeleteObject(ctx context.Context, href, etag string) error
	CollectionTag(ctx context.Context, calURL string) (string, string, error)
	SupportsSync(ctx context.Context, calURL string) bool
	SyncCollection(ctx context.Context, calURL, syncToken string) (*caldav.ChangeSet, error)
}

// ClientFactory builds a remote client for a set of credentials.
type ClientFactory func(endpoint, username, password string) (RemoteClient, error)

// Discoverer locates the calendar collections behind an account.
// *discovery.Discoverer implements it.
type Discoverer interface {
	Discover(ctx context.Context, account discovery.Account) ([]discovery.CalendarDescriptor, error)
}

// Limits bound outbound request load per connection.
type Limits struct {
	RPS   float64
	Burst int
}

// Deps carries the engine's collaborators.
type Deps struct {
	Store      *db.DB
	Encryptor  *crypto.Encryptor
	Discoverer Discoverer
	Notifier   notify.Notifier
	Tracker    *activity.Tracker
	UIDs       *uid.Manager
	Clients    ClientFactory // nil selects the CalDAV client
	Limits     Limits
}

// Engine runs sync cycles.
type Engine struct {
	store      *db.DB
	encryptor  *crypto.Encryptor
	discoverer Discoverer
	notifier   notify.Notifier
	tracker    *activity.Tracker
	uids       *uid.Manager
	newClient  ClientFactory
	limits     Limits
}

// New creates an engine from its collaborators.
func New(deps Deps) *Engine {
	e := &Engine{
		store:      deps.Store,
		encryptor:  deps.Encryptor,
		discoverer: deps.Discoverer,
		notifier:   deps.Notifier,
		tracker:    deps.Tracker,
		uids:       deps.UIDs,
		newClient:  deps.Clients,
		limits:     deps.Limits,
	}
	if e.notifier == nil {
		e.notifier = notify.LogNotifier{}
	}
	if e.tracker == nil {
		e.tracker = activity.NewTracker()
	}
	if e.newClient == nil {
		e.newClient = func(endpoint, username, password string) (RemoteClient, error) {
			return caldav.NewClient(endpoint, username, password,
				caldav.WithRateLimit(e.limits.RPS, e.limits.Burst))
		}
	}
	return e
}

// RunCycle performs one full synchronization cycle for a connection. It
// always returns a result; nothing a cycle does can take the process down.
func (e *Engine) RunCycle(ctx context.Context, conn *db.Connection, opts CycleOptions) (result *CycleResult) {
	start := time.Now()
	result = &CycleResult{Errors: make([]string, 0)}

	e.tracker.StartCycle(conn.AccountID, conn.Name, 0)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Sync cycle for connection %s aborted: %v", conn.ID, r)
			result.Success = false
			result.Message = "sync cycle aborted by internal error"
			result.Errors = append(result.Errors, fmt.Sprintf("internal error: %v", r))
		}
		result.Duration = time.Since(start)
		e.finishCycle(conn, result)
	}()

	if err := e.runCycle(ctx, conn, opts, result); err != nil {
		result.Success = false
		if result.Message == "" {
			result.Message = err.Error()
		}
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	result.Success = true
	if result.Message == "" {
		result.Message = fmt.Sprintf("Synced %d calendars: %d created, %d updated, %d deleted, %d skipped, %d pushed",
			result.CalendarsSynced, result.Created, result.Updated, result.Deleted, result.Skipped, result.Pushed)
	}
	return result
}

// runCycle is the fallible body of a cycle. A returned error is a cycle-level
// failure; per-item failures land in result.Errors and processing continues.
func (e *Engine) runCycle(ctx context.Context, conn *db.Connection, opts CycleOptions, result *CycleResult) error {
	// Decrypt credentials - NEVER log these
	password, err := e.encryptor.Decrypt(conn.Password)
	if err != nil {
		result.Message = "Failed to decrypt connection credentials"
		return fmt.Errorf("decrypt credentials: %w", err)
	}

	client, err := e.newClient(conn.Endpoint, conn.Username, password)
	if err != nil {
		result.Message = "Failed to build CalDAV client"
		return fmt.Errorf("build client: %w", err)
	}

	if err := client.TestConnection(ctx); err != nil {
		result.Message = "Connection test failed"
		return fmt.Errorf("connection test: %w", err)
	}

	calendars, err := e.resolveCalendars(ctx, conn, password, opts)
	if err != nil {
		result.Message = "Failed to resolve calendars"
		return err
	}
	if len(calendars) == 0 {
		result.Message = "No calendars to sync"
		return nil
	}

	e.tracker.SetTotalCalendars(conn.AccountID, len(calendars))

	for i, cal := range calendars {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cycle deadline reached: %w", err)
		}

		e.tracker.UpdateCalendar(conn.AccountID, cal.DisplayName, i+1)
		cr := e.pullCalendar(ctx, client, conn, cal, opts)
		result.Created += cr.Created
		result.Updated += cr.Updated
		result.Deleted += cr.Deleted
		result.Skipped += cr.Skipped
		result.Errors = append(result.Errors, cr.Errors...)
		result.CalendarsSynced++
		e.tracker.IncrementProgress(conn.AccountID, cr.Created, cr.Updated, cr.Deleted, cr.Skipped, 0,
			cr.Created+cr.Updated+cr.Deleted+cr.Skipped)
	}

	pushed := e.pushEvents(ctx, client, conn, calendars, result)
	e.tracker.IncrementProgress(conn.AccountID, 0, 0, 0, 0, pushed, pushed)

	return nil
}

// resolveCalendars returns the calendars this cycle will sync: the single
// targeted one, or every enabled remote calendar after a discovery pass.
// Discovery coming up empty is not an error.
func (e *Engine) resolveCalendars(ctx context.Context, conn *db.Connection, password string, opts CycleOptions) ([]*db.Calendar, error) {
	if opts.CalendarID != "" {
		cal, err := e.store.GetCalendar(opts.CalendarID)
		if err != nil {
			return nil, fmt.Errorf("calendar %s: %w", opts.CalendarID, err)
		}
		if cal.ConnectionID != conn.ID {
			return nil, fmt.Errorf("calendar %s does not belong to connection %s", opts.CalendarID, conn.ID)
		}
		if !cal.Enabled || !cal.IsRemote() {
			return nil, fmt.Errorf("calendar %s is not enabled for remote sync", opts.CalendarID)
		}
		return []*db.Calendar{cal}, nil
	}

	account := discovery.Account{BaseURL: conn.Endpoint, Username: conn.Username, Password: password}
	descriptors, err := e.discoverer.Discover(ctx, account)
	if err != nil {
		// Previously discovered calendars still sync.
		log.Printf("Discovery failed for connection %s: %v", conn.ID, err)
	}

	for _, desc := range descriptors {
		cal := &db.Calendar{
			ConnectionID: conn.ID,
			RemoteURL:    desc.URL,
			DisplayName:  desc.DisplayName,
			Color:        desc.Color,
			Origin:       db.CalendarOriginRemote,
		}
		// ChangeToken stays empty on insert so the first pull never
		// short-circuits against a pre-seeded token.
		if err := e.store.UpsertCalendarByRemoteURL(cal); err != nil {
			log.Printf("Failed to upsert discovered calendar %s: %v", desc.URL, err)
		}
	}

	all, err := e.store.GetCalendarsByConnection(conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load calendars: %w", err)
	}

	var out []*db.Calendar
	for _, cal := range all {
		if cal.Enabled && cal.IsRemote() {
			out = append(out, cal)
		}
	}
	return out, nil
}

// pullCalendar brings local storage up to date with one remote collection.
func (e *Engine) pullCalendar(ctx context.Context, client RemoteClient, conn *db.Connection, cal *db.Calendar, opts CycleOptions) *CycleResult {
	result := &CycleResult{Errors: make([]string, 0)}

	ctag, remoteSyncToken, tagErr := client.CollectionTag(ctx, cal.RemoteURL)
	if tagErr != nil {
		log.Printf("Collection tag probe failed for %s: %v", cal.DisplayName, tagErr)
	}
	if !opts.ForceRefresh && tagErr == nil && ctag != "" && ctag == cal.ChangeToken {
		log.Printf("Calendar %q unchanged, skipping pull", cal.DisplayName)
		return result
	}

	// Incremental pull when the server speaks sync-collection.
	if client.SupportsSync(ctx, cal.RemoteURL) {
		changes, err := client.SyncCollection(ctx, cal.RemoteURL, cal.SyncToken)
		if err == nil {
			e.applyChangeSet(ctx, client, conn, cal, changes, opts, result)
			if err := e.store.UpdateCalendarTokens(cal.ID, ctag, changes.SyncToken); err != nil {
				log.Printf("Failed to update calendar tokens: %v", err)
			}
			return result
		}
		log.Printf("Sync-collection failed for %q, falling back to full fetch: %v", cal.DisplayName, err)
	}

	collector := caldav.NewMalformedObjectCollector()
	objects, err := client.FetchObjects(ctx, cal.RemoteURL, collector)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to fetch objects for %q: %v", cal.DisplayName, err))
		return result
	}

	seen := make(map[string]bool, len(objects))
	for _, obj := range objects {
		seen[obj.Href] = true
		e.processRemoteObject(ctx, client, conn, cal, obj, opts, result)
	}
	// Objects that failed parsing still exist remotely.
	for _, m := range collector.Items() {
		seen[m.Href] = true
	}

	e.removeVanishedEvents(ctx, client, conn, cal, seen, result)
	e.recordMalformed(conn, collector, result)

	if err := e.store.UpdateCalendarTokens(cal.ID, ctag, remoteSyncToken); err != nil {
		log.Printf("Failed to update calendar tokens: %v", err)
	}
	return result
}

// applyChangeSet feeds an incremental change report through the reconciler.
func (e *Engine) applyChangeSet(ctx context.Context, client RemoteClient, conn *db.Connection, cal *db.Calendar, changes *caldav.ChangeSet, opts CycleOptions, result *CycleResult) {
	for _, ch := range changes.Changed {
		obj := caldav.Object{Href: ch.Href, ETag: ch.ETag, Data: ch.Data}
		if obj.Data == "" {
			full, err := client.GetObject(ctx, ch.Href)
			if err != nil {
				if caldav.IsMalformedError(err) {
					e.recordMalformedObject(conn.ID, ch.Href, err.Error())
					result.Skipped++
				} else {
					result.Errors = append(result.Errors, fmt.Sprintf("Failed to fetch changed object %s: %v", ch.Href, err))
				}
				continue
			}
			obj = *full
		}
		e.processRemoteObject(ctx, client, conn, cal, obj, opts, result)
	}

	if len(changes.Deleted) == 0 {
		return
	}

	byRemoteURL := e.localEventsByRemoteURL(cal.ID)
	for _, href := range changes.Deleted {
		ev, ok := byRemoteURL[href]
		if !ok {
			continue
		}
		e.applyRemoteDeletion(conn, ev, result)
	}
}

// processRemoteObject decodes one remote object and applies the reconciler's
// decision. A parse failure skips the item and records it; it never aborts
// the batch.
func (e *Engine) processRemoteObject(ctx context.Context, client RemoteClient, conn *db.Connection, cal *db.Calendar, obj caldav.Object, opts CycleOptions, result *CycleResult) {
	ev, err := ics.Decode(obj.Data)
	if err != nil {
		log.Printf("Skipping unparseable object %s: %v", obj.Href, err)
		e.recordMalformedObject(conn.ID, obj.Href, err.Error())
		result.Skipped++
		return
	}

	eventUID := ev.UID
	if eventUID == "" || uid.IsCorrupted(eventUID) {
		eventUID = e.uids.Resolve(nil, obj.Data)
		ev.UID = eventUID
	}

	local := e.findLocalEvent(eventUID, cal.ID)

	// Unchanged objects need no reconciliation.
	if local != nil && local.SyncStatus == db.SyncStatusSynced && obj.ETag != "" && local.ETag == obj.ETag {
		return
	}

	remote := reconcile.Remote{Event: ev, Href: obj.Href, ETag: obj.ETag, Data: obj.Data}
	decision := reconcile.Reconcile(remote, local, reconcile.Options{
		CalendarID:           cal.ID,
		PreserveLocalDeletes: opts.PreserveLocalDeletes,
	})

	switch decision.Action {
	case reconcile.ActionCreate:
		if err := e.store.CreateEvent(decision.Event); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to create event %s: %v", eventUID, err))
			return
		}
		result.Created++
		e.notifier.Notify(conn.AccountID, decision.Event, notify.ActionCreated)
		if err := reconcile.EnsureSeriesConsistency(e.store, decision.Event); err != nil {
			log.Printf("Series consistency pass failed for %s: %v", eventUID, err)
		}

	case reconcile.ActionUpdate:
		if err := e.store.UpdateEvent(decision.Event); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to update event %s: %v", eventUID, err))
			return
		}
		result.Updated++
		e.notifier.Notify(conn.AccountID, decision.Event, notify.ActionUpdated)
		if err := reconcile.EnsureSeriesConsistency(e.store, decision.Event); err != nil {
			log.Printf("Series consistency pass failed for %s: %v", eventUID, err)
		}

	case reconcile.ActionSkip:
		result.Skipped++
		if decision.RefreshETag {
			if err := e.store.UpdateEventETag(local.ID, decision.ETag); err != nil {
				log.Printf("Failed to refresh etag for event %s: %v", local.ID, err)
			}
		}

	case reconcile.ActionDeleteRemote:
		if err := client.DeleteObject(ctx, obj.Href, obj.ETag); err != nil {
			log.Printf("Best-effort remote delete failed for %s: %v", obj.Href, err)
		} else {
			result.Deleted++
		}
	}
}

// removeVanishedEvents drops local rows whose remote object disappeared. A
// candidate is deleted only after a confirming 404: a fetch that silently
// skipped an object must not cascade into a local delete.
func (e *Engine) removeVanishedEvents(ctx context.Context, client RemoteClient, conn *db.Connection, cal *db.Calendar, seen map[string]bool, result *CycleResult) {
	events, err := e.store.GetEventsByCalendar(cal.ID)
	if err != nil {
		log.Printf("Failed to list events for calendar %s: %v", cal.ID, err)
		return
	}

	for _, ev := range events {
		if ev.RemoteURL == "" || seen[ev.RemoteURL] {
			continue
		}

		if ev.SyncStatus.NeedsPush() {
			// Local edits survive; clearing the remote pointer makes the
			// push phase recreate the object.
			if err := e.store.UpdateEventRemote(ev.ID, "", "", ev.SyncStatus); err != nil {
				log.Printf("Failed to detach event %s from vanished object: %v", ev.ID, err)
			}
			continue
		}
		if ev.SyncStatus != db.SyncStatusSynced {
			continue
		}

		if _, err := client.GetObject(ctx, ev.RemoteURL); !errors.Is(err, caldav.ErrNotFound) {
			continue
		}
		e.applyRemoteDeletion(conn, ev, result)
	}
}

// applyRemoteDeletion mirrors a confirmed remote deletion locally. Rows with
// unpushed edits are detached instead of destroyed.
func (e *Engine) applyRemoteDeletion(conn *db.Connection, ev *db.Event, result *CycleResult) {
	if ev.SyncStatus.NeedsPush() {
		if err := e.store.UpdateEventRemote(ev.ID, "", "", ev.SyncStatus); err != nil {
			log.Printf("Failed to detach event %s from deleted object: %v", ev.ID, err)
		}
		return
	}

	if err := e.store.DeleteEvent(ev.ID); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to delete event %s: %v", ev.UID, err))
		return
	}
	result.Deleted++
	e.notifier.Notify(conn.AccountID, ev, notify.ActionDeleted)
}

// pushEvents uploads every local event whose status requires it and returns
// how many made it to the server.
func (e *Engine) pushEvents(ctx context.Context, client RemoteClient, conn *db.Connection, calendars []*db.Calendar, result *CycleResult) int {
	calByID := make(map[string]*db.Calendar, len(calendars))
	ids := make([]string, 0, len(calendars))
	for _, cal := range calendars {
		calByID[cal.ID] = cal
		ids = append(ids, cal.ID)
	}

	events, err := e.store.ListEventsNeedingPush(ids)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to list events needing push: %v", err))
		return 0
	}

	pushed := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Push phase stopped: %v", err))
			break
		}

		// A corrupted or missing UID never reaches the wire.
		if ev.UID == "" || uid.IsCorrupted(ev.UID) {
			canonical := e.uids.Resolve(ev, ev.RawData)
			if ev.UID != canonical {
				ev.UID = canonical
				if err := e.store.UpdateEventUID(ev.ID, canonical); err != nil {
					log.Printf("Failed to persist UID for event %s: %v", ev.ID, err)
				}
			}
		}

		if err := reconcile.EnsureSeriesConsistency(e.store, ev); err != nil {
			log.Printf("Series consistency pass failed for %s: %v", ev.UID, err)
		}

		data, err := ics.Encode(dbEventToICS(ev))
		if err != nil {
			e.failPush(ev, fmt.Sprintf("encode failed: %v", err), result)
			continue
		}

		cal, ok := calByID[ev.CalendarID]
		if !ok {
			continue
		}

		if ev.RemoteURL == "" {
			if e.createRemote(ctx, client, conn, cal, ev, data, result) {
				pushed++
			}
			continue
		}

		newETag, err := client.UpdateObject(ctx, ev.RemoteURL, ev.ETag, data)
		switch {
		case errors.Is(err, caldav.ErrNotFound):
			// The object vanished remotely; recreate it in place.
			if e.createRemote(ctx, client, conn, cal, ev, data, result) {
				pushed++
			}
		case errors.Is(err, caldav.ErrPreconditionFailed):
			// The remote copy moved ahead; the next pull refreshes our etag
			// and the push is retried against it.
			e.failPush(ev, "remote copy changed since last fetch", result)
		case err != nil:
			e.failPush(ev, err.Error(), result)
		default:
			if err := e.store.UpdateEventRemote(ev.ID, ev.RemoteURL, newETag, db.SyncStatusSynced); err != nil {
				log.Printf("Failed to record pushed event %s: %v", ev.ID, err)
			}
			pushed++
			result.Pushed++
			e.notifier.Notify(conn.AccountID, ev, notify.ActionUpdated)
		}
	}

	return pushed
}

// createRemote pushes an event as a new remote object.
func (e *Engine) createRemote(ctx context.Context, client RemoteClient, conn *db.Connection, cal *db.Calendar, ev *db.Event, data string, result *CycleResult) bool {
	href, etag, err := client.CreateObject(ctx, cal.RemoteURL, ev.UID, data)
	if err != nil {
		e.failPush(ev, err.Error(), result)
		return false
	}
	if err := e.store.UpdateEventRemote(ev.ID, href, etag, db.SyncStatusSynced); err != nil {
		log.Printf("Failed to record pushed event %s: %v", ev.ID, err)
	}
	result.Pushed++
	e.notifier.Notify(conn.AccountID, ev, notify.ActionCreated)
	return true
}

func (e *Engine) failPush(ev *db.Event, msg string, result *CycleResult) {
	if err := e.store.UpdateEventSyncStatus(ev.ID, db.SyncStatusError, msg); err != nil {
		log.Printf("Failed to mark event %s failed: %v", ev.ID, err)
	}
	result.Errors = append(result.Errors, fmt.Sprintf("Failed to push event %s: %s", ev.UID, msg))
}

// findLocalEvent returns the row in the calendar sharing the UID, if any.
func (e *Engine) findLocalEvent(eventUID, calendarID string) *db.Event {
	rows, err := e.store.GetEventsByUID(eventUID)
	if err != nil {
		log.Printf("Failed to look up events for UID %s: %v", eventUID, err)
		return nil
	}
	for _, row := range rows {
		if row.CalendarID == calendarID {
			return row
		}
	}
	return nil
}

// localEventsByRemoteURL indexes a calendar's events by their remote object
// URL.
func (e *Engine) localEventsByRemoteURL(calendarID string) map[string]*db.Event {
	out := make(map[string]*db.Event)
	events, err := e.store.GetEventsByCalendar(calendarID)
	if err != nil {
		log.Printf("Failed to list events for calendar %s: %v", calendarID, err)
		return out
	}
	for _, ev := range events {
		if ev.RemoteURL != "" {
			out[ev.RemoteURL] = ev
		}
	}
	return out
}

// recordMalformed persists every object the pull could not parse.
func (e *Engine) recordMalformed(conn *db.Connection, collector *caldav.MalformedObjectCollector, result *CycleResult) {
	for _, m := range collector.Items() {
		e.recordMalformedObject(conn.ID, m.Href, m.Reason)
		result.Skipped++
	}
}

func (e *Engine) recordMalformedObject(connectionID, href, reason string) {
	obj := &db.MalformedObject{
		ConnectionID: connectionID,
		ObjectPath:   href,
		ErrorMessage: reason,
	}
	if err := e.store.UpsertMalformedObject(obj); err != nil {
		log.Printf("Failed to record malformed object %s: %v", href, err)
	}
}

// finishCycle records the cycle outcome on the connection, in the sync log,
// and in the activity tracker.
func (e *Engine) finishCycle(conn *db.Connection, result *CycleResult) {
	status := db.CycleStatusSuccess
	connStatus := db.ConnectionStatusConnected
	errMsg := ""
	switch {
	case !result.Success:
		status = db.CycleStatusError
		connStatus = db.ConnectionStatusError
		errMsg = result.Message
	case len(result.Errors) > 0:
		status = db.CycleStatusPartial
	}

	if err := e.store.UpdateConnectionStatus(conn.ID, connStatus, errMsg); err != nil {
		log.Printf("Failed to update connection status: %v", err)
	}

	entry := &db.SyncLog{
		ConnectionID:    conn.ID,
		Status:          status,
		Message:         result.Message,
		EventsCreated:   result.Created,
		EventsUpdated:   result.Updated,
		EventsDeleted:   result.Deleted,
		EventsSkipped:   result.Skipped,
		EventsPushed:    result.Pushed,
		CalendarsSynced: result.CalendarsSynced,
		DurationMs:      result.Duration.Milliseconds(),
	}
	if err := e.store.CreateSyncLog(entry); err != nil {
		log.Printf("Failed to create sync log: %v", err)
	}

	e.tracker.FinishCycle(conn.AccountID, result.Success, result.Message, result.Errors)
}

// dbEventToICS converts a stored event to its wire-side form.
func dbEventToICS(ev *db.Event) *ics.Event {
	return &ics.Event{
		UID:            ev.UID,
		Summary:        ev.Title,
		Description:    ev.Description,
		Location:       ev.Location,
		Start:          ev.StartTime,
		End:            ev.EndTime,
		AllDay:         ev.AllDay,
		RecurrenceRule: ev.RecurrenceRule,
		Attendees:      ev.AttendeeList(),
		Resources:      ev.ResourceList(),
		Organizer:      ev.Organizer,
		Sequence:       ev.Sequence,
		Status:         ev.EventStatus,
	}
}
