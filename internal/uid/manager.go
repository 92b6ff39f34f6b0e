package uid

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/caldsync/caldsync/internal/db"
	"github.com/caldsync/caldsync/internal/ics"
	"github.com/google/uuid"
)

// uidPropPattern matches an embedded UID property line inside a mangled value.
var uidPropPattern = regexp.MustCompile(`(?i)UID[^:\r\n]*:([^\r\n;,]+)`)

// Manager resolves event UIDs, repairs corrupted ones, and tracks aliases
// for events that predate UID adoption.
type Manager struct {
	db *db.DB

	mu      sync.RWMutex
	aliases map[string]string // internal event ID -> canonical UID
}

// NewManager creates a UID manager and loads persisted aliases.
func NewManager(database *db.DB) (*Manager, error) {
	m := &Manager{
		db:      database,
		aliases: make(map[string]string),
	}

	aliases, err := database.ListUIDAliases()
	if err != nil {
		return nil, fmt.Errorf("failed to load UID aliases: %w", err)
	}
	for _, alias := range aliases {
		m.aliases[alias.InternalID] = alias.UID
	}

	return m, nil
}

// Resolve returns the canonical UID for an event. An existing clean UID is
// kept verbatim. A corrupted UID (control characters or embedded component
// markers) is repaired from its own content when possible, otherwise replaced
// with a fresh UUID; the correction is persisted and logged.
func (m *Manager) Resolve(existing *db.Event, rawPayload string) string {
	if existing != nil && existing.UID != "" {
		if !IsCorrupted(existing.UID) {
			return existing.UID
		}

		repaired := repairUID(existing.UID)
		if repaired == "" {
			repaired = uuid.New().String()
		}
		log.Printf("Repaired corrupted UID for event %s: %q -> %s", existing.ID, truncate(existing.UID, 40), repaired)

		if existing.ID != "" {
			if err := m.db.UpdateEventUID(existing.ID, repaired); err != nil && !errors.Is(err, db.ErrNotFound) {
				log.Printf("Failed to persist repaired UID for event %s: %v", existing.ID, err)
			}
		}
		existing.UID = repaired
		return repaired
	}

	if uid := ics.ExtractUID(rawPayload); uid != "" {
		if !IsCorrupted(uid) {
			return uid
		}
		if repaired := repairUID(uid); repaired != "" {
			return repaired
		}
	}

	return uuid.New().String()
}

// RegisterAlias records that an internal event ID maps to a canonical UID.
// The aliased event is flagged for re-push so it is republished under the
// canonical identity on the next cycle.
func (m *Manager) RegisterAlias(internalID, canonicalUID string) error {
	if internalID == "" || canonicalUID == "" {
		return fmt.Errorf("internal ID and UID are required")
	}

	alias := &db.UIDAlias{InternalID: internalID, UID: canonicalUID}
	if err := m.db.SaveUIDAlias(alias); err != nil {
		return fmt.Errorf("failed to save UID alias: %w", err)
	}

	m.mu.Lock()
	m.aliases[internalID] = canonicalUID
	m.mu.Unlock()

	// The alias may refer to an event that no longer exists; that is fine.
	if err := m.db.UpdateEventUID(internalID, canonicalUID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to apply UID alias: %w", err)
	}
	if err := m.db.UpdateEventSyncStatus(internalID, db.SyncStatusNeedsSync, ""); err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("failed to flag aliased event: %w", err)
	}

	return nil
}

// Lookup returns the canonical UID registered for an internal event ID.
func (m *Manager) Lookup(internalID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	canonicalUID, ok := m.aliases[internalID]
	return canonicalUID, ok
}

// IsCorrupted reports whether a UID carries control characters or embedded
// component markers from a mangled payload.
func IsCorrupted(uid string) bool {
	for _, r := range uid {
		if r < 0x20 {
			return true
		}
	}
	return containsMarker(uid)
}

// repairUID extracts a usable UID from a corrupted value. The prefix before
// the first control character wins when it is itself clean; otherwise an
// embedded UID property line is used. Returns "" when nothing usable remains.
func repairUID(corrupted string) string {
	cut := len(corrupted)
	for i, r := range corrupted {
		if r < 0x20 {
			cut = i
			break
		}
	}
	prefix := strings.TrimSpace(corrupted[:cut])
	if prefix != "" && !containsMarker(prefix) {
		return prefix
	}

	if match := uidPropPattern.FindStringSubmatch(corrupted); match != nil {
		candidate := strings.TrimSpace(match[1])
		if candidate != "" && !containsMarker(candidate) {
			return candidate
		}
	}

	return ""
}

func containsMarker(s string) bool {
	upper := strings.ToUpper(s)
	return strings.Contains(upper, "BEGIN:VCALENDAR") ||
		strings.Contains(upper, "BEGIN:VEVENT") ||
		strings.Contains(upper, "END:VCALENDAR") ||
		strings.Contains(upper, "END:VEVENT")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
