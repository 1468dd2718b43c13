package ops

import (
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Progression limits
const (
	DefaultProgressionLimit = 10
	MaxProgressionLimit     = 100
)

// UploadMetadataKey is the object metadata key carrying the signed payload.
const UploadMetadataKey = "callcoach-payload"

// newID returns a ULID. ulid.Make draws from a process-wide monotonic source,
// so ids created within the same millisecond still sort in creation order.
func newID() string {
	return ulid.Make().String()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// cleanOptionalString trims whitespace and returns nil for empty strings.
func cleanOptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// ownerLocks serializes reconciliation per owner inside one process.
// Unrelated owners never contend.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

var reconcileLocks = &ownerLocks{locks: make(map[string]*ownerLock)}

// lock acquires the owner's mutex and returns its release func.
func (l *ownerLocks) lock(ownerID string) func() {
	l.mu.Lock()
	ol, ok := l.locks[ownerID]
	if !ok {
		ol = &ownerLock{}
		l.locks[ownerID] = ol
	}
	ol.refs++
	l.mu.Unlock()

	ol.mu.Lock()
	return func() {
		ol.mu.Unlock()
		l.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(l.locks, ownerID)
		}
		l.mu.Unlock()
	}
}
