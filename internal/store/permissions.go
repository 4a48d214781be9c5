package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"permhub/internal/directory"
)

// RecordKey is the fixed durable-storage address of the permission matrix.
// The version lives inside the record so old readers can detect format
// changes without a second lookup.
const RecordKey = "permhub.permissions.v1"

// RecordVersion is the current on-disk format version.
const RecordVersion = 1

// MaxLevel bounds the permission enumeration (0..MaxLevel).
const MaxLevel = 3

// Persister is the durable layer contract. *Store satisfies it; tests use
// in-memory fakes.
type Persister interface {
	LoadRecord(ctx context.Context, key string) ([]byte, error)
	SaveRecord(ctx context.Context, key string, data []byte) error
}

type permissionRecord struct {
	Version     int                       `json:"version"`
	Permissions map[string]map[string]int `json:"permissions"`
}

// PermissionStore holds the sparse permission matrix
// {user_id -> {resource_id -> level}}. The in-memory matrix is the source
// of truth; durable writes are debounced so a burst of mutations costs one
// I/O. Absence of a cell means the default (Closed).
type PermissionStore struct {
	mu        sync.Mutex
	matrix    map[string]map[string]int
	persister Persister
	saveDelay time.Duration
	timer     *time.Timer
	dirty     bool
}

// NewPermissionStore creates a store backed by p. saveDelay is the quiet
// interval after the last mutation before the matrix is written out.
func NewPermissionStore(p Persister, saveDelay time.Duration) *PermissionStore {
	return &PermissionStore{
		matrix:    make(map[string]map[string]int),
		persister: p,
		saveDelay: saveDelay,
	}
}

// Load hydrates the matrix from durable storage. Missing or corrupt data
// yields an empty matrix: everyone sees nothing until an admin grants
// access, never the other way around. Entries for deprecated resource-type
// prefixes and out-of-range levels are dropped.
func (ps *PermissionStore) Load(ctx context.Context) error {
	data, err := ps.persister.LoadRecord(ctx, RecordKey)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	if data == nil {
		log.Println("No stored permissions found, starting fresh")
		return nil
	}

	var rec permissionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("WARN: stored permissions corrupt, starting with empty matrix: %v", err)
		return nil
	}

	matrix := make(map[string]map[string]int, len(rec.Permissions))
	dropped := 0
	for userID, perms := range rec.Permissions {
		for resourceID, level := range perms {
			if _, ok := directory.ParseType(resourceID); !ok {
				dropped++
				continue
			}
			if level < 0 || level > MaxLevel {
				log.Printf("WARN: stored level %d for (%s, %s) out of range, treating as closed", level, userID, resourceID)
				dropped++
				continue
			}
			if matrix[userID] == nil {
				matrix[userID] = make(map[string]int)
			}
			matrix[userID][resourceID] = level
		}
	}
	if dropped > 0 {
		log.Printf("Dropped %d stored permission entries (deprecated resource types or invalid levels)", dropped)
	}

	ps.mu.Lock()
	ps.matrix = matrix
	ps.dirty = dropped > 0 // persist the cleanup on the next save
	ps.mu.Unlock()

	log.Printf("Loaded permissions for %d users", len(matrix))
	return nil
}

// Get returns the stored level for a pair, or 0 (Closed) when absent.
// It never fails.
func (ps *PermissionStore) Get(userID, resourceID string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	level, ok := ps.matrix[userID][resourceID]
	if !ok || level < 0 || level > MaxLevel {
		return 0
	}
	return level
}

// Set stores a level for a pair and schedules a debounced save.
func (ps *PermissionStore) Set(userID, resourceID string, level int) error {
	if level < 0 || level > MaxLevel {
		return fmt.Errorf("level %d outside 0..%d", level, MaxLevel)
	}
	ps.mu.Lock()
	if ps.matrix[userID] == nil {
		ps.matrix[userID] = make(map[string]int)
	}
	ps.matrix[userID][resourceID] = level
	ps.markDirtyLocked()
	ps.mu.Unlock()
	return nil
}

// DeleteUser purges every entry for the user. Saves only if something was
// removed.
func (ps *PermissionStore) DeleteUser(userID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, ok := ps.matrix[userID]; !ok {
		return
	}
	delete(ps.matrix, userID)
	log.Printf("Deleted all permissions for user %s", userID)
	ps.markDirtyLocked()
}

// DeleteResource purges the resource's column from every user's row.
func (ps *PermissionStore) DeleteResource(resourceID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	modified := false
	for userID, perms := range ps.matrix {
		if _, ok := perms[resourceID]; ok {
			delete(perms, resourceID)
			if len(perms) == 0 {
				delete(ps.matrix, userID)
			}
			modified = true
		}
	}
	if modified {
		log.Printf("Deleted permissions for resource %s", resourceID)
		ps.markDirtyLocked()
	}
}

// UserPermissions returns a copy of one user's row.
func (ps *PermissionStore) UserPermissions(userID string) map[string]int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make(map[string]int, len(ps.matrix[userID]))
	for resourceID, level := range ps.matrix[userID] {
		out[resourceID] = level
	}
	return out
}

// Snapshot returns a deep copy of the full matrix for the admin view.
func (ps *PermissionStore) Snapshot() map[string]map[string]int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make(map[string]map[string]int, len(ps.matrix))
	for userID, perms := range ps.matrix {
		row := make(map[string]int, len(perms))
		for resourceID, level := range perms {
			row[resourceID] = level
		}
		out[userID] = row
	}
	return out
}

// markDirtyLocked schedules the debounced save. A mutation arriving while a
// save is pending extends the quiet interval instead of queuing a second
// write. Caller holds ps.mu.
func (ps *PermissionStore) markDirtyLocked() {
	ps.dirty = true
	if ps.saveDelay <= 0 {
		go ps.save()
		return
	}
	if ps.timer != nil {
		ps.timer.Reset(ps.saveDelay)
		return
	}
	ps.timer = time.AfterFunc(ps.saveDelay, ps.save)
}

func (ps *PermissionStore) save() {
	if err := ps.Flush(context.Background()); err != nil {
		// In-memory state stays authoritative; the store remains dirty and
		// the next mutation retries.
		log.Printf("ERROR: save permissions: %v", err)
	}
}

// Flush writes pending state synchronously. Called by the debounce timer
// and once on shutdown so a clean stop never loses a change.
func (ps *PermissionStore) Flush(ctx context.Context) error {
	ps.mu.Lock()
	if !ps.dirty {
		ps.mu.Unlock()
		return nil
	}
	rec := permissionRecord{Version: RecordVersion, Permissions: ps.matrix}
	data, err := json.Marshal(rec)
	if err != nil {
		ps.mu.Unlock()
		return fmt.Errorf("encode permissions: %w", err)
	}
	ps.dirty = false
	ps.mu.Unlock()

	if err := ps.persister.SaveRecord(ctx, RecordKey, data); err != nil {
		ps.mu.Lock()
		ps.dirty = true
		ps.mu.Unlock()
		return err
	}
	return nil
}

// Close stops the debounce timer and flushes pending state.
func (ps *PermissionStore) Close(ctx context.Context) error {
	ps.mu.Lock()
	if ps.timer != nil {
		ps.timer.Stop()
		ps.timer = nil
	}
	ps.mu.Unlock()
	return ps.Flush(ctx)
}
