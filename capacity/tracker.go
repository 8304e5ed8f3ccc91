// Package capacity tracks committed and reserved bytes against the storage quota.
package capacity

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ebogdum/cloudfs/metadata"
	"github.com/ebogdum/cloudfs/metrics"
)

// ErrReservationClosed is returned when a reservation is used after commit or release
var ErrReservationClosed = errors.New("reservation already committed or released")

// Tracker maintains usedBytes against capacityBytes. In-flight uploads hold
// reservations that count against the quota until they are committed or released,
// so concurrent uploads cannot jointly overflow it.
type Tracker struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	reserved int64
	open     map[uint64]*Reservation
	nextID   uint64
}

// Reservation is a token for bytes set aside for one in-flight write
type Reservation struct {
	tracker *Tracker
	id      uint64
	bytes   int64
	closed  bool
}

// NewTracker creates a tracker for capacityBytes with usedBytes already committed
func NewTracker(capacityBytes, usedBytes int64) (*Tracker, error) {
	if capacityBytes <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacityBytes)
	}
	if usedBytes < 0 {
		return nil, fmt.Errorf("used bytes cannot be negative, got %d", usedBytes)
	}

	t := &Tracker{
		capacity: capacityBytes,
		used:     usedBytes,
		open:     make(map[uint64]*Reservation),
	}
	metrics.StorageCapacityBytes.Set(float64(capacityBytes))
	metrics.StorageUsedBytes.Set(float64(usedBytes))
	return t, nil
}

// Reserve sets aside n bytes or fails with ErrQuotaExceeded
func (t *Tracker) Reserve(n int64) (*Reservation, error) {
	if n < 0 {
		n = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.used+t.reserved+n > t.capacity {
		return nil, fmt.Errorf("reserving %d bytes with %d available: %w", n, t.availableLocked(), metadata.ErrQuotaExceeded)
	}

	t.nextID++
	r := &Reservation{tracker: t, id: t.nextID, bytes: n}
	t.open[r.id] = r
	t.reserved += n
	return r, nil
}

// Grow extends the reservation by n bytes or fails with ErrQuotaExceeded, leaving
// the existing reservation untouched.
func (r *Reservation) Grow(n int64) error {
	if n <= 0 {
		return nil
	}

	t := r.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.closed {
		return ErrReservationClosed
	}
	if t.used+t.reserved+n > t.capacity {
		return fmt.Errorf("growing reservation by %d bytes with %d available: %w", n, t.availableLocked(), metadata.ErrQuotaExceeded)
	}

	r.bytes += n
	t.reserved += n
	return nil
}

// Bytes returns the amount currently reserved
func (r *Reservation) Bytes() int64 {
	r.tracker.mu.Lock()
	defer r.tracker.mu.Unlock()
	return r.bytes
}

// Commit converts the reservation into actualBytes of committed usage. actualBytes
// may not exceed the reservation.
func (t *Tracker) Commit(r *Reservation, actualBytes int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r == nil || r.tracker != t || r.closed {
		return ErrReservationClosed
	}
	if actualBytes < 0 || actualBytes > r.bytes {
		return fmt.Errorf("committing %d bytes against a %d byte reservation: %w", actualBytes, r.bytes, metadata.ErrInconsistency)
	}

	t.closeLocked(r)
	t.used += actualBytes
	metrics.StorageUsedBytes.Set(float64(t.used))
	return nil
}

// Release returns the reservation to the pool. Releasing twice is a no-op.
func (t *Tracker) Release(r *Reservation) {
	if r == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if r.tracker != t || r.closed {
		return
	}
	t.closeLocked(r)
}

// Free subtracts n committed bytes, e.g. after a delete
func (t *Tracker) Free(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.used -= n
	if t.used < 0 {
		t.used = 0
	}
	metrics.StorageUsedBytes.Set(float64(t.used))
}

// Used returns committed bytes
func (t *Tracker) Used() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Reserved returns bytes held by open reservations
func (t *Tracker) Reserved() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reserved
}

// Capacity returns the configured quota
func (t *Tracker) Capacity() int64 {
	return t.capacity
}

// Available returns bytes that can still be reserved
func (t *Tracker) Available() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.availableLocked()
}

func (t *Tracker) availableLocked() int64 {
	avail := t.capacity - t.used - t.reserved
	if avail < 0 {
		return 0
	}
	return avail
}

func (t *Tracker) closeLocked(r *Reservation) {
	r.closed = true
	t.reserved -= r.bytes
	delete(t.open, r.id)
}
