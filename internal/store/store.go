package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store persists queued attribute writes between restarts. The write queue is
// the only owner; nothing else touches these records.
type Store interface {
	SavePending(rec *PendingRecord) error
	DeletePending(key string) error
	ListPending() ([]*PendingRecord, error)

	Close() error
}
