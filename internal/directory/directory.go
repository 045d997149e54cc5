package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a device cannot be resolved to a network
// identity, typically because it was removed from the directory.
var ErrNotFound = errors.New("device not found")

// Directory is the device inventory the manager works against. Snapshots are
// authoritative at the moment of query; a device may disappear between a
// snapshot and its later use, which callers must tolerate.
type Directory interface {
	// Snapshot lists all known devices with their area, labels and
	// measurement sources.
	Snapshot(ctx context.Context) ([]Device, error)

	// Resolve maps a device identifier to its IEEE address, or ErrNotFound
	// when the device no longer exists.
	Resolve(ctx context.Context, deviceID string) (string, error)
}
