// Package transport defines the attribute read/write boundary towards the
// Zigbee network. Implementations talk to whatever owns the radio; callers
// only see tagged outcomes so retry policy never depends on error types of a
// particular backend.
package transport

import "context"

// Status classifies the outcome of a write attempt. The retry policy treats
// all non-success statuses identically; the distinction exists for logging.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusTimeout
	StatusProtocolError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusTimeout:
		return "timeout"
	case StatusProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// WriteResult is the tagged outcome of a single write attempt.
type WriteResult struct {
	Status Status
	Err    error
}

// OK reports whether the write was acknowledged by the device.
func (r WriteResult) OK() bool {
	return r.Status == StatusSuccess
}

// Request addresses a single attribute on a single device endpoint.
// Manufacturer 0 means no manufacturer-specific qualifier.
type Request struct {
	IEEE         string
	Endpoint     uint8
	Cluster      uint16
	Attribute    uint16
	Manufacturer uint16
}

// Transport reads and writes one attribute at a time. Both operations block
// for at most the context's deadline; an expired deadline is an outcome, not
// a hang.
type Transport interface {
	ReadAttribute(ctx context.Context, req Request) (any, error)
	WriteAttribute(ctx context.Context, req Request, value any) WriteResult
}
