package store

import "time"

// PendingRecord is the on-disk form of one queued attribute write. Key is
// "deviceID|cluster|attribute", mirroring the queue's in-memory key.
type PendingRecord struct {
	Key          string    `json:"key"`
	DeviceID     string    `json:"device_id"`
	DeviceName   string    `json:"device_name,omitempty"`
	Endpoint     uint8     `json:"endpoint"`
	Cluster      uint16    `json:"cluster"`
	Attribute    uint16    `json:"attribute"`
	Manufacturer uint16    `json:"manufacturer,omitempty"`
	Value        any       `json:"value"`
	Description  string    `json:"description,omitempty"`
	Retries      int       `json:"retries"`
	LastAttempt  time.Time `json:"last_attempt"`
}
