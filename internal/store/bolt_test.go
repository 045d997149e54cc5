package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndListPending(t *testing.T) {
	s := newTestStore(t)

	rec := &PendingRecord{
		Key:          "dev-1|0x0201|0x4015",
		DeviceID:     "dev-1",
		DeviceName:   "Living Room TRV",
		Endpoint:     1,
		Cluster:      0x0201,
		Attribute:    0x4015,
		Manufacturer: 0x1246,
		Value:        2067,
		Description:  "external temperature for Living Room",
		Retries:      3,
		LastAttempt:  time.Now().Truncate(time.Millisecond),
	}

	if err := s.SavePending(rec); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("list count = %d, want 1", len(list))
	}

	got := list[0]
	if got.Key != rec.Key {
		t.Errorf("key = %q, want %q", got.Key, rec.Key)
	}
	if got.Cluster != rec.Cluster || got.Attribute != rec.Attribute {
		t.Errorf("addressing = 0x%04X/0x%04X, want 0x%04X/0x%04X",
			got.Cluster, got.Attribute, rec.Cluster, rec.Attribute)
	}
	if got.Retries != 3 {
		t.Errorf("retries = %d, want 3", got.Retries)
	}
	if got.DeviceName != rec.DeviceName {
		t.Errorf("device name = %q, want %q", got.DeviceName, rec.DeviceName)
	}
}

func TestSavePendingOverwrites(t *testing.T) {
	s := newTestStore(t)

	key := "dev-1|0x0201|0x4015"
	if err := s.SavePending(&PendingRecord{Key: key, Value: 2000, Retries: 5}); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePending(&PendingRecord{Key: key, Value: 2100, Retries: 0}); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("list count = %d, want 1", len(list))
	}
	if list[0].Retries != 0 {
		t.Errorf("retries = %d, want 0 after overwrite", list[0].Retries)
	}
}

func TestDeletePending(t *testing.T) {
	s := newTestStore(t)

	if err := s.SavePending(&PendingRecord{Key: "dev-1|0x000A|0x0000"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePending("dev-1|0x000A|0x0000"); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("list count = %d, want 0", len(list))
	}

	// Deleting a missing key is not an error.
	if err := s.DeletePending("absent"); err != nil {
		t.Fatal(err)
	}
}
