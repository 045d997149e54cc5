package mqtt

import (
	"encoding/json"
	"testing"

	"trv-manager/internal/directory"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Living Room", "living_room"},
		{"Bedroom", "bedroom"},
		{"Kids' Room 2", "kids__room_2"},
		{"büro", "b_ro"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildDiscoveryTemperature(t *testing.T) {
	msg := buildDiscovery("trv-manager", "Living Room", directory.KindTemperature)

	wantTopic := "homeassistant/sensor/trv_manager_living_room/temperature/config"
	if msg.Topic != wantTopic {
		t.Errorf("topic = %q, want %q", msg.Topic, wantTopic)
	}

	var payload haDiscovery
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Name != "Living Room Temperature" {
		t.Errorf("name = %q", payload.Name)
	}
	if payload.StateTopic != "trv-manager/living_room/temperature" {
		t.Errorf("state topic = %q", payload.StateTopic)
	}
	if payload.AvailabilityTopic != "trv-manager/bridge/state" {
		t.Errorf("availability topic = %q", payload.AvailabilityTopic)
	}
	if payload.DeviceClass != "temperature" || payload.UnitOfMeasurement != "°C" {
		t.Errorf("class/unit = %q/%q", payload.DeviceClass, payload.UnitOfMeasurement)
	}
	if payload.StateClass != "measurement" {
		t.Errorf("state class = %q", payload.StateClass)
	}
	if len(payload.Device.Identifiers) != 1 || payload.Device.Identifiers[0] != "trv_manager_living_room" {
		t.Errorf("device identifiers = %v", payload.Device.Identifiers)
	}
}

func TestBuildDiscoveryHumidity(t *testing.T) {
	msg := buildDiscovery("home", "Bathroom", directory.KindHumidity)

	var payload haDiscovery
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.DeviceClass != "humidity" || payload.UnitOfMeasurement != "%" {
		t.Errorf("class/unit = %q/%q", payload.DeviceClass, payload.UnitOfMeasurement)
	}
	if payload.StateTopic != "home/bathroom/humidity" {
		t.Errorf("state topic = %q", payload.StateTopic)
	}
	if payload.UniqueID != "trv_manager_bathroom_humidity" {
		t.Errorf("unique id = %q", payload.UniqueID)
	}
}
