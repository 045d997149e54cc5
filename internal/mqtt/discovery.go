package mqtt

import (
	"encoding/json"
	"fmt"

	"trv-manager/internal/directory"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string
	Payload []byte
}

// haDeviceBlock groups the per-area sensors under one HA device entry.
type haDeviceBlock struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is the sensor discovery payload.
type haDiscovery struct {
	Name              string        `json:"name"`
	UniqueID          string        `json:"unique_id"`
	StateTopic        string        `json:"state_topic"`
	AvailabilityTopic string        `json:"availability_topic"`
	UnitOfMeasurement string        `json:"unit_of_measurement,omitempty"`
	DeviceClass       string        `json:"device_class,omitempty"`
	StateClass        string        `json:"state_class,omitempty"`
	Device            haDeviceBlock `json:"device"`
}

// buildDiscovery generates the discovery config for one area reading series.
func buildDiscovery(prefix, area string, kind directory.Kind) discoveryMsg {
	slug := slugify(area)
	nodeID := "trv_manager_" + slug

	var suffix, class, unit string
	switch kind {
	case directory.KindHumidity:
		suffix, class, unit = "Humidity", "humidity", "%"
	default:
		suffix, class, unit = "Temperature", "temperature", "°C"
	}

	payload := haDiscovery{
		Name:              area + " " + suffix,
		UniqueID:          nodeID + "_" + string(kind),
		StateTopic:        prefix + "/" + slug + "/" + string(kind),
		AvailabilityTopic: prefix + "/bridge/state",
		UnitOfMeasurement: unit,
		DeviceClass:       class,
		StateClass:        "measurement",
		Device: haDeviceBlock{
			Identifiers:  []string{nodeID},
			Manufacturer: "trv-manager",
			Name:         area + " Climate",
		},
	}

	topic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, string(kind))
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
