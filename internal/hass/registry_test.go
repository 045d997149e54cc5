package hass

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"trv-manager/internal/climate"
	"trv-manager/internal/directory"
)

func strPtr(s string) *string { return &s }

func TestBuildJoinsRegistries(t *testing.T) {
	devices := []haDevice{
		{
			ID:          "dev-trv",
			AreaID:      "living_room",
			Name:        "Danfoss Ally",
			NameByUser:  "Living Room TRV",
			Model:       "eTRV0103",
			Labels:      []string{"radiator_covered"},
			Identifiers: [][]string{{"zha", "00:11:22:33:44:55:66:77"}},
		},
		{
			ID:     "dev-sensor",
			AreaID: "living_room",
			Name:   "Aqara Sensor",
			Model:  "WSDCGQ11LM",
			Labels: []string{"sensor_weight_1.5"},
		},
		{
			ID:   "dev-noarea",
			Name: "Spare Sensor",
		},
	}
	entities := []haEntity{
		{EntityID: "climate.living_room_trv", DeviceID: "dev-trv"},
		{EntityID: "sensor.aqara_temperature", DeviceID: "dev-sensor", DeviceClass: "temperature"},
		{EntityID: "sensor.aqara_humidity", DeviceID: "dev-sensor", DeviceClass: "humidity"},
		{EntityID: "sensor.aqara_battery", DeviceID: "dev-sensor", DeviceClass: "battery"},
		{EntityID: "sensor.disabled", DeviceID: "dev-sensor", DeviceClass: "temperature", DisabledBy: strPtr("user")},
		{EntityID: "sensor.spare_temperature", DeviceID: "dev-noarea", AreaID: "hall", DeviceClass: "temperature"},
	}
	areas := []haArea{
		{AreaID: "living_room", Name: "Living Room"},
		{AreaID: "hall", Name: "Hall"},
	}

	built, ieeeByID := build(devices, entities, areas)
	if len(built) != 3 {
		t.Fatalf("devices = %d, want 3", len(built))
	}
	byID := make(map[string]directory.Device)
	for _, d := range built {
		byID[d.ID] = d
	}

	trv := byID["dev-trv"]
	if trv.Name != "Living Room TRV" {
		t.Errorf("name = %q, want user-given name", trv.Name)
	}
	if trv.AreaName != "Living Room" {
		t.Errorf("area = %q, want Living Room", trv.AreaName)
	}
	if trv.IEEE != "00:11:22:33:44:55:66:77" {
		t.Errorf("ieee = %q", trv.IEEE)
	}
	src, ok := trv.Source(directory.KindTemperature)
	if !ok || src.EntityID != "climate.living_room_trv" || src.Attribute != "current_temperature" {
		t.Errorf("trv temperature source = %+v", src)
	}

	sensor := byID["dev-sensor"]
	if w, ok := sensor.SensorWeight(); !ok || w != 1.5 {
		t.Errorf("weight = %v %v, want 1.5", w, ok)
	}
	if src, ok := sensor.Source(directory.KindTemperature); !ok || src.EntityID != "sensor.aqara_temperature" {
		t.Errorf("sensor temperature source = %+v", src)
	}
	if src, ok := sensor.Source(directory.KindHumidity); !ok || src.EntityID != "sensor.aqara_humidity" {
		t.Errorf("sensor humidity source = %+v", src)
	}

	// A device without its own area inherits the entity's area.
	spare := byID["dev-noarea"]
	if spare.AreaName != "Hall" {
		t.Errorf("spare area = %q, want Hall", spare.AreaName)
	}

	if ieeeByID["dev-trv"] != "00:11:22:33:44:55:66:77" {
		t.Errorf("ieeeByID trv = %q", ieeeByID["dev-trv"])
	}
	if ieeeByID["dev-sensor"] != "" {
		t.Errorf("ieeeByID sensor = %q, want empty for non-zha device", ieeeByID["dev-sensor"])
	}
}

func TestBuildSensorBeatsClimateForTemperature(t *testing.T) {
	devices := []haDevice{{ID: "dev", AreaID: "a"}}
	entities := []haEntity{
		{EntityID: "sensor.room_temperature", DeviceID: "dev", DeviceClass: "temperature"},
		{EntityID: "climate.room_trv", DeviceID: "dev"},
	}
	built, _ := build(devices, entities, []haArea{{AreaID: "a", Name: "A"}})

	src, ok := built[0].Source(directory.KindTemperature)
	if !ok || src.EntityID != "sensor.room_temperature" || src.Attribute != "" {
		t.Errorf("source = %+v, want the dedicated sensor entity", src)
	}
}

func TestZhaIdentifier(t *testing.T) {
	got := zhaIdentifier([][]string{{"mqtt", "abc"}, {"zha", "aa:bb"}})
	if got != "aa:bb" {
		t.Errorf("ieee = %q, want aa:bb", got)
	}
	if got := zhaIdentifier(nil); got != "" {
		t.Errorf("ieee = %q, want empty", got)
	}
}

func newStatesRegistry(states map[string]haState) *Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRegistry(nil, 0, logger)
	r.states = states
	return r
}

func TestReadStateAsValue(t *testing.T) {
	r := newStatesRegistry(map[string]haState{
		"sensor.t": {EntityID: "sensor.t", State: "21.4"},
	})

	v, err := r.Read(context.Background(), directory.Source{EntityID: "sensor.t"})
	if err != nil {
		t.Fatal(err)
	}
	if v != 21.4 {
		t.Errorf("value = %v, want 21.4", v)
	}
}

func TestReadUnavailableState(t *testing.T) {
	r := newStatesRegistry(map[string]haState{
		"sensor.gone":    {EntityID: "sensor.gone", State: "unavailable"},
		"sensor.unknown": {EntityID: "sensor.unknown", State: "unknown"},
	})

	for _, id := range []string{"sensor.gone", "sensor.unknown", "sensor.missing"} {
		_, err := r.Read(context.Background(), directory.Source{EntityID: id})
		if !errors.Is(err, climate.ErrUnavailable) {
			t.Errorf("Read(%s) err = %v, want ErrUnavailable", id, err)
		}
	}
}

func TestReadAttributeValue(t *testing.T) {
	r := newStatesRegistry(map[string]haState{
		"climate.trv": {
			EntityID:   "climate.trv",
			State:      "heat",
			Attributes: map[string]any{"current_temperature": 20.5},
		},
	})

	src := directory.Source{EntityID: "climate.trv", Attribute: "current_temperature"}
	v, err := r.Read(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if v != 20.5 {
		t.Errorf("value = %v, want 20.5", v)
	}

	// A null or absent attribute is unavailable, not zero.
	src.Attribute = "target_temperature"
	if _, err := r.Read(context.Background(), src); !errors.Is(err, climate.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestReadNonNumericState(t *testing.T) {
	r := newStatesRegistry(map[string]haState{
		"sensor.t": {EntityID: "sensor.t", State: "warm"},
	})

	_, err := r.Read(context.Background(), directory.Source{EntityID: "sensor.t"})
	if err == nil || errors.Is(err, climate.ErrUnavailable) {
		t.Errorf("err = %v, want a parse error distinct from unavailable", err)
	}
}
