package directory

import (
	"strconv"
	"strings"
)

// Kind identifies a climate measurement series.
type Kind string

const (
	KindTemperature Kind = "temperature"
	KindHumidity    Kind = "humidity"
)

// Label names recognised on directory devices.
const (
	// LabelRadiatorCovered asserts the radiator-covered hardware flag on a TRV.
	LabelRadiatorCovered = "radiator_covered"

	// sensorWeightPrefix marks a device as an externally weighted climate
	// sensor, e.g. "sensor_weight_1.5".
	sensorWeightPrefix = "sensor_weight_"
)

// Source describes where a measurement value lives. A sensor entity carries
// the value as its state; a climate entity carries it as a named attribute
// of its state.
type Source struct {
	EntityID  string `json:"entity_id"`
	Attribute string `json:"attribute,omitempty"` // empty: the state is the value
}

// Device is one entry of the directory snapshot.
type Device struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Model    string          `json:"model,omitempty"`
	IEEE     string          `json:"ieee,omitempty"`
	AreaID   string          `json:"area_id,omitempty"`
	AreaName string          `json:"area_name,omitempty"`
	Labels   []string        `json:"labels,omitempty"`
	Sources  map[Kind]Source `json:"sources,omitempty"`
}

// HasLabel reports whether the device carries the exact label.
func (d *Device) HasLabel(label string) bool {
	for _, l := range d.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// SensorWeight returns the weight declared by a sensor_weight_<float> label.
// The second return is false when no such label exists or the suffix does
// not parse as a number.
func (d *Device) SensorWeight() (float64, bool) {
	for _, l := range d.Labels {
		if !strings.HasPrefix(l, sensorWeightPrefix) {
			continue
		}
		w, err := strconv.ParseFloat(strings.TrimPrefix(l, sensorWeightPrefix), 64)
		if err != nil {
			return 0, false
		}
		return w, true
	}
	return 0, false
}

// Source returns the measurement source for a kind, if the device has one.
func (d *Device) Source(kind Kind) (Source, bool) {
	src, ok := d.Sources[kind]
	return src, ok
}
