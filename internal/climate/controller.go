// Package climate runs the room regulation cycle: it collects weighted
// sensor readings per area, publishes the aggregates, and feeds the area
// temperature back into the radiator valves as their external room sensor.
package climate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"trv-manager/internal/directory"
	"trv-manager/internal/writequeue"
	"trv-manager/internal/zcl"
)

// ErrUnavailable marks a sensor whose current state is unknown. Such
// readings are excluded from aggregation instead of being treated as zero.
var ErrUnavailable = errors.New("measurement unavailable")

// Measurements reads the current value behind a measurement source.
type Measurements interface {
	Read(ctx context.Context, src directory.Source) (float64, error)
}

// Publisher receives the per-area aggregates.
type Publisher interface {
	PublishReading(ctx context.Context, area string, kind directory.Kind, value float64) error
	PublishUnavailable(ctx context.Context, area string, kind directory.Kind) error
}

// Submitter hands feedback writes to the write queue.
type Submitter interface {
	Submit(ctx context.Context, req writequeue.Request) writequeue.Outcome
}

// Transformer optionally adjusts an aggregate before it is used. The
// returned value replaces the input; implementations must be total.
type Transformer interface {
	Adjust(area string, kind directory.Kind, value float64) float64
}

// Config tunes the regulation cycle.
type Config struct {
	// ControlledModels lists device models that receive feedback writes.
	ControlledModels []string
	// IncludeInternal mixes the valves' own temperature sensors into the
	// aggregate at InternalWeight. When false only labelled external
	// sensors contribute.
	IncludeInternal bool
	InternalWeight  float64
}

func (c Config) withDefaults() Config {
	if len(c.ControlledModels) == 0 {
		c.ControlledModels = []string{"eTRV0103"}
	}
	if c.InternalWeight <= 0 {
		c.InternalWeight = 1.0
	}
	return c
}

// AreaReading is the diagnostic view of one area after a cycle.
type AreaReading struct {
	Area        string    `json:"area"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Sensors     int       `json:"sensors"`
	Valves      int       `json:"valves"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Controller owns the regulation cycle. One cycle is a single directory
// snapshot worked to completion; devices appearing mid-cycle wait for the
// next one.
type Controller struct {
	dir       directory.Directory
	meas      Measurements
	pub       Publisher
	queue     Submitter
	transform Transformer // optional
	logger    *slog.Logger
	cfg       Config

	mu   sync.Mutex
	last []AreaReading
}

func NewController(dir directory.Directory, meas Measurements, pub Publisher, queue Submitter, transform Transformer, logger *slog.Logger, cfg Config) *Controller {
	return &Controller{
		dir:       dir,
		meas:      meas,
		pub:       pub,
		queue:     queue,
		transform: transform,
		logger:    logger.With("component", "climate"),
		cfg:       cfg.withDefaults(),
	}
}

type areaState struct {
	name    string
	valves  []directory.Device
	samples map[directory.Kind][]Sample
	sensors int
}

// RunCycle executes one full regulation pass. All areas are published before
// any feedback write goes out, so the published state never lags behind what
// the valves are told.
func (c *Controller) RunCycle(ctx context.Context) error {
	devices, err := c.dir.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot directory: %w", err)
	}

	areas := c.collect(ctx, devices)

	names := make([]string, 0, len(areas))
	for name := range areas {
		names = append(names, name)
	}
	sort.Strings(names)

	type feedback struct {
		area   string
		valves []directory.Device
		value  int16
	}
	var (
		writes   []feedback
		readings []AreaReading
		now      = time.Now()
	)

	// Phase one: publish every area.
	for _, name := range names {
		a := areas[name]
		reading := AreaReading{Area: name, Sensors: a.sensors, Valves: len(a.valves), UpdatedAt: now}

		temp, haveTemp := Aggregate(a.samples[directory.KindTemperature])
		if haveTemp {
			temp = c.adjust(name, directory.KindTemperature, temp)
			reading.Temperature = &temp
			c.publish(ctx, name, directory.KindTemperature, temp)
		} else {
			// Temperature is announced as unavailable so consumers can
			// tell "no sensors" from "stale value".
			if err := c.pub.PublishUnavailable(ctx, name, directory.KindTemperature); err != nil {
				c.logger.Warn("publish unavailable failed", "area", name, "err", err)
			}
		}

		hum, haveHum := Aggregate(a.samples[directory.KindHumidity])
		if haveHum {
			hum = c.adjust(name, directory.KindHumidity, hum)
			reading.Humidity = &hum
			c.publish(ctx, name, directory.KindHumidity, hum)
		}
		// No humidity data is simply not published.

		readings = append(readings, reading)

		if len(a.valves) > 0 {
			value := zcl.ExternalSensorDisabled
			if haveTemp {
				value = EncodeCentiDegrees(temp)
			}
			writes = append(writes, feedback{area: name, valves: a.valves, value: value})
		}
	}

	c.mu.Lock()
	c.last = readings
	c.mu.Unlock()

	// Phase two: feed the aggregates back into the valves.
	for _, w := range writes {
		desc := fmt.Sprintf("external temperature for %s", w.area)
		if w.value == zcl.ExternalSensorDisabled {
			desc = fmt.Sprintf("disable external sensor for %s", w.area)
		}
		for _, valve := range w.valves {
			c.queue.Submit(ctx, writequeue.Request{
				DeviceID:     valve.ID,
				DeviceName:   valve.Name,
				Endpoint:     zcl.DefaultEndpoint,
				Cluster:      zcl.ClusterThermostat,
				Attribute:    zcl.AttrExternalMeasuredRoomSensor,
				Manufacturer: zcl.ManufacturerDanfoss,
				Value:        w.value,
				Description:  desc,
			})
		}
	}

	c.logger.Info("regulation cycle complete", "areas", len(names), "feedback_writes", len(writes))
	return nil
}

// collect partitions the snapshot into per-area valves and samples.
func (c *Controller) collect(ctx context.Context, devices []directory.Device) map[string]*areaState {
	areas := make(map[string]*areaState)
	area := func(d directory.Device) *areaState {
		a, ok := areas[d.AreaName]
		if !ok {
			a = &areaState{name: d.AreaName, samples: make(map[directory.Kind][]Sample)}
			areas[d.AreaName] = a
		}
		return a
	}

	for _, d := range devices {
		if d.AreaName == "" {
			continue // unassigned devices take no part in regulation
		}

		if c.isControlled(d) {
			a := area(d)
			a.valves = append(a.valves, d)
			if c.cfg.IncludeInternal {
				if src, ok := d.Source(directory.KindTemperature); ok {
					if v, ok := c.read(ctx, d, src); ok {
						a.samples[directory.KindTemperature] = append(
							a.samples[directory.KindTemperature],
							Sample{Value: v, Weight: c.cfg.InternalWeight})
						a.sensors++
					}
				}
			}
			continue
		}

		weight, ok := d.SensorWeight()
		if !ok {
			continue
		}
		a := area(d)
		counted := false
		for _, kind := range []directory.Kind{directory.KindTemperature, directory.KindHumidity} {
			src, ok := d.Source(kind)
			if !ok {
				continue
			}
			v, ok := c.read(ctx, d, src)
			if !ok {
				continue
			}
			a.samples[kind] = append(a.samples[kind], Sample{Value: v, Weight: weight})
			counted = true
		}
		if counted {
			a.sensors++
		}
	}
	return areas
}

func (c *Controller) isControlled(d directory.Device) bool {
	for _, m := range c.cfg.ControlledModels {
		if d.Model == m {
			return true
		}
	}
	return false
}

// read fetches one measurement, treating unavailable state as a silent skip.
func (c *Controller) read(ctx context.Context, d directory.Device, src directory.Source) (float64, bool) {
	v, err := c.meas.Read(ctx, src)
	if errors.Is(err, ErrUnavailable) {
		c.logger.Debug("sensor unavailable", "device", d.Name, "entity", src.EntityID)
		return 0, false
	}
	if err != nil {
		c.logger.Warn("read measurement failed", "device", d.Name, "entity", src.EntityID, "err", err)
		return 0, false
	}
	return v, true
}

func (c *Controller) adjust(area string, kind directory.Kind, value float64) float64 {
	if c.transform == nil {
		return value
	}
	return c.transform.Adjust(area, kind, value)
}

func (c *Controller) publish(ctx context.Context, area string, kind directory.Kind, value float64) {
	if err := c.pub.PublishReading(ctx, area, kind, value); err != nil {
		c.logger.Warn("publish reading failed", "area", area, "kind", string(kind), "err", err)
	}
}

// Readings returns the areas from the most recent cycle.
func (c *Controller) Readings() []AreaReading {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AreaReading, len(c.last))
	copy(out, c.last)
	return out
}
