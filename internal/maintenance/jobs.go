// Package maintenance holds the periodic housekeeping jobs for the radiator
// valves: clock sync, the radiator-covered flag, and load balancing. Jobs
// read over the mesh directly but route all writes through the write queue
// so a sleeping valve does not lose the update.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trv-manager/internal/directory"
	"trv-manager/internal/transport"
	"trv-manager/internal/writequeue"
	"trv-manager/internal/zcl"
)

// zigbeeEpoch is the zero point of the ZCL UTCTime type.
var zigbeeEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Submitter hands writes to the write queue.
type Submitter interface {
	Submit(ctx context.Context, req writequeue.Request) writequeue.Outcome
}

// Config tunes which devices the jobs touch.
type Config struct {
	Models []string
}

func (c Config) withDefaults() Config {
	if len(c.Models) == 0 {
		c.Models = []string{"eTRV0103"}
	}
	return c
}

// Jobs runs the housekeeping passes. Each pass works a fresh directory
// snapshot and isolates per-device failures: one unreachable valve never
// stops the rest.
type Jobs struct {
	dir       directory.Directory
	transport transport.Transport
	queue     Submitter
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

func NewJobs(dir directory.Directory, tr transport.Transport, queue Submitter, logger *slog.Logger, cfg Config) *Jobs {
	return &Jobs{
		dir:       dir,
		transport: tr,
		queue:     queue,
		logger:    logger.With("component", "maintenance"),
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// valves returns the controlled devices from a fresh snapshot.
func (j *Jobs) valves(ctx context.Context) ([]directory.Device, error) {
	devices, err := j.dir.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot directory: %w", err)
	}
	var out []directory.Device
	for _, d := range devices {
		for _, m := range j.cfg.Models {
			if d.Model == m {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

// SyncTime pushes the current UTC time to every valve. The valves use it for
// their open-window and scheduling features; it is written unconditionally
// because reading the clock first would cost a second mesh round trip for no
// benefit.
func (j *Jobs) SyncTime(ctx context.Context) error {
	valves, err := j.valves(ctx)
	if err != nil {
		return err
	}

	utc := uint32(j.now().UTC().Sub(zigbeeEpoch) / time.Second)
	for _, v := range valves {
		j.queue.Submit(ctx, writequeue.Request{
			DeviceID:    v.ID,
			DeviceName:  v.Name,
			Endpoint:    zcl.DefaultEndpoint,
			Cluster:     zcl.ClusterTime,
			Attribute:   zcl.AttrTimeUTC,
			Value:       utc,
			Description: "clock sync",
		})
	}
	j.logger.Info("time sync submitted", "valves", len(valves), "utc", utc)
	return nil
}

// CorrectRadiatorCovered aligns each valve's radiator-covered flag with its
// directory label. The flag changes how the valve models room temperature,
// so it is only written when it actually differs.
func (j *Jobs) CorrectRadiatorCovered(ctx context.Context) error {
	valves, err := j.valves(ctx)
	if err != nil {
		return err
	}

	for _, v := range valves {
		want := v.HasLabel(directory.LabelRadiatorCovered)

		raw, err := j.read(ctx, v, zcl.AttrRadiatorCovered)
		if err != nil {
			j.logger.Warn("read radiator covered failed", "device", v.Name, "err", err)
			continue
		}
		current, ok := asBool(raw)
		if !ok {
			j.logger.Warn("radiator covered has unexpected value", "device", v.Name, "value", raw)
			continue
		}
		if current == want {
			continue
		}

		j.logger.Info("correcting radiator covered", "device", v.Name, "from", current, "to", want)
		j.queue.Submit(ctx, writequeue.Request{
			DeviceID:     v.ID,
			DeviceName:   v.Name,
			Endpoint:     zcl.DefaultEndpoint,
			Cluster:      zcl.ClusterThermostat,
			Attribute:    zcl.AttrRadiatorCovered,
			Manufacturer: zcl.ManufacturerDanfoss,
			Value:        want,
			Description:  fmt.Sprintf("radiator covered = %v", want),
		})
	}
	return nil
}

// DisableLoadBalancing turns off the valves' load balancing. Balancing
// fights the external room sensor feedback, so it must stay off; valves
// re-enable it after a factory reset or firmware update.
func (j *Jobs) DisableLoadBalancing(ctx context.Context) error {
	valves, err := j.valves(ctx)
	if err != nil {
		return err
	}

	for _, v := range valves {
		raw, err := j.read(ctx, v, zcl.AttrLoadBalancingEnable)
		if err != nil {
			j.logger.Warn("read load balancing failed", "device", v.Name, "err", err)
			continue
		}
		enabled, ok := asBool(raw)
		if !ok {
			j.logger.Warn("load balancing has unexpected value", "device", v.Name, "value", raw)
			continue
		}
		if !enabled {
			continue
		}

		j.logger.Info("disabling load balancing", "device", v.Name)
		j.queue.Submit(ctx, writequeue.Request{
			DeviceID:     v.ID,
			DeviceName:   v.Name,
			Endpoint:     zcl.DefaultEndpoint,
			Cluster:      zcl.ClusterThermostat,
			Attribute:    zcl.AttrLoadBalancingEnable,
			Manufacturer: zcl.ManufacturerDanfoss,
			Value:        false,
			Description:  "disable load balancing",
		})
	}
	return nil
}

func (j *Jobs) read(ctx context.Context, v directory.Device, attr uint16) (any, error) {
	if v.IEEE == "" {
		return nil, fmt.Errorf("device %s has no ieee address", v.Name)
	}
	return j.transport.ReadAttribute(ctx, transport.Request{
		IEEE:         v.IEEE,
		Endpoint:     zcl.DefaultEndpoint,
		Cluster:      zcl.ClusterThermostat,
		Attribute:    attr,
		Manufacturer: zcl.ManufacturerDanfoss,
	})
}

// asBool interprets the loosely typed values the mesh returns for boolean
// attributes. JSON decoding yields float64 for numbers.
func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	case int:
		return x != 0, true
	case int64:
		return x != 0, true
	case uint8:
		return x != 0, true
	default:
		return false, false
	}
}
