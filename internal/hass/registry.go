package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"trv-manager/internal/climate"
	"trv-manager/internal/directory"
)

// raw registry shapes, trimmed to the fields we read.

type haDevice struct {
	ID          string     `json:"id"`
	AreaID      string     `json:"area_id"`
	Name        string     `json:"name"`
	NameByUser  string     `json:"name_by_user"`
	Model       string     `json:"model"`
	Labels      []string   `json:"labels"`
	Identifiers [][]string `json:"identifiers"`
}

type haEntity struct {
	EntityID    string   `json:"entity_id"`
	DeviceID    string   `json:"device_id"`
	AreaID      string   `json:"area_id"`
	DisabledBy  *string  `json:"disabled_by"`
	Labels      []string `json:"labels"`
	DeviceClass string   `json:"original_device_class"`
}

type haArea struct {
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
}

type haState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Registry builds the device directory from the Home Assistant device, entity
// and area registries, and answers measurement reads from the entity states
// fetched alongside. One Snapshot is one consistent view; Read always answers
// from the snapshot backing the caller's current cycle.
type Registry struct {
	client *Client
	logger *slog.Logger
	ttl    time.Duration

	mu       sync.Mutex
	devices  []directory.Device
	ieeeByID map[string]string
	states   map[string]haState
	fetched  time.Time
}

// NewRegistry creates a directory over the given client. ttl bounds how long
// a snapshot is reused before the registries are fetched again; zero means
// 30 seconds.
func NewRegistry(client *Client, ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Registry{
		client: client,
		logger: logger.With("component", "directory"),
		ttl:    ttl,
	}
}

// Snapshot implements directory.Directory.
func (r *Registry) Snapshot(ctx context.Context) ([]directory.Device, error) {
	if err := r.refresh(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]directory.Device, len(r.devices))
	copy(out, r.devices)
	return out, nil
}

// Resolve implements directory.Directory.
func (r *Registry) Resolve(ctx context.Context, deviceID string) (string, error) {
	if err := r.refresh(ctx); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ieee, ok := r.ieeeByID[deviceID]
	if !ok {
		return "", directory.ErrNotFound
	}
	if ieee == "" {
		return "", fmt.Errorf("device %s has no zigbee address: %w", deviceID, directory.ErrNotFound)
	}
	return ieee, nil
}

// Read implements climate.Measurements against the cached states.
func (r *Registry) Read(ctx context.Context, src directory.Source) (float64, error) {
	r.mu.Lock()
	st, ok := r.states[src.EntityID]
	r.mu.Unlock()
	if !ok {
		return 0, climate.ErrUnavailable
	}

	if src.Attribute == "" {
		if st.State == "unavailable" || st.State == "unknown" {
			return 0, climate.ErrUnavailable
		}
		v, err := strconv.ParseFloat(st.State, 64)
		if err != nil {
			return 0, fmt.Errorf("state of %s is not numeric: %q", src.EntityID, st.State)
		}
		return v, nil
	}

	raw, ok := st.Attributes[src.Attribute]
	if !ok || raw == nil {
		return 0, climate.ErrUnavailable
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("attribute %s of %s is not numeric: %v", src.Attribute, src.EntityID, raw)
	}
	return v, nil
}

func (r *Registry) refresh(ctx context.Context) error {
	r.mu.Lock()
	fresh := time.Since(r.fetched) < r.ttl && r.devices != nil
	r.mu.Unlock()
	if fresh {
		return nil
	}

	var devices []haDevice
	if err := r.list(ctx, "config/device_registry/list", &devices); err != nil {
		return err
	}
	var entities []haEntity
	if err := r.list(ctx, "config/entity_registry/list", &entities); err != nil {
		return err
	}
	var areas []haArea
	if err := r.list(ctx, "config/area_registry/list", &areas); err != nil {
		return err
	}
	var states []haState
	if err := r.list(ctx, "get_states", &states); err != nil {
		return err
	}

	built, ieeeByID := build(devices, entities, areas)
	stateMap := make(map[string]haState, len(states))
	for _, st := range states {
		stateMap[st.EntityID] = st
	}

	r.mu.Lock()
	r.devices = built
	r.ieeeByID = ieeeByID
	r.states = stateMap
	r.fetched = time.Now()
	r.mu.Unlock()

	r.logger.Debug("directory refreshed", "devices", len(built), "states", len(states))
	return nil
}

func (r *Registry) list(ctx context.Context, command string, out any) error {
	raw, err := r.client.Call(ctx, map[string]any{"type": command})
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", command, err)
	}
	return nil
}

// build joins the three registries into directory devices.
func build(devices []haDevice, entities []haEntity, areas []haArea) ([]directory.Device, map[string]string) {
	areaNames := make(map[string]string, len(areas))
	for _, a := range areas {
		areaNames[a.AreaID] = a.Name
	}

	byDevice := make(map[string][]haEntity)
	for _, e := range entities {
		if e.DeviceID == "" || e.DisabledBy != nil {
			continue
		}
		byDevice[e.DeviceID] = append(byDevice[e.DeviceID], e)
	}

	out := make([]directory.Device, 0, len(devices))
	ieeeByID := make(map[string]string, len(devices))
	for _, hd := range devices {
		d := directory.Device{
			ID:     hd.ID,
			Name:   hd.Name,
			Model:  hd.Model,
			AreaID: hd.AreaID,
			IEEE:   zhaIdentifier(hd.Identifiers),
			Labels: append([]string(nil), hd.Labels...),
		}
		if hd.NameByUser != "" {
			d.Name = hd.NameByUser
		}

		var climateEntity string
		for _, e := range byDevice[hd.ID] {
			d.Labels = append(d.Labels, e.Labels...)
			// An entity's own area fills in when the device has none.
			if d.AreaID == "" && e.AreaID != "" {
				d.AreaID = e.AreaID
			}

			domain, _, ok := strings.Cut(e.EntityID, ".")
			if !ok {
				continue
			}
			switch domain {
			case "sensor":
				switch e.DeviceClass {
				case "temperature":
					d.Sources = setSource(d.Sources, directory.KindTemperature,
						directory.Source{EntityID: e.EntityID})
				case "humidity":
					d.Sources = setSource(d.Sources, directory.KindHumidity,
						directory.Source{EntityID: e.EntityID})
				}
			case "climate":
				climateEntity = e.EntityID
			}
		}
		// A thermostat's own reading lives in a state attribute; a dedicated
		// temperature sensor entity on the same device takes precedence.
		if climateEntity != "" {
			d.Sources = setSource(d.Sources, directory.KindTemperature,
				directory.Source{EntityID: climateEntity, Attribute: "current_temperature"})
		}

		d.AreaName = areaNames[d.AreaID]
		ieeeByID[d.ID] = d.IEEE
		out = append(out, d)
	}
	return out, ieeeByID
}

func setSource(m map[directory.Kind]directory.Source, kind directory.Kind, src directory.Source) map[directory.Kind]directory.Source {
	if m == nil {
		m = make(map[directory.Kind]directory.Source)
	}
	if _, ok := m[kind]; !ok {
		m[kind] = src
	}
	return m
}

// zhaIdentifier extracts the IEEE address from a device's identifier tuples.
func zhaIdentifier(identifiers [][]string) string {
	for _, id := range identifiers {
		if len(id) == 2 && id[0] == "zha" {
			return id[1]
		}
	}
	return ""
}
