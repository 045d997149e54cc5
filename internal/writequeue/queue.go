// Package writequeue delivers attribute writes to battery-powered devices
// that are asleep most of the time. A write is attempted once immediately;
// on failure it is parked under its (device, cluster, attribute) key and
// retried with exponential backoff until it succeeds, is superseded by a
// newer value for the same key, exhausts its retry budget, or its device
// disappears from the directory.
package writequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"trv-manager/internal/directory"
	"trv-manager/internal/store"
	"trv-manager/internal/transport"
	"trv-manager/internal/zcl"
)

// Outcome is the immediate result of Submit.
type Outcome int

const (
	// OutcomeWritten: the device acknowledged the write.
	OutcomeWritten Outcome = iota
	// OutcomeQueued: the write failed and is parked for retry.
	OutcomeQueued
	// OutcomeDropped: the device no longer exists; nothing was queued.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWritten:
		return "written"
	case OutcomeQueued:
		return "queued"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Request is one desired attribute write.
type Request struct {
	DeviceID     string
	DeviceName   string
	Endpoint     uint8
	Cluster      uint16
	Attribute    uint16
	Manufacturer uint16
	Value        any
	Description  string
}

// Config tunes the retry policy.
type Config struct {
	BaseDelay   time.Duration // delay after the first failure
	MaxDelay    time.Duration // backoff ceiling
	MaxAttempts int           // failed retries before giving up
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Minute
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 4 * time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 20
	}
	return c
}

type key struct {
	device    string
	cluster   uint16
	attribute uint16
}

func (k key) String() string {
	return fmt.Sprintf("%s|0x%04X|0x%04X", k.device, k.cluster, k.attribute)
}

// entry is one parked write. gen changes on every replacement so a retry
// that raced with a supersession cannot touch the newer entry.
type entry struct {
	req         Request
	retries     int
	lastAttempt time.Time
	gen         uint64
}

// Queue owns the pending-write table. All mutation goes through Submit and
// Sweep; Snapshot exposes a read-only copy for diagnostics.
type Queue struct {
	transport transport.Transport
	dir       directory.Directory
	store     store.Store // optional; nil disables persistence
	names     *zcl.Registry
	logger    *slog.Logger
	cfg       Config

	mu      sync.Mutex
	pending map[key]*entry
	nextGen uint64
}

// New creates a write queue. st may be nil to run without persistence.
func New(tr transport.Transport, dir directory.Directory, st store.Store, names *zcl.Registry, logger *slog.Logger, cfg Config) *Queue {
	return &Queue{
		transport: tr,
		dir:       dir,
		store:     st,
		names:     names,
		logger:    logger.With("component", "writequeue"),
		cfg:       cfg.withDefaults(),
		pending:   make(map[key]*entry),
	}
}

// Load restores parked writes persisted by a previous run.
func (q *Queue) Load() error {
	if q.store == nil {
		return nil
	}
	recs, err := q.store.ListPending()
	if err != nil {
		return fmt.Errorf("list pending writes: %w", err)
	}

	q.mu.Lock()
	for _, rec := range recs {
		k := key{device: rec.DeviceID, cluster: rec.Cluster, attribute: rec.Attribute}
		q.nextGen++
		q.pending[k] = &entry{
			req: Request{
				DeviceID:     rec.DeviceID,
				DeviceName:   rec.DeviceName,
				Endpoint:     rec.Endpoint,
				Cluster:      rec.Cluster,
				Attribute:    rec.Attribute,
				Manufacturer: rec.Manufacturer,
				Value:        rec.Value,
				Description:  rec.Description,
			},
			retries:     rec.Retries,
			lastAttempt: rec.LastAttempt,
			gen:         q.nextGen,
		}
	}
	n := len(q.pending)
	q.mu.Unlock()

	if n > 0 {
		q.logger.Info("restored pending writes", "count", n)
	}
	return nil
}

// Submit attempts the write once. On failure the request is parked,
// replacing any previous request for the same key.
func (q *Queue) Submit(ctx context.Context, req Request) Outcome {
	k := key{device: req.DeviceID, cluster: req.Cluster, attribute: req.Attribute}

	ieee, err := q.dir.Resolve(ctx, req.DeviceID)
	if errors.Is(err, directory.ErrNotFound) {
		q.logger.Warn("device not in directory, dropping write",
			"device", req.DeviceName, "description", req.Description)
		q.remove(k, 0, true)
		return OutcomeDropped
	}
	if err != nil {
		// Directory unreachable: the device may well exist, park the write.
		q.logger.Warn("directory lookup failed, queueing write",
			"device", req.DeviceName, "err", err)
		q.park(k, req, time.Now())
		return OutcomeQueued
	}

	res := q.transport.WriteAttribute(ctx, q.addr(ieee, req), req.Value)
	if res.OK() {
		q.remove(k, 0, true)
		q.logger.Info("attribute written",
			"device", req.DeviceName,
			"cluster", q.names.ClusterName(req.Cluster),
			"attr", q.names.AttributeName(req.Cluster, req.Attribute),
			"value", req.Value,
			"description", req.Description)
		return OutcomeWritten
	}

	q.park(k, req, time.Now())
	q.logger.Warn("write failed, queued for retry",
		"device", req.DeviceName,
		"cluster", q.names.ClusterName(req.Cluster),
		"attr", q.names.AttributeName(req.Cluster, req.Attribute),
		"status", res.Status.String(),
		"err", res.Err)
	return OutcomeQueued
}

// Sweep retries every parked write whose backoff delay has elapsed. Each key
// is attempted at most once per sweep.
func (q *Queue) Sweep(ctx context.Context, now time.Time) {
	type attempt struct {
		k   key
		req Request
		gen uint64
	}

	q.mu.Lock()
	var due []attempt
	for k, e := range q.pending {
		if now.Sub(e.lastAttempt) >= q.delay(e.retries) {
			due = append(due, attempt{k: k, req: e.req, gen: e.gen})
		}
	}
	q.mu.Unlock()

	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool { return due[i].k.String() < due[j].k.String() })

	for _, a := range due {
		if ctx.Err() != nil {
			return
		}

		ieee, err := q.dir.Resolve(ctx, a.req.DeviceID)
		if errors.Is(err, directory.ErrNotFound) {
			// The device is gone, not unreachable: no failure is counted.
			if q.remove(a.k, a.gen, false) {
				q.logger.Debug("device left directory, discarding queued write",
					"device", a.req.DeviceName, "description", a.req.Description)
			}
			continue
		}
		if err != nil {
			q.logger.Warn("directory lookup failed during sweep",
				"device", a.req.DeviceName, "err", err)
			continue
		}

		res := q.transport.WriteAttribute(ctx, q.addr(ieee, a.req), a.req.Value)
		q.settle(a.k, a.gen, a.req, res, now)
	}
}

// settle applies one retry result, unless the entry was superseded while the
// write was in flight.
func (q *Queue) settle(k key, gen uint64, req Request, res transport.WriteResult, now time.Time) {
	q.mu.Lock()
	e, ok := q.pending[k]
	if !ok || e.gen != gen {
		q.mu.Unlock()
		// A newer request owns this key now; its value still needs delivery.
		q.logger.Debug("retry result discarded, entry superseded", "key", k.String())
		return
	}

	if res.OK() {
		delete(q.pending, k)
		q.mu.Unlock()
		q.deletePersisted(k)
		q.logger.Info("queued write delivered",
			"device", req.DeviceName,
			"cluster", q.names.ClusterName(req.Cluster),
			"attr", q.names.AttributeName(req.Cluster, req.Attribute),
			"value", req.Value,
			"retries", e.retries,
			"description", req.Description)
		return
	}

	e.retries++
	e.lastAttempt = now
	exhausted := e.retries >= q.cfg.MaxAttempts
	if exhausted {
		delete(q.pending, k)
	}
	q.mu.Unlock()

	if exhausted {
		q.deletePersisted(k)
		q.logger.Error("giving up on write after retry limit",
			"device", req.DeviceName,
			"cluster", q.names.ClusterName(req.Cluster),
			"attr", q.names.AttributeName(req.Cluster, req.Attribute),
			"retries", e.retries,
			"description", req.Description)
		return
	}

	q.persist(k, e)
	q.logger.Warn("retry failed",
		"device", req.DeviceName,
		"attr", q.names.AttributeName(req.Cluster, req.Attribute),
		"status", res.Status.String(),
		"retries", e.retries,
		"next_delay", q.delay(e.retries).String())
}

// park creates or replaces the entry for k. Replacement resets the retry
// count: the queue holds the latest desired value, never a history.
func (q *Queue) park(k key, req Request, now time.Time) {
	q.mu.Lock()
	q.nextGen++
	e := &entry{req: req, retries: 0, lastAttempt: now, gen: q.nextGen}
	q.pending[k] = e
	q.mu.Unlock()
	q.persist(k, e)
}

// remove deletes the entry for k. With force set the generation is ignored;
// otherwise only the matching generation is removed. Reports whether a delete
// happened.
func (q *Queue) remove(k key, gen uint64, force bool) bool {
	q.mu.Lock()
	e, ok := q.pending[k]
	if !ok || (!force && e.gen != gen) {
		q.mu.Unlock()
		return false
	}
	delete(q.pending, k)
	q.mu.Unlock()
	q.deletePersisted(k)
	return true
}

// delay returns the backoff for a given retry count, capped at MaxDelay.
func (q *Queue) delay(retries int) time.Duration {
	if retries > 32 {
		return q.cfg.MaxDelay
	}
	d := q.cfg.BaseDelay << uint(retries)
	if d <= 0 || d > q.cfg.MaxDelay {
		return q.cfg.MaxDelay
	}
	return d
}

func (q *Queue) addr(ieee string, req Request) transport.Request {
	return transport.Request{
		IEEE:         ieee,
		Endpoint:     req.Endpoint,
		Cluster:      req.Cluster,
		Attribute:    req.Attribute,
		Manufacturer: req.Manufacturer,
	}
}

func (q *Queue) persist(k key, e *entry) {
	if q.store == nil {
		return
	}
	rec := &store.PendingRecord{
		Key:          k.String(),
		DeviceID:     e.req.DeviceID,
		DeviceName:   e.req.DeviceName,
		Endpoint:     e.req.Endpoint,
		Cluster:      e.req.Cluster,
		Attribute:    e.req.Attribute,
		Manufacturer: e.req.Manufacturer,
		Value:        e.req.Value,
		Description:  e.req.Description,
		Retries:      e.retries,
		LastAttempt:  e.lastAttempt,
	}
	if err := q.store.SavePending(rec); err != nil {
		q.logger.Warn("persist pending write", "key", k.String(), "err", err)
	}
}

func (q *Queue) deletePersisted(k key) {
	if q.store == nil {
		return
	}
	if err := q.store.DeletePending(k.String()); err != nil {
		q.logger.Warn("delete persisted write", "key", k.String(), "err", err)
	}
}

// Len returns the number of parked writes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// PendingWrite is a read-only view of one parked write.
type PendingWrite struct {
	Key           string    `json:"key"`
	DeviceID      string    `json:"device_id"`
	DeviceName    string    `json:"device_name"`
	Cluster       string    `json:"cluster"`
	Attribute     string    `json:"attribute"`
	Value         any       `json:"value"`
	Description   string    `json:"description,omitempty"`
	Retries       int       `json:"retries"`
	LastAttempt   time.Time `json:"last_attempt"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// Snapshot returns the parked writes sorted by device name, then key.
func (q *Queue) Snapshot() []PendingWrite {
	q.mu.Lock()
	out := make([]PendingWrite, 0, len(q.pending))
	for k, e := range q.pending {
		out = append(out, PendingWrite{
			Key:           k.String(),
			DeviceID:      e.req.DeviceID,
			DeviceName:    e.req.DeviceName,
			Cluster:       q.names.ClusterName(e.req.Cluster),
			Attribute:     q.names.AttributeName(e.req.Cluster, e.req.Attribute),
			Value:         e.req.Value,
			Description:   e.req.Description,
			Retries:       e.retries,
			LastAttempt:   e.lastAttempt,
			NextAttemptAt: e.lastAttempt.Add(q.delay(e.retries)),
		})
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceName != out[j].DeviceName {
			return out[i].DeviceName < out[j].DeviceName
		}
		return out[i].Key < out[j].Key
	})
	return out
}
