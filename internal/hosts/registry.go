// Package hosts tracks managed hosts and their liveness.
//
// Each host carries a small liveness FSM (healthy, lost, decommissioned).
// Heartbeats keep a host healthy; Sweep marks hosts lost when they stop
// heartbeating; Decommission retires a host and drops its action queue.
package hosts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/me/clusterq/internal/metrics"
	"github.com/me/clusterq/pkg/model"
)

// Queue is the subset of the action queue the registry needs.
type Queue interface {
	Size(host string) (int, error)
	Remove(host string) []model.Command
}

// Config holds registry configuration.
type Config struct {
	HostTimeout time.Duration // silence after which a healthy host is marked lost
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{HostTimeout: 90 * time.Second}
}

// Registry owns the set of known hosts.
type Registry struct {
	mu      sync.RWMutex
	hosts   map[string]*record
	queue   Queue
	config  Config
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type record struct {
	mu       sync.Mutex
	host     model.Host
	liveness *fsm.FSM
}

// Option configures optional Registry dependencies.
type Option func(*Registry)

// WithClock overrides the clock used for LastSeen stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithMetrics publishes host counts per state after every change.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty Registry backed by queue.
func NewRegistry(queue Queue, cfg Config, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		hosts:  make(map[string]*record),
		queue:  queue,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "hosts"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a host or refreshes an existing one. A lost or
// decommissioned host becomes healthy again.
func (r *Registry) Register(ctx context.Context, reg model.HostRegistration) (model.Host, error) {
	now := r.now()

	r.mu.Lock()
	rec, ok := r.hosts[reg.Name]
	if !ok {
		rec = &record{
			host: model.Host{
				Name:         reg.Name,
				State:        model.HostStateHealthy,
				RegisteredAt: now,
			},
			liveness: newLiveness(reg.Name, r.logger),
		}
		r.hosts[reg.Name] = rec
	}
	r.mu.Unlock()

	rec.mu.Lock()
	if ok {
		if err := fire(ctx, rec.liveness, EventRegister); err != nil {
			rec.mu.Unlock()
			return model.Host{}, fmt.Errorf("register host %s: %w", reg.Name, err)
		}
	}
	rec.host.Address = reg.Address
	rec.host.OS = reg.OS
	rec.host.Labels = reg.Labels
	rec.host.LastSeen = now
	rec.host.State = model.HostState(rec.liveness.Current())
	host := r.snapshot(rec)
	rec.mu.Unlock()

	if !ok {
		r.logger.Info("host registered", "host", reg.Name, "address", reg.Address)
	}
	r.publish()
	return host, nil
}

// Heartbeat records that the host's agent checked in. It returns
// model.ErrUnknownHost for hosts that never registered and
// model.ErrHostDecommissioned for retired hosts.
func (r *Registry) Heartbeat(ctx context.Context, name string) (model.Host, error) {
	rec := r.lookup(name)
	if rec == nil {
		return model.Host{}, fmt.Errorf("host %s: %w", name, model.ErrUnknownHost)
	}

	rec.mu.Lock()
	if rec.host.State == model.HostStateDecommissioned {
		rec.mu.Unlock()
		return model.Host{}, fmt.Errorf("host %s: %w", name, model.ErrHostDecommissioned)
	}
	prev := rec.host.State
	if err := fire(ctx, rec.liveness, EventHeartbeat); err != nil {
		rec.mu.Unlock()
		return model.Host{}, fmt.Errorf("heartbeat host %s: %w", name, err)
	}
	rec.host.LastSeen = r.now()
	rec.host.State = model.HostState(rec.liveness.Current())
	host := r.snapshot(rec)
	rec.mu.Unlock()

	if prev != host.State {
		r.publish()
	}
	return host, nil
}

// Sweep marks healthy hosts lost when their last heartbeat is older than
// the configured host timeout. It returns the names of hosts it expired.
func (r *Registry) Sweep(ctx context.Context, now time.Time) []string {
	var expired []string
	for _, rec := range r.records() {
		rec.mu.Lock()
		if rec.host.State == model.HostStateHealthy && now.Sub(rec.host.LastSeen) > r.config.HostTimeout {
			if err := fire(ctx, rec.liveness, EventExpire); err != nil {
				r.logger.Error("expire host", "host", rec.host.Name, "error", err)
			} else {
				rec.host.State = model.HostState(rec.liveness.Current())
				expired = append(expired, rec.host.Name)
			}
		}
		rec.mu.Unlock()
	}
	if len(expired) > 0 {
		sort.Strings(expired)
		r.logger.Warn("hosts lost", "hosts", expired)
		r.publish()
	}
	return expired
}

// Decommission retires a host and removes its action queue. It returns the
// commands that were still pending for the host. Decommissioning an already
// retired host is a no-op.
func (r *Registry) Decommission(ctx context.Context, name string) ([]model.Command, error) {
	rec := r.lookup(name)
	if rec == nil {
		return nil, fmt.Errorf("host %s: %w", name, model.ErrUnknownHost)
	}

	rec.mu.Lock()
	if rec.host.State == model.HostStateDecommissioned {
		rec.mu.Unlock()
		return nil, nil
	}
	if err := fire(ctx, rec.liveness, EventDecommission); err != nil {
		rec.mu.Unlock()
		return nil, fmt.Errorf("decommission host %s: %w", name, err)
	}
	rec.host.State = model.HostState(rec.liveness.Current())
	rec.mu.Unlock()

	orphaned := r.queue.Remove(name)
	r.logger.Info("host decommissioned", "host", name, "orphaned_commands", len(orphaned))
	r.publish()
	return orphaned, nil
}

// Get returns a snapshot of the named host.
func (r *Registry) Get(name string) (model.Host, bool) {
	rec := r.lookup(name)
	if rec == nil {
		return model.Host{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return r.snapshot(rec), true
}

// List returns snapshots of all hosts sorted by name.
func (r *Registry) List() []model.Host {
	recs := r.records()
	out := make([]model.Host, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, r.snapshot(rec))
		rec.mu.Unlock()
	}
	return out
}

func (r *Registry) lookup(name string) *record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hosts[name]
}

// records returns all records sorted by host name.
func (r *Registry) records() []*record {
	r.mu.RLock()
	names := make([]string, 0, len(r.hosts))
	for name := range r.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	recs := make([]*record, 0, len(names))
	for _, name := range names {
		recs = append(recs, r.hosts[name])
	}
	r.mu.RUnlock()
	return recs
}

// snapshot copies the host and fills in its pending queue depth. Callers
// hold rec.mu.
func (r *Registry) snapshot(rec *record) model.Host {
	h := rec.host
	if h.Labels != nil {
		labels := make(map[string]string, len(h.Labels))
		for k, v := range h.Labels {
			labels[k] = v
		}
		h.Labels = labels
	}
	if n, err := r.queue.Size(h.Name); err == nil {
		h.Pending = n
	}
	return h
}

func (r *Registry) publish() {
	if r.metrics == nil {
		return
	}
	counts := map[string]int{
		stateHealthy:        0,
		stateLost:           0,
		stateDecommissioned: 0,
	}
	for _, h := range r.List() {
		counts[h.State.String()]++
	}
	r.metrics.HostStates(counts)
}
