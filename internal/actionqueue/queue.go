// Package actionqueue buffers host-addressed commands until a heartbeat
// cycle collects them.
//
// Each host owns a FIFO queue guarded by its own mutex, so producers and
// heartbeat consumers working on different hosts never contend. The
// host→queue map is guarded by a separate lock that is held only for
// lookup-or-create and removal.
package actionqueue

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/me/clusterq/internal/metrics"
	"github.com/me/clusterq/pkg/model"
)

// Queue maps host identities to their pending command queues. The zero value
// is not usable; construct with New.
type Queue struct {
	mu      sync.RWMutex
	hosts   map[string]*hostQueue
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an empty Queue. m may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Queue {
	return &Queue{
		hosts:   make(map[string]*hostQueue),
		logger:  logger.With("component", "actionqueue"),
		metrics: m,
	}
}

func (q *Queue) lookup(host string) *hostQueue {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.hosts[host]
}

func (q *Queue) lookupOrCreate(host string) *hostQueue {
	if hq := q.lookup(host); hq != nil {
		return hq
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if hq, ok := q.hosts[host]; ok {
		return hq
	}
	hq := newHostQueue(host, q.metrics)
	q.hosts[host] = hq
	q.logger.Debug("host queue created", "host", host)
	return hq
}

// Enqueue appends cmd to the host's queue, creating the queue on first use.
// If an equal command is already pending the call is a no-op and returns
// false.
func (q *Queue) Enqueue(host string, cmd model.Command) bool {
	for {
		hq := q.lookupOrCreate(host)
		added, depth, live := hq.push(cmd)
		if !live {
			// Removed between lookup and push; the next lookup creates a
			// fresh queue.
			continue
		}
		if !added {
			q.logger.Warn("command already queued, not adding again",
				"host", host, "key", cmd.Key().String(), "command_id", cmd.ID)
			q.metrics.CommandDuplicate()
			return false
		}
		q.logger.Debug("command enqueued", "host", host, "command_id", cmd.ID, "kind", cmd.Kind, "depth", depth)
		return true
	}
}

// Dequeue removes and returns the head command for host. It returns
// model.ErrEmptyQueue if the host has no queue or nothing is pending.
func (q *Queue) Dequeue(host string) (model.Command, error) {
	hq := q.lookup(host)
	if hq == nil {
		return model.Command{}, fmt.Errorf("host %s: %w", host, model.ErrEmptyQueue)
	}
	cmd, _, ok := hq.pop()
	if !ok {
		return model.Command{}, fmt.Errorf("host %s: %w", host, model.ErrEmptyQueue)
	}
	return cmd, nil
}

// DequeueAll atomically removes and returns every pending command for host
// in delivery order. It never fails: an unknown host or an empty queue
// yields an empty slice.
func (q *Queue) DequeueAll(host string) []model.Command {
	hq := q.lookup(host)
	if hq == nil {
		q.logger.Debug("no queue for host", "host", host)
		return []model.Command{}
	}
	cmds := hq.drain()
	if len(cmds) > 0 {
		q.logger.Debug("dequeued all commands", "host", host, "count", len(cmds))
	}
	return cmds
}

// Size returns the number of pending commands for host. It returns
// model.ErrUnknownHost when no queue was ever created for host, which is
// distinct from an existing queue with nothing pending.
func (q *Queue) Size(host string) (int, error) {
	hq := q.lookup(host)
	if hq == nil {
		return 0, fmt.Errorf("host %s: %w", host, model.ErrUnknownHost)
	}
	return hq.size(), nil
}

// Remove deletes the host's queue and returns the commands that were still
// pending. Enqueues racing with Remove land in a new queue, never in the
// removed one.
func (q *Queue) Remove(host string) []model.Command {
	q.mu.Lock()
	hq, ok := q.hosts[host]
	delete(q.hosts, host)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	orphaned := hq.close()
	q.metrics.QueueRemoved(host)
	q.logger.Info("host queue removed", "host", host, "orphaned", len(orphaned))
	return orphaned
}

// Hosts returns the sorted identities of all hosts with a queue.
func (q *Queue) Hosts() []string {
	q.mu.RLock()
	hosts := make([]string, 0, len(q.hosts))
	for h := range q.hosts {
		hosts = append(hosts, h)
	}
	q.mu.RUnlock()
	sort.Strings(hosts)
	return hosts
}
