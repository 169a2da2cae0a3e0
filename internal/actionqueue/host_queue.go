package actionqueue

import (
	"sync"

	"github.com/me/clusterq/internal/metrics"
	"github.com/me/clusterq/pkg/model"
)

// hostQueue is the FIFO of one host. keys mirrors items for O(1) duplicate
// detection and always holds exactly the keys of items. The depth gauge is
// written under mu so it always reflects the last mutation.
type hostQueue struct {
	mu      sync.Mutex
	host    string
	items   []model.Command
	keys    map[model.CommandKey]struct{}
	removed bool
	metrics *metrics.Metrics
}

func newHostQueue(host string, m *metrics.Metrics) *hostQueue {
	return &hostQueue{host: host, keys: make(map[model.CommandKey]struct{}), metrics: m}
}

// push appends cmd unless a duplicate is pending. live is false if the
// queue was removed from its Queue; nothing is appended in that case.
func (h *hostQueue) push(cmd model.Command) (added bool, depth int, live bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.removed {
		return false, 0, false
	}
	key := cmd.Key()
	if _, dup := h.keys[key]; dup {
		return false, len(h.items), true
	}
	h.keys[key] = struct{}{}
	h.items = append(h.items, cmd)
	h.metrics.CommandEnqueued(h.host, len(h.items))
	return true, len(h.items), true
}

func (h *hostQueue) pop() (model.Command, int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == 0 {
		return model.Command{}, 0, false
	}
	cmd := h.items[0]
	h.items[0] = model.Command{}
	h.items = h.items[1:]
	delete(h.keys, cmd.Key())
	h.metrics.CommandsDrained(h.host, 1, len(h.items))
	return cmd, len(h.items), true
}

// drain swaps out the backing slice so the result is detached from any
// later push.
func (h *hostQueue) drain() []model.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) == 0 {
		return []model.Command{}
	}
	cmds := h.items
	h.items = nil
	clear(h.keys)
	h.metrics.CommandsDrained(h.host, len(cmds), 0)
	return cmds
}

func (h *hostQueue) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

func (h *hostQueue) close() []model.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = true
	cmds := h.items
	h.items = nil
	clear(h.keys)
	return cmds
}
