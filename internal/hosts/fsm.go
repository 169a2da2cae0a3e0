package hosts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/looplab/fsm"
	"github.com/me/clusterq/pkg/model"
)

// Liveness events.
const (
	EventRegister     = "register"
	EventHeartbeat    = "heartbeat"
	EventExpire       = "expire"
	EventDecommission = "decommission"
)

var (
	stateHealthy        = model.HostStateHealthy.String()
	stateLost           = model.HostStateLost.String()
	stateDecommissioned = model.HostStateDecommissioned.String()
)

func livenessEvents() fsm.Events {
	return fsm.Events{
		{Name: EventRegister, Src: []string{stateHealthy, stateLost, stateDecommissioned}, Dst: stateHealthy},
		{Name: EventHeartbeat, Src: []string{stateHealthy, stateLost}, Dst: stateHealthy},
		{Name: EventExpire, Src: []string{stateHealthy}, Dst: stateLost},
		{Name: EventDecommission, Src: []string{stateHealthy, stateLost}, Dst: stateDecommissioned},
	}
}

// newLiveness creates a host's liveness FSM in the healthy state.
func newLiveness(name string, logger *slog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		stateHealthy,
		livenessEvents(),
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Info("host state changed", "host", name, "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
}

// fire sends event to f. Self-transitions (heartbeat on a healthy host) are
// reported by looplab/fsm as NoTransitionError and are not failures here.
func fire(ctx context.Context, f *fsm.FSM, event string) error {
	err := f.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}
