package delivery

import (
	"log/slog"

	"github.com/edgewire/telemetry-relay/contracts"
	"github.com/edgewire/telemetry-relay/internal/deadletter"
)

// Route is the admission decision for a new outbound message.
type Route int

const (
	// RouteLive sends the message through the live publish pipeline.
	RouteLive Route = iota
	// RouteDeadLetter parks the message directly in the network-failure
	// dead-letter queue, behind traffic already waiting on the same
	// degraded path.
	RouteDeadLetter
)

func (r Route) String() string {
	if r == RouteDeadLetter {
		return "dead-letter"
	}
	return "live"
}

// AdmissionController decides whether a new message may use the live
// transport path. While the network-failure queue is non-empty, new
// acknowledged and assured traffic is routed behind it unconditionally so
// that nothing overtakes queued messages on the same broken path.
type AdmissionController struct {
	store  *deadletter.Store
	logger *slog.Logger
}

// NewAdmissionController creates an admission controller over the
// dead-letter store.
func NewAdmissionController(store *deadletter.Store, logger *slog.Logger) *AdmissionController {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdmissionController{store: store, logger: logger}
}

// Admit returns the route for msg. The decision has no side effects;
// enqueuing is performed by the dead-letter store, which re-checks quota
// before accepting.
func (a *AdmissionController) Admit(msg *contracts.Message) Route {
	// Fire-and-forget never touches the dead-letter store.
	if msg.Class == contracts.FireAndForget {
		return RouteLive
	}

	n, err := a.store.Len(contracts.NetworkFailureQueue)
	if err != nil {
		a.logger.Error("admission queue-depth check failed, routing live",
			"messageId", msg.ID, "error", err)
		return RouteLive
	}
	if n > 0 {
		return RouteDeadLetter
	}
	return RouteLive
}
