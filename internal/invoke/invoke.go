// Package invoke performs transport-agnostic single-shot invocation of a
// selected service instance. It owns wire formats and error classification;
// multi-attempt retry with fresh selection belongs to the pipeline.
package invoke

import (
	"context"
	stderrors "errors"
	"net"
	"time"

	"servis/internal/domain"
	"servis/internal/errors"
	"servis/internal/logging"
	"servis/internal/observability"
	"servis/internal/registry"
)

// Call is one invocation payload: the classified intent plus the session
// context forwarded to the downstream service.
type Call struct {
	RequestID string
	Intent    *domain.Intent
	UserID    string
	SessionID string
	Locale    string
}

// Response is the downstream service's structured answer. Success false
// with Err set is a service-level error, delivered without a Go error so
// callers never retry it.
type Response struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Invoker performs one invocation attempt over a specific transport.
type Invoker interface {
	Invoke(ctx context.Context, desc *domain.ServiceDescriptor, call *Call) (*Response, error)
}

// Dispatcher routes an invocation to the transport invoker matching the
// descriptor, applies the single in-invoker transport retry, and feeds the
// outcome back into registry health and metrics.
type Dispatcher struct {
	transports map[domain.TransportTag]Invoker
	registry   *registry.Registry
	metrics    *observability.MetricsCollector
	logger     *logging.Logger
}

// NewDispatcher wires the transport invokers. A nil registry or metrics
// collector disables the corresponding feedback.
func NewDispatcher(transports map[domain.TransportTag]Invoker, reg *registry.Registry, metrics *observability.MetricsCollector, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		transports: transports,
		registry:   reg,
		metrics:    metrics,
		logger:     logging.OrNop(logger),
	}
}

// retryFloor is the minimum deadline budget worth spending on the single
// in-invoker transport retry.
const retryFloor = 50 * time.Millisecond

// Invoke calls the service once, retrying exactly once on a transport
// fault when deadline budget remains. Latency and outcome are recorded per
// attempt.
func (d *Dispatcher) Invoke(ctx context.Context, desc *domain.ServiceDescriptor, call *Call) (*Response, error) {
	transport, ok := d.transports[desc.Transport]
	if !ok {
		return nil, errors.New(errors.KindInternal, "no invoker for transport "+string(desc.Transport))
	}

	resp, err := d.attempt(ctx, transport, desc, call)
	if err != nil && errors.IsKind(err, errors.KindTransportError) && budgetRemains(ctx) {
		d.logger.DebugContext(ctx, "transport fault, retrying once",
			"service", desc.Name, "error", err)
		resp, err = d.attempt(ctx, transport, desc, call)
	}
	return resp, err
}

func (d *Dispatcher) attempt(ctx context.Context, transport Invoker, desc *domain.ServiceDescriptor, call *Call) (*Response, error) {
	start := time.Now()
	resp, err := transport.Invoke(ctx, desc, call)
	latency := time.Since(start)

	outcome, record := outcomeOf(resp, err)
	if record {
		if d.registry != nil {
			d.registry.RecordInvocationResult(desc.Name, outcome, latency)
		}
		d.metrics.RecordInvocation(ctx, desc.Name, outcomeLabel(outcome))
	}
	return resp, err
}

func outcomeLabel(o registry.Outcome) string {
	switch o {
	case registry.OutcomeSuccess:
		return "success"
	case registry.OutcomeSoftFailure:
		return "service-error"
	default:
		return "transport-error"
	}
}

// outcomeOf maps an attempt result onto the health state machine's outcome
// classes. Cancellation reflects the caller, not the service, and is not
// recorded.
func outcomeOf(resp *Response, err error) (registry.Outcome, bool) {
	if err == nil {
		if resp != nil && !resp.Success {
			return registry.OutcomeSoftFailure, true
		}
		return registry.OutcomeSuccess, true
	}
	switch errors.KindOf(err) {
	case errors.KindCancelled:
		return registry.OutcomeSuccess, false
	case errors.KindTimedOut, errors.KindTransportError:
		return registry.OutcomeHardFailure, true
	default:
		return registry.OutcomeSoftFailure, true
	}
}

func budgetRemains(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) > retryFloor
}

// classifyTransportErr maps a transport-level failure onto the taxonomy.
func classifyTransportErr(ctx context.Context, err error, service string) error {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(errors.KindTimedOut, err, "invoke "+service)
	case stderrors.Is(err, context.Canceled):
		return errors.Wrap(errors.KindCancelled, err, "invoke "+service)
	}
	if ctx.Err() != nil {
		// The transport may wrap the context error beyond errors.Is reach.
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Wrap(errors.KindTimedOut, err, "invoke "+service)
		}
		return errors.Wrap(errors.KindCancelled, err, "invoke "+service)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(errors.KindTimedOut, err, "invoke "+service)
	}
	return errors.Wrap(errors.KindTransportError, err, "invoke "+service)
}
