// Package pipeline is the scheduling core of the orchestrator: it admits
// command requests into a bounded priority queue, drains them with a fixed
// worker pool, and runs each request through intent parsing, session
// context, service selection, invocation and result delivery.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"servis/internal/config"
	"servis/internal/contextmgr"
	"servis/internal/domain"
	"servis/internal/errors"
	"servis/internal/invoke"
	"servis/internal/logging"
	"servis/internal/nlp"
	"servis/internal/observability"
	"servis/internal/registry"
)

// capabilityFor is the fixed intent to capability routing table.
var capabilityFor = map[domain.IntentName]string{
	domain.IntentPlayMusic:     "music",
	domain.IntentControlVolume: "audio",
	domain.IntentSwitchAudio:   "audio",
	domain.IntentSystemControl: "system",
	domain.IntentSmartHome:     "home",
	domain.IntentCommunication: "messaging",
	domain.IntentNavigation:    "maps",
	domain.IntentGPIOControl:   "gpio",
}

// Sink receives terminal command results for delivery back to the
// originating adapter.
type Sink interface {
	Complete(ctx context.Context, result *domain.CommandResult)
}

// Pipeline wires the queue, the worker pool and the dispatch stages.
type Pipeline struct {
	config     config.PipelineConfig
	classifier *nlp.Classifier
	sessions   *contextmgr.Manager
	registry   *registry.Registry
	invoker    *invoke.Dispatcher
	sink       Sink
	metrics    *observability.MetricsCollector
	logger     *logging.Logger

	queue *queue
	locks *sessionLocks
	retry errors.RetryConfig

	group    *errgroup.Group
	hardStop context.CancelFunc
	stopCtx  context.Context
}

// New builds a pipeline. The sink must be set with SetSink before Start.
func New(cfg config.PipelineConfig, classifier *nlp.Classifier, sessions *contextmgr.Manager, reg *registry.Registry, invoker *invoke.Dispatcher, metrics *observability.MetricsCollector, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		config:     cfg,
		classifier: classifier,
		sessions:   sessions,
		registry:   reg,
		invoker:    invoker,
		metrics:    metrics,
		logger:     logging.OrNop(logger),
		queue:      newQueue(cfg.QueueCapacity),
		locks:      newSessionLocks(),
		retry: errors.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			BaseDelay:    time.Duration(cfg.Retry.BaseMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.CapMs) * time.Millisecond,
			JitterFactor: float64(cfg.Retry.JitterPct) / 100,
		},
	}
}

// SetSink installs the result delivery target. Must be called before Start;
// the dispatch bridge is constructed after the pipeline, so the hookup is
// deferred.
func (p *Pipeline) SetSink(sink Sink) {
	p.sink = sink
}

// Submit admits a request. The context carries cooperative cancellation
// for the whole lifetime of the request, including queue wait. Returns a
// rejected-overload CommandError when the queue cannot admit the request.
func (p *Pipeline) Submit(ctx context.Context, req *domain.CommandRequest) error {
	if req.ID == "" {
		return errors.New(errors.KindInternal, "request id missing")
	}
	if !req.Priority.Valid() {
		req.Priority = domain.PriorityNormal
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}
	if req.Deadline.IsZero() {
		req.Deadline = req.SubmittedAt.Add(p.config.DefaultDeadline())
	}

	displaced, err := p.queue.push(&item{req: req, ctx: ctx})
	if err != nil {
		p.metrics.RecordRejection(ctx, "queue-full")
		return err
	}
	p.metrics.QueueDepthAdd(ctx, 1)

	if displaced != nil {
		p.metrics.QueueDepthAdd(ctx, -1)
		p.metrics.RecordRejection(ctx, "displaced")
		p.complete(displaced.ctx, failedResult(displaced.req, errors.KindRejectedOverload,
			"displaced by a higher-priority command", 0))
	}
	return nil
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.sink == nil {
		return fmt.Errorf("pipeline sink not set")
	}
	p.stopCtx, p.hardStop = context.WithCancel(context.Background())
	p.group, _ = errgroup.WithContext(ctx)
	for i := 0; i < p.config.WorkerCount; i++ {
		p.group.Go(p.workerLoop)
	}
	p.logger.Info("pipeline started",
		"workers", p.config.WorkerCount, "queue_capacity", p.config.QueueCapacity)
	return nil
}

// Stop closes admission, drains the queue within the configured grace
// window, then cancels whatever is left.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.queue.close()

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()

	grace := p.config.DrainGrace()
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-done:
		p.hardStop()
		return err
	case <-timer.C:
		p.logger.Warn("drain grace expired, cancelling remaining requests", "grace", grace)
	case <-ctx.Done():
		p.logger.Warn("stop context cancelled, cancelling remaining requests")
	}
	p.hardStop()
	return <-done
}

// QueueDepth reports the number of queued, not yet dispatched requests.
func (p *Pipeline) QueueDepth() int {
	return p.queue.len()
}

func (p *Pipeline) workerLoop() error {
	for {
		it, ok := p.queue.pop()
		if !ok {
			return nil
		}
		p.metrics.QueueDepthAdd(it.ctx, -1)
		p.process(it)
	}
}

func (p *Pipeline) complete(ctx context.Context, result *domain.CommandResult) {
	p.sink.Complete(ctx, result)
}

func failedResult(req *domain.CommandRequest, kind errors.Kind, message string, latency time.Duration) *domain.CommandResult {
	return &domain.CommandResult{
		RequestID:    req.ID,
		Success:      false,
		Interface:    req.Interface,
		SessionID:    req.SessionID,
		Latency:      latency,
		LatencyMs:    latency.Milliseconds(),
		ErrorKind:    string(kind),
		ErrorMessage: message,
	}
}
