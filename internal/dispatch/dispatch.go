// Package dispatch bridges front-end adapters and the command pipeline:
// one uniform submission entry with admission control, and per-adapter
// delivery of terminal results.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"servis/internal/config"
	"servis/internal/contextmgr"
	"servis/internal/domain"
	"servis/internal/errors"
	"servis/internal/logging"
	"servis/internal/observability"
	"servis/internal/pipeline"
)

// Adapter is one front-end surface. Deliver must not block indefinitely;
// the bridge already buffers per adapter.
type Adapter interface {
	Tag() domain.InterfaceTag
	Deliver(ctx context.Context, result *domain.CommandResult) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// AliasAdapter exposes an existing adapter under an additional interface
// tag. Mobile clients, for example, submit and receive results through the
// web adapter's HTTP API. Lifecycle stays with the original registration;
// the alias only forwards delivery.
func AliasAdapter(tag domain.InterfaceTag, adapter Adapter) Adapter {
	return &aliasAdapter{Adapter: adapter, tag: tag}
}

type aliasAdapter struct {
	Adapter
	tag domain.InterfaceTag
}

func (a *aliasAdapter) Tag() domain.InterfaceTag { return a.tag }

func (a *aliasAdapter) Start(context.Context) error { return nil }
func (a *aliasAdapter) Stop(context.Context) error  { return nil }

// Submission is what an adapter hands to Submit. The bridge assigns the
// request id and fills defaults.
type Submission struct {
	UserID    string
	SessionID string
	Interface domain.InterfaceTag
	Text      string
	Priority  domain.Priority
	Deadline  time.Time
}

// Bridge owns the adapters and implements pipeline.Sink.
type Bridge struct {
	config   config.DispatchConfig
	pipeline *pipeline.Pipeline
	sessions *contextmgr.Manager
	metrics  *observability.MetricsCollector
	logger   *logging.Logger

	mu       sync.RWMutex
	adapters map[domain.InterfaceTag]*adapterState

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	lifecycle context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

type adapterState struct {
	adapter Adapter
	buffer  chan *domain.CommandResult
}

// NewBridge builds the dispatch bridge and installs it as the pipeline's
// result sink.
func NewBridge(cfg config.DispatchConfig, pipe *pipeline.Pipeline, sessions *contextmgr.Manager, metrics *observability.MetricsCollector, logger *logging.Logger) *Bridge {
	b := &Bridge{
		config:   cfg,
		pipeline: pipe,
		sessions: sessions,
		metrics:  metrics,
		logger:   logging.OrNop(logger),
		adapters: make(map[domain.InterfaceTag]*adapterState),
		limiters: make(map[string]*rate.Limiter),
	}
	pipe.SetSink(b)
	return b
}

// RegisterAdapter adds an adapter before Start. Duplicate tags are a
// programming error.
func (b *Bridge) RegisterAdapter(adapter Adapter) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tag := adapter.Tag()
	if _, exists := b.adapters[tag]; exists {
		return fmt.Errorf("adapter for interface %q already registered", tag)
	}
	b.adapters[tag] = &adapterState{
		adapter: adapter,
		buffer:  make(chan *domain.CommandResult, b.config.BufferSize),
	}
	return nil
}

// Submit validates and admits one command submission, returning the
// assigned request id.
func (b *Bridge) Submit(ctx context.Context, sub Submission) (string, error) {
	b.mu.RLock()
	_, known := b.adapters[sub.Interface]
	b.mu.RUnlock()
	if !known {
		return "", errors.New(errors.KindAdapterUnknown,
			"no adapter registered for interface "+string(sub.Interface))
	}
	if sub.Text == "" {
		return "", errors.New(errors.KindInternal, "command text is empty")
	}
	if sub.UserID != "" && !b.allow(sub.UserID) {
		b.metrics.RecordRejection(ctx, "rate-limit")
		return "", errors.New(errors.KindRejectedOverload,
			"user "+sub.UserID+" exceeded the submission rate limit")
	}

	sessionID := sub.SessionID
	if sessionID == "" && sub.UserID != "" {
		created, err := b.sessions.CreateSession(ctx, sub.UserID, sub.Interface)
		if err != nil {
			b.logger.WarnContext(ctx, "session auto-create failed, dispatching sessionless",
				"user_id", sub.UserID, "error", err)
		} else {
			sessionID = created
		}
	}

	req := &domain.CommandRequest{
		ID:          "req_" + uuid.NewString(),
		UserID:      sub.UserID,
		SessionID:   sessionID,
		Interface:   sub.Interface,
		Text:        sub.Text,
		Priority:    sub.Priority,
		SubmittedAt: time.Now(),
		Deadline:    sub.Deadline,
	}

	// The pipeline outlives the submitting connection; hard stop is the
	// only external cancellation for queued work.
	if err := b.pipeline.Submit(context.WithoutCancel(ctx), req); err != nil {
		return "", err
	}
	return req.ID, nil
}

// Complete implements pipeline.Sink. The result is buffered toward its
// adapter; when the buffer is full the oldest undelivered result is
// dropped and counted.
func (b *Bridge) Complete(ctx context.Context, result *domain.CommandResult) {
	b.mu.RLock()
	state, ok := b.adapters[result.Interface]
	b.mu.RUnlock()
	if !ok {
		b.logger.Error("result for unknown adapter dropped",
			"interface", string(result.Interface), "request_id", result.RequestID)
		return
	}

	for {
		select {
		case state.buffer <- result:
			return
		default:
		}
		select {
		case dropped := <-state.buffer:
			b.metrics.RecordDiscard(ctx, string(result.Interface))
			b.logger.Warn("delivery buffer full, oldest result dropped",
				"interface", string(result.Interface), "request_id", dropped.RequestID)
		default:
		}
	}
}

// Start launches the adapters and one delivery worker per adapter.
func (b *Bridge) Start(ctx context.Context) error {
	b.lifecycle, b.stop = context.WithCancel(context.Background())
	b.mu.RLock()
	defer b.mu.RUnlock()
	for tag, state := range b.adapters {
		if err := state.adapter.Start(ctx); err != nil {
			return fmt.Errorf("start adapter %s: %w", tag, err)
		}
		b.wg.Add(1)
		go b.deliverLoop(state)
	}
	b.logger.Info("dispatch bridge started", "adapters", len(b.adapters))
	return nil
}

// Stop halts delivery workers, then stops the adapters.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.stop != nil {
		b.stop()
	}
	b.wg.Wait()

	b.mu.RLock()
	defer b.mu.RUnlock()
	var firstErr error
	for tag, state := range b.adapters {
		if err := state.adapter.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop adapter %s: %w", tag, err)
		}
	}
	return firstErr
}

func (b *Bridge) deliverLoop(state *adapterState) {
	defer b.wg.Done()
	for {
		select {
		case <-b.lifecycle.Done():
			b.drainBuffer(state)
			return
		case result := <-state.buffer:
			b.deliver(b.lifecycle, state, result)
		}
	}
}

// drainBuffer flushes results buffered before shutdown. The pipeline drains
// its queue ahead of the bridge stopping, so what sits here is completed
// work that must still reach the adapter.
func (b *Bridge) drainBuffer(state *adapterState) {
	for {
		select {
		case result := <-state.buffer:
			b.deliver(context.Background(), state, result)
		default:
			return
		}
	}
}

func (b *Bridge) deliver(ctx context.Context, state *adapterState, result *domain.CommandResult) {
	if err := state.adapter.Deliver(ctx, result); err != nil {
		b.logger.Warn("result delivery failed",
			"interface", string(state.adapter.Tag()),
			"request_id", result.RequestID, "error", err)
	}
}

// allow applies the per-user token bucket. A zero rate disables limiting.
func (b *Bridge) allow(userID string) bool {
	if b.config.UserRateLimitRPS <= 0 {
		return true
	}
	b.limiterMu.Lock()
	limiter, ok := b.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(b.config.UserRateLimitRPS), b.config.UserRateLimitBurst)
		b.limiters[userID] = limiter
	}
	b.limiterMu.Unlock()
	return limiter.Allow()
}
