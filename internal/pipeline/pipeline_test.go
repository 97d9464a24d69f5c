package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"servis/internal/config"
	"servis/internal/contextmgr"
	"servis/internal/domain"
	"servis/internal/errors"
	"servis/internal/invoke"
	"servis/internal/nlp"
	"servis/internal/persistence"
	"servis/internal/registry"
)

// captureSink funnels completed results into a channel the test can await.
type captureSink struct {
	ch chan *domain.CommandResult
}

func (s *captureSink) Complete(_ context.Context, result *domain.CommandResult) {
	s.ch <- result
}

func (s *captureSink) await(t *testing.T) *domain.CommandResult {
	t.Helper()
	select {
	case result := <-s.ch:
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a result")
		return nil
	}
}

type harness struct {
	pipe     *Pipeline
	sessions *contextmgr.Manager
	registry *registry.Registry
	inproc   *invoke.InprocInvoker
	sink     *captureSink
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		QueueCapacity:     16,
		WorkerCount:       2,
		DefaultDeadlineMs: 5000,
		PerServiceCapMs:   2000,
		DrainGraceSeconds: 5,
		Retry: config.RetryConfig{
			MaxAttempts: 2,
			BaseMs:      1,
			CapMs:       5,
			JitterPct:   20,
		},
	}
}

func newHarness(t *testing.T, start bool) *harness {
	t.Helper()

	sessions, err := contextmgr.NewManager(persistence.NewMemStore(), contextmgr.Config{
		SessionTTL:   30 * time.Minute,
		HistoryLimit: 50,
	}, nil, nil)
	require.NoError(t, err)

	reg := registry.New(config.RegistryConfig{
		HeartbeatIntervalSeconds:  30,
		ProbeTimeoutMs:            2000,
		EvictionMinutes:           10,
		HeartbeatFailureLimit:     5,
		DefaultLatencyThresholdMs: 1000,
	}, nil, nil)

	inproc := invoke.NewInprocInvoker()
	dispatcher := invoke.NewDispatcher(map[domain.TransportTag]invoke.Invoker{
		domain.TransportInproc: inproc,
	}, reg, nil, nil)

	pipe := New(testPipelineConfig(), nlp.New(), sessions, reg, dispatcher, nil, nil)
	sink := &captureSink{ch: make(chan *domain.CommandResult, 64)}
	pipe.SetSink(sink)

	if start {
		require.NoError(t, pipe.Start(context.Background()))
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			pipe.Stop(ctx)
		})
	}
	return &harness{pipe: pipe, sessions: sessions, registry: reg, inproc: inproc, sink: sink}
}

func (h *harness) registerService(t *testing.T, name, capability string, handler invoke.Handler) {
	t.Helper()
	h.inproc.Register(name, handler)
	require.NoError(t, h.registry.Register(&domain.ServiceDescriptor{
		Name:           name,
		Transport:      domain.TransportInproc,
		Capabilities:   []string{capability},
		MaxConcurrency: 4,
	}))
	h.registry.MarkHealthy(name)
}

func (h *harness) newSession(t *testing.T, userID string) string {
	t.Helper()
	require.NoError(t, h.sessions.CreateUser(context.Background(), &domain.UserRecord{ID: userID, Language: "en"}))
	sessionID, err := h.sessions.CreateSession(context.Background(), userID, domain.InterfaceText)
	require.NoError(t, err)
	return sessionID
}

func TestDispatchSuccessRecordsTurn(t *testing.T) {
	h := newHarness(t, true)
	sessionID := h.newSession(t, "u1")

	h.registerService(t, "music-svc", "music", func(_ context.Context, call *invoke.Call) (*invoke.Response, error) {
		require.Equal(t, domain.IntentPlayMusic, call.Intent.Name)
		require.Equal(t, "en", call.Locale)
		return &invoke.Response{Success: true, Response: "now playing jazz"}, nil
	})

	err := h.pipe.Submit(context.Background(), &domain.CommandRequest{
		ID:        "req_ok",
		UserID:    "u1",
		SessionID: sessionID,
		Interface: domain.InterfaceText,
		Text:      "play some jazz music",
	})
	require.NoError(t, err)

	result := h.sink.await(t)
	require.True(t, result.Success)
	require.Equal(t, "req_ok", result.RequestID)
	require.Equal(t, "now playing jazz", result.Response)

	session, err := h.sessions.GetSessionContext(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, string(domain.IntentPlayMusic), session.LastIntent)
	require.Len(t, session.History, 1)
	require.False(t, session.History[0].Failed)
}

func TestDispatchUnknownIntentClarifies(t *testing.T) {
	h := newHarness(t, true)

	err := h.pipe.Submit(context.Background(), &domain.CommandRequest{
		ID:        "req_unknown",
		Interface: domain.InterfaceText,
		Text:      "quux the frobnicator",
	})
	require.NoError(t, err)

	result := h.sink.await(t)
	require.True(t, result.Success, "a clarification is a successful outcome")
	require.Contains(t, result.Response, "didn't understand")
	require.Contains(t, result.Response, "quux the frobnicator")
}

func TestDispatchNoServiceForCapability(t *testing.T) {
	h := newHarness(t, true)
	// Nothing registered under the music capability.

	err := h.pipe.Submit(context.Background(), &domain.CommandRequest{
		ID:        "req_orphan",
		Interface: domain.InterfaceText,
		Text:      "play some jazz music",
	})
	require.NoError(t, err)

	result := h.sink.await(t)
	require.False(t, result.Success)
	require.Equal(t, string(errors.KindNoService), result.ErrorKind)
}

func TestDispatchServiceErrorIsTerminal(t *testing.T) {
	h := newHarness(t, true)

	var calls int32
	var mu sync.Mutex
	h.registerService(t, "music-svc", "music", func(_ context.Context, _ *invoke.Call) (*invoke.Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &invoke.Response{Success: false, Err: "player offline"}, nil
	})

	err := h.pipe.Submit(context.Background(), &domain.CommandRequest{
		ID:        "req_refused",
		Interface: domain.InterfaceText,
		Text:      "play some jazz music",
	})
	require.NoError(t, err)

	result := h.sink.await(t)
	require.False(t, result.Success)
	require.Equal(t, string(errors.KindServiceError), result.ErrorKind)
	require.Equal(t, "player offline", result.ErrorMessage)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, int32(1), calls, "structured refusals must never be retried")
}

func TestDispatchRetriesTimedOutAttempt(t *testing.T) {
	h := newHarness(t, true)

	var calls int
	var mu sync.Mutex
	h.registerService(t, "music-svc", "music", func(_ context.Context, _ *invoke.Call) (*invoke.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New(errors.KindTimedOut, "attempt deadline reached")
		}
		return &invoke.Response{Success: true, Response: "recovered"}, nil
	})

	err := h.pipe.Submit(context.Background(), &domain.CommandRequest{
		ID:        "req_retry",
		Interface: domain.InterfaceText,
		Text:      "play some jazz music",
	})
	require.NoError(t, err)

	result := h.sink.await(t)
	require.True(t, result.Success)
	require.Equal(t, "recovered", result.Response)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, calls)
}

func TestDispatchContextualInferenceFillsSlots(t *testing.T) {
	h := newHarness(t, true)
	sessionID := h.newSession(t, "u1")

	var mu sync.Mutex
	var secondParams map[string]string
	h.registerService(t, "music-svc", "music", func(_ context.Context, call *invoke.Call) (*invoke.Response, error) {
		mu.Lock()
		secondParams = call.Intent.Parameters
		mu.Unlock()
		return &invoke.Response{Success: true, Response: "ok"}, nil
	})

	submit := func(id, text string) {
		require.NoError(t, h.pipe.Submit(context.Background(), &domain.CommandRequest{
			ID:        id,
			UserID:    "u1",
			SessionID: sessionID,
			Interface: domain.InterfaceText,
			Text:      text,
		}))
		result := h.sink.await(t)
		require.True(t, result.Success)
	}

	submit("req_first", "play some jazz music on spotify")
	submit("req_second", "play something")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "jazz", secondParams["genre"], "genre carries over from the previous turn")
	require.Equal(t, "spotify", secondParams["platform"], "platform carries over from the previous turn")
}

func TestDispatchExpiredDeadlineFailsBeforeInvocation(t *testing.T) {
	h := newHarness(t, true)

	var invoked bool
	var mu sync.Mutex
	h.registerService(t, "music-svc", "music", func(_ context.Context, _ *invoke.Call) (*invoke.Response, error) {
		mu.Lock()
		invoked = true
		mu.Unlock()
		return &invoke.Response{Success: true}, nil
	})

	err := h.pipe.Submit(context.Background(), &domain.CommandRequest{
		ID:        "req_stale",
		Interface: domain.InterfaceText,
		Text:      "play some jazz music",
		Deadline:  time.Now().Add(-time.Second),
	})
	require.NoError(t, err, "admission succeeds; expiry is detected at dispatch")

	result := h.sink.await(t)
	require.False(t, result.Success)
	require.Equal(t, string(errors.KindTimedOut), result.ErrorKind)

	mu.Lock()
	defer mu.Unlock()
	require.False(t, invoked, "an expired request must never reach a service")
}

func TestDispatchCancelledSubmission(t *testing.T) {
	h := newHarness(t, true)
	h.registerService(t, "music-svc", "music", func(_ context.Context, _ *invoke.Call) (*invoke.Response, error) {
		return &invoke.Response{Success: true}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.pipe.Submit(ctx, &domain.CommandRequest{
		ID:        "req_gone",
		Interface: domain.InterfaceText,
		Text:      "play some jazz music",
	})
	require.NoError(t, err)

	result := h.sink.await(t)
	require.False(t, result.Success)
	require.Equal(t, string(errors.KindCancelled), result.ErrorKind)
}

func TestSubmitDisplacementCompletesVictim(t *testing.T) {
	h := newHarness(t, false)
	cfg := testPipelineConfig()
	cfg.QueueCapacity = 2
	h.pipe = New(cfg, nlp.New(), h.sessions, h.registry, nil, nil, nil)
	h.pipe.SetSink(h.sink)

	submit := func(id string, p domain.Priority) error {
		return h.pipe.Submit(context.Background(), &domain.CommandRequest{
			ID:        id,
			Interface: domain.InterfaceText,
			Text:      "play music",
			Priority:  p,
		})
	}

	require.NoError(t, submit("low-1", domain.PriorityLow))
	require.NoError(t, submit("low-2", domain.PriorityLow))
	require.NoError(t, submit("crit-1", domain.PriorityCritical))

	victim := h.sink.await(t)
	require.Equal(t, "low-1", victim.RequestID)
	require.False(t, victim.Success)
	require.Equal(t, string(errors.KindRejectedOverload), victim.ErrorKind)

	err := submit("normal-1", domain.PriorityNormal)
	require.True(t, errors.IsKind(err, errors.KindRejectedOverload))
}

func TestQueuedRequestsDrainInPriorityOrder(t *testing.T) {
	h := newHarness(t, false)
	cfg := testPipelineConfig()
	cfg.WorkerCount = 1
	h.pipe = New(cfg, nlp.New(), h.sessions, h.registry, invoke.NewDispatcher(map[domain.TransportTag]invoke.Invoker{
		domain.TransportInproc: h.inproc,
	}, h.registry, nil, nil), nil, nil)
	h.pipe.SetSink(h.sink)

	var mu sync.Mutex
	var order []string
	h.registerService(t, "music-svc", "music", func(_ context.Context, call *invoke.Call) (*invoke.Response, error) {
		mu.Lock()
		order = append(order, call.RequestID)
		mu.Unlock()
		return &invoke.Response{Success: true}, nil
	})

	// Enqueue before the worker starts so dequeue order is observable.
	for _, sub := range []struct {
		id string
		p  domain.Priority
	}{
		{"low-1", domain.PriorityLow},
		{"normal-1", domain.PriorityNormal},
		{"crit-1", domain.PriorityCritical},
	} {
		require.NoError(t, h.pipe.Submit(context.Background(), &domain.CommandRequest{
			ID:        sub.id,
			Interface: domain.InterfaceText,
			Text:      "play some jazz music",
			Priority:  sub.p,
		}))
	}

	require.NoError(t, h.pipe.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.pipe.Stop(ctx)
	}()

	for i := 0; i < 3; i++ {
		h.sink.await(t)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"crit-1", "normal-1", "low-1"}, order)
}

func TestSameSessionRequestsSerializeAcrossWorkers(t *testing.T) {
	h := newHarness(t, true) // two workers
	sessionID := h.newSession(t, "u1")

	var mu sync.Mutex
	var active, maxActive int
	var order []string
	h.registerService(t, "music-svc", "music", func(_ context.Context, call *invoke.Call) (*invoke.Response, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		order = append(order, call.RequestID)
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return &invoke.Response{Success: true}, nil
	})

	const n = 12
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("req_%02d", i)
		want = append(want, id)
		require.NoError(t, h.pipe.Submit(context.Background(), &domain.CommandRequest{
			ID:        id,
			UserID:    "u1",
			SessionID: sessionID,
			Interface: domain.InterfaceText,
			Text:      "play some jazz music",
		}))
	}
	for i := 0; i < n; i++ {
		result := h.sink.await(t)
		require.True(t, result.Success, "request %s failed: %s", result.RequestID, result.ErrorMessage)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, want, order, "same-session requests must dispatch in submission order")
	require.Equal(t, 1, maxActive, "at most one in-flight request per session")
}

func TestFailedInvocationWritesHistoryMarker(t *testing.T) {
	h := newHarness(t, true)
	sessionID := h.newSession(t, "u1")

	h.registerService(t, "music-svc", "music", func(_ context.Context, _ *invoke.Call) (*invoke.Response, error) {
		return &invoke.Response{Success: false, Err: "player offline"}, nil
	})

	require.NoError(t, h.pipe.Submit(context.Background(), &domain.CommandRequest{
		ID:        "req_fail",
		UserID:    "u1",
		SessionID: sessionID,
		Interface: domain.InterfaceText,
		Text:      "play some jazz music",
	}))
	result := h.sink.await(t)
	require.False(t, result.Success)

	session, err := h.sessions.GetSessionContext(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, session.History, 1)
	require.True(t, session.History[0].Failed)
	require.True(t, strings.Contains(session.History[0].Response, "player offline"))
}
