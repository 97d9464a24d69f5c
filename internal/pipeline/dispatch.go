package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"servis/internal/domain"
	"servis/internal/errors"
	"servis/internal/invoke"
	"servis/internal/logging"
)

// process runs one request through the dispatch stages. Cancellation and
// deadline are re-checked at every stage boundary and before every
// blocking call.
func (p *Pipeline) process(it *item) {
	req := it.req
	start := time.Now()

	ctx, cancel := context.WithDeadline(it.ctx, req.Deadline)
	defer cancel()
	// A hard pipeline stop cancels everything still in flight.
	release := context.AfterFunc(p.stopCtx, cancel)
	defer release()

	ctx = logging.ContextWithRequestID(ctx, req.ID)
	if req.SessionID != "" {
		ctx = logging.ContextWithSessionID(ctx, req.SessionID)
	}

	unlock := p.locks.acquire(sessionKey(req))
	defer unlock()

	if kind, expired := expiredKind(ctx); expired {
		p.finish(ctx, req, nil, false, failedResult(req, kind, "request expired before dispatch", time.Since(start)))
		return
	}

	// Session context first: the classifier's contextual boost needs the
	// previous intent.
	var session *domain.SessionRecord
	if req.SessionID != "" {
		loaded, err := p.sessions.GetSessionContext(ctx, req.SessionID)
		switch {
		case err == nil:
			session = loaded
		case stderrors.Is(err, errors.ErrNotFound):
			p.logger.WarnContext(ctx, "session not found, dispatching without context")
		default:
			p.logger.ErrorContext(ctx, "session load failed, dispatching without context", "error", err)
		}
	}

	var intent domain.Intent
	if session != nil {
		intent = p.classifier.ParseWithContext(req.Text, domain.IntentName(session.LastIntent))
	} else {
		intent = p.classifier.Parse(req.Text)
	}

	// Contextual inference: fill missing slots from the previous turn, but
	// only within the same intent.
	if session != nil && string(intent.Name) == session.LastIntent {
		for k, v := range session.LastParameters {
			if _, set := intent.Parameters[k]; !set {
				intent.Parameters[k] = v
			}
		}
	}

	if kind, expired := expiredKind(ctx); expired {
		p.finish(ctx, req, session, true, failedResult(req, kind, "request expired during context attach", time.Since(start)))
		return
	}

	if intent.Name == domain.IntentUnknown || intent.Confidence < 0.5 {
		result := &domain.CommandResult{
			RequestID: req.ID,
			Success:   true,
			Response:  fmt.Sprintf("Sorry, I didn't understand %q. Could you rephrase?", req.Text),
			Interface: req.Interface,
			SessionID: req.SessionID,
		}
		p.finish(ctx, req, session, true, withLatency(result, time.Since(start)))
		p.metrics.RecordCommand(ctx, string(domain.IntentUnknown), "clarify", time.Since(start))
		return
	}

	capability, ok := capabilityFor[intent.Name]
	if !ok {
		p.finish(ctx, req, session, true, failedResult(req, errors.KindCapabilityUnknown,
			"no capability mapping for intent "+string(intent.Name), time.Since(start)))
		p.metrics.RecordCommand(ctx, string(intent.Name), string(errors.KindCapabilityUnknown), time.Since(start))
		return
	}

	result := p.invokeWithRetry(ctx, req, &intent, capability)
	withLatency(result, time.Since(start))

	if result.Success {
		p.recordTurn(ctx, req, session, &intent, result)
		p.metrics.RecordCommand(ctx, string(intent.Name), "success", result.Latency)
	} else {
		p.finish(ctx, req, session, true, result)
		p.metrics.RecordCommand(ctx, string(intent.Name), result.ErrorKind, result.Latency)
		return
	}
	p.complete(ctx, result)
}

// invokeWithRetry selects a service and invokes it, retrying transport and
// timeout faults up to the configured attempt count with a fresh selection
// each time. Service-level errors are terminal on the first occurrence.
func (p *Pipeline) invokeWithRetry(ctx context.Context, req *domain.CommandRequest, intent *domain.Intent, capability string) *domain.CommandResult {
	call := &invoke.Call{
		RequestID: req.ID,
		Intent:    intent,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Locale:    p.userLocale(ctx, req.UserID),
	}

	var lastErr error
	for attempt := 0; attempt <= p.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.retry.Backoff(attempt)):
			case <-ctx.Done():
			}
		}
		if kind, expired := expiredKind(ctx); expired {
			return failedResult(req, kind, "deadline reached during retry", 0)
		}

		desc, err := p.registry.Acquire(capability)
		if err != nil {
			return failedResult(req, errors.KindOf(err), err.Error(), 0)
		}

		attemptCtx, cancel := p.attemptContext(ctx)
		resp, err := p.invoker.Invoke(attemptCtx, desc, call)
		cancel()
		p.registry.Release(desc.Name)

		if err == nil {
			if resp.Success {
				p.rememberService(ctx, req.SessionID, desc.Name)
				return &domain.CommandResult{
					RequestID: req.ID,
					Success:   true,
					Response:  resp.Response,
					Interface: req.Interface,
					SessionID: req.SessionID,
				}
			}
			// Downstream said no. Never retried.
			return failedResult(req, errors.KindServiceError, resp.Err, 0)
		}

		kind := errors.KindOf(err)
		switch kind {
		case errors.KindCancelled:
			return failedResult(req, kind, "request cancelled", 0)
		case errors.KindTimedOut, errors.KindTransportError:
			if parentKind, expired := expiredKind(ctx); expired {
				return failedResult(req, parentKind, err.Error(), 0)
			}
			lastErr = err
			p.logger.WarnContext(ctx, "invocation attempt failed",
				"service", desc.Name, "attempt", attempt+1, "error", err)
		default:
			return failedResult(req, kind, err.Error(), 0)
		}
	}
	return failedResult(req, errors.KindOf(lastErr),
		fmt.Sprintf("all %d attempts failed: %v", p.retry.MaxAttempts+1, lastErr), 0)
}

// attemptContext bounds one invocation attempt by the smaller of the
// remaining deadline and the per-service cap.
func (p *Pipeline) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	limit := p.config.PerServiceCap()
	if limit <= 0 {
		return context.WithCancel(ctx)
	}
	attemptDeadline := time.Now().Add(limit)
	if parent, ok := ctx.Deadline(); ok && parent.Before(attemptDeadline) {
		attemptDeadline = parent
	}
	return context.WithDeadline(ctx, attemptDeadline)
}

// recordTurn persists a successful turn: history entry, last intent and
// parameters for the next turn's contextual inference.
func (p *Pipeline) recordTurn(ctx context.Context, req *domain.CommandRequest, session *domain.SessionRecord, intent *domain.Intent, result *domain.CommandResult) {
	if session == nil {
		return
	}
	persistCtx := context.WithoutCancel(ctx)
	if err := p.sessions.AddCommandToHistory(persistCtx, session.ID, req.Text, result.Response, false); err != nil {
		p.logger.ErrorContext(ctx, "history write failed", "error", err)
	}
	if err := p.sessions.UpdateLastIntent(persistCtx, session.ID, string(intent.Name), intent.Parameters); err != nil {
		p.logger.ErrorContext(ctx, "last intent update failed", "error", err)
	}
}

// finish delivers a terminal non-success (or clarify) result, writing the
// history marker the outcome calls for. A cancelled request leaves history
// untouched unless the session already observed the tentative start.
func (p *Pipeline) finish(ctx context.Context, req *domain.CommandRequest, session *domain.SessionRecord, tentative bool, result *domain.CommandResult) {
	if session != nil {
		persistCtx := context.WithoutCancel(ctx)
		switch {
		case result.Success:
			if err := p.sessions.AddCommandToHistory(persistCtx, session.ID, req.Text, result.Response, false); err != nil {
				p.logger.ErrorContext(ctx, "history write failed", "error", err)
			}
		case result.ErrorKind == string(errors.KindCancelled):
			if tentative {
				if err := p.sessions.AddCommandToHistory(persistCtx, session.ID, req.Text, "cancelled", true); err != nil {
					p.logger.ErrorContext(ctx, "history write failed", "error", err)
				}
			}
		default:
			if err := p.sessions.AddCommandToHistory(persistCtx, session.ID, req.Text, result.ErrorMessage, true); err != nil {
				p.logger.ErrorContext(ctx, "history write failed", "error", err)
			}
		}
	}
	p.complete(ctx, result)
}

func (p *Pipeline) rememberService(ctx context.Context, sessionID, service string) {
	if sessionID == "" {
		return
	}
	if err := p.sessions.UpdateServiceState(context.WithoutCancel(ctx), sessionID, service, nil); err != nil {
		p.logger.DebugContext(ctx, "service state update failed", "error", err)
	}
}

// userLocale resolves the invocation locale from the user's profile.
func (p *Pipeline) userLocale(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	user, err := p.sessions.GetUserContext(ctx, userID)
	if err != nil {
		return ""
	}
	return user.Language
}

// expiredKind reports whether ctx is done and which taxonomy kind applies.
func expiredKind(ctx context.Context) (errors.Kind, bool) {
	switch ctx.Err() {
	case nil:
		return "", false
	case context.DeadlineExceeded:
		return errors.KindTimedOut, true
	default:
		return errors.KindCancelled, true
	}
}

func withLatency(result *domain.CommandResult, latency time.Duration) *domain.CommandResult {
	result.Latency = latency
	result.LatencyMs = latency.Milliseconds()
	return result
}
