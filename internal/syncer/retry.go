package syncer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RetryResult summarizes one retry pass.
type RetryResult struct {
	// Gated is set when backoff suppressed the pass.
	Gated     bool `json:"gated,omitempty"`
	Attempted int  `json:"attempted"`
	Confirmed int  `json:"confirmed"`
	// Dropped counts pending ids whose local event no longer exists.
	Dropped int `json:"dropped"`
	Failed  int `json:"failed"`
}

// RetryPending runs a retry pass if the backoff gate allows it.
func (e *Engine) RetryPending(ctx context.Context) (RetryResult, error) {
	if e.pending.Len() == 0 {
		return RetryResult{}, nil
	}
	if !e.gate.Allow(e.clock.Now()) {
		attempts, next := e.gate.State()
		e.logger.Debug("retry gated by backoff", "attempts", attempts, "next", next)
		return RetryResult{Gated: true}, nil
	}
	return e.retryPass(ctx)
}

// RetryNow runs a retry pass regardless of backoff.
func (e *Engine) RetryNow(ctx context.Context) (RetryResult, error) {
	return e.retryPass(ctx)
}

// retryPass re-uploads every pending event. Success or duplicate-key
// removes the id; any other failure leaves it. A stale id whose event left
// the log is dropped without error.
func (e *Engine) retryPass(ctx context.Context) (RetryResult, error) {
	var res RetryResult
	ids := e.pending.IDs()
	if len(ids) == 0 {
		return res, nil
	}
	if err := e.requireRemote("retry"); err != nil {
		return res, err
	}
	userID, err := e.userID(ctx, "retry")
	if err != nil {
		return res, err
	}

	ctx, span := e.tracer.Start(ctx, "retry")
	defer span.End()
	span.SetAttributes(attribute.Int("pending", len(ids)))

	var lastErr *Error
	for _, id := range ids {
		if ctx.Err() != nil {
			lastErr = Classify("retry", ctx.Err())
			break
		}
		ev, ok := e.log.Lookup(id)
		if !ok {
			e.pending.Remove(id)
			res.Dropped++
			e.logger.Warn("dropping stale pending id", "client_id", id)
			continue
		}

		res.Attempted++
		if err := e.upload(ctx, userID, ev); err != nil {
			res.Failed++
			lastErr = Classify("retry", err)
			lastErr.ClientID = id
			e.logger.Debug("retry failed", "client_id", id, "code", lastErr.Code)
			continue
		}
		e.confirm(id)
		res.Confirmed++
	}

	span.SetAttributes(
		attribute.Int("confirmed", res.Confirmed),
		attribute.Int("failed", res.Failed),
	)

	switch {
	case res.Confirmed > 0:
		e.gate.Reset()
	case res.Failed > 0:
		delay := e.gate.Failure(e.clock.Now())
		attempts, _ := e.gate.State()
		e.logger.Info("retry pass failed", "failed", res.Failed, "attempts", attempts, "backoff", delay)
	}

	if lastErr != nil {
		span.SetStatus(codes.Error, string(lastErr.Code))
		return res, lastErr
	}
	return res, nil
}
