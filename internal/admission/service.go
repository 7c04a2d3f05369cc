// Package admission is the decision layer in front of the paid generation
// pipeline: rate limiting first (cheap, no lock), then the per-user daily
// quota under its concurrency control.
package admission

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kobeee/ai-postcard-admission/internal/metrics"
	"github.com/kobeee/ai-postcard-admission/internal/quota"
	"github.com/kobeee/ai-postcard-admission/internal/ratelimit"
)

// Decision is the composed admission outcome for one generation request.
// RetryAfter travels in the Retry-After header rather than the body.
type Decision struct {
	Allowed    bool                  `json:"allowed"`
	Reason     string                `json:"reason,omitempty"` // rate_limited | brake | quota_exhausted | card_held
	RetryAfter time.Duration         `json:"-"`
	RateLimit  *ratelimit.Result     `json:"-"`
	BlockedBy  []ratelimit.Violation `json:"blocked_by,omitempty"`
	Quota      *quota.Status         `json:"quota,omitempty"`
}

// Service exposes the admission-control operations consumed by the request
// handlers and the generation pipeline.
type Service struct {
	quota   *quota.Service
	limiter *ratelimit.Limiter
}

func NewService(quotaSvc *quota.Service, limiter *ratelimit.Limiter) *Service {
	return &Service{quota: quotaSvc, limiter: limiter}
}

// CheckRateLimit evaluates the sliding windows and emergency brake only.
func (s *Service) CheckRateLimit(ctx context.Context, userID, ip, endpoint, action string) ratelimit.Result {
	return s.limiter.Check(ctx, ratelimit.Request{
		UserID:   userID,
		IP:       ip,
		Endpoint: endpoint,
		Action:   action,
	})
}

// CheckQuota returns the user's quota status for today.
func (s *Service) CheckQuota(ctx context.Context, userID uuid.UUID) (quota.Status, error) {
	return s.quota.Check(ctx, userID)
}

// ConsumeQuota takes today's generation slot for cardID; false means the
// daily quota is spent, not an error.
func (s *Service) ConsumeQuota(ctx context.Context, userID, cardID uuid.UUID) (bool, error) {
	return s.quota.Consume(ctx, userID, cardID)
}

// ReleaseCard frees the user's current card without refunding quota.
func (s *Service) ReleaseCard(ctx context.Context, userID, cardID uuid.UUID) (bool, error) {
	return s.quota.Release(ctx, userID, cardID)
}

// HandleGenerationFailure refunds the slot a failed generation consumed.
func (s *Service) HandleGenerationFailure(ctx context.Context, userID, cardID uuid.UUID) (bool, error) {
	return s.quota.CompensateFailure(ctx, userID, cardID)
}

// Admit runs the full gate for a would-be generation: rate limiter (fail
// fast, no lock touched), then a quota read. It does not consume the slot;
// the caller follows up with ConsumeQuota once the job is actually queued.
func (s *Service) Admit(ctx context.Context, userID uuid.UUID, ip, endpoint, action string) (Decision, error) {
	rl := s.CheckRateLimit(ctx, userID.String(), ip, endpoint, action)
	if !rl.Allowed {
		reason := "rate_limited"
		if len(rl.BlockedBy) == 1 && rl.BlockedBy[0].Dimension == ratelimit.DimensionBrake {
			reason = "brake"
		}
		metrics.AdmissionDecisionsTotal.WithLabelValues(reason).Inc()
		return Decision{
			Allowed:    false,
			Reason:     reason,
			RetryAfter: rl.RetryAfter,
			RateLimit:  &rl,
			BlockedBy:  rl.BlockedBy,
		}, nil
	}

	st, err := s.quota.Check(ctx, userID)
	if err != nil {
		// Quota reads fail closed: unmetered generation is worse than a 500.
		return Decision{}, err
	}
	if !st.CanGenerate {
		reason := "quota_exhausted"
		if st.CurrentCardExists {
			reason = "card_held"
		}
		metrics.AdmissionDecisionsTotal.WithLabelValues(reason).Inc()
		return Decision{Allowed: false, Reason: reason, Quota: &st}, nil
	}

	metrics.AdmissionDecisionsTotal.WithLabelValues("allowed").Inc()
	return Decision{Allowed: true, RateLimit: &rl, Quota: &st}, nil
}
