package admission

import (
	"context"
	"fmt"
	"net/http"

	"mint-gateway/internal/config"
	"mint-gateway/internal/models"
)

// IPRateLimitStage is a fixed-window limiter keyed by (tier, client IP).
// Tiers group routes by sensitivity: standard, strict, security-critical.
type IPRateLimitStage struct {
	store Store
	tier  config.LimitTier
	class string
}

func NewIPRateLimit(store Store, class string, tier config.LimitTier) *IPRateLimitStage {
	return &IPRateLimitStage{store: store, tier: tier, class: class}
}

func (s *IPRateLimitStage) Name() string { return "ip_rate_limit" }

func (s *IPRateLimitStage) Evaluate(ctx context.Context, rc *RequestContext) *Rejection {
	key := fmt.Sprintf("ip:%s:%s", s.class, rc.IP)

	res, err := s.store.Increment(ctx, key, s.tier.Window)
	if err != nil {
		// Admission state unreachable: fail closed.
		return InternalRejection(rc.Operation)
	}

	if res.Count > s.tier.Max {
		return &Rejection{
			Status:    http.StatusTooManyRequests,
			Message:   "too many requests from this address, try again later",
			ErrorType: ErrorTypeRateLimit,
			Headers:   RateLimitHeaders(res, s.tier.Max),
			EventType: models.EventRateLimitExceeded,
			Severity:  models.SeverityWarning,
			Data: &models.EventData{
				ResourceType: rc.Operation,
				RequestData: map[string]interface{}{
					"limiter": "ip",
					"class":   s.class,
					"count":   res.Count,
					"limit":   s.tier.Max,
				},
			},
		}
	}

	return nil
}
