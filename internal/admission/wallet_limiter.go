package admission

import (
	"context"
	"fmt"
	"net/http"

	"mint-gateway/internal/config"
	"mint-gateway/internal/models"
)

// WalletRateLimitStage counts requests per wallet address, independent of the
// IP limiter. Rotating proxies does not reset this counter; rotating funded
// wallets is the expensive part, which is the point. The effective limit
// depends on the target network: mainnet tiers are strictly tighter.
type WalletRateLimitStage struct {
	store     Store
	policy    *config.AdmissionConfig
	operation string
}

func NewWalletRateLimit(store Store, policy *config.AdmissionConfig, operation string) *WalletRateLimitStage {
	return &WalletRateLimitStage{store: store, policy: policy, operation: operation}
}

func (s *WalletRateLimitStage) Name() string { return "wallet_rate_limit" }

func (s *WalletRateLimitStage) Evaluate(ctx context.Context, rc *RequestContext) *Rejection {
	if rc.Wallet == "" {
		return &Rejection{
			Status:    http.StatusBadRequest,
			Message:   "walletAddress is required",
			ErrorType: ErrorTypeValidation,
			Errors:    []string{"walletAddress: required"},
			EventType: models.EventWalletValidation,
			Severity:  models.SeverityWarning,
		}
	}
	if !models.ValidNetwork(rc.Network) {
		return &Rejection{
			Status:    http.StatusBadRequest,
			Message:   "network must be mainnet or testnet",
			ErrorType: ErrorTypeValidation,
			Errors:    []string{"network: must be one of mainnet, testnet"},
			EventType: models.EventInvalidInput,
			Severity:  models.SeverityWarning,
		}
	}

	tier, ok := s.policy.WalletTier(s.operation, rc.Network)
	if !ok {
		// No tier configured for this operation means no wallet quota.
		return nil
	}

	key := fmt.Sprintf("wallet:%s:%s:%s", s.operation, rc.Network, rc.Wallet)

	res, err := s.store.Increment(ctx, key, tier.Window)
	if err != nil {
		return InternalRejection(rc.Operation)
	}

	if res.Count > tier.Max {
		return &Rejection{
			Status:    http.StatusTooManyRequests,
			Message:   "operation limit reached for this wallet, try again later",
			ErrorType: ErrorTypeRateLimit,
			Headers:   RateLimitHeaders(res, tier.Max),
			EventType: models.EventRateLimitExceeded,
			Severity:  models.SeverityWarning,
			Data: &models.EventData{
				WalletAddress: rc.Wallet,
				Network:       rc.Network,
				ResourceType:  rc.Operation,
				RequestData: map[string]interface{}{
					"limiter": "wallet",
					"count":   res.Count,
					"limit":   tier.Max,
				},
			},
		}
	}

	return nil
}
