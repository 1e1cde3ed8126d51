package admission

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mint-gateway/internal/models"
	"mint-gateway/internal/util"
)

// WalletLockStage serializes mutating operations per wallet address. Two
// overlapping issue requests for one wallet could double-spend a sealed
// input, so the second is refused outright rather than queued.
type WalletLockStage struct {
	store    Store
	timeout  time.Duration
	recorder Recorder
}

func NewWalletLock(store Store, timeout time.Duration, recorder Recorder) *WalletLockStage {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &WalletLockStage{store: store, timeout: timeout, recorder: recorder}
}

func (s *WalletLockStage) Name() string { return "wallet_lock" }

func (s *WalletLockStage) Evaluate(ctx context.Context, rc *RequestContext) *Rejection {
	key := "lock:" + rc.Wallet
	owner := uuid.NewString()

	res, err := s.store.TryLock(ctx, key, owner, s.timeout)
	if err != nil {
		return InternalRejection(rc.Operation)
	}

	if !res.Acquired {
		return &Rejection{
			Status:    http.StatusTooManyRequests,
			Message:   "another operation for this wallet is already in progress",
			ErrorType: ErrorTypeConcurrent,
			EventType: models.EventTokenOperation,
			Severity:  models.SeverityWarning,
			Data: &models.EventData{
				WalletAddress: rc.Wallet,
				Network:       rc.Network,
				ResourceType:  rc.Operation,
				RequestData: map[string]interface{}{
					"conflict":   "concurrent_operation",
					"held_since": res.HeldSince.UTC().Format(time.RFC3339),
				},
			},
		}
	}

	if res.Reclaimed {
		// A previous handler never released this lock: crashed or hung.
		s.recorder.Record(models.EventSuspiciousActivity,
			"stale wallet lock force-reclaimed", rc.IP,
			&models.EventData{
				WalletAddress: rc.Wallet,
				Network:       rc.Network,
				ResourceType:  rc.Operation,
				Severity:      models.SeverityCritical,
			})
		util.Warn("Stale wallet lock reclaimed",
			util.String("wallet", rc.Wallet),
			util.String("operation", rc.Operation),
		)
	}

	// Release on every exit path: handler success, business error, or a
	// downstream stage rejection. Uses a fresh context so a cancelled
	// request cannot leave the lock held.
	rc.OnExit(func() {
		if err := s.store.Unlock(context.Background(), key, owner); err != nil {
			util.Error("Failed to release wallet lock",
				util.String("wallet", rc.Wallet),
				util.ErrorField(err),
			)
		}
	})

	return nil
}
