package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mint-gateway/internal/admission"
	"mint-gateway/internal/bucketing"
	"mint-gateway/internal/chain"
	"mint-gateway/internal/models"
	"mint-gateway/internal/util"
)

var (
	ErrTxNotFound     = chain.ErrTxNotFound
	ErrRegistryFailed = errors.New("issuance registry unavailable")
)

// IssuanceRepository is the durable registry of issue requests that passed
// admission.
type IssuanceRepository interface {
	Insert(ctx context.Context, issuance *models.TokenIssuance) error
	UpdateStatus(ctx context.Context, txHash, status string, confirmations, blockNumber int64) error
	GetByTxHash(ctx context.Context, txHash string) (*models.TokenIssuance, error)
}

// ValidateResult is the success body of a validate call.
type ValidateResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	Fee     string `json:"fee"`
}

// IssueResult is the success body of an issue call.
type IssueResult struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash"`
}

// Service implements the token business handlers behind the admission
// pipeline. The pipeline owns every abuse decision; the service only sees
// requests that already passed.
type Service struct {
	snapshots    SnapshotStore
	issuance     IssuanceRepository // nil disables the registry
	chain        chain.StatusChecker
	recorder     admission.Recorder
	buckets      *bucketing.Manager
	clock        admission.Clock
	tamperWindow time.Duration
}

func NewService(
	snapshots SnapshotStore,
	issuance IssuanceRepository,
	statusChecker chain.StatusChecker,
	recorder admission.Recorder,
	buckets *bucketing.Manager,
	clock admission.Clock,
	tamperWindow time.Duration,
) *Service {
	if recorder == nil {
		recorder = admission.NopRecorder{}
	}
	if clock == nil {
		clock = admission.SystemClock()
	}
	return &Service{
		snapshots:    snapshots,
		issuance:     issuance,
		chain:        statusChecker,
		recorder:     recorder,
		buckets:      buckets,
		clock:        clock,
		tamperWindow: tamperWindow,
	}
}

// ValidateToken quotes the issuance fee and stores the tamper snapshot that
// the later issue call will be checked against.
func (s *Service) ValidateToken(ctx context.Context, ip string, p *Params) (*ValidateResult, error) {
	now := s.clock.Now()

	if err := s.snapshots.PutSnapshot(ctx, p.WalletAddress, SnapshotOf(p, now), s.tamperWindow); err != nil {
		return nil, fmt.Errorf("failed to store validation snapshot: %w", err)
	}

	fee := QuoteFee(p)

	s.recorder.Record(models.EventWalletValidation, "token parameters validated", ip,
		&models.EventData{
			WalletAddress: p.WalletAddress,
			Network:       p.Network,
			ResourceType:  "token_validate",
			Severity:      models.SeverityInfo,
			RequestData: map[string]interface{}{
				"symbol":   p.Symbol,
				"decimals": p.Decimals,
				"supply":   p.Supply.Text(10),
				"fee":      fee.Text(10),
			},
		})

	return &ValidateResult{
		Valid:   true,
		Message: "token parameters are valid",
		Fee:     fee.Text(10),
	}, nil
}

// IssueToken records an admitted issuance in the registry. The transaction
// itself was built and signed client-side; the gateway keeps the book.
func (s *Service) IssueToken(ctx context.Context, ip string, req *IssueRequest) (*IssueResult, error) {
	now := s.clock.Now()

	if s.issuance != nil {
		row := &models.TokenIssuance{
			Bucket:        s.buckets.EventBucket(req.WalletAddress),
			TxHash:        req.TxHash,
			WalletAddress: req.WalletAddress,
			Symbol:        req.Metadata.Symbol,
			Name:          req.Metadata.Name,
			Decimals:      req.Metadata.Decimals,
			Supply:        req.Metadata.Supply.Text(10),
			Network:       req.Network,
			Status:        models.IssuanceStatusSubmitted,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.issuance.Insert(ctx, row); err != nil {
			util.Error("Failed to record issuance",
				util.String("tx_hash", req.TxHash),
				util.ErrorField(err),
			)
			return nil, fmt.Errorf("%w: %v", ErrRegistryFailed, err)
		}
	}

	s.recorder.Record(models.EventTokenOperation, "token issuance recorded", ip,
		&models.EventData{
			WalletAddress: req.WalletAddress,
			Network:       req.Network,
			ResourceType:  "token_issue",
			ResourceID:    req.TxHash,
			Severity:      models.SeverityInfo,
			RequestData: map[string]interface{}{
				"symbol": req.Metadata.Symbol,
				"supply": req.Metadata.Supply.Text(10),
			},
		})

	return &IssueResult{Success: true, TxHash: req.TxHash}, nil
}

// TransactionStatus queries the node and, when the transaction confirmed,
// advances the registry row. Registry failure only logs: the client's answer
// comes from the node, not from the registry.
func (s *Service) TransactionStatus(ctx context.Context, network, txHash string) (*chain.TxStatus, error) {
	status, err := s.chain.TransactionStatus(ctx, network, txHash)
	if err != nil {
		return nil, err
	}

	if status.Confirmed && s.issuance != nil {
		if err := s.issuance.UpdateStatus(ctx, txHash, models.IssuanceStatusConfirmed,
			status.Confirmations, status.BlockNumber); err != nil {
			util.Warn("Failed to update issuance status",
				util.String("tx_hash", txHash),
				util.ErrorField(err),
			)
		}
	}

	return status, nil
}
