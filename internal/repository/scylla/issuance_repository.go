package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"mint-gateway/internal/bucketing"
	"mint-gateway/internal/models"
	"mint-gateway/internal/util"
)

// IssuanceRepository persists the gateway's book of admitted issue requests.
// Rows are bucketed by wallet so per-wallet history stays partition-local; a
// tx_hash lookup table resolves status queries that arrive without a wallet.
type IssuanceRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewIssuanceRepository(client *ScyllaClient, buckets *bucketing.Manager) *IssuanceRepository {
	return &IssuanceRepository{
		client:  client,
		buckets: buckets,
	}
}

func (r *IssuanceRepository) Insert(ctx context.Context, issuance *models.TokenIssuance) error {
	now := time.Now().UTC()
	if issuance.CreatedAt.IsZero() {
		issuance.CreatedAt = now
	}
	issuance.UpdatedAt = now

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.InsertIssuance.Statement(),
		issuance.Bucket, issuance.TxHash, issuance.WalletAddress,
		issuance.Symbol, issuance.Name, issuance.Decimals, issuance.Supply,
		issuance.Network, issuance.Status, issuance.Confirmations,
		issuance.BlockNumber, issuance.CreatedAt, issuance.UpdatedAt)

	batch.Query(r.client.Prepared.InsertIssuanceByTx.Statement(),
		issuance.TxHash, issuance.Bucket, issuance.WalletAddress, issuance.CreatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to insert issuance",
			util.String("tx_hash", issuance.TxHash),
			util.String("wallet", issuance.WalletAddress),
			util.ErrorField(err))
		return fmt.Errorf("failed to insert issuance: %w", err)
	}

	util.Info("Issuance recorded",
		util.String("tx_hash", issuance.TxHash),
		util.String("wallet", issuance.WalletAddress),
		util.String("network", issuance.Network))

	return nil
}

func (r *IssuanceRepository) UpdateStatus(ctx context.Context, txHash, status string, confirmations, blockNumber int64) error {
	bucket, _, err := r.resolveTx(ctx, txHash)
	if err != nil {
		return err
	}

	query := r.client.Prepared.UpdateIssuanceStatus.
		Bind(status, confirmations, blockNumber, time.Now().UTC(), bucket, txHash).
		WithContext(ctx)

	if err := query.Exec(); err != nil {
		return fmt.Errorf("failed to update issuance status: %w", err)
	}

	return nil
}

func (r *IssuanceRepository) GetByTxHash(ctx context.Context, txHash string) (*models.TokenIssuance, error) {
	bucket, _, err := r.resolveTx(ctx, txHash)
	if err != nil {
		return nil, err
	}

	issuance := &models.TokenIssuance{}
	query := r.client.Prepared.ListIssuances.Bind(bucket, txHash).WithContext(ctx)

	err = r.client.ScanWithRetry(query,
		&issuance.Bucket, &issuance.TxHash, &issuance.WalletAddress,
		&issuance.Symbol, &issuance.Name, &issuance.Decimals, &issuance.Supply,
		&issuance.Network, &issuance.Status, &issuance.Confirmations,
		&issuance.BlockNumber, &issuance.CreatedAt, &issuance.UpdatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("issuance not found for tx: %s", txHash)
		}
		return nil, fmt.Errorf("failed to get issuance: %w", err)
	}

	return issuance, nil
}

func (r *IssuanceRepository) resolveTx(ctx context.Context, txHash string) (int, string, error) {
	var bucket int
	var wallet string

	query := r.client.Prepared.GetIssuanceByTx.Bind(txHash).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &wallet); err != nil {
		if err == gocql.ErrNotFound {
			return 0, "", fmt.Errorf("issuance not found for tx: %s", txHash)
		}
		return 0, "", fmt.Errorf("failed to resolve issuance tx: %w", err)
	}

	return bucket, wallet, nil
}
