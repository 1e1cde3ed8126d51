package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mint-gateway/internal/bucketing"
	"mint-gateway/internal/chain"
	"mint-gateway/internal/models"
)

type stubIssuanceRepo struct {
	insertErr error
	updateErr error

	inserted []*models.TokenIssuance
	updates  []string
}

func (r *stubIssuanceRepo) Insert(ctx context.Context, issuance *models.TokenIssuance) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserted = append(r.inserted, issuance)
	return nil
}

func (r *stubIssuanceRepo) UpdateStatus(ctx context.Context, txHash, status string, confirmations, blockNumber int64) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates = append(r.updates, txHash+":"+status)
	return nil
}

func (r *stubIssuanceRepo) GetByTxHash(ctx context.Context, txHash string) (*models.TokenIssuance, error) {
	return nil, nil
}

type stubStatusChecker struct {
	status *chain.TxStatus
	err    error
}

func (c *stubStatusChecker) TransactionStatus(ctx context.Context, network, txHash string) (*chain.TxStatus, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.status, nil
}

func newTestService(repo IssuanceRepository, checker chain.StatusChecker, recorder *stubRecorder, clock *stubClock) (*Service, *MemorySnapshotStore) {
	snapshots := NewMemorySnapshotStore(clock)
	svc := NewService(snapshots, repo, checker, recorder, bucketing.NewManager(64), clock, 10*time.Minute)
	return svc, snapshots
}

func TestValidateTokenStoresSnapshotAndQuotesFee(t *testing.T) {
	clock := newStubClock()
	recorder := &stubRecorder{}
	svc, snapshots := newTestService(nil, nil, recorder, clock)
	ctx := context.Background()

	p := issueParams("MTK", "My Token", 9, "1000000", "mainnet")
	res, err := svc.ValidateToken(ctx, "10.0.0.1", p)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, QuoteFee(p).Text(10), res.Fee)

	snap, err := snapshots.GetSnapshot(ctx, p.WalletAddress)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, "MTK", snap.Symbol)
	require.Equal(t, "1000000", snap.Supply)
	require.Equal(t, clock.Now(), snap.CreatedAt)

	calls := recorder.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, models.EventWalletValidation, calls[0].EventType)
	require.Equal(t, models.SeverityInfo, calls[0].Data.Severity)
}

func TestIssueTokenRecordsRegistryRow(t *testing.T) {
	clock := newStubClock()
	repo := &stubIssuanceRepo{}
	recorder := &stubRecorder{}
	svc, _ := newTestService(repo, nil, recorder, clock)

	p := issueParams("MTK", "My Token", 9, "1000000", "mainnet")
	req := issueRequestFor(p)

	res, err := svc.IssueToken(context.Background(), "10.0.0.1", req)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, req.TxHash, res.TxHash)

	require.Len(t, repo.inserted, 1)
	row := repo.inserted[0]
	require.Equal(t, req.TxHash, row.TxHash)
	require.Equal(t, models.IssuanceStatusSubmitted, row.Status)
	require.Equal(t, "1000000", row.Supply)

	calls := recorder.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, models.EventTokenOperation, calls[0].EventType)
}

func TestIssueTokenRegistryFailureSurfaces(t *testing.T) {
	clock := newStubClock()
	repo := &stubIssuanceRepo{insertErr: errors.New("keyspace down")}
	svc, _ := newTestService(repo, nil, &stubRecorder{}, clock)

	p := issueParams("MTK", "My Token", 9, "1000000", "mainnet")
	_, err := svc.IssueToken(context.Background(), "10.0.0.1", issueRequestFor(p))
	require.ErrorIs(t, err, ErrRegistryFailed)
}

func TestIssueTokenWithoutRegistry(t *testing.T) {
	clock := newStubClock()
	svc, _ := newTestService(nil, nil, &stubRecorder{}, clock)

	p := issueParams("MTK", "My Token", 9, "1000000", "mainnet")
	res, err := svc.IssueToken(context.Background(), "10.0.0.1", issueRequestFor(p))
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestTransactionStatusConfirmedAdvancesRegistry(t *testing.T) {
	clock := newStubClock()
	repo := &stubIssuanceRepo{}
	checker := &stubStatusChecker{status: &chain.TxStatus{Confirmed: true, Confirmations: 12, BlockNumber: 840}}
	svc, _ := newTestService(repo, checker, &stubRecorder{}, clock)

	txHash := "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	status, err := svc.TransactionStatus(context.Background(), "mainnet", txHash)
	require.NoError(t, err)
	require.True(t, status.Confirmed)
	require.Equal(t, []string{txHash + ":" + models.IssuanceStatusConfirmed}, repo.updates)
}

func TestTransactionStatusRegistryFailureNonFatal(t *testing.T) {
	clock := newStubClock()
	repo := &stubIssuanceRepo{updateErr: errors.New("keyspace down")}
	checker := &stubStatusChecker{status: &chain.TxStatus{Confirmed: true, Confirmations: 3, BlockNumber: 5}}
	svc, _ := newTestService(repo, checker, &stubRecorder{}, clock)

	status, err := svc.TransactionStatus(context.Background(), "mainnet",
		"0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc")
	require.NoError(t, err)
	require.True(t, status.Confirmed)
}

func TestTransactionStatusUnconfirmedLeavesRegistryAlone(t *testing.T) {
	clock := newStubClock()
	repo := &stubIssuanceRepo{}
	checker := &stubStatusChecker{status: &chain.TxStatus{Confirmed: false}}
	svc, _ := newTestService(repo, checker, &stubRecorder{}, clock)

	_, err := svc.TransactionStatus(context.Background(), "mainnet",
		"0xdddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd")
	require.NoError(t, err)
	require.Empty(t, repo.updates)
}

func TestTransactionStatusNotFoundPassesThrough(t *testing.T) {
	clock := newStubClock()
	checker := &stubStatusChecker{err: chain.ErrTxNotFound}
	svc, _ := newTestService(nil, checker, &stubRecorder{}, clock)

	_, err := svc.TransactionStatus(context.Background(), "mainnet",
		"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	require.ErrorIs(t, err, ErrTxNotFound)
}
