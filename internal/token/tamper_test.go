package token

import (
	"context"
	"math/big"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mint-gateway/internal/admission"
	"mint-gateway/internal/models"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedCall struct {
	EventType string
	Message   string
	IP        string
	Data      *models.EventData
}

type stubRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *stubRecorder) Record(eventType, message, ip string, data *models.EventData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{eventType, message, ip, data})
}

func (r *stubRecorder) Calls() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

func issueParams(symbol, name string, decimals int, supply, network string) *Params {
	n, ok := new(big.Int).SetString(supply, 10)
	if !ok {
		panic("bad supply in test: " + supply)
	}
	return &Params{
		Name:          name,
		Symbol:        symbol,
		Decimals:      decimals,
		Supply:        n,
		WalletAddress: testWallet(3),
		Network:       network,
	}
}

func issueRequestFor(p *Params) *IssueRequest {
	return &IssueRequest{
		TxHash:        "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Network:       p.Network,
		WalletAddress: p.WalletAddress,
		Metadata:      p,
	}
}

func TestTamperStageNoSnapshotPasses(t *testing.T) {
	clock := newStubClock()
	stage := NewTamperStage(NewMemorySnapshotStore(clock), nil)

	p := issueParams("MTK", "My Token", 9, "1000000", "mainnet")
	rc := &admission.RequestContext{Operation: "token_issue", Wallet: p.WalletAddress, Payload: issueRequestFor(p)}

	require.Nil(t, stage.Evaluate(context.Background(), rc))
	require.Nil(t, rc.Warnings())
}

func TestTamperStageMatchingSnapshotPasses(t *testing.T) {
	clock := newStubClock()
	snapshots := NewMemorySnapshotStore(clock)
	recorder := &stubRecorder{}
	stage := NewTamperStage(snapshots, recorder)
	ctx := context.Background()

	p := issueParams("MTK", "My Token", 9, "1000000", "mainnet")
	require.NoError(t, snapshots.PutSnapshot(ctx, p.WalletAddress, SnapshotOf(p, clock.Now()), 10*time.Minute))

	rc := &admission.RequestContext{Operation: "token_issue", Wallet: p.WalletAddress, Payload: issueRequestFor(p)}
	require.Nil(t, stage.Evaluate(ctx, rc))
	require.Nil(t, rc.Warnings())
	require.Empty(t, recorder.Calls())
}

func TestTamperStageCriticalFieldRejects(t *testing.T) {
	for _, tc := range []struct {
		field     string
		submitted *Params
	}{
		{"symbol", issueParams("EVIL", "My Token", 9, "1000000", "mainnet")},
		{"decimals", issueParams("MTK", "My Token", 0, "1000000", "mainnet")},
		{"supply", issueParams("MTK", "My Token", 9, "999000000000", "mainnet")},
		{"network", issueParams("MTK", "My Token", 9, "1000000", "testnet")},
	} {
		t.Run(tc.field, func(t *testing.T) {
			clock := newStubClock()
			snapshots := NewMemorySnapshotStore(clock)
			stage := NewTamperStage(snapshots, nil)
			ctx := context.Background()

			validated := issueParams("MTK", "My Token", 9, "1000000", "mainnet")
			require.NoError(t, snapshots.PutSnapshot(ctx, validated.WalletAddress, SnapshotOf(validated, clock.Now()), 10*time.Minute))

			rc := &admission.RequestContext{Operation: "token_issue", Wallet: tc.submitted.WalletAddress, Payload: issueRequestFor(tc.submitted)}
			rej := stage.Evaluate(ctx, rc)

			require.NotNil(t, rej)
			require.Equal(t, http.StatusBadRequest, rej.Status)
			require.Equal(t, admission.ErrorTypeValidation, rej.ErrorType)
			require.Len(t, rej.Errors, 1)
			require.Contains(t, rej.Errors[0], tc.field+": validated")
			require.Equal(t, models.EventSuspiciousActivity, rej.EventType)
			require.Equal(t, models.SeverityCritical, rej.Severity)
			require.Equal(t, "parameter_tampering", rej.Data.RequestData["reason"])
			require.NotNil(t, rej.Data.RequestData["validated"])
			require.NotNil(t, rej.Data.RequestData["submitted"])
		})
	}
}

func TestTamperStageReportsEveryDivergentField(t *testing.T) {
	clock := newStubClock()
	snapshots := NewMemorySnapshotStore(clock)
	stage := NewTamperStage(snapshots, nil)
	ctx := context.Background()

	validated := issueParams("MTK", "My Token", 9, "1000000", "mainnet")
	require.NoError(t, snapshots.PutSnapshot(ctx, validated.WalletAddress, SnapshotOf(validated, clock.Now()), 10*time.Minute))

	submitted := issueParams("EVIL", "My Token", 2, "900000000000000", "mainnet")
	rc := &admission.RequestContext{Operation: "token_issue", Wallet: submitted.WalletAddress, Payload: issueRequestFor(submitted)}
	rej := stage.Evaluate(ctx, rc)

	require.NotNil(t, rej)
	require.Len(t, rej.Errors, 3)
}

func TestTamperStageNameChangeWarnsAndPasses(t *testing.T) {
	clock := newStubClock()
	snapshots := NewMemorySnapshotStore(clock)
	recorder := &stubRecorder{}
	stage := NewTamperStage(snapshots, recorder)
	ctx := context.Background()

	validated := issueParams("MTK", "My Token", 9, "1000000", "mainnet")
	require.NoError(t, snapshots.PutSnapshot(ctx, validated.WalletAddress, SnapshotOf(validated, clock.Now()), 10*time.Minute))

	submitted := issueParams("MTK", "Renamed Token", 9, "1000000", "mainnet")
	rc := &admission.RequestContext{Operation: "token_issue", IP: "10.0.0.9", Wallet: submitted.WalletAddress, Payload: issueRequestFor(submitted)}

	require.Nil(t, stage.Evaluate(ctx, rc))
	require.Contains(t, rc.Warnings(), WarningTamper)

	calls := recorder.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, models.EventSuspiciousActivity, calls[0].EventType)
	require.Equal(t, models.SeverityWarning, calls[0].Data.Severity)
	require.Equal(t, "name_changed", calls[0].Data.RequestData["reason"])
	require.Equal(t, "My Token", calls[0].Data.RequestData["validated_name"])
	require.Equal(t, "Renamed Token", calls[0].Data.RequestData["submitted_name"])
}

func TestTamperStageExpiredSnapshotIgnored(t *testing.T) {
	clock := newStubClock()
	snapshots := NewMemorySnapshotStore(clock)
	stage := NewTamperStage(snapshots, nil)
	ctx := context.Background()

	validated := issueParams("MTK", "My Token", 9, "1000000", "mainnet")
	require.NoError(t, snapshots.PutSnapshot(ctx, validated.WalletAddress, SnapshotOf(validated, clock.Now()), 10*time.Minute))

	clock.Advance(11 * time.Minute)

	// The window has lapsed, so even a wildly different payload passes.
	submitted := issueParams("EVIL", "Other", 0, "9", "testnet")
	rc := &admission.RequestContext{Operation: "token_issue", Wallet: submitted.WalletAddress, Payload: issueRequestFor(submitted)}
	require.Nil(t, stage.Evaluate(ctx, rc))
}

func TestTamperStageMissingPayloadFailsClosed(t *testing.T) {
	clock := newStubClock()
	stage := NewTamperStage(NewMemorySnapshotStore(clock), nil)

	rc := &admission.RequestContext{Operation: "token_issue"}
	rej := stage.Evaluate(context.Background(), rc)

	require.NotNil(t, rej)
	require.Equal(t, http.StatusInternalServerError, rej.Status)
	require.Equal(t, admission.ErrorTypeInternal, rej.ErrorType)
}
