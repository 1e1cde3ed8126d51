package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mint-gateway/internal/config"
	"mint-gateway/internal/models"
)

type stageFunc struct {
	name string
	fn   func(ctx context.Context, rc *RequestContext) *Rejection
}

func (s stageFunc) Name() string { return s.name }
func (s stageFunc) Evaluate(ctx context.Context, rc *RequestContext) *Rejection {
	return s.fn(ctx, rc)
}

type recordedEvent struct {
	EventType string
	Message   string
	IP        string
	Data      *models.EventData
}

type captureRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *captureRecorder) Record(eventType, message, ip string, data *models.EventData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{eventType, message, ip, data})
}

func (r *captureRecorder) Events() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

func postJSON(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/token/validate", bytes.NewBufferString(body))
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("User-Agent", "test-agent")
	return req
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	var order []string
	mk := func(name string) Stage {
		return stageFunc{name: name, fn: func(ctx context.Context, rc *RequestContext) *Rejection {
			order = append(order, name)
			return nil
		}}
	}

	p := NewPipeline("token_validate", nil, mk("first"), mk("second"), mk("third"))

	handlerCalled := false
	h := p.Handler(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		order = append(order, "handler")
	})

	w := httptest.NewRecorder()
	h(w, postJSON(`{"walletAddress":"w1","network":"mainnet"}`))

	require.True(t, handlerCalled)
	require.Equal(t, []string{"first", "second", "third", "handler"}, order)
	require.Equal(t, []string{"first", "second", "third"}, p.Stages())
}

func TestPipelineFirstRejectionShortCircuits(t *testing.T) {
	var order []string
	pass := stageFunc{name: "pass", fn: func(ctx context.Context, rc *RequestContext) *Rejection {
		order = append(order, "pass")
		return nil
	}}
	deny := stageFunc{name: "deny", fn: func(ctx context.Context, rc *RequestContext) *Rejection {
		order = append(order, "deny")
		return &Rejection{
			Status:    http.StatusTooManyRequests,
			Message:   "limited",
			ErrorType: ErrorTypeRateLimit,
		}
	}}
	never := stageFunc{name: "never", fn: func(ctx context.Context, rc *RequestContext) *Rejection {
		order = append(order, "never")
		return nil
	}}

	p := NewPipeline("token_validate", nil, pass, deny, never)
	h := p.Handler(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	w := httptest.NewRecorder()
	h(w, postJSON(`{"walletAddress":"w1","network":"mainnet"}`))

	require.Equal(t, []string{"pass", "deny"}, order)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body struct {
		Status    int    `json:"status"`
		Message   string `json:"message"`
		ErrorType string `json:"errorType"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, http.StatusTooManyRequests, body.Status)
	require.Equal(t, "limited", body.Message)
	require.Equal(t, ErrorTypeRateLimit, body.ErrorType)
}

func TestPipelineCleanupRunsOnRejection(t *testing.T) {
	released := false
	locker := stageFunc{name: "lock", fn: func(ctx context.Context, rc *RequestContext) *Rejection {
		rc.OnExit(func() { released = true })
		return nil
	}}
	deny := stageFunc{name: "deny", fn: func(ctx context.Context, rc *RequestContext) *Rejection {
		return &Rejection{Status: http.StatusBadRequest, Message: "no", ErrorType: ErrorTypeValidation}
	}}

	p := NewPipeline("token_issue", nil, locker, deny)
	h := p.Handler(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run after a rejection")
	})

	w := httptest.NewRecorder()
	h(w, postJSON(`{"walletAddress":"w1","network":"mainnet"}`))

	require.True(t, released)
}

func TestPipelineCleanupRunsAfterHandler(t *testing.T) {
	var order []string
	locker := stageFunc{name: "lock", fn: func(ctx context.Context, rc *RequestContext) *Rejection {
		rc.OnExit(func() { order = append(order, "release") })
		return nil
	}}

	p := NewPipeline("token_issue", nil, locker)
	h := p.Handler(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	w := httptest.NewRecorder()
	h(w, postJSON(`{"walletAddress":"w1","network":"mainnet"}`))

	require.Equal(t, []string{"handler", "release"}, order)
}

func TestPipelineRejectionRecordsAuditEvent(t *testing.T) {
	recorder := &captureRecorder{}
	deny := stageFunc{name: "deny", fn: func(ctx context.Context, rc *RequestContext) *Rejection {
		return &Rejection{
			Status:    http.StatusTooManyRequests,
			Message:   "limited",
			ErrorType: ErrorTypeRateLimit,
			EventType: models.EventRateLimitExceeded,
			Severity:  models.SeverityWarning,
		}
	}}

	p := NewPipeline("token_validate", recorder, deny)
	h := p.Handler(func(w http.ResponseWriter, r *http.Request) {})

	w := httptest.NewRecorder()
	h(w, postJSON(`{"walletAddress":"w1","network":"mainnet"}`))

	events := recorder.Events()
	require.Len(t, events, 1)
	require.Equal(t, models.EventRateLimitExceeded, events[0].EventType)
	require.Equal(t, "203.0.113.7", events[0].IP)
	require.Equal(t, "w1", events[0].Data.WalletAddress)
	require.Equal(t, "mainnet", events[0].Data.Network)
	require.Equal(t, models.SeverityWarning, events[0].Data.Severity)
	require.Equal(t, "token_validate", events[0].Data.ResourceType)
}

func TestPipelineEnvelopeDecodePopulatesWalletAndNetwork(t *testing.T) {
	var gotWallet, gotNetwork string
	probe := stageFunc{name: "probe", fn: func(ctx context.Context, rc *RequestContext) *Rejection {
		gotWallet = rc.Wallet
		gotNetwork = rc.Network
		return nil
	}}

	p := NewPipeline("token_validate", nil, probe)
	h := p.Handler(func(w http.ResponseWriter, r *http.Request) {})

	w := httptest.NewRecorder()
	h(w, postJSON(`{"walletAddress":"wallet-xyz","network":"testnet","symbol":"ABC"}`))

	require.Equal(t, "wallet-xyz", gotWallet)
	require.Equal(t, "testnet", gotNetwork)
}

func TestPipelineOversizedBodyRejected(t *testing.T) {
	p := NewPipeline("token_validate", nil)
	h := p.Handler(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	big := bytes.Repeat([]byte("a"), maxBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/api/token/validate", bytes.NewReader(big))
	req.RemoteAddr = "203.0.113.7:51234"

	w := httptest.NewRecorder()
	h(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRequestContextWarningsFirstWriteWins(t *testing.T) {
	rc := &RequestContext{}
	rc.AddWarning("timeDiff", "first")
	rc.AddWarning("timeDiff", "second")
	rc.AddWarning("tamper", "name changed")

	warnings := rc.Warnings()
	require.Equal(t, "first", warnings["timeDiff"])
	require.Equal(t, "name changed", warnings["tamper"])
	require.Len(t, warnings, 2)
}

func TestIPRateLimitRejectsOverLimit(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock)
	stage := NewIPRateLimit(store, "strict", config.LimitTier{Window: time.Hour, Max: 2})

	rc := &RequestContext{Operation: "token_validate", IP: "203.0.113.7"}
	ctx := context.Background()

	require.Nil(t, stage.Evaluate(ctx, rc))
	require.Nil(t, stage.Evaluate(ctx, rc))

	rej := stage.Evaluate(ctx, rc)
	require.NotNil(t, rej)
	require.Equal(t, http.StatusTooManyRequests, rej.Status)
	require.Equal(t, ErrorTypeRateLimit, rej.ErrorType)
	require.Equal(t, "2", rej.Headers["X-RateLimit-Limit"])
	require.Equal(t, "0", rej.Headers["X-RateLimit-Remaining"])
	require.NotEmpty(t, rej.Headers["X-RateLimit-Reset"])

	// A different address is unaffected.
	other := &RequestContext{Operation: "token_validate", IP: "198.51.100.9"}
	require.Nil(t, stage.Evaluate(ctx, other))
}

func TestWalletRateLimitIndependentOfIP(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock)
	policy := &config.AdmissionConfig{
		WalletTiers: map[string]config.LimitTier{
			"token_issue:mainnet": {Window: 3 * time.Hour, Max: 2},
		},
	}
	stage := NewWalletRateLimit(store, policy, "token_issue")
	ctx := context.Background()

	// Same wallet from rotating IPs: the counter still advances.
	for i, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		rc := &RequestContext{Operation: "token_issue", IP: ip, Wallet: "walletA", Network: "mainnet"}
		require.Nil(t, stage.Evaluate(ctx, rc), "request %d should pass", i)
	}
	rc := &RequestContext{Operation: "token_issue", IP: "10.0.0.3", Wallet: "walletA", Network: "mainnet"}
	rej := stage.Evaluate(ctx, rc)
	require.NotNil(t, rej)
	require.Equal(t, http.StatusTooManyRequests, rej.Status)

	// A different wallet from the same IP is unaffected.
	other := &RequestContext{Operation: "token_issue", IP: "10.0.0.3", Wallet: "walletB", Network: "mainnet"}
	require.Nil(t, stage.Evaluate(ctx, other))
}

func TestWalletRateLimitNetworksAreSeparate(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock)
	policy := &config.AdmissionConfig{
		WalletTiers: map[string]config.LimitTier{
			"token_issue:mainnet": {Window: 3 * time.Hour, Max: 1},
			"token_issue:testnet": {Window: time.Hour, Max: 10},
		},
	}
	stage := NewWalletRateLimit(store, policy, "token_issue")
	ctx := context.Background()

	main := &RequestContext{Operation: "token_issue", IP: "10.0.0.1", Wallet: "walletA", Network: "mainnet"}
	require.Nil(t, stage.Evaluate(ctx, main))
	require.NotNil(t, stage.Evaluate(ctx, main))

	// The mainnet exhaustion does not touch the testnet budget.
	test := &RequestContext{Operation: "token_issue", IP: "10.0.0.1", Wallet: "walletA", Network: "testnet"}
	require.Nil(t, stage.Evaluate(ctx, test))
}

func TestWalletRateLimitRequiresWalletAndNetwork(t *testing.T) {
	store := NewMemoryStore(newFakeClock())
	policy := &config.AdmissionConfig{WalletTiers: map[string]config.LimitTier{}}
	stage := NewWalletRateLimit(store, policy, "token_issue")
	ctx := context.Background()

	rej := stage.Evaluate(ctx, &RequestContext{Operation: "token_issue", Network: "mainnet"})
	require.NotNil(t, rej)
	require.Equal(t, http.StatusBadRequest, rej.Status)
	require.Equal(t, ErrorTypeValidation, rej.ErrorType)

	rej = stage.Evaluate(ctx, &RequestContext{Operation: "token_issue", Wallet: "w", Network: "devnet"})
	require.NotNil(t, rej)
	require.Equal(t, http.StatusBadRequest, rej.Status)
}

func TestWalletLockRejectsConcurrentAndReleasesOnExit(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock)
	recorder := &captureRecorder{}
	stage := NewWalletLock(store, 2*time.Minute, recorder)
	ctx := context.Background()

	first := &RequestContext{Operation: "token_issue", IP: "10.0.0.1", Wallet: "walletA", Network: "mainnet"}
	require.Nil(t, stage.Evaluate(ctx, first))

	// Overlapping request for the same wallet fails fast.
	second := &RequestContext{Operation: "token_issue", IP: "10.0.0.1", Wallet: "walletA", Network: "mainnet"}
	rej := stage.Evaluate(ctx, second)
	require.NotNil(t, rej)
	require.Equal(t, http.StatusTooManyRequests, rej.Status)
	require.Equal(t, ErrorTypeConcurrent, rej.ErrorType)

	// Another wallet locks independently.
	other := &RequestContext{Operation: "token_issue", IP: "10.0.0.1", Wallet: "walletB", Network: "mainnet"}
	require.Nil(t, stage.Evaluate(ctx, other))

	// After the first request finishes, the wallet is lockable again.
	first.runCleanups()
	third := &RequestContext{Operation: "token_issue", IP: "10.0.0.1", Wallet: "walletA", Network: "mainnet"}
	require.Nil(t, stage.Evaluate(ctx, third))
}

func TestWalletLockStaleReclaimIsAudited(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock)
	recorder := &captureRecorder{}
	stage := NewWalletLock(store, 2*time.Minute, recorder)
	ctx := context.Background()

	// A request takes the lock and never releases it.
	dead := &RequestContext{Operation: "token_issue", IP: "10.0.0.1", Wallet: "walletA", Network: "mainnet"}
	require.Nil(t, stage.Evaluate(ctx, dead))

	clock.Advance(3 * time.Minute)

	next := &RequestContext{Operation: "token_issue", IP: "10.0.0.2", Wallet: "walletA", Network: "mainnet"}
	require.Nil(t, stage.Evaluate(ctx, next))

	events := recorder.Events()
	require.Len(t, events, 1)
	require.Equal(t, models.EventSuspiciousActivity, events[0].EventType)
	require.Equal(t, models.SeverityCritical, events[0].Data.Severity)
	require.Equal(t, "walletA", events[0].Data.WalletAddress)
}
