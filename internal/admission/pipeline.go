package admission

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"mint-gateway/internal/models"
	"mint-gateway/internal/util"
)

// Error types surfaced to clients in rejection bodies. They let a client
// distinguish "fix your input" from "try later" from "something broke".
const (
	ErrorTypeValidation = "VALIDATION_FAILURE"
	ErrorTypeRateLimit  = "RATE_LIMITED"
	ErrorTypeConcurrent = "CONCURRENT_OPERATION"
	ErrorTypeInternal   = "INTERNAL_ERROR"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// RequestContext is the shared, mutable per-request state the stages
// communicate through. Warnings are append-only; Payload is set once by the
// schema-validation stage and treated as immutable afterwards.
type RequestContext struct {
	Operation string
	IP        string
	UserAgent string
	Wallet    string
	Network   string
	Body      []byte

	// Payload is the normalized, validated request body.
	Payload interface{}

	mu       sync.Mutex
	warnings map[string]string
	cleanups []func()
}

// AddWarning attaches an annotation for downstream stages, the handler, and
// the audit trail. First write for a key wins; warnings are never removed.
func (rc *RequestContext) AddWarning(key, message string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.warnings == nil {
		rc.warnings = make(map[string]string)
	}
	if _, exists := rc.warnings[key]; !exists {
		rc.warnings[key] = message
	}
}

// Warnings returns a copy of the accumulated annotations, or nil if none.
func (rc *RequestContext) Warnings() map[string]string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.warnings) == 0 {
		return nil
	}
	out := make(map[string]string, len(rc.warnings))
	for k, v := range rc.warnings {
		out[k] = v
	}
	return out
}

// OnExit registers a cleanup to run when the request finishes, on every exit
// path: handler success, business error, or a downstream stage rejection.
func (rc *RequestContext) OnExit(fn func()) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cleanups = append(rc.cleanups, fn)
}

func (rc *RequestContext) runCleanups() {
	rc.mu.Lock()
	cleanups := rc.cleanups
	rc.cleanups = nil
	rc.mu.Unlock()

	// LIFO, like stacked defers.
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// Rejection is a typed refusal produced by a stage. Stages convert their own
// internal failures into rejections; nothing is thrown past the pipeline.
type Rejection struct {
	Status    int
	Message   string
	ErrorType string
	Errors    []string
	Headers   map[string]string

	// Audit classification; not serialized to the client.
	EventType string
	Severity  string
	Data      *models.EventData
}

// Stage is one guard in the admission pipeline. A nil return means continue.
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, rc *RequestContext) *Rejection
}

// rejectionBody is the wire shape of every gated-endpoint refusal.
type rejectionBody struct {
	Status    int      `json:"status"`
	Message   string   `json:"message"`
	Errors    []string `json:"errors,omitempty"`
	ErrorType string   `json:"errorType,omitempty"`
}

// Pipeline executes an ordered stage list around a business handler. It holds
// no per-request state itself; the ordering of stages is the contract.
type Pipeline struct {
	operation string
	stages    []Stage
	recorder  Recorder
	logger    *zap.Logger
}

func NewPipeline(operation string, recorder Recorder, stages ...Stage) *Pipeline {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Pipeline{
		operation: operation,
		stages:    stages,
		recorder:  recorder,
		logger:    util.Get(),
	}
}

// Stages exposes the ordered stage list for inspection and tests.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Handler wraps next with the admission pipeline. Stages run in order; the
// first rejection short-circuits. Cleanups registered by stages (the wallet
// lock release) run on every exit path.
func (p *Pipeline) Handler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, rej := p.newRequestContext(r)
		if rej != nil {
			p.reject(w, rc, rej)
			return
		}
		defer rc.runCleanups()

		for _, stage := range p.stages {
			if rej := stage.Evaluate(r.Context(), rc); rej != nil {
				p.logger.Debug("Admission rejection",
					util.String("operation", p.operation),
					util.String("stage", stage.Name()),
					util.Int("status", rej.Status),
				)
				p.reject(w, rc, rej)
				return
			}
		}

		next(w, r.WithContext(WithRequestContext(r.Context(), rc)))
	}
}

// newRequestContext reads the request envelope once: client identity from the
// connection and, for mutating requests, walletAddress/network from the body.
func (p *Pipeline) newRequestContext(r *http.Request) (*RequestContext, *Rejection) {
	rc := &RequestContext{
		Operation: p.operation,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}

	if r.Body == nil || r.Method == http.MethodGet {
		return rc, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return rc, &Rejection{
			Status:    http.StatusBadRequest,
			Message:   "unable to read request body",
			ErrorType: ErrorTypeValidation,
			EventType: models.EventInvalidInput,
			Severity:  models.SeverityWarning,
		}
	}
	if len(body) > maxBodyBytes {
		return rc, &Rejection{
			Status:    http.StatusRequestEntityTooLarge,
			Message:   "request body too large",
			ErrorType: ErrorTypeValidation,
			EventType: models.EventInvalidInput,
			Severity:  models.SeverityWarning,
		}
	}
	rc.Body = body

	var envelope struct {
		WalletAddress string `json:"walletAddress"`
		Network       string `json:"network"`
	}
	// Envelope decode is lenient; the schema stage rejects malformed JSON
	// with proper field detail.
	if err := json.Unmarshal(body, &envelope); err == nil {
		rc.Wallet = envelope.WalletAddress
		rc.Network = envelope.Network
	}

	return rc, nil
}

func (p *Pipeline) reject(w http.ResponseWriter, rc *RequestContext, rej *Rejection) {
	rc.runCleanups()

	if rej.EventType != "" {
		data := rej.Data
		if data == nil {
			data = &models.EventData{}
		}
		if data.WalletAddress == "" {
			data.WalletAddress = rc.Wallet
		}
		if data.Network == "" {
			data.Network = rc.Network
		}
		if data.UserAgent == "" {
			data.UserAgent = rc.UserAgent
		}
		if data.Severity == "" {
			data.Severity = rej.Severity
		}
		if data.ResourceType == "" {
			data.ResourceType = rc.Operation
		}
		p.recorder.Record(rej.EventType, rej.Message, rc.IP, data)
	}

	for k, v := range rej.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Status)

	body := rejectionBody{
		Status:    rej.Status,
		Message:   rej.Message,
		Errors:    rej.Errors,
		ErrorType: rej.ErrorType,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		p.logger.Error("Failed to encode rejection response", util.ErrorField(err))
	}
}

// InternalRejection is the uniform stage response when admission state is
// unreachable: fail closed with a generic message, no internal detail leaked.
func InternalRejection(operation string) *Rejection {
	return &Rejection{
		Status:    http.StatusInternalServerError,
		Message:   "internal error",
		ErrorType: ErrorTypeInternal,
		EventType: models.EventSuspiciousActivity,
		Severity:  models.SeverityError,
		Data:      &models.EventData{ResourceType: operation},
	}
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from X-Forwarded-For.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitHeaders builds the standard reject headers from a counter result.
func RateLimitHeaders(res CounterResult, limit int) map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(limit),
		"X-RateLimit-Remaining": strconv.Itoa(res.Remaining(limit)),
		"X-RateLimit-Reset":     strconv.FormatInt(res.ResetAt.Unix(), 10),
	}
}

type contextKey struct{}

// WithRequestContext stores rc in ctx for the business handler.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext retrieves the admission context placed by the pipeline.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok
}
