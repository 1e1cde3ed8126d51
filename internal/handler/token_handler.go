package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mint-gateway/internal/admission"
	"mint-gateway/internal/models"
	"mint-gateway/internal/token"
	"mint-gateway/internal/util"
)

// TokenHandler serves the token endpoints behind the admission pipelines.
// Every request reaching a handler method already passed its route's gates;
// the admission context carries the validated payload and any warnings.
type TokenHandler struct {
	service  *token.Service
	recorder admission.Recorder
}

func NewTokenHandler(service *token.Service, recorder admission.Recorder) *TokenHandler {
	if recorder == nil {
		recorder = admission.NopRecorder{}
	}
	return &TokenHandler{
		service:  service,
		recorder: recorder,
	}
}

// errorBody matches the pipeline's rejection shape so clients see one format
// regardless of which layer refused them.
type errorBody struct {
	Status    int      `json:"status"`
	Message   string   `json:"message"`
	Errors    []string `json:"errors,omitempty"`
	ErrorType string   `json:"errorType,omitempty"`
}

// ValidateToken handles POST /api/token/validate.
func (h *TokenHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	rc, ok := admission.FromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "internal error", admission.ErrorTypeInternal, nil)
		return
	}
	params, ok := rc.Payload.(*token.Params)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "internal error", admission.ErrorTypeInternal, nil)
		return
	}

	result, err := h.service.ValidateToken(r.Context(), rc.IP, params)
	if err != nil {
		util.Error("Token validation failed",
			util.String("wallet", params.WalletAddress),
			util.ErrorField(err))
		h.respondError(w, http.StatusInternalServerError, "internal error", admission.ErrorTypeInternal, nil)
		return
	}

	body := map[string]interface{}{
		"valid":   result.Valid,
		"message": result.Message,
		"fee":     result.Fee,
	}
	if warnings := rc.Warnings(); warnings != nil {
		body["warnings"] = warnings
	}
	h.respondJSON(w, http.StatusOK, body)

	util.Debug("Token validated",
		util.String("wallet", params.WalletAddress),
		util.String("network", params.Network),
		util.Duration("duration", time.Since(start)))
}

// IssueToken handles POST /api/token/issue.
func (h *TokenHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	rc, ok := admission.FromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "internal error", admission.ErrorTypeInternal, nil)
		return
	}
	req, ok := rc.Payload.(*token.IssueRequest)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "internal error", admission.ErrorTypeInternal, nil)
		return
	}

	result, err := h.service.IssueToken(r.Context(), rc.IP, req)
	if err != nil {
		util.Error("Token issuance failed",
			util.String("wallet", req.WalletAddress),
			util.String("tx_hash", req.TxHash),
			util.ErrorField(err))
		h.respondError(w, http.StatusInternalServerError, "internal error", admission.ErrorTypeInternal, nil)
		return
	}

	body := map[string]interface{}{
		"success": result.Success,
		"txHash":  result.TxHash,
	}
	if warnings := rc.Warnings(); warnings != nil {
		body["warnings"] = warnings
	}
	h.respondJSON(w, http.StatusOK, body)

	util.Info("Token issuance accepted",
		util.String("wallet", req.WalletAddress),
		util.String("tx_hash", req.TxHash),
		util.String("network", req.Network),
		util.Duration("duration", time.Since(start)))
}

// TransactionStatus handles GET /api/token/transaction/{txHash}. The network
// comes from a query parameter and defaults to mainnet. The route is read-only
// and carries no wallet, so the parameters are validated here rather than by a
// schema stage.
func (h *TokenHandler) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	txHash := chi.URLParam(r, "txHash")
	network := r.URL.Query().Get("network")
	if network == "" {
		network = models.NetworkMainnet
	}
	ip := requestIP(r)

	if !models.ValidNetwork(network) {
		h.recorder.Record(models.EventInvalidInput, "invalid network in transaction status query", ip,
			&models.EventData{
				UserAgent:    r.UserAgent(),
				ResourceType: "transaction_check",
				Severity:     models.SeverityWarning,
				RequestData:  map[string]interface{}{"network": util.SanitizeInput(network)},
			})
		h.respondError(w, http.StatusBadRequest, "invalid network",
			admission.ErrorTypeValidation, []string{"network: must be mainnet or testnet"})
		return
	}

	if !token.TxHashPattern.MatchString(txHash) {
		h.recorder.Record(models.EventInvalidInput, "malformed transaction hash", ip,
			&models.EventData{
				UserAgent:    r.UserAgent(),
				Network:      network,
				ResourceType: "transaction_check",
				Severity:     models.SeverityWarning,
				RequestData:  map[string]interface{}{"txHash": util.TruncateForAudit(util.SanitizeInput(txHash), 128)},
			})
		h.respondError(w, http.StatusBadRequest, "invalid transaction hash",
			admission.ErrorTypeValidation, []string{"txHash: must match 0x followed by 64 hex characters"})
		return
	}

	status, err := h.service.TransactionStatus(r.Context(), network, txHash)
	if err != nil {
		if errors.Is(err, token.ErrTxNotFound) {
			h.respondError(w, http.StatusNotFound, "transaction not found", admission.ErrorTypeValidation, nil)
			return
		}
		util.Error("Transaction status query failed",
			util.String("tx_hash", txHash),
			util.String("network", network),
			util.ErrorField(err))
		h.respondError(w, http.StatusBadGateway, "unable to query transaction status", admission.ErrorTypeInternal, nil)
		return
	}

	h.respondJSON(w, http.StatusOK, status)
}

func (h *TokenHandler) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Error("Failed to encode response", util.ErrorField(err))
	}
}

func (h *TokenHandler) respondError(w http.ResponseWriter, status int, message, errorType string, errs []string) {
	h.respondJSON(w, status, errorBody{
		Status:    status,
		Message:   message,
		Errors:    errs,
		ErrorType: errorType,
	})
}
