package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"mint-gateway/internal/admission"
	"mint-gateway/internal/models"
	"mint-gateway/internal/repository/elastic"
	"mint-gateway/internal/util"
)

// AdminHandler serves the operator endpoints. The admin route sits behind the
// critical IP tier, so even a leaked URL yields a handful of requests per day.
type AdminHandler struct {
	events *elastic.EventIndex
}

func NewAdminHandler(events *elastic.EventIndex) *AdminHandler {
	return &AdminHandler{events: events}
}

// SecurityEvents handles GET /api/admin/security-events.
func (h *AdminHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondAdminError(w, http.StatusServiceUnavailable, "event search is not configured")
		return
	}

	q := r.URL.Query()
	filter := elastic.SearchFilter{
		EventType: q.Get("eventType"),
		Severity:  q.Get("severity"),
		Wallet:    q.Get("wallet"),
		IP:        q.Get("ip"),
		Network:   q.Get("network"),
	}

	if filter.Severity != "" && !models.ValidSeverity(filter.Severity) {
		respondAdminError(w, http.StatusBadRequest, "invalid severity")
		return
	}
	if filter.Network != "" && !models.ValidNetwork(filter.Network) {
		respondAdminError(w, http.StatusBadRequest, "invalid network")
		return
	}

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondAdminError(w, http.StatusBadRequest, "invalid from timestamp, want RFC3339")
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondAdminError(w, http.StatusBadRequest, "invalid to timestamp, want RFC3339")
			return
		}
		filter.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondAdminError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	result, err := h.events.SearchEvents(r.Context(), filter)
	if err != nil {
		util.Error("Security event search failed", util.ErrorField(err))
		respondAdminError(w, http.StatusBadGateway, "event search unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		util.Error("Failed to encode search response", util.ErrorField(err))
	}
}

func respondAdminError(w http.ResponseWriter, status int, message string) {
	errType := admission.ErrorTypeValidation
	if status >= http.StatusInternalServerError {
		errType = admission.ErrorTypeInternal
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Status:    status,
		Message:   message,
		ErrorType: errType,
	})
}
