package token

import (
	"context"
	"net/http"

	"mint-gateway/internal/admission"
	"mint-gateway/internal/models"
)

// ValidateParamsStage is the schema-validation guard for the validate route.
// It runs after the rate limiters, so malformed payloads still count against
// the sender's quota, and before the wallet lock, so they never hold a lock.
type ValidateParamsStage struct {
	validator *Validator
}

func NewValidateParamsStage(v *Validator) *ValidateParamsStage {
	return &ValidateParamsStage{validator: v}
}

func (s *ValidateParamsStage) Name() string { return "schema_validation" }

func (s *ValidateParamsStage) Evaluate(ctx context.Context, rc *admission.RequestContext) *admission.Rejection {
	params, errs := s.validator.ValidateParams(rc.Body)
	if errs != nil {
		return schemaRejection(rc, errs)
	}

	rc.Payload = params
	rc.Wallet = params.WalletAddress
	rc.Network = params.Network
	return nil
}

// IssueRequestStage is the schema-validation guard for the issue route.
type IssueRequestStage struct {
	validator *Validator
}

func NewIssueRequestStage(v *Validator) *IssueRequestStage {
	return &IssueRequestStage{validator: v}
}

func (s *IssueRequestStage) Name() string { return "schema_validation" }

func (s *IssueRequestStage) Evaluate(ctx context.Context, rc *admission.RequestContext) *admission.Rejection {
	req, errs := s.validator.ValidateIssue(rc.Body)
	if errs != nil {
		return schemaRejection(rc, errs)
	}

	rc.Payload = req
	rc.Wallet = req.WalletAddress
	rc.Network = req.Network
	return nil
}

func schemaRejection(rc *admission.RequestContext, errs []string) *admission.Rejection {
	return &admission.Rejection{
		Status:    http.StatusBadRequest,
		Message:   "invalid token parameters",
		ErrorType: admission.ErrorTypeValidation,
		Errors:    errs,
		EventType: models.EventInvalidInput,
		Severity:  models.SeverityWarning,
		Data: &models.EventData{
			WalletAddress: rc.Wallet,
			Network:       rc.Network,
			ResourceType:  rc.Operation,
			RequestData: map[string]interface{}{
				"errors": errs,
			},
		},
	}
}
