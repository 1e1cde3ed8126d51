package token

import (
	"context"
	"fmt"
	"net/http"

	"mint-gateway/internal/admission"
	"mint-gateway/internal/models"
)

// WarningTamper is the request-context key for cosmetic divergence between a
// validate call and the following issue call.
const WarningTamper = "tamper"

// TamperStage compares an issue request against the wallet's most recent
// validation snapshot. Divergence in an economically significant field
// (symbol, decimals, supply, network) is a front-running signal and rejects
// the request at critical severity. A changed name is cosmetic: annotated and
// audited at warning severity, but allowed through. Parameters are never
// silently "fixed".
type TamperStage struct {
	snapshots SnapshotStore
	recorder  admission.Recorder
}

func NewTamperStage(snapshots SnapshotStore, recorder admission.Recorder) *TamperStage {
	if recorder == nil {
		recorder = admission.NopRecorder{}
	}
	return &TamperStage{snapshots: snapshots, recorder: recorder}
}

func (s *TamperStage) Name() string { return "tamper_check" }

func (s *TamperStage) Evaluate(ctx context.Context, rc *admission.RequestContext) *admission.Rejection {
	req, ok := rc.Payload.(*IssueRequest)
	if !ok {
		// Schema stage must have run first; a miswired pipeline is a
		// programming error, not a client one.
		return admission.InternalRejection(rc.Operation)
	}

	snap, err := s.snapshots.GetSnapshot(ctx, req.WalletAddress)
	if err != nil {
		return admission.InternalRejection(rc.Operation)
	}
	if snap == nil {
		// No validate call inside the window; nothing to compare.
		return nil
	}

	submitted := SnapshotOf(req.Metadata, snap.CreatedAt)

	var critical []string
	if submitted.Symbol != snap.Symbol {
		critical = append(critical, fmt.Sprintf("symbol: validated %q, submitted %q", snap.Symbol, submitted.Symbol))
	}
	if submitted.Decimals != snap.Decimals {
		critical = append(critical, fmt.Sprintf("decimals: validated %d, submitted %d", snap.Decimals, submitted.Decimals))
	}
	if submitted.Supply != snap.Supply {
		critical = append(critical, fmt.Sprintf("supply: validated %s, submitted %s", snap.Supply, submitted.Supply))
	}
	if submitted.Network != snap.Network {
		critical = append(critical, fmt.Sprintf("network: validated %s, submitted %s", snap.Network, submitted.Network))
	}

	if len(critical) > 0 {
		return &admission.Rejection{
			Status:    http.StatusBadRequest,
			Message:   "token parameters do not match the validated submission",
			ErrorType: admission.ErrorTypeValidation,
			Errors:    critical,
			EventType: models.EventSuspiciousActivity,
			Severity:  models.SeverityCritical,
			Data: &models.EventData{
				WalletAddress: req.WalletAddress,
				Network:       req.Network,
				ResourceType:  rc.Operation,
				Severity:      models.SeverityCritical,
				RequestData: map[string]interface{}{
					"reason":    "parameter_tampering",
					"validated": *snap,
					"submitted": submitted,
				},
			},
		}
	}

	if submitted.Name != snap.Name {
		message := fmt.Sprintf("token name changed since validation: %q -> %q", snap.Name, submitted.Name)
		rc.AddWarning(WarningTamper, message)
		s.recorder.Record(models.EventSuspiciousActivity, message, rc.IP,
			&models.EventData{
				WalletAddress: req.WalletAddress,
				Network:       req.Network,
				ResourceType:  rc.Operation,
				Severity:      models.SeverityWarning,
				RequestData: map[string]interface{}{
					"reason":         "name_changed",
					"validated_name": snap.Name,
					"submitted_name": submitted.Name,
				},
			})
	}

	return nil
}
