package token

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"mint-gateway/internal/util"
)

// Validator performs schema validation of token parameters and issue
// requests. It is stateless and safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// wallet: base58 address with a 32-byte payload.
	_ = v.RegisterValidation("wallet", func(fl validator.FieldLevel) bool {
		return validWalletAddress(fl.Field().String())
	})

	return &Validator{validate: v}
}

// ValidateParams decodes and validates a token-parameter body. On success it
// returns the normalized payload; otherwise a list of per-field errors. No
// partial acceptance: any field error rejects the whole payload.
func (v *Validator) ValidateParams(raw []byte) (*Params, []string) {
	var payload ParamsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, []string{"body: malformed JSON"}
	}
	return v.normalizeParams(&payload)
}

// ValidateIssue decodes and validates an issue-request body, including the
// embedded token metadata.
func (v *Validator) ValidateIssue(raw []byte) (*IssueRequest, []string) {
	var payload IssuePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, []string{"body: malformed JSON"}
	}

	var errs []string
	if payload.TxHash == "" {
		errs = append(errs, "txHash: required")
	} else if !TxHashPattern.MatchString(payload.TxHash) {
		errs = append(errs, "txHash: must match ^0x[a-fA-F0-9]{64}$")
	}
	if payload.WalletAddress == "" {
		errs = append(errs, "walletAddress: required")
	} else if !validWalletAddress(payload.WalletAddress) {
		errs = append(errs, "walletAddress: not a valid wallet address")
	}
	if payload.Network != "mainnet" && payload.Network != "testnet" {
		errs = append(errs, "network: must be one of mainnet, testnet")
	}

	// Metadata defaults wallet/network from the envelope.
	if payload.Metadata.WalletAddress == "" {
		payload.Metadata.WalletAddress = payload.WalletAddress
	}
	if payload.Metadata.Network == "" {
		payload.Metadata.Network = payload.Network
	}

	meta, metaErrs := v.normalizeParams(&payload.Metadata)
	for _, e := range metaErrs {
		errs = append(errs, "metadata."+e)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	return &IssueRequest{
		TxHash:        payload.TxHash,
		Network:       payload.Network,
		WalletAddress: payload.WalletAddress,
		Metadata:      meta,
	}, nil
}

func (v *Validator) normalizeParams(payload *ParamsPayload) (*Params, []string) {
	var errs []string

	if err := v.validate.Struct(payload); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			util.Error("Unexpected validator failure", util.ErrorField(err))
			return nil, []string{"body: validation failed"}
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	supply, supplyErr := parseSupply(payload.Supply)
	if supplyErr != "" {
		errs = append(errs, supplyErr)
	}

	if payload.Name != "" && util.ContainsSuspicious(payload.Name) {
		errs = append(errs, "name: contains disallowed characters")
	}

	if len(errs) > 0 {
		return nil, errs
	}

	name := strings.TrimSpace(payload.Name)
	if name == "" {
		name = payload.Symbol
	}

	return &Params{
		Name:          name,
		Symbol:        payload.Symbol,
		Decimals:      payload.Decimals,
		Supply:        supply,
		WalletAddress: payload.WalletAddress,
		Network:       payload.Network,
	}, nil
}

func fieldError(fe validator.FieldError) string {
	field := jsonFieldName(fe.Field())
	switch field {
	case "symbol":
		return "symbol: must be 1-8 alphanumeric characters"
	case "decimals":
		return "decimals: must be an integer between 0 and 18"
	case "walletAddress":
		if fe.Tag() == "required" {
			return "walletAddress: required"
		}
		return "walletAddress: not a valid wallet address"
	case "network":
		return "network: must be one of mainnet, testnet"
	case "name":
		return "name: too long"
	default:
		return fmt.Sprintf("%s: invalid (%s)", field, fe.Tag())
	}
}

func jsonFieldName(structField string) string {
	switch structField {
	case "Name":
		return "name"
	case "Symbol":
		return "symbol"
	case "Decimals":
		return "decimals"
	case "Supply":
		return "supply"
	case "WalletAddress":
		return "walletAddress"
	case "Network":
		return "network"
	default:
		return structField
	}
}
