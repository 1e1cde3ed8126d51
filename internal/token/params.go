package token

import (
	"encoding/json"
	"math/big"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"
)

// TxHashPattern matches the canonical transaction hash form the gateway
// accepts: 0x followed by 64 hex characters.
var TxHashPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

var supplyDigits = regexp.MustCompile(`^[0-9]+$`)

// MaxSupply is the exclusive upper bound on token supply: 2^128.
var MaxSupply = new(big.Int).Lsh(big.NewInt(1), 128)

const walletPayloadLen = 32

// ParamsPayload is the raw wire shape of token parameters. Supply is kept as
// raw JSON so that values beyond 2^53 survive decoding: it may arrive as a
// bare integer or a decimal string, and is parsed into a big.Int, never
// through a float.
type ParamsPayload struct {
	Name          string          `json:"name" validate:"omitempty,max=64"`
	Symbol        string          `json:"symbol" validate:"required,alphanum,min=1,max=8"`
	Decimals      int             `json:"decimals" validate:"min=0,max=18"`
	Supply        json.RawMessage `json:"supply"`
	WalletAddress string          `json:"walletAddress" validate:"required,wallet"`
	Network       string          `json:"network" validate:"required,oneof=mainnet testnet"`
}

// Params is the validated, normalized, immutable issuance payload.
type Params struct {
	Name          string
	Symbol        string
	Decimals      int
	Supply        *big.Int
	WalletAddress string
	Network       string
}

// IssuePayload is the raw wire shape of an issue request. Metadata carries
// the token parameters previously validated; wallet and network default from
// the outer envelope when the client omits them inside metadata.
type IssuePayload struct {
	TxHash        string        `json:"txHash" validate:"required"`
	Network       string        `json:"network" validate:"required,oneof=mainnet testnet"`
	WalletAddress string        `json:"walletAddress" validate:"required,wallet"`
	Metadata      ParamsPayload `json:"metadata"`
}

// IssueRequest is the validated, normalized issue request.
type IssueRequest struct {
	TxHash        string
	Network       string
	WalletAddress string
	Metadata      *Params
}

// parseSupply converts the raw supply into a big.Int. Returns "" error text
// on success.
func parseSupply(raw json.RawMessage) (*big.Int, string) {
	if len(raw) == 0 {
		return nil, "supply: required"
	}
	text := strings.TrimSpace(string(raw))
	text = strings.Trim(text, `"`)
	if !supplyDigits.MatchString(text) {
		return nil, "supply: must be a non-negative integer"
	}
	supply, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, "supply: must be a non-negative integer"
	}
	if supply.Cmp(MaxSupply) >= 0 {
		return nil, "supply: must be less than 2^128"
	}
	return supply, ""
}

// validWalletAddress checks the base58-encoded address decodes to the
// expected payload length.
func validWalletAddress(addr string) bool {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return false
	}
	return len(decoded) == walletPayloadLen
}
