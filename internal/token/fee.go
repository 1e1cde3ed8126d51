package token

import "math/big"

// Issuance-fee policy, all amounts in native base units (18 decimals).
// Deterministic so repeated validate calls quote the same fee for the same
// parameters.
var (
	feeBase         = mustBig("100000000000000000") // 0.10
	feePerDecimal   = mustBig("10000000000000000")  // 0.01
	feePerMagnitude = mustBig("50000000000000000")  // 0.05 per supply digit beyond 12
)

const feeMagnitudeFreeDigits = 12

// QuoteFee computes the issuance fee for validated parameters. Arithmetic
// stays in big.Int end to end; supplies routinely exceed 2^53.
func QuoteFee(p *Params) *big.Int {
	fee := new(big.Int).Set(feeBase)

	decimals := new(big.Int).Mul(feePerDecimal, big.NewInt(int64(p.Decimals)))
	fee.Add(fee, decimals)

	digits := len(p.Supply.Text(10))
	if p.Supply.Sign() == 0 {
		digits = 1
	}
	if digits > feeMagnitudeFreeDigits {
		extra := new(big.Int).Mul(feePerMagnitude, big.NewInt(int64(digits-feeMagnitudeFreeDigits)))
		fee.Add(fee, extra)
	}

	return fee
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid fee constant: " + s)
	}
	return v
}
