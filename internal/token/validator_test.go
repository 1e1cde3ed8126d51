package token

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

// testWallet returns a syntactically valid base58 address with a 32-byte
// payload, distinct per seed.
func testWallet(seed byte) string {
	return base58.Encode(bytes.Repeat([]byte{seed}, 32))
}

func validParamsBody(wallet string) string {
	return fmt.Sprintf(`{
		"name": "My Token",
		"symbol": "MTK",
		"decimals": 9,
		"supply": 1000000,
		"walletAddress": %q,
		"network": "mainnet"
	}`, wallet)
}

func TestValidateParamsHappyPath(t *testing.T) {
	v := NewValidator()
	wallet := testWallet(1)

	params, errs := v.ValidateParams([]byte(validParamsBody(wallet)))
	require.Nil(t, errs)
	require.Equal(t, "My Token", params.Name)
	require.Equal(t, "MTK", params.Symbol)
	require.Equal(t, 9, params.Decimals)
	require.Equal(t, "1000000", params.Supply.Text(10))
	require.Equal(t, wallet, params.WalletAddress)
	require.Equal(t, "mainnet", params.Network)
}

func TestValidateParamsMalformedJSON(t *testing.T) {
	v := NewValidator()
	_, errs := v.ValidateParams([]byte(`{"symbol": `))
	require.Equal(t, []string{"body: malformed JSON"}, errs)
}

func TestValidateParamsSymbolBounds(t *testing.T) {
	v := NewValidator()
	wallet := testWallet(1)

	cases := []struct {
		symbol string
		ok     bool
	}{
		{"A", true},
		{"ABCDEFGH", true},
		{"ABCDEFGHI", false}, // 9 chars
		{"", false},
		{"AB-C", false}, // non-alphanumeric
	}
	for _, tc := range cases {
		body := fmt.Sprintf(`{"symbol": %q, "decimals": 0, "supply": "1", "walletAddress": %q, "network": "testnet"}`,
			tc.symbol, wallet)
		_, errs := v.ValidateParams([]byte(body))
		if tc.ok {
			require.Nil(t, errs, "symbol %q should pass", tc.symbol)
		} else {
			require.Contains(t, errs, "symbol: must be 1-8 alphanumeric characters", "symbol %q", tc.symbol)
		}
	}
}

func TestValidateParamsDecimalsBounds(t *testing.T) {
	v := NewValidator()
	wallet := testWallet(1)

	for _, tc := range []struct {
		decimals int
		ok       bool
	}{
		{0, true},
		{18, true},
		{19, false},
		{-1, false},
	} {
		body := fmt.Sprintf(`{"symbol": "TST", "decimals": %d, "supply": "1", "walletAddress": %q, "network": "testnet"}`,
			tc.decimals, wallet)
		_, errs := v.ValidateParams([]byte(body))
		if tc.ok {
			require.Nil(t, errs, "decimals %d should pass", tc.decimals)
		} else {
			require.Contains(t, errs, "decimals: must be an integer between 0 and 18", "decimals %d", tc.decimals)
		}
	}
}

func TestValidateParamsSupplyBounds(t *testing.T) {
	v := NewValidator()
	wallet := testWallet(1)

	maxMinusOne := "340282366920938463463374607431768211455" // 2^128 - 1
	max := "340282366920938463463374607431768211456"         // 2^128

	mk := func(supply string) []byte {
		return []byte(fmt.Sprintf(`{"symbol": "TST", "decimals": 0, "supply": %s, "walletAddress": %q, "network": "testnet"}`,
			supply, wallet))
	}

	// Quoted string form, at the inclusive maximum.
	params, errs := v.ValidateParams(mk(`"` + maxMinusOne + `"`))
	require.Nil(t, errs)
	require.Equal(t, maxMinusOne, params.Supply.Text(10))

	// Bare number form beyond float53 precision must survive exactly.
	params, errs = v.ValidateParams(mk("9007199254740993"))
	require.Nil(t, errs)
	require.Equal(t, "9007199254740993", params.Supply.Text(10))

	_, errs = v.ValidateParams(mk(`"` + max + `"`))
	require.Contains(t, errs, "supply: must be less than 2^128")

	_, errs = v.ValidateParams(mk(`"-5"`))
	require.Contains(t, errs, "supply: must be a non-negative integer")

	_, errs = v.ValidateParams(mk(`"1.5"`))
	require.Contains(t, errs, "supply: must be a non-negative integer")

	_, errs = v.ValidateParams([]byte(fmt.Sprintf(`{"symbol": "TST", "decimals": 0, "walletAddress": %q, "network": "testnet"}`, wallet)))
	require.Contains(t, errs, "supply: required")
}

func TestValidateParamsWalletAddress(t *testing.T) {
	v := NewValidator()

	mk := func(wallet string) []byte {
		return []byte(fmt.Sprintf(`{"symbol": "TST", "decimals": 0, "supply": "1", "walletAddress": %q, "network": "testnet"}`, wallet))
	}

	_, errs := v.ValidateParams(mk(testWallet(7)))
	require.Nil(t, errs)

	// Wrong payload length.
	short := base58.Encode(bytes.Repeat([]byte{7}, 16))
	_, errs = v.ValidateParams(mk(short))
	require.Contains(t, errs, "walletAddress: not a valid wallet address")

	// Illegal base58 characters (0, O, I, l).
	_, errs = v.ValidateParams(mk("0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl"))
	require.Contains(t, errs, "walletAddress: not a valid wallet address")
}

func TestValidateParamsNameRules(t *testing.T) {
	v := NewValidator()
	wallet := testWallet(1)

	// Missing name defaults to the symbol.
	body := fmt.Sprintf(`{"symbol": "TST", "decimals": 0, "supply": "1", "walletAddress": %q, "network": "testnet"}`, wallet)
	params, errs := v.ValidateParams([]byte(body))
	require.Nil(t, errs)
	require.Equal(t, "TST", params.Name)

	// Script-ish content is refused, not stripped.
	body = fmt.Sprintf(`{"name": "<script>x</script>", "symbol": "TST", "decimals": 0, "supply": "1", "walletAddress": %q, "network": "testnet"}`, wallet)
	_, errs = v.ValidateParams([]byte(body))
	require.Contains(t, errs, "name: contains disallowed characters")

	// Over-long name.
	body = fmt.Sprintf(`{"name": %q, "symbol": "TST", "decimals": 0, "supply": "1", "walletAddress": %q, "network": "testnet"}`,
		strings.Repeat("x", 65), wallet)
	_, errs = v.ValidateParams([]byte(body))
	require.Contains(t, errs, "name: too long")
}

func TestValidateParamsNetworkRules(t *testing.T) {
	v := NewValidator()
	wallet := testWallet(1)

	for _, network := range []string{"devnet", "", "MAINNET"} {
		body := fmt.Sprintf(`{"symbol": "TST", "decimals": 0, "supply": "1", "walletAddress": %q, "network": %q}`, wallet, network)
		_, errs := v.ValidateParams([]byte(body))
		require.Contains(t, errs, "network: must be one of mainnet, testnet", "network %q", network)
	}
}

func TestValidateParamsCollectsAllErrors(t *testing.T) {
	v := NewValidator()

	body := `{"symbol": "toolongsymbol", "decimals": 99, "supply": "xyz", "walletAddress": "bad", "network": "devnet"}`
	_, errs := v.ValidateParams([]byte(body))

	require.Contains(t, errs, "symbol: must be 1-8 alphanumeric characters")
	require.Contains(t, errs, "decimals: must be an integer between 0 and 18")
	require.Contains(t, errs, "supply: must be a non-negative integer")
	require.Contains(t, errs, "walletAddress: not a valid wallet address")
	require.Contains(t, errs, "network: must be one of mainnet, testnet")
}

func validIssueBody(wallet, txHash string) string {
	return fmt.Sprintf(`{
		"txHash": %q,
		"network": "mainnet",
		"walletAddress": %q,
		"metadata": {
			"name": "My Token",
			"symbol": "MTK",
			"decimals": 9,
			"supply": "1000000"
		}
	}`, txHash, wallet)
}

func TestValidateIssueHappyPathAndEnvelopeDefaults(t *testing.T) {
	v := NewValidator()
	wallet := testWallet(2)
	txHash := "0x" + strings.Repeat("ab", 32)

	req, errs := v.ValidateIssue([]byte(validIssueBody(wallet, txHash)))
	require.Nil(t, errs)
	require.Equal(t, txHash, req.TxHash)
	require.Equal(t, wallet, req.WalletAddress)
	require.Equal(t, "mainnet", req.Network)

	// Metadata omitted wallet/network and inherited the envelope's.
	require.Equal(t, wallet, req.Metadata.WalletAddress)
	require.Equal(t, "mainnet", req.Metadata.Network)
	require.Equal(t, "1000000", req.Metadata.Supply.Text(10))
}

func TestValidateIssueTxHashRules(t *testing.T) {
	v := NewValidator()
	wallet := testWallet(2)

	for _, tc := range []struct {
		txHash string
		want   string
	}{
		{"", "txHash: required"},
		{"abc123", "txHash: must match ^0x[a-fA-F0-9]{64}$"},
		{"0x" + strings.Repeat("a", 63), "txHash: must match ^0x[a-fA-F0-9]{64}$"},
		{"0x" + strings.Repeat("g", 64), "txHash: must match ^0x[a-fA-F0-9]{64}$"},
	} {
		_, errs := v.ValidateIssue([]byte(validIssueBody(wallet, tc.txHash)))
		require.Contains(t, errs, tc.want, "txHash %q", tc.txHash)
	}
}

func TestValidateIssueMetadataErrorsPrefixed(t *testing.T) {
	v := NewValidator()
	wallet := testWallet(2)
	txHash := "0x" + strings.Repeat("cd", 32)

	body := fmt.Sprintf(`{
		"txHash": %q,
		"network": "mainnet",
		"walletAddress": %q,
		"metadata": {"symbol": "", "decimals": 20, "supply": "1"}
	}`, txHash, wallet)

	_, errs := v.ValidateIssue([]byte(body))
	require.Contains(t, errs, "metadata.symbol: must be 1-8 alphanumeric characters")
	require.Contains(t, errs, "metadata.decimals: must be an integer between 0 and 18")
}
