package models

import "time"

const (
	IssuanceStatusSubmitted = "submitted"
	IssuanceStatusConfirmed = "confirmed"
)

// TokenIssuance is one row in the issuance registry: a token-issue request
// that passed admission, keyed by the on-chain transaction hash.
type TokenIssuance struct {
	Bucket        int       `db:"bucket"`
	TxHash        string    `db:"tx_hash"`
	WalletAddress string    `db:"wallet_address"`
	Symbol        string    `db:"symbol"`
	Name          string    `db:"name"`
	Decimals      int       `db:"decimals"`
	Supply        string    `db:"supply"` // decimal string, may exceed uint64
	Network       string    `db:"network"`
	Status        string    `db:"status"`
	Confirmations int64     `db:"confirmations"`
	BlockNumber   int64     `db:"block_number"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
