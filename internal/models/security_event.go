package models

import "time"

// Security event taxonomy. These values are persisted, so renaming one is a
// schema change.
const (
	EventRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	EventInvalidInput          = "INVALID_INPUT"
	EventAuthenticationFailure = "AUTHENTICATION_FAILURE"
	EventUnauthorizedAccess    = "UNAUTHORIZED_ACCESS"
	EventTokenOperation        = "TOKEN_OPERATION"
	EventSuspiciousActivity    = "SUSPICIOUS_ACTIVITY"
	EventWalletValidation      = "WALLET_VALIDATION"
	EventAccessControl         = "ACCESS_CONTROL"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// SecurityEvent is one immutable audit row. Rows are append-only: the gateway
// never updates or deletes them, retention is the store's concern.
type SecurityEvent struct {
	EventBucket   int       `db:"event_bucket" json:"event_bucket"`
	EventID       string    `db:"event_id" json:"event_id"`
	EventDate     string    `db:"event_date" json:"event_date"`
	EventTime     time.Time `db:"event_time" json:"event_time"`
	EventType     string    `db:"event_type" json:"event_type"`
	Message       string    `db:"message" json:"message"`
	UserID        string    `db:"user_id" json:"user_id,omitempty"`
	WalletAddress string    `db:"wallet_address" json:"wallet_address,omitempty"`
	IPAddress     string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent     string    `db:"user_agent" json:"user_agent,omitempty"`
	ResourceType  string    `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID    string    `db:"resource_id" json:"resource_id,omitempty"`
	RequestData   string    `db:"request_data" json:"request_data,omitempty"`
	Severity      string    `db:"severity" json:"severity"`
	Network       string    `db:"network" json:"network,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// EventData is the optional structured bag callers attach to a recorded event.
type EventData struct {
	UserID        string
	WalletAddress string
	UserAgent     string
	ResourceType  string
	ResourceID    string
	RequestData   map[string]interface{}
	Severity      string
	Network       string
}

// ValidSeverity reports whether s is one of the four known severities.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// ValidNetwork reports whether n names a supported network.
func ValidNetwork(n string) bool {
	return n == NetworkMainnet || n == NetworkTestnet
}
