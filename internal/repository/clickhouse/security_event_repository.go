package clickhouse

import (
	"context"
	"fmt"

	"mint-gateway/internal/client"
	"mint-gateway/internal/models"
	"mint-gateway/internal/util"
)

// SecurityEventRepository is the durable ClickHouse store behind the audit
// sink. Events are append-only; the table is partitioned by day and ordered
// for the per-actor queries the operator endpoint issues.
type SecurityEventRepository struct {
	client *client.ClickHouseClient
}

func NewSecurityEventRepository(chClient *client.ClickHouseClient) *SecurityEventRepository {
	return &SecurityEventRepository{client: chClient}
}

const createTableDDL = `
CREATE TABLE IF NOT EXISTS security_events (
    event_bucket   UInt16,
    event_id       String,
    event_date     Date,
    event_time     DateTime64(3, 'UTC'),
    event_type     LowCardinality(String),
    message        String,
    user_id        String,
    wallet_address String,
    ip_address     String,
    user_agent     String,
    resource_type  LowCardinality(String),
    resource_id    String,
    request_data   String,
    severity       LowCardinality(String),
    network        LowCardinality(String),
    created_at     DateTime64(3, 'UTC')
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(event_date)
ORDER BY (event_date, event_bucket, wallet_address, event_time)
TTL event_date + INTERVAL 180 DAY
`

// EnsureTable creates the events table on startup when missing.
func (r *SecurityEventRepository) EnsureTable(ctx context.Context) error {
	if err := r.client.Exec(ctx, createTableDDL); err != nil {
		return fmt.Errorf("failed to ensure security_events table: %w", err)
	}
	return nil
}

const insertQuery = `
INSERT INTO security_events (
    event_bucket, event_id, event_date, event_time, event_type, message,
    user_id, wallet_address, ip_address, user_agent, resource_type,
    resource_id, request_data, severity, network, created_at
)`

// WriteEvents batch-inserts one flush of audit events.
func (r *SecurityEventRepository) WriteEvents(ctx context.Context, events []models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			uint16(e.EventBucket), e.EventID, e.EventDate, e.EventTime,
			e.EventType, e.Message, e.UserID, e.WalletAddress, e.IPAddress,
			e.UserAgent, e.ResourceType, e.ResourceID, e.RequestData,
			e.Severity, e.Network, e.CreatedAt,
		})
	}

	if err := r.client.BatchInsert(ctx, insertQuery, rows); err != nil {
		return fmt.Errorf("failed to write security events: %w", err)
	}

	util.Debug("Security events written", util.Int("count", len(events)))
	return nil
}
