package elastic

import (
	"context"
	"fmt"
	"time"

	"mint-gateway/internal/client"
	"mint-gateway/internal/models"
	"mint-gateway/internal/util"
)

// EventIndex feeds the operator-facing search index and answers the admin
// security-events queries. The index is a convenience view; ClickHouse is
// the durable store.
type EventIndex struct {
	es    *client.ESClient
	index string
}

func NewEventIndex(esClient *client.ESClient, index string) *EventIndex {
	return &EventIndex{
		es:    esClient,
		index: index,
	}
}

// IndexEvents indexes one flush of audit events, one document per event.
// A single failed document is logged and skipped rather than failing the
// whole batch.
func (i *EventIndex) IndexEvents(ctx context.Context, events []models.SecurityEvent) error {
	var failed int
	for _, e := range events {
		res, err := i.es.IndexDocument(ctx, i.index, e.EventID, e)
		if err != nil {
			failed++
			util.Warn("Failed to index security event",
				util.String("event_id", e.EventID),
				util.ErrorField(err))
			continue
		}
		if res.IsError() {
			failed++
			util.Warn("Elasticsearch rejected security event",
				util.String("event_id", e.EventID),
				util.String("status", res.Status()))
		}
		res.Body.Close()
	}

	if failed == len(events) && len(events) > 0 {
		return fmt.Errorf("all %d security events failed to index", failed)
	}
	return nil
}

// SearchFilter narrows an admin security-events query. Zero values are
// ignored.
type SearchFilter struct {
	EventType string
	Severity  string
	Wallet    string
	IP        string
	Network   string
	From      time.Time
	To        time.Time
	Limit     int
}

// SearchResult is one page of matching events plus the total hit count.
type SearchResult struct {
	Total  int64                  `json:"total"`
	Events []models.SecurityEvent `json:"events"`
}

// SearchEvents runs a filtered, time-descending query against the index.
func (i *EventIndex) SearchEvents(ctx context.Context, filter SearchFilter) (*SearchResult, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	must := []map[string]interface{}{}
	addTerm := func(field, value string) {
		if value != "" {
			must = append(must, map[string]interface{}{
				"term": map[string]interface{}{field: value},
			})
		}
	}
	addTerm("event_type.keyword", filter.EventType)
	addTerm("severity.keyword", filter.Severity)
	addTerm("wallet_address.keyword", filter.Wallet)
	addTerm("ip_address.keyword", filter.IP)
	addTerm("network.keyword", filter.Network)

	timeRange := map[string]interface{}{}
	if !filter.From.IsZero() {
		timeRange["gte"] = filter.From.UTC().Format(time.RFC3339)
	}
	if !filter.To.IsZero() {
		timeRange["lte"] = filter.To.UTC().Format(time.RFC3339)
	}
	if len(timeRange) > 0 {
		must = append(must, map[string]interface{}{
			"range": map[string]interface{}{"event_time": timeRange},
		})
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"event_time": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
	}

	res, err := i.es.Search(ctx, i.index, query)
	if err != nil {
		return nil, fmt.Errorf("security event search failed: %w", err)
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.SecurityEvent `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := i.es.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	result := &SearchResult{
		Total:  parsed.Hits.Total.Value,
		Events: make([]models.SecurityEvent, 0, len(parsed.Hits.Hits)),
	}
	for _, hit := range parsed.Hits.Hits {
		result.Events = append(result.Events, hit.Source)
	}
	return result, nil
}
