// Package streamer transmits entities and relationships to the remote
// ingest backend as batched entity-event POSTs, sent one batch at a time
// (spec §4.7).
package streamer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/r3e-network/mq-pipeline/internal/logging"
	"github.com/r3e-network/mq-pipeline/internal/model"
	"github.com/r3e-network/mq-pipeline/internal/obserrors"
	"github.com/r3e-network/mq-pipeline/internal/resilience"
	"github.com/r3e-network/mq-pipeline/internal/telemetry"
	"github.com/r3e-network/mq-pipeline/pkg/version"
)

const (
	defaultBatchSize = 500
	maxBatchBytes    = 1 << 20 // 1 MiB per batch
)

// Stats accumulates the streamer's observability counters.
type Stats struct {
	BatchesSent      int64
	EventsSent       int64
	RelationshipsSent int64
	Errors           int64
	Skipped          int64
}

// Streamer batches Entity and Relationship records into flat event
// records and POSTs them to the ingest endpoint.
type Streamer struct {
	log        *logging.Logger
	httpClient *http.Client
	endpoint   string
	ingestKey  string
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	metrics    *telemetry.Metrics
	batchSize  int

	seen  map[string]struct{} // idempotency: (guid, timestamp) seen this process run
	stats Stats
}

// New constructs a Streamer.
func New(log *logging.Logger, endpoint, ingestKey string, breaker *resilience.CircuitBreaker, retry resilience.RetryConfig, operationTimeout time.Duration, metrics *telemetry.Metrics) *Streamer {
	return &Streamer{
		log:        log,
		httpClient: &http.Client{Timeout: operationTimeout},
		endpoint:   endpoint,
		ingestKey:  ingestKey,
		breaker:    breaker,
		retry:      retry,
		metrics:    metrics,
		batchSize:  defaultBatchSize,
		seen:       make(map[string]struct{}),
	}
}

// Stats returns a snapshot of the streamer's counters.
func (s *Streamer) Stats() Stats {
	return s.stats
}

// Skip reports whether the streamer's breaker is currently OPEN, in which
// case the orchestrator SHALL skip streaming for the remainder of the
// cycle rather than buffer (spec §4.7 backpressure policy).
func (s *Streamer) Skip() bool {
	return s.breaker != nil && s.breaker.State() == resilience.StateOpen
}

// Stream converts entities and relationships into flat event records,
// deduplicates by (guid, timestamp), batches them, and POSTs each batch
// under the streamer's circuit breaker and retrier.
func (s *Streamer) Stream(ctx context.Context, entities []model.Entity, relationships []model.Relationship) error {
	if s.Skip() {
		s.stats.Skipped++
		return resilience.ErrCircuitOpen
	}

	events := make([]map[string]interface{}, 0, len(entities))
	for _, e := range entities {
		key := fmt.Sprintf("%s|%d", e.GUID, e.Timestamp.UnixMilli())
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		events = append(events, toEventRecord(e))
	}

	for _, batch := range batchRecords(events, s.batchSize, maxBatchBytes) {
		if err := s.sendBatch(ctx, batch); err != nil {
			s.stats.Errors++
			return err
		}
		s.stats.BatchesSent++
		s.stats.EventsSent += int64(len(batch))
	}

	if len(relationships) > 0 {
		relEvents := make([]map[string]interface{}, 0, len(relationships))
		for _, r := range relationships {
			relEvents = append(relEvents, map[string]interface{}{
				"source": r.From,
				"type":   string(r.Type),
				"target": r.To,
			})
		}
		for _, batch := range batchRecords(relEvents, s.batchSize, maxBatchBytes) {
			if err := s.sendBatchTo(ctx, s.endpoint+"/relationships", batch); err != nil {
				s.stats.Errors++
				return err
			}
			s.stats.RelationshipsSent += int64(len(batch))
		}
	}

	return nil
}

func (s *Streamer) sendBatch(ctx context.Context, batch []map[string]interface{}) error {
	return s.sendBatchTo(ctx, s.endpoint, batch)
}

func (s *Streamer) sendBatchTo(ctx context.Context, url string, batch []map[string]interface{}) error {
	op := func(opCtx context.Context) error {
		return s.post(opCtx, url, batch)
	}
	return resilience.ExecuteWithRetry(ctx, s.retry, resilience.DefaultClassifier, func(opCtx context.Context) error {
		if s.breaker == nil {
			return op(opCtx)
		}
		return s.breaker.Execute(opCtx, op)
	})
}

func (s *Streamer) post(ctx context.Context, url string, batch []map[string]interface{}) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return obserrors.Wrap(obserrors.KindInternal, "streamer", "marshal batch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return obserrors.Wrap(obserrors.KindInternal, "streamer", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", s.ingestKey)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return obserrors.Wrap(obserrors.KindNetwork, "streamer", "send batch", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := obserrors.ClassifyHTTPStatus(resp.StatusCode)
		return obserrors.New(kind, "streamer", fmt.Sprintf("ingest returned %d", resp.StatusCode))
	}
	return nil
}

// toEventRecord flattens an Entity into the wire record shape spec §4.7
// requires.
func toEventRecord(e model.Entity) map[string]interface{} {
	record := map[string]interface{}{
		"eventType":   "MessageQueue",
		"timestamp":   e.Timestamp.UnixMilli(),
		"entity.guid": e.GUID,
		"entity.name": e.Name,
		"entity.type": string(e.EntityType),
		"provider":    e.Provider,
		"accountId":   e.AccountID,
		"clusterName": e.ClusterName,
		"status":      string(e.Status),
		"alertLevel":  string(e.AlertLevel),
	}
	for k, v := range e.Metrics {
		record[k] = v
	}
	for k, v := range e.Tags {
		record["tag."+k] = v
	}
	return record
}

// batchRecords groups records into batches capped by both count and a
// rough byte budget, per spec §4.7.
func batchRecords(records []map[string]interface{}, maxCount, maxBytes int) [][]map[string]interface{} {
	if len(records) == 0 {
		return nil
	}
	var batches [][]map[string]interface{}
	current := make([]map[string]interface{}, 0, maxCount)
	currentBytes := 0

	for _, r := range records {
		size := estimateSize(r)
		if len(current) > 0 && (len(current) >= maxCount || currentBytes+size > maxBytes) {
			batches = append(batches, current)
			current = make([]map[string]interface{}, 0, maxCount)
			currentBytes = 0
		}
		current = append(current, r)
		currentBytes += size
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func estimateSize(r map[string]interface{}) int {
	b, err := json.Marshal(r)
	if err != nil {
		return 256
	}
	return len(b)
}
