// Package collector produces RawSamples for one cycle by querying the
// upstream telemetry store through one *http.Client with context-scoped
// requests. The eventTypes are queried one after another, not
// concurrently.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/r3e-network/mq-pipeline/internal/logging"
	"github.com/r3e-network/mq-pipeline/internal/model"
	"github.com/r3e-network/mq-pipeline/internal/obserrors"
	"github.com/r3e-network/mq-pipeline/internal/ratelimit"
	"github.com/r3e-network/mq-pipeline/internal/resilience"
	"github.com/r3e-network/mq-pipeline/internal/telemetry"
	"github.com/r3e-network/mq-pipeline/pkg/version"
)

const (
	pageSize          = 2000
	rowsBetweenPauses = 10000
	pauseDuration     = time.Second
)

// Stats accumulates the collector's own observability counters (spec §4.3).
type Stats struct {
	QueriesIssued int64
	RowsReturned  int64
	Errors        int64
}

// Collector queries the upstream telemetry store for broker, topic, and
// consumer-group samples, paginating and tagging each with its eventType.
type Collector struct {
	log        *logging.Logger
	httpClient *http.Client
	endpoint   string
	apiKey     string
	accountID  string
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	lookback   time.Duration
	maxResults int
	metrics    *telemetry.Metrics
	limiter    *ratelimit.Limiter

	stats Stats
}

// New constructs a Collector. maxResults <= 0 means no cap beyond
// pagination exhaustion. The collector throttles its own query issuance
// via internal/ratelimit so a large backlog (e.g. after recovering from an
// outage) cannot burst past the upstream API's own rate limits.
func New(log *logging.Logger, endpoint, apiKey, accountID string, breaker *resilience.CircuitBreaker, retry resilience.RetryConfig, lookback time.Duration, maxResults int, operationTimeout time.Duration, metrics *telemetry.Metrics) *Collector {
	return &Collector{
		log:        log,
		httpClient: &http.Client{Timeout: operationTimeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
		accountID:  accountID,
		breaker:    breaker,
		retry:      retry,
		lookback:   lookback,
		maxResults: maxResults,
		metrics:    metrics,
		limiter:    ratelimit.New(ratelimit.DefaultConfig()),
	}
}

// Stats returns a snapshot of the collector's counters.
func (c *Collector) Stats() Stats {
	return c.stats
}

// eventTypes is the fixed set of logical queries issued per cycle.
var eventTypes = []model.EventType{
	model.EventTypeBroker,
	model.EventTypeTopic,
	model.EventTypeConsumerGroup,
}

// Collect runs one logical query per eventType, paginating each, and
// merges the results into a single list tagged with their eventType. A
// failure on one eventType does not prevent the others from running, but
// the pages already fetched for a failed eventType are dropped. If every
// eventType fails, Collect returns no samples and the last error.
func (c *Collector) Collect(ctx context.Context) ([]*model.RawSample, error) {
	var samples []*model.RawSample
	var lastErr error
	succeeded := 0

	for _, et := range eventTypes {
		rows, err := c.collectEventType(ctx, et)
		if err != nil {
			lastErr = err
			c.stats.Errors++
			if c.log != nil {
				c.log.LogStageError(ctx, "collector", err, string(classify(err)))
			}
			continue
		}
		succeeded++
		samples = append(samples, rows...)
	}

	if succeeded == 0 && lastErr != nil {
		return samples, lastErr
	}
	return samples, nil
}

func (c *Collector) collectEventType(ctx context.Context, eventType model.EventType) ([]*model.RawSample, error) {
	var out []*model.RawSample
	offset := 0

	for {
		var rows []map[string]interface{}
		op := func(opCtx context.Context) error {
			var err error
			rows, err = c.runQuery(opCtx, eventType, offset, pageSize)
			return err
		}

		err := resilience.ExecuteWithRetry(ctx, c.retry, resilience.DefaultClassifier, func(opCtx context.Context) error {
			if c.breaker == nil {
				return op(opCtx)
			}
			return c.breaker.Execute(opCtx, op)
		})
		if err != nil {
			return out, err
		}

		c.stats.QueriesIssued++
		c.stats.RowsReturned += int64(len(rows))

		for _, row := range rows {
			out = append(out, rowToSample(eventType, row))
		}

		offset += len(rows)
		if c.maxResults > 0 && offset >= c.maxResults {
			break
		}
		if len(rows) < pageSize {
			break
		}
		if offset%rowsBetweenPauses == 0 {
			timer := time.NewTimer(pauseDuration)
			select {
			case <-ctx.Done():
				timer.Stop()
				return out, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return out, nil
}

// runQuery issues one paginated GraphQL query and parses its response with
// gjson, since the row shape varies per eventType and is not known ahead
// of time (spec §9's dynamic-field-lookup guidance applies here too).
func (c *Collector) runQuery(ctx context.Context, eventType model.EventType, offset, limit int) ([]map[string]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, obserrors.Wrap(obserrors.KindInternal, "collector", "rate limit wait", err)
	}

	query := buildQuery(c.accountID, eventType, c.lookback, limit, offset)
	body, err := json.Marshal(map[string]interface{}{"query": query})
	if err != nil {
		return nil, obserrors.Wrap(obserrors.KindInternal, "collector", "marshal query", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, obserrors.Wrap(obserrors.KindInternal, "collector", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, obserrors.Wrap(obserrors.KindNetwork, "collector", "execute query", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, obserrors.Wrap(obserrors.KindNetwork, "collector", "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := obserrors.ClassifyHTTPStatus(resp.StatusCode)
		return nil, obserrors.New(kind, "collector", fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}

	parsed := gjson.ParseBytes(respBody)
	if errs := parsed.Get("errors"); errs.Exists() && errs.IsArray() {
		var messages []string
		errs.ForEach(func(_, v gjson.Result) bool {
			messages = append(messages, v.Get("message").String())
			return true
		})
		return nil, obserrors.New(obserrors.KindValidation, "collector", strings.Join(messages, "; "))
	}

	results := parsed.Get("data.actor.account.nrql.results")
	rows := make([]map[string]interface{}, 0, results.Int())
	results.ForEach(func(_, row gjson.Result) bool {
		fields := make(map[string]interface{}, 8)
		row.ForEach(func(k, v gjson.Result) bool {
			switch v.Type {
			case gjson.Number:
				fields[k.String()] = v.Num
			case gjson.String:
				fields[k.String()] = v.Str
			}
			return true
		})
		rows = append(rows, fields)
		return true
	})
	return rows, nil
}

// buildQuery renders the embedded NRQL-over-GraphQL query for one
// eventType, paginated via LIMIT/OFFSET (spec §4.3/§6).
func buildQuery(accountID string, eventType model.EventType, lookback time.Duration, limit, offset int) string {
	nrql := fmt.Sprintf(
		"SELECT * FROM MessageQueueSample WHERE entityType = '%s' SINCE %d minutes ago LIMIT %d OFFSET %d",
		eventType, int(lookback.Minutes()), limit, offset,
	)
	return fmt.Sprintf(
		`{ actor { account(id: %s) { nrql(query: %q) { results } } } }`,
		accountID, nrql,
	)
}

// rowToSample splits a query row into its identity fields (brokerId,
// hostname, topic, consumerGroupId, clusterName) and its remaining
// metric fields, producing a RawSample the transformer can consume.
func rowToSample(eventType model.EventType, row map[string]interface{}) *model.RawSample {
	identity := make(map[string]string)
	fields := make(map[string]interface{}, len(row))
	clusterName := ""

	for k, v := range row {
		switch k {
		case "brokerId", "hostname", "topic", "consumerGroupId":
			if s, ok := v.(string); ok {
				identity[k] = s
				continue
			}
		case "clusterName":
			if s, ok := v.(string); ok {
				clusterName = s
				continue
			}
		}
		fields[k] = v
	}

	return &model.RawSample{
		Timestamp:   time.Now(),
		EventType:   eventType,
		ClusterName: clusterName,
		Identity:    identity,
		Fields:      fields,
	}
}

func classify(err error) obserrors.Kind {
	if pe, ok := obserrors.As(err); ok {
		return pe.Kind
	}
	return obserrors.KindInternal
}
