// Package orchestrator drives the pipeline's single-cycle loop:
// collect -> transform -> aggregate -> synthesize -> stream (spec §4.8).
// Its withRecovery wrapper and ticker-driven scheduling are adapted from
// the service layer's syncer loops, generalized from a single blockchain
// poller to the pipeline's five ordered stages.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/mq-pipeline/internal/aggregator"
	"github.com/r3e-network/mq-pipeline/internal/collector"
	"github.com/r3e-network/mq-pipeline/internal/eventbus"
	"github.com/r3e-network/mq-pipeline/internal/health"
	"github.com/r3e-network/mq-pipeline/internal/logging"
	"github.com/r3e-network/mq-pipeline/internal/model"
	"github.com/r3e-network/mq-pipeline/internal/obserrors"
	"github.com/r3e-network/mq-pipeline/internal/resilience"
	"github.com/r3e-network/mq-pipeline/internal/streamer"
	"github.com/r3e-network/mq-pipeline/internal/synthesizer"
	"github.com/r3e-network/mq-pipeline/internal/telemetry"
	"github.com/r3e-network/mq-pipeline/internal/transformer"
)

// State is the orchestrator's lifecycle state (spec §4.8).
type State string

const (
	StateInit     State = "INIT"
	StateRunning  State = "RUNNING"
	StateDegraded State = "DEGRADED"
	StateStopped  State = "STOPPED"
)

// shutdownGrace bounds how long Stop waits for an in-flight cycle to
// finish flushing before returning, per spec §6's Signals section.
const shutdownGrace = 10 * time.Second

// Orchestrator owns the pipeline's cycle loop and cross-cycle state.
type Orchestrator struct {
	log     *logging.Logger
	metrics *telemetry.Metrics
	bus     *eventbus.Bus
	monitor *health.Monitor

	collector   *collector.Collector
	transformer *transformer.Transformer
	synthesizer *synthesizer.Synthesizer
	streamer    *streamer.Streamer

	interval time.Duration

	mu    sync.RWMutex
	state State
	stats model.CycleStats

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an Orchestrator wired to the given stage implementations.
func New(
	log *logging.Logger,
	metrics *telemetry.Metrics,
	bus *eventbus.Bus,
	monitor *health.Monitor,
	col *collector.Collector,
	tr *transformer.Transformer,
	synth *synthesizer.Synthesizer,
	str *streamer.Streamer,
	interval time.Duration,
) *Orchestrator {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Orchestrator{
		log:         log,
		metrics:     metrics,
		bus:         bus,
		monitor:     monitor,
		collector:   col,
		transformer: tr,
		synthesizer: synth,
		streamer:    str,
		interval:    interval,
		state:       StateInit,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Stats returns a snapshot of the cumulative cycle statistics.
func (o *Orchestrator) Stats() model.CycleStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stats
}

// Run schedules runCycle on a single timer until ctx is cancelled or Stop
// is called. The next cycle never starts before the current one returns;
// if a cycle runs past the interval, the next is scheduled immediately.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.doneCh)
	o.setState(StateRunning)

	o.runCycle(ctx)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.setState(StateStopped)
			return
		case <-o.stopCh:
			o.setState(StateStopped)
			return
		case <-ticker.C:
			o.runCycle(ctx)
		}
	}
}

// Stop requests the cycle loop to exit and waits up to shutdownGrace for
// it to do so, per spec §6's Signals section.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	select {
	case <-o.doneCh:
	case <-time.After(shutdownGrace):
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

// runCycle executes the nine numbered steps of spec §4.8. It never lets a
// panic escape: the top-level recovery guard matches spec §7's
// "unhandled errors never crash the process" requirement.
func (o *Orchestrator) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.recordCycleError(ctx, "orchestrator", fmt.Errorf("recovered panic: %v", r))
		}
	}()

	cycleID := uuid.NewString()
	start := time.Now()
	ctx = logging.WithTraceID(ctx, cycleID)

	o.mu.Lock()
	o.stats.CyclesStarted++
	o.mu.Unlock()

	if o.log != nil {
		o.log.LogCycleStart(ctx, cycleID)
	}
	o.bus.Publish(eventbus.ChannelCycleStart, cycleID)

	samples := withRecovery(o, ctx, "collector", 3, 2*time.Second, []*model.RawSample(nil), func(ctx context.Context) ([]*model.RawSample, error) {
		return o.collector.Collect(ctx)
	})

	if len(samples) == 0 {
		o.completeCycle(ctx, cycleID, start, 0, 0, 0)
		return
	}

	o.mu.Lock()
	o.stats.SamplesCollected += int64(len(samples))
	o.mu.Unlock()

	metrics := withRecovery(o, ctx, "transformer", 2, time.Second, []*model.TransformedMetrics(nil), func(ctx context.Context) ([]*model.TransformedMetrics, error) {
		return o.transformer.TransformAll(samples), nil
	})

	clusters, brokers, topics, groups := splitByKind(metrics)
	clusterAgg := aggregator.Aggregate(brokers, topics, groups)
	for name, tm := range clusterAgg {
		clusters[name] = tm
	}

	result := withRecovery(o, ctx, "synthesizer", 2, time.Second, synthesizer.Result{}, func(ctx context.Context) (synthesizer.Result, error) {
		groupTopics := buildGroupTopics(groups)
		return o.synthesizer.Synthesize(clusters, indexByKey(brokers), indexByKey(topics), indexByKey(groups), groupTopics), nil
	})

	o.mu.Lock()
	o.stats.EntitiesSynthesized += int64(len(result.Entities))
	o.mu.Unlock()

	eventsStreamed := 0
	if o.streamer.Skip() {
		o.bus.Publish(eventbus.ChannelCycleError, eventbus.CycleErrorPayload{CycleID: cycleID, Stage: "streamer", Err: resilience.ErrCircuitOpen})
	} else {
		err := withRecoveryErr(o, ctx, "streamer", 3, 5*time.Second, func(ctx context.Context) error {
			return o.streamer.Stream(ctx, result.Entities, result.Relationships)
		})
		if err == nil {
			eventsStreamed = len(result.Entities)
			o.mu.Lock()
			o.stats.EventsStreamed += int64(eventsStreamed)
			o.mu.Unlock()
		} else {
			o.mu.Lock()
			o.stats.StreamErrors++
			o.mu.Unlock()
		}
	}

	o.completeCycle(ctx, cycleID, start, len(samples), len(result.Entities), eventsStreamed)
}

func (o *Orchestrator) completeCycle(ctx context.Context, cycleID string, start time.Time, samples, entities, events int) {
	duration := time.Since(start)

	o.mu.Lock()
	o.stats.CyclesCompleted++
	o.stats.LastCycleDuration = duration
	o.mu.Unlock()

	if o.log != nil {
		o.log.LogCycleComplete(ctx, cycleID, duration, entities, events)
	}
	if o.metrics != nil {
		o.metrics.RecordCycle("success", duration.Seconds())
	}
	o.bus.Publish(eventbus.ChannelCycleComplete, eventbus.CycleCompletePayload{
		CycleID:             cycleID,
		Duration:            duration,
		SamplesCollected:    samples,
		EntitiesSynthesized: entities,
		EventsStreamed:      events,
	})
}

func (o *Orchestrator) recordCycleError(ctx context.Context, stage string, err error) {
	o.mu.Lock()
	o.stats.CyclesFailed++
	o.mu.Unlock()

	if o.log != nil {
		o.log.LogStageError(ctx, stage, err, string(classify(err)))
	}
	if o.metrics != nil {
		o.metrics.RecordCycle("error", 0)
	}
	o.bus.Publish(eventbus.ChannelCycleError, eventbus.CycleErrorPayload{Stage: stage, Err: err})
}

func classify(err error) obserrors.Kind {
	if pe, ok := obserrors.As(err); ok {
		return pe.Kind
	}
	return obserrors.KindInternal
}

// splitByKind groups TransformedMetrics by entity kind, seeding an empty
// cluster map the caller enriches with aggregator output.
func splitByKind(metrics []*model.TransformedMetrics) (clusters map[string]*model.TransformedMetrics, brokers, topics, groups []*model.TransformedMetrics) {
	clusters = make(map[string]*model.TransformedMetrics)
	for _, m := range metrics {
		switch m.EntityType {
		case model.EntityKindBroker:
			brokers = append(brokers, m)
		case model.EntityKindTopic:
			topics = append(topics, m)
		case model.EntityKindConsumerGroup:
			groups = append(groups, m)
		case model.EntityKindCluster:
			clusters[m.ClusterName] = m
		}
	}
	return clusters, brokers, topics, groups
}

// indexByKey keys a slice of TransformedMetrics by a stage-appropriate
// identifier, for the map-shaped inputs synthesizer.Synthesize expects.
func indexByKey(items []*model.TransformedMetrics) map[string]*model.TransformedMetrics {
	out := make(map[string]*model.TransformedMetrics, len(items))
	for i, m := range items {
		key := m.Identifiers["brokerId"]
		if key == "" {
			key = m.Identifiers["topicName"]
		}
		if key == "" {
			key = m.Identifiers["consumerGroupId"]
		}
		if key == "" {
			key = fmt.Sprintf("item-%d", i)
		}
		out[fmt.Sprintf("%s:%s", m.ClusterName, key)] = m
	}
	return out
}

// buildGroupTopics derives each consumer group's topic membership (stored
// as a deduplicated, sorted comma-joined string on TransformedMetrics.Metadata
// by the transformer) into the set-shaped map synthesizer.Synthesize expects,
// keyed consistently with indexByKey's consumer-group keys.
func buildGroupTopics(groups []*model.TransformedMetrics) map[string][]string {
	out := make(map[string][]string, len(groups))
	for i, g := range groups {
		key := g.Identifiers["consumerGroupId"]
		if key == "" {
			key = fmt.Sprintf("item-%d", i)
		}
		key = fmt.Sprintf("%s:%s", g.ClusterName, key)

		topics := g.Metadata["topics"]
		if topics == "" {
			continue
		}
		out[key] = splitTopics(topics)
	}
	return out
}

// withRecovery runs op under a bounded retry policy, matching spec §4.8's
// withRecovery(stage, fn, retry, delay, fallback) contract: on exhaustion
// it records a cycle.error event and returns fallback rather than
// propagating the failure, so one stage's exhaustion never aborts the
// cycle outright.
func withRecovery[T any](o *Orchestrator, ctx context.Context, stage string, maxAttempts int, baseDelay time.Duration, fallback T, op func(ctx context.Context) (T, error)) T {
	cfg := resilience.RetryConfig{MaxAttempts: maxAttempts, BaseDelay: baseDelay, MaxDelay: 30 * time.Second, Jitter: 0.1}
	result := fallback

	err := resilience.ExecuteWithRetry(ctx, cfg, resilience.DefaultClassifier, func(opCtx context.Context) error {
		r, opErr := op(opCtx)
		if opErr == nil {
			result = r
		}
		return opErr
	})
	if err != nil {
		o.recordCycleError(ctx, stage, err)
		return fallback
	}
	return result
}

// withRecoveryErr is withRecovery for stages with no meaningful return
// value (the streamer), per spec §4.8 step 7.
func withRecoveryErr(o *Orchestrator, ctx context.Context, stage string, maxAttempts int, baseDelay time.Duration, op func(ctx context.Context) error) error {
	cfg := resilience.RetryConfig{MaxAttempts: maxAttempts, BaseDelay: baseDelay, MaxDelay: 30 * time.Second, Jitter: 0.1}
	err := resilience.ExecuteWithRetry(ctx, cfg, resilience.DefaultClassifier, op)
	if err != nil {
		o.recordCycleError(ctx, stage, err)
	}
	return err
}

func splitTopics(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
