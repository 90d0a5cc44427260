// Package transformer maps RawSamples into normalized TransformedMetrics
// per spec §4.4, driven by the declarative field-mapping tables in
// fieldmap.go rather than a per-field switch (spec §9).
package transformer

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/r3e-network/mq-pipeline/internal/logging"
	"github.com/r3e-network/mq-pipeline/internal/model"
)

// Transformer converts RawSamples to TransformedMetrics.
type Transformer struct {
	log *logging.Logger
}

// New constructs a Transformer.
func New(log *logging.Logger) *Transformer {
	return &Transformer{log: log}
}

func tableFor(eventType model.EventType) []FieldMapping {
	switch eventType {
	case model.EventTypeBroker:
		return brokerFields
	case model.EventTypeTopic:
		return topicFields
	case model.EventTypeConsumerGroup:
		return consumerGroupFields
	default:
		return nil
	}
}

func entityKindFor(eventType model.EventType) model.EntityKind {
	switch eventType {
	case model.EventTypeBroker:
		return model.EntityKindBroker
	case model.EventTypeTopic:
		return model.EntityKindTopic
	case model.EventTypeConsumerGroup:
		return model.EntityKindConsumerGroup
	default:
		return ""
	}
}

// Transform converts one RawSample into a TransformedMetrics, or returns
// nil when required identifiers or required metrics are missing (spec
// §4.4). Transform never panics and never mutates sample.
func (t *Transformer) Transform(sample *model.RawSample) *model.TransformedMetrics {
	if sample == nil {
		t.warn("invalid raw sample")
		return nil
	}

	table := tableFor(sample.EventType)
	if table == nil {
		t.warn("unknown event type: " + string(sample.EventType))
		return nil
	}

	identifiers := deriveIdentifiers(sample)
	if identifiers == nil {
		t.warn("missing required identifiers for " + string(sample.EventType))
		return nil
	}

	metrics := make(map[string]float64, len(table))
	for _, row := range table {
		value, found := lookupFloat(sample.Fields, row)
		if !found {
			if row.Required {
				t.warn("missing required field " + row.Canonical)
				return nil
			}
			continue
		}

		if row.Min != nil && value < *row.Min {
			if row.Clamp {
				value = *row.Min
			} else {
				continue
			}
		}
		if row.Max != nil && value > *row.Max {
			if row.Clamp {
				value = *row.Max
			} else {
				continue
			}
		}
		metrics[row.Canonical] = value
	}

	clusterName := t.resolveClusterName(sample)

	metadata := map[string]string{}
	if sample.EventType == model.EventTypeConsumerGroup {
		if topics := consumerGroupTopics(sample.Fields); topics != "" {
			metadata["topics"] = topics
		}
	}

	return &model.TransformedMetrics{
		Timestamp:   sample.Timestamp,
		Provider:    "kafka",
		EntityType:  entityKindFor(sample.EventType),
		ClusterName: clusterName,
		Identifiers: identifiers,
		Metrics:     metrics,
		Metadata:    metadata,
	}
}

// consumerGroupTopics normalizes the group's topic membership into a
// deduplicated, sorted comma-joined string. The source stores this as a
// comma-joined string in one place and a set in another (spec §9 open
// question 3); the pipeline always treats it as a set internally and
// never forwards the raw comma-joined form downstream.
func consumerGroupTopics(fields map[string]interface{}) string {
	raw, ok := fields["topics"]
	if !ok {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		return ""
	}

	seen := make(map[string]struct{})
	var unique []string
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}
	sort.Strings(unique)
	return strings.Join(unique, ",")
}

// TransformAll converts every valid sample, skipping and logging (but
// never failing) invalid ones, per spec §7's per-record propagation policy.
func (t *Transformer) TransformAll(samples []*model.RawSample) []*model.TransformedMetrics {
	out := make([]*model.TransformedMetrics, 0, len(samples))
	for _, s := range samples {
		if tm := t.Transform(s); tm != nil {
			out = append(out, tm)
		}
	}
	return out
}

func deriveIdentifiers(sample *model.RawSample) map[string]string {
	switch sample.EventType {
	case model.EventTypeBroker:
		brokerID := sample.Identity["brokerId"]
		if brokerID == "" {
			return nil
		}
		ids := map[string]string{"brokerId": brokerID}
		if hostname := sample.Identity["hostname"]; hostname != "" {
			ids["hostname"] = hostname
		}
		return ids
	case model.EventTypeTopic:
		topicName := sample.Identity["topic"]
		if topicName == "" {
			return nil
		}
		return map[string]string{"topicName": topicName}
	case model.EventTypeConsumerGroup:
		groupID := sample.Identity["consumerGroupId"]
		if groupID == "" {
			return nil
		}
		return map[string]string{"consumerGroupId": groupID}
	default:
		return nil
	}
}

// resolveClusterName preserves sample.ClusterName when set; otherwise it
// attempts to infer a stable cluster prefix from a hostname pattern, and
// falls back to "default-cluster" with a warning (spec §4.4).
func (t *Transformer) resolveClusterName(sample *model.RawSample) string {
	if sample.ClusterName != "" {
		return sample.ClusterName
	}

	if hostname := sample.Identity["hostname"]; hostname != "" {
		if idx := strings.Index(hostname, "-kafka-"); idx > 0 {
			return hostname[:idx]
		}
	}

	t.warn("could not determine clusterName, using default-cluster")
	return "default-cluster"
}

// lookupFloat checks the sample's fields for the canonical name and each
// alias in turn, coercing string-typed values where possible.
func lookupFloat(fields map[string]interface{}, row FieldMapping) (float64, bool) {
	candidates := make([]string, 0, len(row.Aliases)+1)
	candidates = append(candidates, row.Canonical)
	candidates = append(candidates, row.Aliases...)

	for _, key := range candidates {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if v, ok := toFloat(raw); ok {
			return v, true
		}
	}
	return 0, false
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return 0, false
		}
		return parsed, true
	case bool:
		_ = v
		return 0, false // booleans are never a valid metric value
	default:
		return 0, false
	}
}

func (t *Transformer) warn(msg string) {
	if t.log != nil {
		t.log.WithFields(nil).Warn(msg)
	}
}
