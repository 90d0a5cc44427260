package transformer_test

import (
	"testing"
	"time"

	"github.com/r3e-network/mq-pipeline/internal/model"
	"github.com/r3e-network/mq-pipeline/internal/transformer"
)

func TestTransform_Broker(t *testing.T) {
	tr := transformer.New(nil)
	sample := &model.RawSample{
		Timestamp:   time.Now(),
		EventType:   model.EventTypeBroker,
		ClusterName: "prod-cluster",
		Identity:    map[string]string{"brokerId": "1", "hostname": "prod-cluster-kafka-1"},
		Fields: map[string]interface{}{
			"broker.bytesInPerSecond":          1234.5,
			"RequestHandlerAvgIdlePercent":     150.0, // out of bounds, should clamp
			"broker.underReplicatedPartitions": 0.0,
			"broker.cpuPercent":                -5.0, // out of bounds, should clamp
		},
	}

	tm := tr.Transform(sample)
	if tm == nil {
		t.Fatal("expected a transformed result")
	}
	if tm.ClusterName != "prod-cluster" {
		t.Errorf("expected clusterName preserved, got %q", tm.ClusterName)
	}
	if tm.Identifiers["brokerId"] != "1" {
		t.Errorf("expected brokerId identifier, got %+v", tm.Identifiers)
	}
	if tm.Metrics["bytesInPerSecond"] != 1234.5 {
		t.Errorf("expected bytesInPerSecond=1234.5, got %v", tm.Metrics["bytesInPerSecond"])
	}
	if tm.Metrics["requestHandlerIdlePercent"] != 100 {
		t.Errorf("expected clamp to 100, got %v", tm.Metrics["requestHandlerIdlePercent"])
	}
	if tm.Metrics["cpuPercent"] != 0 {
		t.Errorf("expected clamp to 0, got %v", tm.Metrics["cpuPercent"])
	}
}

func TestTransform_MissingRequiredFieldDrops(t *testing.T) {
	tr := transformer.New(nil)
	sample := &model.RawSample{
		Timestamp:   time.Now(),
		EventType:   model.EventTypeBroker,
		ClusterName: "prod-cluster",
		Identity:    map[string]string{"brokerId": "1"},
		Fields:      map[string]interface{}{},
	}

	if tm := tr.Transform(sample); tm != nil {
		t.Errorf("expected nil when underReplicatedPartitions is missing, got %+v", tm)
	}
}

func TestTransform_MissingIdentifierDrops(t *testing.T) {
	tr := transformer.New(nil)
	sample := &model.RawSample{
		Timestamp:   time.Now(),
		EventType:   model.EventTypeBroker,
		ClusterName: "prod-cluster",
		Identity:    map[string]string{},
		Fields:      map[string]interface{}{"broker.underReplicatedPartitions": 0.0},
	}

	if tm := tr.Transform(sample); tm != nil {
		t.Errorf("expected nil without brokerId, got %+v", tm)
	}
}

func TestTransform_ClusterNameInference(t *testing.T) {
	tr := transformer.New(nil)
	sample := &model.RawSample{
		Timestamp: time.Now(),
		EventType: model.EventTypeBroker,
		Identity:  map[string]string{"brokerId": "2", "hostname": "staging-kafka-2"},
		Fields:    map[string]interface{}{"broker.underReplicatedPartitions": 0.0},
	}

	tm := tr.Transform(sample)
	if tm == nil {
		t.Fatal("expected a transformed result")
	}
	if tm.ClusterName != "staging" {
		t.Errorf("expected inferred clusterName 'staging', got %q", tm.ClusterName)
	}
}

func TestTransform_ClusterNameDefaultFallback(t *testing.T) {
	tr := transformer.New(nil)
	sample := &model.RawSample{
		Timestamp: time.Now(),
		EventType: model.EventTypeBroker,
		Identity:  map[string]string{"brokerId": "3"},
		Fields:    map[string]interface{}{"broker.underReplicatedPartitions": 0.0},
	}

	tm := tr.Transform(sample)
	if tm == nil {
		t.Fatal("expected a transformed result")
	}
	if tm.ClusterName != "default-cluster" {
		t.Errorf("expected default-cluster fallback, got %q", tm.ClusterName)
	}
}

func TestTransform_UnknownAliasesIgnored(t *testing.T) {
	tr := transformer.New(nil)
	sample := &model.RawSample{
		Timestamp:   time.Now(),
		EventType:   model.EventTypeTopic,
		ClusterName: "prod-cluster",
		Identity:    map[string]string{"topic": "orders"},
		Fields: map[string]interface{}{
			"topic.messagesInPerSecond": 42.0,
			"some.unmapped.field":       "ignored",
		},
	}

	tm := tr.Transform(sample)
	if tm == nil {
		t.Fatal("expected a transformed result")
	}
	if len(tm.Metrics) != 1 {
		t.Errorf("expected only mapped fields present, got %+v", tm.Metrics)
	}
}

func TestTransformAll_SkipsInvalidWithoutFailing(t *testing.T) {
	tr := transformer.New(nil)
	samples := []*model.RawSample{
		{Timestamp: time.Now(), EventType: model.EventTypeBroker, ClusterName: "c", Identity: map[string]string{"brokerId": "1"}, Fields: map[string]interface{}{"broker.underReplicatedPartitions": 0.0}},
		{Timestamp: time.Now(), EventType: model.EventTypeBroker, ClusterName: "c", Identity: map[string]string{}, Fields: map[string]interface{}{}},
		nil,
	}

	out := tr.TransformAll(samples)
	if len(out) != 1 {
		t.Errorf("expected exactly one successful transform, got %d", len(out))
	}
}
