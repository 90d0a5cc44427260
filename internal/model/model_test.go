package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mq-pipeline/internal/model"
)

func TestRawSample_Valid(t *testing.T) {
	cases := []struct {
		name  string
		s     model.RawSample
		valid bool
	}{
		{"broker with cluster", model.RawSample{EventType: model.EventTypeBroker, ClusterName: "c1"}, true},
		{"unknown event type", model.RawSample{EventType: "BOGUS", ClusterName: "c1"}, false},
		{"missing cluster name", model.RawSample{EventType: model.EventTypeTopic}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, tc.s.Valid())
		})
	}
}

func TestTransformedMetrics_CloneIsIndependent(t *testing.T) {
	original := &model.TransformedMetrics{
		Timestamp:   time.Now(),
		Provider:    "kafka",
		EntityType:  model.EntityKindBroker,
		ClusterName: "c1",
		Identifiers: map[string]string{"brokerId": "1"},
		Metrics:     map[string]float64{"cpuPercent": 50},
		Metadata:    map[string]string{"topics": "a,b"},
	}

	clone := original.Clone()
	require.Equal(t, original.Identifiers, clone.Identifiers)
	require.Equal(t, original.Metrics, clone.Metrics)
	require.Equal(t, original.Metadata, clone.Metadata)

	clone.Identifiers["brokerId"] = "2"
	clone.Metrics["cpuPercent"] = 99
	clone.Metadata["topics"] = "z"

	assert.Equal(t, "1", original.Identifiers["brokerId"], "mutating clone must not affect original identifiers")
	assert.Equal(t, float64(50), original.Metrics["cpuPercent"], "mutating clone must not affect original metrics")
	assert.Equal(t, "a,b", original.Metadata["topics"], "mutating clone must not affect original metadata")
}
