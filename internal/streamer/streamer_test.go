package streamer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/r3e-network/mq-pipeline/internal/model"
	"github.com/r3e-network/mq-pipeline/internal/resilience"
	"github.com/r3e-network/mq-pipeline/internal/streamer"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: 0}
}

func sampleEntity(guid string, ts time.Time) model.Entity {
	return model.Entity{
		GUID:        guid,
		EntityType:  model.EntityTypeBroker,
		Name:        "broker-1",
		ClusterName: "c1",
		Provider:    "kafka",
		AccountID:   "1",
		Metrics:     map[string]float64{"cpuPercent": 42},
		Status:      model.StatusHealthy,
		AlertLevel:  model.AlertNone,
		Tags:        map[string]string{"team": "platform"},
		Timestamp:   ts,
	}
}

func TestStream_SendsFlatEventRecords(t *testing.T) {
	var received []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	str := streamer.New(nil, srv.URL, "NRAK-x", nil, fastRetry(), 5*time.Second, nil)
	err := str.Stream(context.Background(), []model.Entity{sampleEntity("guid-1", time.Now())}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected one event record, got %d", len(received))
	}
	if received[0]["entity.guid"] != "guid-1" {
		t.Errorf("expected entity.guid field, got %+v", received[0])
	}
	if received[0]["tag.team"] != "platform" {
		t.Errorf("expected tag.team field, got %+v", received[0])
	}
}

func TestStream_DeduplicatesByGUIDAndTimestamp(t *testing.T) {
	var count int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []map[string]interface{}
		json.NewDecoder(r.Body).Decode(&batch)
		atomic.AddInt64(&count, int64(len(batch)))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ts := time.Now()
	str := streamer.New(nil, srv.URL, "NRAK-x", nil, fastRetry(), 5*time.Second, nil)
	entities := []model.Entity{sampleEntity("guid-1", ts), sampleEntity("guid-1", ts)}
	if err := str.Stream(context.Background(), entities, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected duplicate (guid, timestamp) dropped, got %d events sent", count)
	}
}

func TestStream_SkipsWhenBreakerOpen(t *testing.T) {
	breaker := resilience.New(resilience.Config{Name: "streamer", FailureThreshold: 1, VolumeThreshold: 1, OperationTimeout: time.Second, RetryDelay: time.Hour})
	_ = breaker.Execute(context.Background(), func(ctx context.Context) error { return context.DeadlineExceeded })

	str := streamer.New(nil, "http://unused.invalid", "NRAK-x", breaker, fastRetry(), 5*time.Second, nil)
	err := str.Stream(context.Background(), []model.Entity{sampleEntity("guid-1", time.Now())}, nil)
	if err != resilience.ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen when breaker is open, got %v", err)
	}
}

func TestStream_RelationshipsSentToParallelEndpoint(t *testing.T) {
	var gotRelationship bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/relationships" {
			gotRelationship = true
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	str := streamer.New(nil, srv.URL, "NRAK-x", nil, fastRetry(), 5*time.Second, nil)
	rels := []model.Relationship{{Type: model.RelContains, From: "a", To: "b"}}
	if err := str.Stream(context.Background(), nil, rels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotRelationship {
		t.Error("expected relationships POSTed to the /relationships endpoint")
	}
}

func TestStream_NonRetryable4xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	str := streamer.New(nil, srv.URL, "NRAK-x", nil, fastRetry(), 5*time.Second, nil)
	err := str.Stream(context.Background(), []model.Entity{sampleEntity("guid-1", time.Now())}, nil)
	if err == nil {
		t.Error("expected an error for a 400 response")
	}
}
