package synthesizer_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/r3e-network/mq-pipeline/internal/model"
	"github.com/r3e-network/mq-pipeline/internal/synthesizer"
)

var guidPattern = regexp.MustCompile(`^\d+\|INFRA\|MESSAGE_QUEUE_[A-Z_]+\|[a-f0-9]{32}$`)

func TestSynthesize_GUIDsMatchGrammar(t *testing.T) {
	s := synthesizer.New(nil, "12345", "prod", "US")

	clusters := map[string]*model.TransformedMetrics{
		"c1": {ClusterName: "c1", Timestamp: time.Now(), Metrics: map[string]float64{"healthScore": 95}},
	}
	brokers := map[string]*model.TransformedMetrics{
		"b1": {ClusterName: "c1", Timestamp: time.Now(), Identifiers: map[string]string{"brokerId": "1"}, Metrics: map[string]float64{"leaderPartitions": 3, "cpuPercent": 40}},
	}

	result := s.Synthesize(clusters, brokers, nil, nil, nil)
	if len(result.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(result.Entities))
	}
	for _, e := range result.Entities {
		if !guidPattern.MatchString(e.GUID) {
			t.Errorf("GUID %q does not match grammar", e.GUID)
		}
	}
}

func TestSynthesize_GUIDsAreStable(t *testing.T) {
	s := synthesizer.New(nil, "12345", "prod", "US")
	clusters := map[string]*model.TransformedMetrics{
		"c1": {ClusterName: "c1", Timestamp: time.Now(), Metrics: map[string]float64{"healthScore": 95}},
	}

	r1 := s.Synthesize(clusters, nil, nil, nil, nil)
	r2 := s.Synthesize(clusters, nil, nil, nil, nil)
	if r1.Entities[0].GUID != r2.Entities[0].GUID {
		t.Errorf("expected stable GUID across cycles, got %q and %q", r1.Entities[0].GUID, r2.Entities[0].GUID)
	}
}

func TestSynthesize_ClusterContainsBrokerRelationship(t *testing.T) {
	s := synthesizer.New(nil, "12345", "prod", "US")
	clusters := map[string]*model.TransformedMetrics{
		"c1": {ClusterName: "c1", Timestamp: time.Now(), Metrics: map[string]float64{}},
	}
	brokers := map[string]*model.TransformedMetrics{
		"b1": {ClusterName: "c1", Timestamp: time.Now(), Identifiers: map[string]string{"brokerId": "1"}, Metrics: map[string]float64{}},
	}

	result := s.Synthesize(clusters, brokers, nil, nil, nil)

	foundContains, foundContainedIn := false, false
	for _, r := range result.Relationships {
		if r.Type == model.RelContains {
			foundContains = true
		}
		if r.Type == model.RelContainedIn {
			foundContainedIn = true
		}
	}
	if !foundContains || !foundContainedIn {
		t.Errorf("expected both CONTAINS and CONTAINED_IN relationships, got %+v", result.Relationships)
	}
}

func TestSynthesize_TopicManagedByLeaderBroker(t *testing.T) {
	s := synthesizer.New(nil, "12345", "prod", "US")
	clusters := map[string]*model.TransformedMetrics{}
	brokers := map[string]*model.TransformedMetrics{
		"b1": {ClusterName: "c1", Timestamp: time.Now(), Identifiers: map[string]string{"brokerId": "2"}, Metrics: map[string]float64{"leaderPartitions": 1}},
		"b2": {ClusterName: "c1", Timestamp: time.Now(), Identifiers: map[string]string{"brokerId": "1"}, Metrics: map[string]float64{"leaderPartitions": 5}},
	}
	topics := map[string]*model.TransformedMetrics{
		"t1": {ClusterName: "c1", Timestamp: time.Now(), Identifiers: map[string]string{"topicName": "orders"}, Metrics: map[string]float64{}},
	}

	result := s.Synthesize(clusters, brokers, topics, nil, nil)

	var managedBy *model.Relationship
	for i, r := range result.Relationships {
		if r.Type == model.RelManagedBy {
			managedBy = &result.Relationships[i]
		}
	}
	if managedBy == nil {
		t.Fatal("expected a MANAGED_BY relationship")
	}

	var leaderGUID string
	for _, e := range result.Entities {
		if e.EntityType == model.EntityTypeBroker && e.Name == "1" {
			leaderGUID = e.GUID
		}
	}
	if managedBy.To != leaderGUID {
		t.Errorf("expected topic managed by broker with most leaderPartitions, got %q", managedBy.To)
	}
}

func TestSynthesize_InvalidEntityExcluded(t *testing.T) {
	s := synthesizer.New(nil, "12345", "prod", "US")
	clusters := map[string]*model.TransformedMetrics{
		"": {ClusterName: "", Timestamp: time.Now(), Metrics: map[string]float64{}},
	}

	result := s.Synthesize(clusters, nil, nil, nil, nil)
	if len(result.Entities) != 0 {
		t.Errorf("expected invalid entity with empty clusterName excluded, got %+v", result.Entities)
	}
}

func TestSynthesize_SLOAlertLevels(t *testing.T) {
	s := synthesizer.New(nil, "12345", "prod", "US")
	clusters := map[string]*model.TransformedMetrics{
		"c1": {ClusterName: "c1", Timestamp: time.Now(), Metrics: map[string]float64{"healthScore": 50}},
	}

	result := s.Synthesize(clusters, nil, nil, nil, nil)
	if result.Entities[0].AlertLevel != model.AlertCritical {
		t.Errorf("expected CRITICAL for healthScore 50, got %v", result.Entities[0].AlertLevel)
	}
}

func TestSynthesize_ConsumerGroupConsumesFromTopic(t *testing.T) {
	s := synthesizer.New(nil, "12345", "prod", "US")
	topics := map[string]*model.TransformedMetrics{
		"t1": {ClusterName: "c1", Timestamp: time.Now(), Identifiers: map[string]string{"topicName": "orders"}, Metrics: map[string]float64{}},
	}
	groups := map[string]*model.TransformedMetrics{
		"g1": {ClusterName: "c1", Timestamp: time.Now(), Identifiers: map[string]string{"consumerGroupId": "billing"}, Metrics: map[string]float64{"lag": 42}},
	}
	groupTopics := map[string][]string{"g1": {"orders"}}

	result := s.Synthesize(nil, nil, topics, groups, groupTopics)

	found := false
	for _, r := range result.Relationships {
		if r.Type == model.RelConsumesFrom {
			found = true
		}
	}
	if !found {
		t.Error("expected a CONSUMES_FROM relationship")
	}

	for _, e := range result.Entities {
		if e.EntityType == model.EntityTypeTopic {
			if e.Metrics["consumerLag"] != 42 {
				t.Errorf("expected propagated lag 42 on topic, got %v", e.Metrics["consumerLag"])
			}
		}
	}
}
