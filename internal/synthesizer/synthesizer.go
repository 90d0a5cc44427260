// Package synthesizer builds Entity records and their Relationship graph
// from transformed and aggregated metrics, per spec §4.6. Relationships
// are stored as an adjacency map keyed by GUID rather than pointers,
// following spec §9's guidance on cyclic object graphs.
package synthesizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"

	"github.com/r3e-network/mq-pipeline/internal/logging"
	"github.com/r3e-network/mq-pipeline/internal/model"
)

// guidPattern validates the GUID grammar from spec §6.
var guidPattern = regexp.MustCompile(`^\d+\|INFRA\|MESSAGE_QUEUE_[A-Z_]+\|[a-f0-9]{32}$`)

// Synthesizer turns aggregated cluster/broker/topic/consumer-group metrics
// into Entity and Relationship records.
type Synthesizer struct {
	log         *logging.Logger
	accountID   string
	environment string
	region      string
}

// New constructs a Synthesizer scoped to one tenant account.
func New(log *logging.Logger, accountID, environment, region string) *Synthesizer {
	return &Synthesizer{log: log, accountID: accountID, environment: environment, region: region}
}

// Result is the synthesizer's output for one cycle.
type Result struct {
	Entities      []model.Entity
	Relationships []model.Relationship
}

// Synthesize runs phases 1-6 of spec §4.6 over one cycle's inputs.
func (s *Synthesizer) Synthesize(clusters, brokers, topics, consumerGroups map[string]*model.TransformedMetrics, groupTopics map[string][]string) Result {
	entities := make(map[string]model.Entity)
	rels := make([]model.Relationship, 0)

	clusterGUIDs := make(map[string]string, len(clusters))
	for clusterName, tm := range clusters {
		guid := s.guid("MESSAGE_QUEUE_CLUSTER", clusterName)
		clusterGUIDs[clusterName] = guid
		entities[guid] = s.buildEntity(guid, model.EntityTypeCluster, clusterName, clusterName, tm)
	}

	brokerGUIDs := make(map[string]string, len(brokers))
	brokersByCluster := make(map[string][]brokerRef)
	for key, tm := range brokers {
		clusterName := tm.ClusterName
		brokerID := tm.Identifiers["brokerId"]
		hostname := tm.Identifiers["hostname"]
		compositeKey := fmt.Sprintf("%s:%s:%s", clusterName, brokerID, hostname)
		guid := s.guidFromComposite("MESSAGE_QUEUE_BROKER", compositeKey)
		brokerGUIDs[key] = guid

		name := brokerID
		if name == "" {
			name = key
		}
		entities[guid] = s.buildEntity(guid, model.EntityTypeBroker, name, clusterName, tm)
		brokersByCluster[clusterName] = append(brokersByCluster[clusterName], brokerRef{guid: guid, brokerID: brokerID, tm: tm})

		if clusterGUID, ok := clusterGUIDs[clusterName]; ok {
			rels = append(rels, model.Relationship{Type: model.RelContains, From: clusterGUID, To: guid})
			rels = append(rels, model.Relationship{Type: model.RelContainedIn, From: guid, To: clusterGUID})
		}
	}

	topicLag := aggregateConsumerLagByTopic(consumerGroups, groupTopics)

	topicGUIDs := make(map[string]string, len(topics))
	topicsByName := make(map[string]string) // clusterName:topicName -> guid
	for key, tm := range topics {
		clusterName := tm.ClusterName
		topicName := tm.Identifiers["topicName"]
		compositeKey := fmt.Sprintf("%s:%s", clusterName, topicName)
		guid := s.guidFromComposite("MESSAGE_QUEUE_TOPIC", compositeKey)
		topicGUIDs[key] = guid
		topicsByName[compositeKey] = guid

		name := topicName
		if name == "" {
			name = key
		}
		entities[guid] = s.buildEntity(guid, model.EntityTypeTopic, name, clusterName, tm)
		if lag, ok := topicLag[compositeKey]; ok {
			e := entities[guid]
			e.Metrics["consumerLag"] = lag
			entities[guid] = e
		}

		if clusterGUID, ok := clusterGUIDs[clusterName]; ok {
			rels = append(rels, model.Relationship{Type: model.RelContains, From: clusterGUID, To: guid})
			rels = append(rels, model.Relationship{Type: model.RelContainedIn, From: guid, To: clusterGUID})
		}

		if managerGUID, ok := leaderBroker(brokersByCluster[clusterName]); ok {
			rels = append(rels, model.Relationship{Type: model.RelManagedBy, From: guid, To: managerGUID})
			rels = append(rels, model.Relationship{Type: model.RelManages, From: managerGUID, To: guid})
		}
	}

	for key, tm := range consumerGroups {
		clusterName := tm.ClusterName
		groupID := tm.Identifiers["consumerGroupId"]
		compositeKey := fmt.Sprintf("%s:%s", clusterName, groupID)
		guid := s.guidFromComposite("MESSAGE_QUEUE_CONSUMER_GROUP", compositeKey)

		name := groupID
		if name == "" {
			name = key
		}
		entities[guid] = s.buildEntity(guid, model.EntityTypeConsumerGroup, name, clusterName, tm)

		for _, topicName := range groupTopics[key] {
			topicKey := fmt.Sprintf("%s:%s", clusterName, topicName)
			if topicGUID, ok := topicsByName[topicKey]; ok {
				rels = append(rels, model.Relationship{Type: model.RelConsumesFrom, From: guid, To: topicGUID})
			}
		}
	}

	s.applySLO(entities)

	validEntities := make([]model.Entity, 0, len(entities))
	for guid, e := range entities {
		if s.valid(e) {
			validEntities = append(validEntities, e)
		} else {
			s.warn("rejected entity with invalid GUID or missing fields: " + guid)
		}
	}
	sort.Slice(validEntities, func(i, j int) bool { return validEntities[i].GUID < validEntities[j].GUID })

	return Result{Entities: validEntities, Relationships: rels}
}

// aggregateConsumerLagByTopic sums group lags onto each topic they
// consume from, keyed by "clusterName:topicName", per spec §4.6 phase 4.
func aggregateConsumerLagByTopic(consumerGroups map[string]*model.TransformedMetrics, groupTopics map[string][]string) map[string]float64 {
	totals := make(map[string]float64)
	for key, tm := range consumerGroups {
		lag := tm.Metrics["lag"]
		for _, topicName := range groupTopics[key] {
			topicKey := fmt.Sprintf("%s:%s", tm.ClusterName, topicName)
			totals[topicKey] += lag
		}
	}
	return totals
}

type brokerRef struct {
	guid     string
	brokerID string
	tm       *model.TransformedMetrics
}

// leaderBroker picks the broker with the greatest leaderPartitions, ties
// broken by lowest brokerId, per spec §4.6 phase 3.
func leaderBroker(refs []brokerRef) (string, bool) {
	if len(refs) == 0 {
		return "", false
	}
	best := refs[0]
	bestLeaders := best.tm.Metrics["leaderPartitions"]
	for _, r := range refs[1:] {
		leaders := r.tm.Metrics["leaderPartitions"]
		if leaders > bestLeaders || (leaders == bestLeaders && r.brokerID < best.brokerID) {
			best = r
			bestLeaders = leaders
		}
	}
	return best.guid, true
}

func (s *Synthesizer) buildEntity(guid string, entityType model.EntityType, name, clusterName string, tm *model.TransformedMetrics) model.Entity {
	metrics := make(map[string]float64, len(tm.Metrics))
	for k, v := range tm.Metrics {
		metrics[k] = v
	}
	tags := make(map[string]string, len(tm.Identifiers))
	for k, v := range tm.Identifiers {
		tags[k] = v
	}
	return model.Entity{
		GUID:        guid,
		EntityType:  entityType,
		Name:        name,
		ClusterName: clusterName,
		Provider:    "kafka",
		AccountID:   s.accountID,
		Environment: s.environment,
		Region:      s.region,
		Metrics:     metrics,
		Status:      model.StatusHealthy,
		AlertLevel:  model.AlertNone,
		Tags:        tags,
		Timestamp:   tm.Timestamp,
	}
}

// applySLO sets alertLevel and Status per spec §4.6 phase 5's threshold table.
func (s *Synthesizer) applySLO(entities map[string]model.Entity) {
	for guid, e := range entities {
		switch e.EntityType {
		case model.EntityTypeCluster:
			e.AlertLevel, e.Status = sloLevel(e.Metrics["healthScore"], 80, 60, true)
		case model.EntityTypeBroker:
			e.AlertLevel, e.Status = sloLevel(e.Metrics["cpuPercent"], 80, 90, false)
		case model.EntityTypeTopic:
			e.AlertLevel, e.Status = sloLevel(e.Metrics["consumerLag"], 10000, 100000, false)
		case model.EntityTypeConsumerGroup:
			e.AlertLevel, e.Status = sloLevel(e.Metrics["lag"], 50000, 500000, false)
		}
		entities[guid] = e
	}
}

// sloLevel maps a metric value to an AlertLevel/Status pair. When
// lowerIsWorse is true (health scores), warning/critical trigger below
// the threshold; otherwise they trigger above it.
func sloLevel(value, warning, critical float64, lowerIsWorse bool) (model.AlertLevel, model.Status) {
	breach := func(threshold float64) bool {
		if lowerIsWorse {
			return value < threshold
		}
		return value > threshold
	}
	if breach(critical) {
		return model.AlertCritical, model.StatusCritical
	}
	if breach(warning) {
		return model.AlertWarning, model.StatusWarning
	}
	return model.AlertNone, model.StatusHealthy
}

func (s *Synthesizer) valid(e model.Entity) bool {
	if !guidPattern.MatchString(e.GUID) {
		return false
	}
	return e.Name != "" && e.EntityType != "" && e.Provider != "" && e.ClusterName != ""
}

func (s *Synthesizer) guid(entityType, compositeKey string) string {
	return s.guidFromComposite(entityType, compositeKey)
}

func (s *Synthesizer) guidFromComposite(entityType, compositeKey string) string {
	sum := sha256.Sum256([]byte(compositeKey))
	return fmt.Sprintf("%s|INFRA|%s|%s", s.accountID, entityType, hex.EncodeToString(sum[:])[:32])
}

func (s *Synthesizer) warn(msg string) {
	if s.log != nil {
		s.log.WithFields(nil).Warn(msg)
	}
}
