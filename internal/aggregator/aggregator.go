// Package aggregator rolls broker-level TransformedMetrics into one
// cluster-level TransformedMetrics per cluster, per spec §4.5. It is a
// pure function of its inputs: callers must treat the returned map as
// the only output and must not expect input slices to be mutated.
package aggregator

import (
	"math"

	"github.com/r3e-network/mq-pipeline/internal/model"
)

// Aggregate groups brokers by clusterName and computes one cluster-level
// TransformedMetrics per cluster, optionally enriched with topic and
// consumer-group counts.
func Aggregate(brokers, topics, consumerGroups []*model.TransformedMetrics) map[string]*model.TransformedMetrics {
	groups := make(map[string][]*model.TransformedMetrics)
	for _, b := range brokers {
		if b == nil {
			continue
		}
		groups[b.ClusterName] = append(groups[b.ClusterName], b)
	}

	topicCounts := distinctCounts(topics)
	groupCounts := distinctCounts(consumerGroups)

	out := make(map[string]*model.TransformedMetrics, len(groups))
	for cluster, members := range groups {
		out[cluster] = aggregateCluster(cluster, members, topicCounts[cluster], groupCounts[cluster])
	}
	return out
}

func distinctCounts(items []*model.TransformedMetrics) map[string]int {
	seen := make(map[string]map[string]struct{})
	for _, item := range items {
		if item == nil {
			continue
		}
		key := identifierKey(item)
		if key == "" {
			continue
		}
		set, ok := seen[item.ClusterName]
		if !ok {
			set = make(map[string]struct{})
			seen[item.ClusterName] = set
		}
		set[key] = struct{}{}
	}

	counts := make(map[string]int, len(seen))
	for cluster, set := range seen {
		counts[cluster] = len(set)
	}
	return counts
}

func identifierKey(tm *model.TransformedMetrics) string {
	for _, k := range []string{"topicName", "consumerGroupId"} {
		if v, ok := tm.Identifiers[k]; ok {
			return v
		}
	}
	return ""
}

// sumFields are summed across the broker group.
var sumFields = []string{
	"bytesInPerSecond", "bytesOutPerSecond", "messagesInPerSecond",
	"partitionCount", "leaderPartitions", "underReplicatedPartitions",
	"offlinePartitions", "requestRate",
}

// averageFields are averaged over the brokers that actually reported them.
var averageFields = []string{
	"cpuPercent", "memoryPercent", "requestHandlerIdlePercent", "networkProcessorIdlePercent",
}

func aggregateCluster(cluster string, brokers []*model.TransformedMetrics, topicCount, groupCount int) *model.TransformedMetrics {
	metrics := make(map[string]float64)

	for _, field := range sumFields {
		metrics[field] = sumField(brokers, field)
	}
	hadIdlePercent := false
	for _, field := range averageFields {
		if avg, ok := averageField(brokers, field); ok {
			metrics[field] = avg
			if field == "requestHandlerIdlePercent" {
				hadIdlePercent = true
			}
		}
	}
	metrics["maxDiskUsage"] = maxField(brokers, "diskUsedPercent")
	metrics["topicCount"] = float64(topicCount)
	metrics["consumerGroupCount"] = float64(groupCount)

	onlineBrokers := float64(len(brokers))
	totalBrokers := onlineBrokers // the collector only reports reachable brokers
	totalPartitions := metrics["partitionCount"]
	offlinePartitions := metrics["offlinePartitions"]
	metrics["availabilityPercentage"] = availability(onlineBrokers, totalBrokers, totalPartitions, offlinePartitions)

	totalRequests := metrics["requestRate"]
	metrics["errorRate"] = errorRate(brokers, totalRequests)

	metrics["healthScore"] = healthScore(metrics, hadIdlePercent)

	var timestamp = brokers[0].Timestamp
	for _, b := range brokers {
		if b.Timestamp.After(timestamp) {
			timestamp = b.Timestamp
		}
	}

	return &model.TransformedMetrics{
		Timestamp:   timestamp,
		Provider:    "kafka",
		EntityType:  model.EntityKindCluster,
		ClusterName: cluster,
		Identifiers: map[string]string{"clusterName": cluster},
		Metrics:     metrics,
		Metadata:    map[string]string{},
	}
}

// sumField adds ints first, then doubles, to limit float drift (spec §4.5
// tie-break rule).
func sumField(brokers []*model.TransformedMetrics, field string) float64 {
	var intSum int64
	var fracSum float64
	for _, b := range brokers {
		v, ok := b.Metrics[field]
		if !ok {
			continue
		}
		whole := math.Trunc(v)
		intSum += int64(whole)
		fracSum += v - whole
	}
	return float64(intSum) + fracSum
}

func averageField(brokers []*model.TransformedMetrics, field string) (float64, bool) {
	var sum float64
	var count int
	for _, b := range brokers {
		if v, ok := b.Metrics[field]; ok {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

func maxField(brokers []*model.TransformedMetrics, field string) float64 {
	var max float64
	for _, b := range brokers {
		if v, ok := b.Metrics[field]; ok && v > max {
			max = v
		}
	}
	return max
}

// availability implements spec §4.5's availabilityPercentage formula.
func availability(onlineBrokers, totalBrokers, totalPartitions, offlinePartitions float64) float64 {
	if totalBrokers == 0 {
		return 0
	}
	brokerRatio := onlineBrokers / totalBrokers
	partitionRatio := 1.0
	if totalPartitions > 0 {
		partitionRatio = (totalPartitions - offlinePartitions) / totalPartitions
	}
	return math.Min(brokerRatio, partitionRatio) * 100
}

// errorRate implements spec §4.5's weighted error-rate formula.
func errorRate(brokers []*model.TransformedMetrics, totalRequests float64) float64 {
	if totalRequests == 0 {
		return 0
	}
	var weighted float64
	for _, b := range brokers {
		requests, ok := b.Metrics["requestRate"]
		if !ok {
			continue
		}
		rate := b.Metrics["errorRate"]
		weighted += requests * rate / 100
	}
	return weighted / totalRequests * 100
}

// healthScore implements spec §4.5's deduction schedule, clamped to
// [0, 100] and rounded. hadIdlePercent reports whether any broker in the
// cluster actually reported requestHandlerIdlePercent, since an averaged
// zero is a legitimate (worst-case) value and must not be treated the
// same as "no broker reported this metric."
func healthScore(metrics map[string]float64, hadIdlePercent bool) float64 {
	score := 100.0

	if metrics["offlinePartitions"] > 0 {
		score -= 30
	}
	score -= math.Min(2*metrics["underReplicatedPartitions"], 20)
	if cpu := metrics["cpuPercent"]; cpu > 80 {
		score -= 0.75 * (cpu - 80)
	}
	if mem := metrics["memoryPercent"]; mem > 85 {
		score -= mem - 85
	}
	if disk := metrics["maxDiskUsage"]; disk > 90 {
		score -= 2 * (disk - 90)
	}
	score -= math.Min(2*metrics["errorRate"], 20)
	if hadIdlePercent && metrics["requestHandlerIdlePercent"] < 20 {
		score -= 10
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return math.Round(score)
}
