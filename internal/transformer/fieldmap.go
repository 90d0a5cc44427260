package transformer

// FieldMapping is one row of the declarative field-mapping table (spec
// §4.4, §9 "dynamic field lookup and duck typing"): for a canonical
// metric name it lists the vendor-specific source aliases, an optional
// unit note, and validation bounds. The transformer is a table-driven
// loop over these rows, never a hand-written per-field switch.
type FieldMapping struct {
	Canonical string
	Aliases   []string
	Unit      string
	Min       *float64
	Max       *float64
	Required  bool
	// Clamp, when true, clamps out-of-bounds values to the nearest bound
	// instead of dropping them.
	Clamp bool
}

func f(v float64) *float64 { return &v }

var zero = f(0)
var hundred = f(100)

// brokerFields is the field-mapping table for EventTypeBroker samples.
var brokerFields = []FieldMapping{
	{Canonical: "bytesInPerSecond", Aliases: []string{"broker.bytesInPerSecond", "BytesInPerSec"}, Unit: "bytes/s", Min: zero},
	{Canonical: "bytesOutPerSecond", Aliases: []string{"broker.bytesOutPerSecond", "BytesOutPerSec"}, Unit: "bytes/s", Min: zero},
	{Canonical: "messagesInPerSecond", Aliases: []string{"broker.messagesInPerSecond", "MessagesInPerSec"}, Unit: "msg/s", Min: zero},
	{Canonical: "requestHandlerIdlePercent", Aliases: []string{"broker.requestHandlerAvgIdlePercent", "RequestHandlerAvgIdlePercent"}, Unit: "%", Min: zero, Max: hundred, Clamp: true},
	{Canonical: "networkProcessorIdlePercent", Aliases: []string{"broker.networkProcessorAvgIdlePercent", "NetworkProcessorAvgIdlePercent"}, Unit: "%", Min: zero, Max: hundred, Clamp: true},
	{Canonical: "cpuPercent", Aliases: []string{"broker.cpuPercent", "cpu.percent"}, Unit: "%", Min: zero, Max: hundred, Clamp: true},
	{Canonical: "memoryPercent", Aliases: []string{"broker.memoryPercent", "memory.percent"}, Unit: "%", Min: zero, Max: hundred, Clamp: true},
	{Canonical: "diskUsedPercent", Aliases: []string{"broker.diskUsedPercent", "disk.usedPercent"}, Unit: "%", Min: zero, Max: hundred, Clamp: true},
	{Canonical: "partitionCount", Aliases: []string{"broker.partitionCount", "PartitionCount"}, Unit: "count", Min: zero},
	{Canonical: "leaderPartitions", Aliases: []string{"broker.leaderPartitionCount", "LeaderCount"}, Unit: "count", Min: zero},
	{Canonical: "underReplicatedPartitions", Aliases: []string{"broker.underReplicatedPartitions", "UnderReplicatedPartitions"}, Unit: "count", Min: zero, Required: true},
	{Canonical: "offlinePartitions", Aliases: []string{"broker.offlinePartitionsCount", "cluster.offlinePartitionsCount"}, Unit: "count", Min: zero},
	{Canonical: "requestRate", Aliases: []string{"broker.requestRate", "RequestsPerSec"}, Unit: "req/s", Min: zero},
	{Canonical: "errorRate", Aliases: []string{"broker.errorRate", "ErrorsPerSec"}, Unit: "%", Min: zero, Max: hundred, Clamp: true},
}

// topicFields is the field-mapping table for EventTypeTopic samples.
var topicFields = []FieldMapping{
	{Canonical: "messagesInPerSecond", Aliases: []string{"topic.messagesInPerSecond", "MessagesInPerSec"}, Unit: "msg/s", Min: zero},
	{Canonical: "bytesInPerSecond", Aliases: []string{"topic.bytesInPerSecond", "BytesInPerSec"}, Unit: "bytes/s", Min: zero},
	{Canonical: "bytesOutPerSecond", Aliases: []string{"topic.bytesOutPerSecond", "BytesOutPerSec"}, Unit: "bytes/s", Min: zero},
	{Canonical: "partitionCount", Aliases: []string{"topic.partitionCount"}, Unit: "count", Min: zero},
	{Canonical: "replicationFactor", Aliases: []string{"topic.replicationFactor"}, Unit: "count", Min: zero},
	{Canonical: "consumerLag", Aliases: []string{"topic.consumerLag", "consumer.lag"}, Unit: "msg", Min: zero},
}

// consumerGroupFields is the field-mapping table for EventTypeConsumerGroup samples.
var consumerGroupFields = []FieldMapping{
	{Canonical: "lag", Aliases: []string{"consumer.lag", "consumerGroup.lag"}, Unit: "msg", Min: zero},
	{Canonical: "memberCount", Aliases: []string{"consumer.memberCount", "consumerGroup.memberCount"}, Unit: "count", Min: zero},
	{Canonical: "messagesConsumedPerSecond", Aliases: []string{"consumer.messagesConsumedPerSecond"}, Unit: "msg/s", Min: zero},
}
