package paths

// Topic segments of the vacuumsim MQTT namespace.
// Every robot and every vacuumctl instance must agree on these values.
const (
	// Topics holds notification topics. Events are published here and fanned
	// out to every channel subscribed to the topic.
	// Pattern: {root}/topics/{topicName}
	Topics = "topics"

	// Queues holds per-device command channels.
	// Pattern: {root}/queues/{channelName}
	Queues = "queues"

	// MetaTopics holds retained descriptors recording which topics exist.
	// Payload: {"name": "...", "kind": "topic", "createdAt": "..."}
	// Pattern: {root}/meta/topics/{topicName}
	MetaTopics = "meta/topics"

	// MetaQueues holds retained descriptors recording which channels exist.
	// Pattern: {root}/meta/queues/{channelName}
	MetaQueues = "meta/queues"

	// Presence holds the retained online state of each robot. The MQTT will
	// message flips it to offline when a robot disappears.
	// Payload: {"id": 4242, "online": true}
	// Pattern: {root}/presence/{deviceID}
	Presence = "presence"
)
