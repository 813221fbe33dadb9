package topic

// MQTT wildcard tokens.
const (
	// Wildcard matches exactly one topic level.
	// "vacuum/meta/queues/+" matches "vacuum/meta/queues/VirtualVacuumBotQueue-4242".
	Wildcard = "+"

	// MultiWildcard matches the current level and everything below it.
	// It must be the last level of a filter.
	MultiWildcard = "#"
)
