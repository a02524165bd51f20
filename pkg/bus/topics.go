package bus

import (
	"strings"
)

// topicPrefix is shared by every drugfacts event subject.
const topicPrefix = "drugfacts.events.v1"

// TopicName returns the subject for an event type, e.g. "cache_invalidated" becomes
// "drugfacts.events.v1.cache_invalidated".
func TopicName(eventType string) string {
	return topicPrefix + "." + strings.ToLower(eventType)
}

// ParseEventType strips the topic prefix. Topics outside the convention are returned
// unchanged.
func ParseEventType(topic string) string {
	return strings.TrimPrefix(topic, topicPrefix+".")
}

// IsValidTopic reports whether topic has the drugfacts prefix and a non-empty event type.
func IsValidTopic(topic string) bool {
	prefix := topicPrefix + "."
	return strings.HasPrefix(topic, prefix) && len(topic) > len(prefix)
}
