package kafka

import "strings"

// Topic layout for agent-to-agent traffic
const (
	// TopicAgentPrefix prefixes every per-agent inbox topic
	TopicAgentPrefix = "a2a.agent."

	// TopicRegistry carries registration and capability query traffic addressed to the registry
	TopicRegistry = "a2a.registry"
)

// AgentTopic returns the inbox topic of an agent.
// The registry pseudo-receiver maps to TopicRegistry.
func AgentTopic(agentID string) string {
	if agentID == "registry" {
		return TopicRegistry
	}
	return TopicAgentPrefix + sanitize(agentID)
}

// Kafka topic names allow [a-zA-Z0-9._-]
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, id)
}
