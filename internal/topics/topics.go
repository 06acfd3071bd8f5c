// Package topics builds and parses the citylink MQTT topic namespace.
package topics

import "strings"

// Root is the first segment of every gateway topic.
const Root = "citylink"

// RegistrationFilter matches registration requests from any node.
const RegistrationFilter = Root + "/+/registration"

// AdaptationFilter matches adaptation-ready notifications from any node.
const AdaptationFilter = Root + "/+/adaptation"

// RegistrationAck returns the acknowledgement topic for a node identifier.
// The identifier is the pre-registration topic id until a UUID is assigned.
func RegistrationAck(nodeID string) string {
	return Root + "/" + nodeID + "/registration/ack"
}

// NodePrefix returns the topic prefix owned by one node.
func NodePrefix(nodeID string) string {
	return Root + "/" + nodeID + "/"
}

// Parse splits a citylink topic into the node identifier and the remaining
// path segments. Returns ok=false for topics outside the namespace.
func Parse(topic string) (nodeID string, rest []string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != Root {
		return "", nil, false
	}
	return parts[1], parts[2:], true
}
