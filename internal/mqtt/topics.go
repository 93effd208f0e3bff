package mqtt

import (
	"fmt"
	"strings"
)

// Availability payloads understood by Home Assistant.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// BaseTopic returns the base topic for a station
func BaseTopic(stationID string) string {
	return BuildCleanTopic("enbw", stationID)
}

// StateTopic returns the state topic for a station
func StateTopic(stationID string) string {
	return BaseTopic(stationID) + "/state"
}

// AttributesTopic carries attribution and last-updated metadata.
func AttributesTopic(stationID string) string {
	return BaseTopic(stationID) + "/attributes"
}

// AvailabilityTopic returns the availability topic for a station
func AvailabilityTopic(stationID string) string {
	return BaseTopic(stationID) + "/availability"
}

// DiscoveryTopic returns the Home Assistant discovery topic
func DiscoveryTopic(prefix, entityType, stationID, entityID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, entityType, NodeID(stationID), entityID)
}

// NodeID is the discovery node id and device identifier of a station.
func NodeID(stationID string) string {
	return "enbw_" + BuildCleanTopic(stationID)
}

// BuildCleanTopic ensures topic follows MQTT standards
func BuildCleanTopic(parts ...string) string {
	var cleanParts []string
	for _, part := range parts {
		// Replace invalid characters
		clean := strings.ReplaceAll(part, " ", "_")
		clean = strings.ReplaceAll(clean, "+", "plus")
		clean = strings.ReplaceAll(clean, "#", "hash")
		clean = strings.ReplaceAll(clean, "/", "_")
		clean = strings.ToLower(clean)
		cleanParts = append(cleanParts, clean)
	}
	return strings.Join(cleanParts, "/")
}
