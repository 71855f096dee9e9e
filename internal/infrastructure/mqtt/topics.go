package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every deviceguard topic.
const TopicPrefix = "deviceguard"

// Topics provides builders for deviceguard MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Audit("WARNING")  // deviceguard/audit/warning
//	topics.Presence("connected") // deviceguard/presence/connected
type Topics struct{}

// SystemStatus returns the retained online/offline status topic, also used
// for the LWT.
//
// Example: deviceguard/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// Audit returns the topic an audit entry of the given level is mirrored to.
//
// Example: deviceguard/audit/warning
func (Topics) Audit(level string) string {
	return fmt.Sprintf("%s/audit/%s", TopicPrefix, strings.ToLower(level))
}

// EnforceBlock returns the topic block decisions are published on for an
// external enforcement agent.
//
// Example: deviceguard/enforce/block
func (Topics) EnforceBlock() string {
	return TopicPrefix + "/enforce/block"
}

// Presence returns the topic for device connect and disconnect events.
//
// Example: deviceguard/presence/connected
func (Topics) Presence(event string) string {
	return fmt.Sprintf("%s/presence/%s", TopicPrefix, event)
}

// AllAudit matches every audit level.
func (Topics) AllAudit() string {
	return TopicPrefix + "/audit/+"
}

// AllTopics matches every deviceguard topic.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
