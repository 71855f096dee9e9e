// Package mqtt publishes deviceguard security events to an MQTT broker.
//
// The bus is output only. Audit entries, presence changes and block
// decisions are published for enforcement agents and dashboards; the
// whitelist cannot be changed over MQTT.
//
// Topics:
//
//	deviceguard/system/status        retained online/offline, also the LWT
//	deviceguard/audit/{level}        every audit entry
//	deviceguard/presence/{event}     connected / disconnected
//	deviceguard/enforce/block        block decisions for unregistered devices
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.EnforceBlock(), decision)
package mqtt
