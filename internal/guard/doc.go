// Package guard watches the attached devices and acts on the whitelist.
//
// Monitor polls the registry, audits connects and disconnects, and when
// auto-block is enabled passes every unregistered device to an Enforcer
// once per attachment. MQTTEnforcer publishes those decisions for an
// enforcement agent; EventForwarder mirrors audit and presence events to
// the broker.
package guard
