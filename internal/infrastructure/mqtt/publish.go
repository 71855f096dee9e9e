package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize bounds a single message. Security events are small; a
// large payload means a bug upstream.
const maxPayloadSize = 64 << 10

// Publish sends payload to topic and waits for the broker to acknowledge
// it (QoS 1 and 2) or for defaultPublishTimeout.
//
// Retain only state topics such as the service status. Audit entries and
// block decisions are events and must not be replayed to late subscribers.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishJSON encodes v and publishes it, not retained, at the configured
// QoS. It satisfies guard.Publisher.
func (c *Client) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, byte(c.cfg.QoS), false)
}
