package guard

import (
	"context"
	"fmt"

	"github.com/nerrad567/deviceguard/internal/audit"
	"github.com/nerrad567/deviceguard/internal/infrastructure/mqtt"
)

// Publisher publishes a JSON payload. Implemented by *mqtt.Client.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// MQTTEnforcer hands block decisions to an external enforcement agent over
// MQTT. Enforcement needs privileges the guard does not hold, so the agent
// subscribes to deviceguard/enforce/block and acts on the host.
type MQTTEnforcer struct {
	pub Publisher
}

// NewMQTTEnforcer creates an enforcer publishing through pub.
func NewMQTTEnforcer(pub Publisher) *MQTTEnforcer {
	return &MQTTEnforcer{pub: pub}
}

// Block publishes d.
func (e *MQTTEnforcer) Block(ctx context.Context, d BlockDecision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.pub.PublishJSON(mqtt.Topics{}.EnforceBlock(), d); err != nil {
		return fmt.Errorf("publishing block decision: %w", err)
	}
	return nil
}

// EventForwarder mirrors audit entries and presence events to MQTT.
//
// Audit listeners run under the audit log's lock, so entries are queued and
// published from Run. When the queue is full new events are dropped; the
// audit log itself is unaffected.
type EventForwarder struct {
	pub    Publisher
	queue  chan forwarded
	logger Logger
}

type forwarded struct {
	topic   string
	payload any
}

// DefaultForwardQueue is the forwarder's queue length.
const DefaultForwardQueue = 256

// NewEventForwarder creates a forwarder with a queue of size n.
func NewEventForwarder(pub Publisher, n int) *EventForwarder {
	if n <= 0 {
		n = DefaultForwardQueue
	}
	return &EventForwarder{pub: pub, queue: make(chan forwarded, n), logger: noopLogger{}}
}

// SetLogger sets the operational logger.
func (f *EventForwarder) SetLogger(logger Logger) { f.logger = logger }

// AuditListener returns a listener for audit.Log.Subscribe.
func (f *EventForwarder) AuditListener() audit.Listener {
	return func(e audit.Entry) {
		f.enqueue(mqtt.Topics{}.Audit(string(e.Level)), e)
	}
}

// PresenceListener returns a listener for Monitor.Subscribe.
func (f *EventForwarder) PresenceListener() PresenceListener {
	return func(ev PresenceEvent) {
		f.enqueue(mqtt.Topics{}.Presence(ev.Event), ev)
	}
}

func (f *EventForwarder) enqueue(topic string, payload any) {
	select {
	case f.queue <- forwarded{topic: topic, payload: payload}:
	default:
		f.logger.Warn("mqtt forward queue full, dropping event", "topic", topic)
	}
}

// Run publishes queued events until ctx is cancelled.
func (f *EventForwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.queue:
			if err := f.pub.PublishJSON(ev.topic, ev.payload); err != nil {
				f.logger.Warn("mqtt forward failed", "topic", ev.topic, "error", err)
			}
		}
	}
}
