package commbus

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

// KafkaRelay forwards routing lifecycle events to a Kafka topic for
// downstream analytics. It subscribes to the bus and JSON-encodes each
// event with its type name as the message key.
//
// Relay failures never propagate back into the routing loop; Publish
// fan-out logs subscriber errors and carries on.
type KafkaRelay struct {
	writer *kafka.Writer
	logger Logger
	unsubs []func()
}

// NewKafkaRelay creates a relay writing to the given brokers and topic.
func NewKafkaRelay(brokers []string, topic string, logger Logger) *KafkaRelay {
	if logger == nil {
		logger = NopLogger{}
	}
	return &KafkaRelay{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: logger.Bind("component", "kafka_relay"),
	}
}

// Attach subscribes the relay to every lifecycle event type on the bus.
func (r *KafkaRelay) Attach(bus CommBus) {
	for _, eventType := range LifecycleEventTypes() {
		unsub := bus.Subscribe(eventType, r.forward)
		r.unsubs = append(r.unsubs, unsub)
	}
	r.logger.Info("relay_attached", "event_types", len(LifecycleEventTypes()))
}

// Detach removes the relay's subscriptions.
func (r *KafkaRelay) Detach() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

func (r *KafkaRelay) forward(ctx context.Context, event Message) (any, error) {
	eventType := GetMessageType(event)

	data, err := json.Marshal(event)
	if err != nil {
		return nil, NewRelayError(eventType, err)
	}

	msg := kafka.Message{
		Key:   []byte(eventType),
		Value: data,
	}

	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.logger.Warn("relay_write_failed", "event_type", eventType, "error", err.Error())
		return nil, NewRelayError(eventType, err)
	}

	return nil, nil
}

// Close closes the underlying Kafka writer.
func (r *KafkaRelay) Close() error {
	r.Detach()
	return r.writer.Close()
}
