package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Producer publishes a keyed record to a topic.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaNotifier hands messages to the delivery workers that own the SMS and
// e-mail gateways. Records are keyed by recipient so one recipient's
// messages stay ordered.
type KafkaNotifier struct {
	producer Producer
	topic    string
}

func NewKafkaNotifier(producer Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (k *KafkaNotifier) Send(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	headers := map[string]string{
		"kind":    string(msg.Kind),
		"channel": string(msg.Channel),
	}
	return k.producer.ProduceMessage(ctx, k.topic, []byte(msg.Recipient), value, headers)
}

// LogNotifier writes messages to the log instead of delivering them.
// Message data, which may hold codes, is only logged when exposeData is set.
type LogNotifier struct {
	logger     *zap.Logger
	exposeData bool
}

func NewLogNotifier(logger *zap.Logger, exposeData bool) *LogNotifier {
	return &LogNotifier{logger: logger, exposeData: exposeData}
}

func (l *LogNotifier) Send(ctx context.Context, msg Message) error {
	fields := []zap.Field{
		zap.String("id", msg.ID),
		zap.String("channel", string(msg.Channel)),
		zap.String("kind", string(msg.Kind)),
		zap.String("recipient", maskRecipient(msg.Recipient)),
	}
	if l.exposeData {
		fields = append(fields, zap.Any("data", msg.Data))
	}
	l.logger.Info("Notification", fields...)
	return nil
}

func maskRecipient(r string) string {
	if len(r) <= 4 {
		return "****"
	}
	return "****" + r[len(r)-4:]
}
