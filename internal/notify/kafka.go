package notify

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-pooling/internal/models"
)

// MessageWriter is the subset of kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes one message per rider, keyed by pool ID so a
// pool's reminders land on the same partition.
type KafkaNotifier struct {
	writer MessageWriter
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}, RequiredAcks: kafka.RequireOne}
	return &KafkaNotifier{writer: w}
}

func NewKafkaNotifierWithWriter(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w}
}

func (k *KafkaNotifier) Remind(ctx context.Context, p models.Pool) error {
	rems := RemindersFor(p)
	if len(rems) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(rems))
	for _, rem := range rems {
		b, err := json.Marshal(rem)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(p.ID), Value: b})
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *KafkaNotifier) Close() error {
	if c, ok := k.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
