package deadletter

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter abstracts the dead-letter topic writer.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink copies failed records onto the dead-letter topic with the failure
// reason and origin attached, preserving key and payload for replay.
type Sink struct {
	writer KafkaWriter
	topic  string
}

func NewSink(writer KafkaWriter, topic string) *Sink {
	return &Sink{writer: writer, topic: topic}
}

func (s *Sink) Send(ctx context.Context, msg kafka.Message, reason string) error {
	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic: s.topic,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(reason)},
			{Key: "source_topic", Value: []byte(msg.Topic)},
		},
	})
}
