package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes insert events to a topic, keyed by ticket id so all
// events of one ticket land on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

var _ Notifier = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) Notify(ctx context.Context, event MessageInserted) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish message %s: %w", event.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaSource consumes insert events from a topic. Every process needs its
// own group id, otherwise the group splits the partitions and each member
// only sees part of the feed. A new group starts at the newest offset.
type KafkaSource struct {
	reader *kafka.Reader
}

var _ Source = (*KafkaSource)(nil)

func NewKafkaSource(brokers []string, topic, groupID string) *KafkaSource {
	return &KafkaSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    1 << 20,
		}),
	}
}

func (s *KafkaSource) Run(ctx context.Context, dispatch func(MessageInserted)) error {
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("read change feed: %w", err)
		}
		event, err := decodeEvent(msg.Value)
		if err != nil {
			log.Printf("realtime: skipping kafka record at offset %d: %v", msg.Offset, err)
			continue
		}
		dispatch(event)
	}
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

func encodeEvent(event MessageInserted) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.TicketID),
		Value: data,
	}, nil
}

func decodeEvent(data []byte) (MessageInserted, error) {
	var event MessageInserted
	if err := json.Unmarshal(data, &event); err != nil {
		return MessageInserted{}, err
	}
	if event.ID == "" || event.TicketID == "" {
		return MessageInserted{}, fmt.Errorf("event missing id or ticket_id")
	}
	return event, nil
}
