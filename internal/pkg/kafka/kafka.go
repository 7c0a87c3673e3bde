package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/anicoll/house-power-simulator/internal/pkg/config"
	"github.com/anicoll/house-power-simulator/internal/pkg/model"
	"github.com/anicoll/house-power-simulator/internal/pkg/publisher"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type service struct {
	writer messageWriter
}

// NewWriter returns a writer for the configured topic. Events are keyed by type
// so each type stays ordered within its partition.
func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func New(w messageWriter) *service {
	return &service{writer: w}
}

type record struct {
	Type model.EventType `json:"type"`
	At   int64           `json:"at"` // unix millis
	Data any             `json:"data,omitempty"`
}

func (s *service) Write(ctx context.Context, batch publisher.Batch) error {
	if len(batch.Events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(batch.Events))
	for _, ev := range batch.Events {
		value, err := json.Marshal(record{Type: ev.Type, At: ev.At.UnixMilli(), Data: payload(ev)})
		if err != nil {
			return fmt.Errorf("encode %s: %w", ev.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.Type),
			Value: value,
			Time:  ev.At,
		})
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

// payload trims power updates down to the sample, the layout is not worth
// streaming on every change.
func payload(ev model.Event) any {
	if ev.Type == model.EventPowerUpdate && ev.Sample != nil {
		return ev.Sample
	}
	return ev.Payload()
}

func (s *service) Close() error {
	return s.writer.Close()
}
