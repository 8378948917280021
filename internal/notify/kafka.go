package notify

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"firewatch/internal/config"
	"firewatch/internal/model"
)

// Publisher pushes alert records onto a Kafka topic so downstream consumers
// (dashboards, paging) see new alerts without polling the store.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(cfg config.KafkaAlertConfig) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, rec model.AlertRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.CameraID),
		Value: value,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
