package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/realtime"
)

type Producer struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

func NewProducer(brokers []string, config *sarama.Config, topic string, log *logger.Logger) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerFrom(producer, topic, log), nil
}

// NewProducerFrom 包装已有的 SyncProducer
func NewProducerFrom(producer sarama.SyncProducer, topic string, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.Nop()
	}
	return &Producer{producer: producer, topic: topic, log: log.With("component", "kafka_producer")}
}

// Publish 以房间 ID 作为消息 key
func (p *Producer) Publish(ctx context.Context, ev realtime.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:    p.topic,
		Key:      sarama.StringEncoder(ev.RoomID),
		Value:    sarama.ByteEncoder(value),
		Metadata: ev.Type,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.Warn("failed to send event", "topic", p.topic, "room_id", ev.RoomID, "error", err)
		return err
	}
	p.log.Debug("event sent", "partition", partition, "offset", offset, "type", ev.Type)
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
