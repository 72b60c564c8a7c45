package kafka

import (
	"context"
	"errors"
	"sync"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/Breeze1203/shophub-support/config"
	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/realtime"
)

const defaultGroupPrefix = "support-fanout"

// Bus 事件写入 Kafka 主题；每个实例用独立的消费组，所以都能收到全部事件
type Bus struct {
	cfg      config.KafkaConfig
	producer *Producer
	log      *logger.Logger

	// newGroup 测试时替换
	newGroup func(groupID string) (sarama.ConsumerGroup, error)

	mu       sync.Mutex
	consumer *Consumer
	done     chan struct{}
}

func NewBus(cfg config.KafkaConfig, log *logger.Logger) (*Bus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: brokers required")
	}
	if log == nil {
		log = logger.Nop()
	}
	sc, err := NewSaramaConfig(&cfg)
	if err != nil {
		return nil, err
	}
	producer, err := NewProducer(cfg.Brokers, sc, cfg.Topic, log)
	if err != nil {
		return nil, err
	}
	b := newBus(cfg, producer, log)
	b.newGroup = func(groupID string) (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroup(cfg.Brokers, groupID, sc)
	}
	return b, nil
}

func newBus(cfg config.KafkaConfig, producer *Producer, log *logger.Logger) *Bus {
	return &Bus{
		cfg:      cfg,
		producer: producer,
		log:      log.With("component", "kafka_bus"),
	}
}

func (b *Bus) Publish(ctx context.Context, ev realtime.Event) error {
	return b.producer.Publish(ctx, ev)
}

func (b *Bus) Start(ctx context.Context, deliver func(realtime.Event)) error {
	if deliver == nil {
		return errors.New("deliver callback required")
	}
	groupID := b.groupID()
	group, err := b.newGroup(groupID)
	if err != nil {
		return err
	}
	consumer := NewConsumerFrom(group, []string{b.cfg.Topic}, NewEventHandler(deliver, b.log), b.log)
	done := make(chan struct{})

	b.mu.Lock()
	b.consumer = consumer
	b.done = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil {
			b.log.Error("kafka consumer stopped", "error", err)
		}
	}()
	b.log.Info("kafka bus started", "topic", b.cfg.Topic, "group_id", groupID)
	return nil
}

// groupID 显式配置时直接使用，否则按实例生成
func (b *Bus) groupID() string {
	if b.cfg.GroupID != "" {
		return b.cfg.GroupID
	}
	return defaultGroupPrefix + "-" + instanceName() + "-" + uuid.NewString()[:8]
}

func (b *Bus) Close() error {
	b.mu.Lock()
	consumer, done := b.consumer, b.done
	b.consumer, b.done = nil, nil
	b.mu.Unlock()

	var errs []error
	if consumer != nil {
		errs = append(errs, consumer.Close())
		<-done
	}
	errs = append(errs, b.producer.Close())
	return errors.Join(errs...)
}
