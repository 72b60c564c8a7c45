package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/realtime"
)

// EventHandler 把 Kafka 消息还原成事件交给本实例的 Hub
type EventHandler struct {
	deliver func(realtime.Event)
	log     *logger.Logger
}

func NewEventHandler(deliver func(realtime.Event), log *logger.Logger) *EventHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &EventHandler{deliver: deliver, log: log}
}

// Handle 无法解析的消息直接丢弃，不阻塞分区
func (h *EventHandler) Handle(_ context.Context, message *sarama.ConsumerMessage) error {
	var ev realtime.Event
	if err := json.Unmarshal(message.Value, &ev); err != nil {
		h.log.Warn("failed to unmarshal event", "partition", message.Partition, "offset", message.Offset, "error", err)
		return nil
	}
	h.deliver(ev)
	return nil
}
