package kafka

import (
	"github.com/IBM/sarama"

	"github.com/Breeze1203/shophub-support/realtime"
)

const (
	HeaderEventType = "event-type"
	HeaderSource    = "source-instance"
)

// EventInterceptor 给发出的事件打上类型和来源实例的消息头
type EventInterceptor struct {
	source string
}

func NewEventInterceptor(source string) *EventInterceptor {
	return &EventInterceptor{source: source}
}

func (i *EventInterceptor) OnSend(msg *sarama.ProducerMessage) {
	if typ, ok := msg.Metadata.(realtime.EventType); ok {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(HeaderEventType),
			Value: []byte(typ),
		})
	}
	msg.Headers = append(msg.Headers, sarama.RecordHeader{
		Key:   []byte(HeaderSource),
		Value: []byte(i.source),
	})
}
