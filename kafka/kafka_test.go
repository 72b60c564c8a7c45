package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Breeze1203/shophub-support/config"
	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/realtime"
)

func TestNewSaramaConfigPartitionsByKey(t *testing.T) {
	cfg, err := NewSaramaConfig(&config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"})
	require.NoError(t, err)
	p := cfg.Producer.Partitioner("t")
	assert.True(t, p.RequiresConsistency())
	assert.False(t, cfg.Net.SASL.Enable)
	assert.Equal(t, sarama.OffsetNewest, cfg.Consumer.Offsets.Initial)
}

func TestNewSaramaConfigSASL(t *testing.T) {
	cases := map[string]sarama.SASLMechanism{
		"":              sarama.SASLTypePlaintext,
		"PLAIN":         sarama.SASLTypePlaintext,
		"SCRAM-SHA-256": sarama.SASLTypeSCRAMSHA256,
		"scram-sha-512": sarama.SASLTypeSCRAMSHA512,
	}
	for mechanism, want := range cases {
		cfg, err := NewSaramaConfig(&config.KafkaConfig{Username: "u", Password: "p", Mechanism: mechanism})
		require.NoError(t, err, mechanism)
		assert.True(t, cfg.Net.SASL.Enable)
		assert.Equal(t, want, cfg.Net.SASL.Mechanism, mechanism)
		if want != sarama.SASLTypePlaintext {
			require.NotNil(t, cfg.Net.SASL.SCRAMClientGeneratorFunc)
			assert.IsType(t, &XDGSCRAMClient{}, cfg.Net.SASL.SCRAMClientGeneratorFunc())
		}
	}

	_, err := NewSaramaConfig(&config.KafkaConfig{Username: "u", Password: "p", Mechanism: "GSSAPI-ISH"})
	assert.Error(t, err)
}

func TestNewSaramaConfigTLSMissingCA(t *testing.T) {
	_, err := NewSaramaConfig(&config.KafkaConfig{UseTLS: true, CAFile: "/does/not/exist.pem"})
	assert.Error(t, err)
}

func TestSCRAMClientConversation(t *testing.T) {
	c := &XDGSCRAMClient{HashGeneratorFcn: SHA256}
	require.NoError(t, c.Begin("user", "pencil", ""))
	first, err := c.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=user")
	assert.False(t, c.Done())
}

func TestEventInterceptorAddsHeaders(t *testing.T) {
	msg := &sarama.ProducerMessage{Topic: "t", Metadata: realtime.EventRoomAssigned}
	NewEventInterceptor("node-1").OnSend(msg)
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, "room_assigned", headers[HeaderEventType])
	assert.Equal(t, "node-1", headers[HeaderSource])
}

func TestProducerKeysByRoom(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "room-1", string(key))
		assert.Equal(t, "support.room.events", msg.Topic)
		return nil
	})

	p := NewProducerFrom(sp, "support.room.events", logger.Nop())
	require.NoError(t, p.Publish(context.Background(), realtime.Event{ID: "e1", Type: realtime.EventMessage, RoomID: "room-1"}))
	require.NoError(t, p.Close())
}

func TestEventHandlerSkipsBadPayload(t *testing.T) {
	var got []realtime.Event
	h := NewEventHandler(func(ev realtime.Event) { got = append(got, ev) }, nil)

	raw, err := json.Marshal(realtime.Event{ID: "e1", Type: realtime.EventRoomClosed, RoomID: "r"})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), &sarama.ConsumerMessage{Value: raw}))
	require.NoError(t, h.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{not json")}))

	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "m" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, msg.Offset)
	s.mu.Unlock()
}

type fakeClaim struct {
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "t" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func eventMessage(t *testing.T, offset int64, ev realtime.Event) *sarama.ConsumerMessage {
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "t", Offset: offset, Value: raw}
}

func TestConsumerMarksHandledMessages(t *testing.T) {
	var got []string
	c := NewConsumerFrom(nil, []string{"t"}, NewEventHandler(func(ev realtime.Event) { got = append(got, ev.ID) }, nil), nil)

	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 2)}
	claim.ch <- eventMessage(t, 10, realtime.Event{ID: "a"})
	claim.ch <- eventMessage(t, 11, realtime.Event{ID: "b"})
	close(claim.ch)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claim))
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, []int64{10, 11}, session.marked)
}

// fakeGroup 每次 Consume 推送一批消息后阻塞到关闭
type fakeGroup struct {
	msgs   []*sarama.ConsumerMessage
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeGroup(msgs ...*sarama.ConsumerMessage) *fakeGroup {
	return &fakeGroup{msgs: msgs, errs: make(chan error), closed: make(chan struct{})}
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	select {
	case <-g.closed:
		return sarama.ErrClosedConsumerGroup
	default:
	}
	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, len(g.msgs))}
	for _, m := range g.msgs {
		claim.ch <- m
	}
	close(claim.ch)
	g.msgs = nil
	if err := handler.ConsumeClaim(&fakeSession{ctx: ctx}, claim); err != nil {
		return err
	}
	select {
	case <-g.closed:
		return sarama.ErrClosedConsumerGroup
	case <-ctx.Done():
		return nil
	}
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }
func (g *fakeGroup) Close() error {
	g.once.Do(func() {
		close(g.closed)
		close(g.errs)
	})
	return nil
}
func (g *fakeGroup) Pause(map[string][]int32) {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll() {}
func (g *fakeGroup) ResumeAll() {}

func TestBusDeliversConsumedEventsAndCloses(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)
	sp.ExpectSendMessageAndSucceed()

	group := newFakeGroup(eventMessage(t, 1, realtime.Event{ID: "remote", Type: realtime.EventMessage, RoomID: "r1"}))
	var usedGroup string
	bus := newBus(config.KafkaConfig{Topic: "support.room.events"}, NewProducerFrom(sp, "support.room.events", nil), logger.Nop())
	bus.newGroup = func(groupID string) (sarama.ConsumerGroup, error) {
		usedGroup = groupID
		return group, nil
	}

	got := make(chan realtime.Event, 1)
	require.NoError(t, bus.Start(context.Background(), func(ev realtime.Event) { got <- ev }))
	assert.Contains(t, usedGroup, defaultGroupPrefix)

	select {
	case ev := <-got:
		assert.Equal(t, "remote", ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, bus.Publish(context.Background(), realtime.Event{ID: "local", RoomID: "r1"}))
	require.NoError(t, bus.Close())
}

func TestBusGroupIDPerInstance(t *testing.T) {
	b := newBus(config.KafkaConfig{}, nil, logger.Nop())
	assert.NotEqual(t, b.groupID(), b.groupID())

	b = newBus(config.KafkaConfig{GroupID: "shared"}, nil, logger.Nop())
	assert.Equal(t, "shared", b.groupID())
}
