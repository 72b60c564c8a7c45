package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Breeze1203/shophub-support/config"
	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/realtime"
)

const (
	// DefaultMaxAttempts 超过后进入 FAILED，不再自动重连
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 10 * time.Second
)

var (
	ErrNotConnected     = errors.New("channel not connected")
	ErrAlreadyConnected = errors.New("channel already connected")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ConnectionError 建连失败或重连次数用尽
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection lost after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ServerError 服务端返回的 error 帧
type ServerError struct {
	Topic       string
	Destination string
	Message     string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Conn 长连接的最小读写接口，*websocket.Conn 满足
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WebSocketDialer gorilla/websocket 拨号
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Handler 收到事件时 err 为 nil；订阅被拒绝或重连失败时 ev 为 nil
type Handler func(ev *realtime.Event, err error)

type Options struct {
	URL         string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Dialer      Dialer
	Clock       Clock
	Log         *logger.Logger
	// OnState 状态变化回调，在状态锁外调用
	OnState func(State)
	// OnError 没有对应订阅者的 error 帧
	OnError func(error)
}

// OptionsFromConfig 按 chat.reconnect 配置填充重连参数
func OptionsFromConfig(url string, cfg config.ChatConfig) Options {
	return Options{
		URL:         url,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		BaseDelay:   cfg.Reconnect.BaseDelay(),
		MaxDelay:    cfg.Reconnect.MaxDelay(),
	}
}

type subscription struct {
	id      uint64
	handler Handler
}

// Channel 带自动重连的长连接客户端；订阅按主题引用计数
type Channel struct {
	opts Options
	log  *logger.Logger

	mu     sync.Mutex
	state  State
	token  string
	conn   Conn
	subs   map[string][]subscription
	nextID uint64
	cancel context.CancelFunc

	writeMu sync.Mutex
}

func NewChannel(opts Options) *Channel {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = DefaultMaxDelay
		if opts.MaxDelay < opts.BaseDelay {
			opts.MaxDelay = opts.BaseDelay
		}
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &Channel{
		opts: opts,
		log:  opts.Log.With("component", "ChatChannel"),
		subs: make(map[string][]subscription),
	}
}

// Backoff 第 attempt 次重连前的等待，线性增长并封顶
func (c *Channel) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.opts.BaseDelay * time.Duration(attempt)
	if d > c.opts.MaxDelay || d <= 0 {
		return c.opts.MaxDelay
	}
	return d
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect 建连并等待服务端的 connected 帧；失败时返回 *ConnectionError
func (c *Channel) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.token = token
	c.mu.Unlock()
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return &ConnectionError{Attempts: 1, Err: err}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	c.attach(loopCtx, conn)
	return nil
}

// Disconnect 主动断开，不触发重连；订阅保留，下次 Connect 时重新订阅
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	if cancel != nil {
		cancel()
	}
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if changed {
		c.notifyState(StateDisconnected)
	}
}

// Subscribe 同一主题第一个订阅者才发送 subscribe 帧
func (c *Channel) Subscribe(topic string, handler Handler) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	first := len(c.subs[topic]) == 0
	c.subs[topic] = append(c.subs[topic], subscription{id: id, handler: handler})
	conn := c.liveConn()
	c.mu.Unlock()

	if first && conn != nil {
		c.write(conn, realtime.Frame{Type: realtime.FrameSubscribe, Topic: topic})
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(topic, id) })
	}
}

// unsubscribe 只移除调用方自己的登记，最后一个订阅者离开时才发送 unsubscribe 帧
func (c *Channel) unsubscribe(topic string, id uint64) {
	c.mu.Lock()
	subs := c.subs[topic]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	last := len(subs) == 0
	if last {
		delete(c.subs, topic)
	} else {
		c.subs[topic] = subs
	}
	conn := c.liveConn()
	c.mu.Unlock()

	if last && conn != nil {
		c.write(conn, realtime.Frame{Type: realtime.FrameUnsubscribe, Topic: topic})
	}
}

// Subscribers 主题当前的本地订阅者数量
func (c *Channel) Subscribers(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[topic])
}

func (c *Channel) Send(destination string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.liveConn()
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, realtime.Frame{Type: realtime.FrameSend, Destination: destination, Payload: raw})
}

func (c *Channel) liveConn() Conn {
	if c.state != StateConnected {
		return nil
	}
	return c.conn
}

func (c *Channel) dial(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	conn, err := c.opts.Dialer.Dial(ctx, c.endpoint(token))
	if err != nil {
		return nil, err
	}
	var frame realtime.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		conn.Close()
		return nil, err
	}
	if frame.Type != realtime.FrameConnected {
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", frame.Type)
	}
	return conn, nil
}

// endpoint 登录用户带 token，游客把会话令牌作为 session 参数
func (c *Channel) endpoint(token string) string {
	if token == "" {
		return c.opts.URL
	}
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return c.opts.URL
	}
	q := u.Query()
	if q.Get("session") == "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// attach 切换到新连接，重新订阅全部主题后开始读取
func (c *Channel) attach(ctx context.Context, conn Conn) {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.state = StateConnected
	c.mu.Unlock()
	c.notifyState(StateConnected)

	for _, topic := range topics {
		c.write(conn, realtime.Frame{Type: realtime.FrameSubscribe, Topic: topic})
	}
	go c.readLoop(ctx, conn)
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) {
	for {
		var frame realtime.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			c.lost(ctx, conn, err)
			return
		}
		c.dispatch(frame)
	}
}

// lost 非主动断开时进入重连
func (c *Channel) lost(ctx context.Context, conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	conn.Close()

	c.log.Warn("connection lost, reconnecting", "error", cause)
	c.reconnect(ctx, cause)
}

func (c *Channel) reconnect(ctx context.Context, cause error) {
	lastErr := cause
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if !c.transition(ctx, StateConnecting) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.opts.Clock.After(c.Backoff(attempt)):
		}

		conn, err := c.dial(ctx)
		if err == nil {
			c.log.Info("reconnected", "attempt", attempt)
			c.attach(ctx, conn)
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastErr = err
		c.log.Warn("reconnect failed", "attempt", attempt, "error", err)
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	var handlers []Handler
	for _, subs := range c.subs {
		for _, s := range subs {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.Unlock()
	c.notifyState(StateFailed)

	connErr := &ConnectionError{Attempts: c.opts.MaxAttempts, Err: lastErr}
	c.log.Error("giving up reconnecting", "attempts", c.opts.MaxAttempts, "error", lastErr)
	for _, h := range handlers {
		h(nil, connErr)
	}
	if len(handlers) == 0 && c.opts.OnError != nil {
		c.opts.OnError(connErr)
	}
}

func (c *Channel) dispatch(frame realtime.Frame) {
	switch frame.Type {
	case realtime.FrameEvent:
		if frame.Event == nil {
			return
		}
		for _, h := range c.handlers(frame.Topic) {
			h(frame.Event, nil)
		}
	case realtime.FrameError:
		err := &ServerError{Topic: frame.Topic, Destination: frame.Destination, Message: frame.Message}
		handlers := c.handlers(frame.Topic)
		for _, h := range handlers {
			h(nil, err)
		}
		if len(handlers) == 0 && c.opts.OnError != nil {
			c.opts.OnError(err)
		}
	case realtime.FrameConnected, realtime.FrameSubscribe, realtime.FrameUnsubscribe, realtime.FrameSend:
	}
}

func (c *Channel) handlers(topic string) []Handler {
	if topic == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subs[topic]
	out := make([]Handler, len(subs))
	for i, s := range subs {
		out[i] = s.handler
	}
	return out
}

func (c *Channel) write(conn Conn, frame realtime.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		c.log.Warn("write frame failed", "type", frame.Type, "error", err)
		return err
	}
	return nil
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notifyState(s)
	}
}

// transition 重连循环内的状态变更，已主动断开时不再改写
func (c *Channel) transition(ctx context.Context, s State) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notifyState(s)
	}
	return true
}

func (c *Channel) notifyState(s State) {
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}
