package client

import (
	"context"
	"sync"
	"time"

	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/models"
)

const DefaultPollInterval = 3 * time.Second

// FetchFunc 拉取 after 之后的消息
type FetchFunc func(ctx context.Context, after uint64) ([]models.Message, error)

// Poller 固定间隔拉取历史，推送通道异常时保证最终一致
type Poller struct {
	interval time.Duration
	fetch    FetchFunc
	timeline *Timeline
	log      *logger.Logger

	// cursor 只由拉取结果推进，推送来的消息不影响它
	cursorMu sync.Mutex
	cursor   uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func NewPoller(interval time.Duration, fetch FetchFunc, timeline *Timeline, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Poller{
		interval: interval,
		fetch:    fetch,
		timeline: timeline,
		log:      log.With("component", "Poller"),
	}
}

// Start 立即拉取一次，之后按间隔拉取，直到 ctx 结束或 Stop
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil || p.stopped {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Poll 拉取一次并合并到时间线
func (p *Poller) Poll(ctx context.Context) error {
	msgs, err := p.fetch(ctx, p.Cursor())
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		p.timeline.Apply(msgs...)
		p.advance(msgs)
	}
	return nil
}

// Cursor 下一次拉取的 after 参数
func (p *Poller) Cursor() uint64 {
	p.cursorMu.Lock()
	defer p.cursorMu.Unlock()
	return p.cursor
}

func (p *Poller) advance(msgs []models.Message) {
	p.cursorMu.Lock()
	defer p.cursorMu.Unlock()
	for _, m := range msgs {
		if !m.Provisional && m.Seq > p.cursor {
			p.cursor = m.Seq
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		p.log.Warn("poll failed", "error", err)
	}
}

// Stop 停止定时器并等待当前一次拉取结束，可重复调用
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Running 定时器是否仍在运行
func (p *Poller) Running() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
