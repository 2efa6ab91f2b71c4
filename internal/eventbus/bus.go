package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bbu-fleet/bbu-server/internal/metrics"
)

// Topic 事件主题
type Topic string

const (
	TopicHeartbeat Topic = "heartbeat" // 设备在线状态
	TopicCrawling  Topic = "crawling"  // 终端采集
	TopicSniffing  Topic = "sniffing"  // 扫频结果
	TopicCampaign  Topic = "campaign"  // 任务阶段
)

// Topics 全部已知主题
var Topics = []Topic{TopicHeartbeat, TopicCrawling, TopicSniffing, TopicCampaign}

// Valid 是否为已知主题
func (t Topic) Valid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// ErrSubscriberGone 订阅者的连接已关闭，总线收到后移除该订阅
var ErrSubscriberGone = errors.New("subscriber gone")

// Handler 接收一条 JSON 载荷
type Handler func(topic Topic, payload []byte) error

const defaultQueueSize = 256

type subscription struct {
	id     string
	topic  Topic
	fn     Handler
	queue  chan []byte
	done   chan struct{}
	closed sync.Once
}

func (s *subscription) stop() {
	s.closed.Do(func() { close(s.done) })
}

// Bus 进程内发布订阅。Publish 不阻塞：每个订阅者有自己的队列和投递协程，
// 队列满时丢弃该订阅者的这条消息。不做持久化和重放。
type Bus struct {
	mu        sync.RWMutex
	subs      map[Topic]map[string]*subscription
	queueSize int
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

// Option configures a Bus
type Option func(*Bus)

// WithMetrics 记录发布和移除计数
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithQueueSize 每个订阅者的缓冲条数
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New creates an event bus
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:      make(map[Topic]map[string]*subscription),
		queueSize: defaultQueueSize,
		logger:    log.With().Str("component", "eventbus").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe 注册回调，返回订阅 ID
func (b *Bus) Subscribe(topic Topic, fn Handler) string {
	sub := &subscription{
		id:    uuid.NewString(),
		topic: topic,
		fn:    fn,
		queue: make(chan []byte, b.queueSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*subscription)
	}
	b.subs[topic][sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliver(sub)

	b.logger.Debug().Str("topic", string(topic)).Str("id", sub.id).Msg("Subscriber added")
	return sub.id
}

// Unsubscribe 移除订阅，不存在时返回 false
func (b *Bus) Unsubscribe(topic Topic, id string) bool {
	b.mu.Lock()
	sub, ok := b.subs[topic][id]
	if ok {
		delete(b.subs[topic], id)
	}
	b.mu.Unlock()

	if ok {
		sub.stop()
	}
	return ok
}

// Publish 序列化一次后投递给该主题当前所有订阅者
func (b *Bus) Publish(topic Topic, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	b.PublishRaw(topic, payload)
	return nil
}

// PublishRaw 投递已编码的载荷
func (b *Bus) PublishRaw(topic Topic, payload []byte) {
	b.metrics.EventPublished(string(topic))

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[topic] {
		select {
		case sub.queue <- payload:
		default:
			b.logger.Warn().
				Str("topic", string(topic)).
				Str("id", sub.id).
				Msg("订阅者队列已满，丢弃消息")
		}
	}
}

// SubscriberCount 当前订阅数
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close 停止所有投递协程并等待退出
func (b *Bus) Close() {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[Topic]map[string]*subscription)
	b.mu.Unlock()

	for _, byID := range all {
		for _, sub := range byID {
			sub.stop()
		}
	}
	b.wg.Wait()
}

func (b *Bus) deliver(sub *subscription) {
	defer b.wg.Done()

	for {
		select {
		case <-sub.done:
			return
		case payload := <-sub.queue:
			if err := b.call(sub, payload); err != nil {
				if errors.Is(err, ErrSubscriberGone) {
					if b.Unsubscribe(sub.topic, sub.id) {
						b.metrics.SubscriberDropped(string(sub.topic))
						b.logger.Info().
							Str("topic", string(sub.topic)).
							Str("id", sub.id).
							Msg("订阅者已断开，移除订阅")
					}
					return
				}
				b.logger.Error().Err(err).
					Str("topic", string(sub.topic)).
					Str("id", sub.id).
					Msg("Subscriber callback failed")
			}
		}
	}
}

// call 回调 panic 不影响其他订阅者
func (b *Bus) call(sub *subscription, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.fn(sub.topic, payload)
}
