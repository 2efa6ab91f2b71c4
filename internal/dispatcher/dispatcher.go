// Package dispatcher 向一个或多个设备下发指令。
//
// 成功只表示报文已交给传输层。需要冗余的指令在后台按固定间隔补发，
// 补发不阻塞调用方。
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bbu-fleet/bbu-server/internal/clock"
	"github.com/bbu-fleet/bbu-server/internal/metrics"
	"github.com/bbu-fleet/bbu-server/internal/protocol"
)

// 单个地址的发送结果
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result 每个地址一条
type Result struct {
	IP      string `json:"ip"`
	Command string `json:"command"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// OK 是否成功
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Policy 补发策略：首发之后再发 Repeats 次，间隔 Interval
type Policy struct {
	Repeats  int
	Interval time.Duration
}

// DefaultPolicy 共 3 次，间隔 500ms
var DefaultPolicy = Policy{Repeats: 2, Interval: 500 * time.Millisecond}

// Dispatcher 指令分发器
type Dispatcher struct {
	transport Transport
	clock     clock.Clock
	policy    Policy
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithPolicy 替换补发策略
func WithPolicy(p Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithMetrics 记录发送结果
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a dispatcher
func New(t Transport, clk clock.Clock, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		clock:     clk,
		policy:    DefaultPolicy,
		logger:    log.With().Str("component", "dispatcher").Logger(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send 发给单个设备；Redundant 指令首发成功后在后台补发
func (d *Dispatcher) Send(ctx context.Context, ip string, cmd protocol.Command) error {
	err := d.transport.Send(ctx, ip, cmd.Encode())
	d.metrics.CommandSent(cmd.Name, err == nil)
	if err != nil {
		d.logger.Error().Err(err).Str("ip", ip).Str("command", cmd.Name).Msg("指令发送失败")
		return err
	}

	d.logger.Debug().Str("ip", ip).Str("command", cmd.String()).Msg("Command sent")

	if cmd.Redundant && d.policy.Repeats > 0 {
		d.wg.Add(1)
		go d.repeat(ip, cmd)
	}
	return nil
}

// SendToMany 逐个地址发送，单个失败不影响其余地址
func (d *Dispatcher) SendToMany(ctx context.Context, ips []string, cmd protocol.Command) []Result {
	results := make([]Result, 0, len(ips))
	for _, ip := range ips {
		r := Result{IP: ip, Command: cmd.Name, Status: StatusSuccess}
		if err := d.Send(ctx, ip, cmd); err != nil {
			r.Status = StatusError
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// repeat 补发脱离调用方的 context，只在 Close 时提前结束
func (d *Dispatcher) repeat(ip string, cmd protocol.Command) {
	defer d.wg.Done()

	for i := 0; i < d.policy.Repeats; i++ {
		select {
		case <-d.done:
			return
		case <-d.clock.After(d.policy.Interval):
		}

		err := d.transport.Send(context.Background(), ip, cmd.Encode())
		d.metrics.CommandSent(cmd.Name, err == nil)
		if err != nil {
			d.logger.Warn().Err(err).Str("ip", ip).Str("command", cmd.Name).Int("attempt", i+2).Msg("补发失败")
		}
	}
}

// Wait 等待所有后台补发结束
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close 取消尚未执行的补发
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.done) })
	d.wg.Wait()
}

// Failed 结果中失败的条目数
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.OK() {
			n++
		}
	}
	return n
}
