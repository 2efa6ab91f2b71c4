// Package dispatchertest 提供记录发送内容的假传输层
package dispatchertest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bbu-fleet/bbu-server/internal/clock"
)

// Sent 一次发送
type Sent struct {
	IP   string
	Text string
	// At 发送时刻，未设置时钟时为零值
	At time.Time
}

// Recorder 实现 dispatcher.Transport，只记录不发送
type Recorder struct {
	mu    sync.Mutex
	sent  []Sent
	fails map[string]error
	clock clock.Clock
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{fails: make(map[string]error)}
}

// UseClock 之后的发送记录带上 c 的当前时刻
func (r *Recorder) UseClock(c clock.Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = c
}

// FailFor 之后发往 ip 的报文都返回 err
func (r *Recorder) FailFor(ip string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fails[ip] = err
}

// Send records the payload
func (r *Recorder) Send(ctx context.Context, ip string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fails[ip]; err != nil {
		return err
	}
	sent := Sent{IP: ip, Text: string(payload)}
	if r.clock != nil {
		sent.At = r.clock.Now()
	}
	r.sent = append(r.sent, sent)
	return nil
}

// All 全部发送记录的副本
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Count 报文以 prefix 开头且发往 ip 的次数，ip 为空表示不限地址
func (r *Recorder) Count(ip, prefix string) int {
	n := 0
	for _, s := range r.All() {
		if (ip == "" || s.IP == ip) && strings.HasPrefix(s.Text, prefix) {
			n++
		}
	}
	return n
}

// IPs 收到以 prefix 开头报文的地址，按首次出现排序去重
func (r *Recorder) IPs(prefix string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range r.All() {
		if strings.HasPrefix(s.Text, prefix) && !seen[s.IP] {
			seen[s.IP] = true
			out = append(out, s.IP)
		}
	}
	return out
}

// Reset 清空记录
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
