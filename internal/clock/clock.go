// Package clock 提供可注入的时间源。
//
// 编排器、看门狗和指令重发都只通过 Clock 取时间和等待，
// 测试用 Fake 推进虚拟时间，无需真实睡眠。
package clock

import "time"

// Clock 时间源
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker 周期触发器，C 的语义与 time.Ticker 相同
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop 停止触发，不关闭 C
func (t *Ticker) Stop() {
	if t.stop != nil {
		t.stop()
	}
}

// Real 返回基于 time 包的时钟
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
