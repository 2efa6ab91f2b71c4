package campaign

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bbu-fleet/bbu-server/internal/clock"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/eventbus"
	"github.com/bbu-fleet/bbu-server/internal/metrics"
	"github.com/bbu-fleet/bbu-server/internal/models"
	"github.com/bbu-fleet/bbu-server/internal/protocol"
	"github.com/bbu-fleet/bbu-server/internal/storage"
)

// 阶段名，出现在 campaign 主题事件中
const (
	PhaseOne         = "phase1"
	PhaseTwo         = "phase2"
	PhaseThree       = "phase3"
	PhaseCycleClosed = "cycle_closed"
	PhaseCycleOpen   = "cycle_open"
	PhaseCountdown   = "countdown"
	PhaseCompleted   = "completed"
	PhaseFailed      = "failed"
	PhaseStopped     = "stopped"
)

// RecoveryMode 进程重启时落在循环阶段的恢复方式
type RecoveryMode string

const (
	// RecoveryRestart 从循环的关闭子阶段重新开始
	RecoveryRestart RecoveryMode = "restart"
	// RecoveryAligned 按循环周期取模，接上原来的子阶段
	RecoveryAligned RecoveryMode = "aligned"
)

// Timings 分阶段计时参数
type Timings struct {
	Phase1      time.Duration
	Phase2      time.Duration
	Phase3      time.Duration
	CycleClosed time.Duration
	CycleOpen   time.Duration
	Poll        time.Duration
	Recovery    RecoveryMode
}

// DefaultTimings 120s / 300s / 30s，之后 300s 关 30s 开循环
var DefaultTimings = Timings{
	Phase1:      120 * time.Second,
	Phase2:      300 * time.Second,
	Phase3:      30 * time.Second,
	CycleClosed: 300 * time.Second,
	CycleOpen:   30 * time.Second,
	Poll:        time.Second,
	Recovery:    RecoveryRestart,
}

// cycleStart 第 4 阶段开始的经过时间
func (t Timings) cycleStart() time.Duration {
	return t.Phase1 + t.Phase2 + t.Phase3
}

// cycleEntry 从 initial 开始时第一个循环子阶段的起点，openFirst 表示先进入开启子阶段
func (t Timings) cycleEntry(initial time.Duration) (at time.Duration, openFirst bool) {
	base := t.cycleStart()
	if initial <= base {
		return base, false
	}
	if t.Recovery != RecoveryAligned {
		return initial, false
	}

	period := t.CycleClosed + t.CycleOpen
	offset := (initial - base) % period
	start := initial - offset
	if offset < t.CycleClosed {
		return start, false
	}
	return start + t.CycleClosed, true
}

type channelAction int

const (
	actionNone channelAction = iota
	actionClose
	actionOpen
)

type stage struct {
	name   string
	number int
	action channelAction
	end    time.Duration
}

type waitResult int

const (
	waitElapsed waitResult = iota
	waitExpired
	waitCancelled
)

// RFToggle 射频开启标志，影响心跳状态归一化
type RFToggle interface {
	SetRFOpen(open bool)
}

type run struct {
	id      int64
	mode    models.CampaignMode
	start   time.Time
	initial time.Duration
	cancel  context.CancelFunc
	done    chan struct{}
	changes chan string
	// pending 已收到但尚未在关闭阶段下发名单的 IMSI
	pending []string
}

// Orchestrator 每个进行中的任务一个计时 goroutine
type Orchestrator struct {
	store   storage.Store
	disp    *dispatcher.Dispatcher
	bundler *Bundler
	rf      RFToggle
	bus     *eventbus.Bus
	clock   clock.Clock
	timings Timings
	metrics *metrics.Metrics
	logger  zerolog.Logger

	root     context.Context
	shutdown context.CancelFunc

	mu   sync.Mutex
	runs map[int64]*run
	wg   sync.WaitGroup
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorMetrics 记录当前阶段
func WithOrchestratorMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(store storage.Store, disp *dispatcher.Dispatcher, bundler *Bundler, rf RFToggle, bus *eventbus.Bus, clk clock.Clock, timings Timings, opts ...OrchestratorOption) *Orchestrator {
	if timings.Poll <= 0 {
		timings.Poll = time.Second
	}
	root, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:    store,
		disp:     disp,
		bundler:  bundler,
		rf:       rf,
		bus:      bus,
		clock:    clk,
		timings:  timings,
		logger:   log.With().Str("component", "orchestrator").Logger(),
		root:     root,
		shutdown: cancel,
		runs:     make(map[int64]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start 为任务启动计时，initial 为已经过的时间；同一任务已有计时时先停掉旧的
func (o *Orchestrator) Start(c *models.Campaign, initial time.Duration) {
	o.Stop(c.ID)

	ctx, cancel := context.WithCancel(o.root)
	r := &run{
		id:      c.ID,
		mode:    c.Mode,
		start:   o.clock.Now().Add(-initial),
		initial: initial,
		cancel:  cancel,
		done:    make(chan struct{}),
		changes: make(chan string, 16),
	}

	o.mu.Lock()
	o.runs[c.ID] = r
	o.mu.Unlock()

	o.rf.SetRFOpen(true)
	o.logger.Info().
		Int64("campaign", c.ID).
		Str("mode", string(c.Mode)).
		Dur("duration", c.Duration).
		Dur("initial_elapsed", initial).
		Msg("任务计时开始")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(r.done)
		defer o.forget(r)
		o.execute(ctx, r, c.Duration)
	}()
}

// Stop 取消任务计时并等待其退出，返回是否存在计时
func (o *Orchestrator) Stop(id int64) bool {
	o.mu.Lock()
	r, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	<-r.done
	return true
}

// Running 任务是否仍在计时
func (o *Orchestrator) Running(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.runs[id]
	return ok
}

// NotifyTargetChange 通知任务有新目标，在下一个阶段边界处理；队列满时丢弃
func (o *Orchestrator) NotifyTargetChange(id int64, imsi string) bool {
	o.mu.Lock()
	r, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case r.changes <- imsi:
		return true
	default:
		o.logger.Warn().Int64("campaign", id).Str("imsi", imsi).Msg("目标变更通知队列已满")
		return false
	}
}

// Shutdown 停止全部计时；任务保持 started，下次启动时恢复
func (o *Orchestrator) Shutdown() {
	o.shutdown()
	o.wg.Wait()
}

func (o *Orchestrator) forget(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs[r.id] == r {
		delete(o.runs, r.id)
	}
}

func (o *Orchestrator) execute(ctx context.Context, r *run, duration time.Duration) {
	var (
		res waitResult
		err error
	)
	if r.mode.Phased() {
		res, err = o.runPhased(ctx, r, duration)
	} else {
		o.publishPhase(r, stage{name: PhaseCountdown}, models.CampaignStarted)
		res = o.waitUntil(ctx, r, duration, duration)
	}
	o.finish(r, res, err)
}

func (o *Orchestrator) runPhased(ctx context.Context, r *run, duration time.Duration) (waitResult, error) {
	t := o.timings
	b1 := t.Phase1
	b2 := b1 + t.Phase2
	b3 := b2 + t.Phase3

	fixed := []stage{
		{name: PhaseOne, number: 1, action: actionNone, end: b1},
		{name: PhaseTwo, number: 2, action: actionClose, end: b2},
		{name: PhaseThree, number: 3, action: actionOpen, end: b3},
	}
	for _, st := range fixed {
		if r.initial >= st.end {
			continue
		}
		if res, err := o.enter(ctx, r, st, duration); err != nil || res != waitElapsed {
			return res, err
		}
	}

	at, openFirst := t.cycleEntry(r.initial)
	for {
		if !openFirst {
			at += t.CycleClosed
			st := stage{name: PhaseCycleClosed, number: 4, action: actionClose, end: at}
			if res, err := o.enter(ctx, r, st, duration); err != nil || res != waitElapsed {
				return res, err
			}
		}
		openFirst = false

		at += t.CycleOpen
		st := stage{name: PhaseCycleOpen, number: 4, action: actionOpen, end: at}
		if res, err := o.enter(ctx, r, st, duration); err != nil || res != waitElapsed {
			return res, err
		}
	}
}

// enter 进入阶段：刷新目标、执行信道动作，然后等待到阶段结束
func (o *Orchestrator) enter(ctx context.Context, r *run, st stage, duration time.Duration) (waitResult, error) {
	if o.clock.Now().Sub(r.start) >= duration {
		return waitExpired, nil
	}

	imsis, err := o.refresh(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", st.name, err)
	}

	o.publishPhase(r, st, models.CampaignStarted)

	if st.action != actionNone {
		if err := o.applyAction(ctx, r, st, imsis); err != nil {
			return 0, fmt.Errorf("%s: %w", st.name, err)
		}
	}
	return o.waitUntil(ctx, r, st.end, duration), nil
}

func (o *Orchestrator) applyAction(ctx context.Context, r *run, st stage, imsis []string) error {
	devices, err := o.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	operators, err := o.store.ListOperators(ctx)
	if err != nil {
		return fmt.Errorf("list operators: %w", err)
	}
	ch := Partition(devices, operators)
	targets := MatchingExceptions(ch.Exception, operators, imsis)

	cmd := protocol.StartCell()
	if st.action == actionClose {
		cmd = protocol.StopCell()
		// 关闭阶段补发新增目标的名单
		for _, imsi := range r.pending {
			o.bundler.ListUpdate(ctx, r.mode, imsi, ch)
		}
		r.pending = nil
	}

	results := o.disp.SendToMany(ctx, targets, cmd)
	o.logger.Info().
		Int64("campaign", r.id).
		Str("phase", st.name).
		Str("command", cmd.Name).
		Strs("ips", targets).
		Int("failed", dispatcher.Failed(results)).
		Msg("例外信道切换")
	return nil
}

// refresh 重读任务的 IMSI 集合并重新快照目标表
func (o *Orchestrator) refresh(ctx context.Context, r *run) ([]string, error) {
	for drained := false; !drained; {
		select {
		case imsi := <-r.changes:
			r.pending = append(r.pending, imsi)
		default:
			drained = true
		}
	}

	var imsis []string
	err := storage.WithTx(ctx, o.store, func(tx storage.Store) error {
		c, err := tx.GetCampaign(ctx, r.id)
		if err != nil {
			return fmt.Errorf("get campaign %d: %w", r.id, err)
		}
		targets, err := tx.ListTargets(ctx)
		if err != nil {
			return fmt.Errorf("list targets: %w", err)
		}

		for _, imsi := range r.pending {
			c.IMSIs = c.IMSIs.Add(imsi)
		}
		imsis = c.IMSIs

		if len(targets) == 0 || c.Status != models.CampaignStarted {
			return nil
		}
		snapshot := make(models.TargetSnapshot, 0, len(targets))
		for _, t := range targets {
			snapshot = append(snapshot, t.Info())
		}
		c.TargetInfo = snapshot
		return tx.UpdateCampaign(ctx, c)
	})
	return imsis, err
}

// waitUntil 按轮询间隔等待，直到经过时间到达 until 或总时长耗尽
func (o *Orchestrator) waitUntil(ctx context.Context, r *run, until, duration time.Duration) waitResult {
	for {
		elapsed := o.clock.Now().Sub(r.start)
		if elapsed >= duration {
			return waitExpired
		}
		if elapsed >= until {
			return waitElapsed
		}

		step := o.timings.Poll
		if d := until - elapsed; d < step {
			step = d
		}
		if d := duration - elapsed; d < step {
			step = d
		}

		select {
		case <-ctx.Done():
			return waitCancelled
		case <-o.clock.After(step):
		}
	}
}

func (o *Orchestrator) finish(r *run, res waitResult, err error) {
	// 取消后的收尾由调用 Stop 的一方完成
	if err == nil && res == waitCancelled {
		o.logger.Info().Int64("campaign", r.id).Msg("任务计时已取消")
		return
	}

	ctx := context.Background()
	status, phase := models.CampaignCompleted, PhaseCompleted
	if err != nil {
		status, phase = models.CampaignFailed, PhaseFailed
		o.logger.Error().Err(err).Int64("campaign", r.id).Msg("任务阶段执行失败")
	} else {
		o.logger.Info().Int64("campaign", r.id).Msg("任务时长已到")
	}

	o.CloseAll(ctx)
	if _, markErr := o.markTerminal(ctx, r.id, status); markErr != nil {
		o.logger.Error().Err(markErr).Int64("campaign", r.id).Msg("更新任务状态失败")
	}
	o.rf.SetRFOpen(false)
	o.publishPhase(r, stage{name: phase}, status)
}

// CloseAll 向全部已知设备发送 StopCell
func (o *Orchestrator) CloseAll(ctx context.Context) []dispatcher.Result {
	devices, err := o.store.ListDevices(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("读取设备列表失败，无法关闭射频")
		return nil
	}
	ips := make([]string, 0, len(devices))
	for _, d := range devices {
		ips = append(ips, d.IP)
	}
	return o.disp.SendToMany(ctx, ips, protocol.StopCell())
}

// markTerminal 已是终态时不再修改，返回 false
func (o *Orchestrator) markTerminal(ctx context.Context, id int64, status models.CampaignStatus) (bool, error) {
	changed := false
	err := storage.WithTx(ctx, o.store, func(tx storage.Store) error {
		c, err := tx.GetCampaign(ctx, id)
		if err != nil {
			return err
		}
		if c.Status.Terminal() {
			return nil
		}
		now := o.clock.Now()
		c.Status = status
		c.StopScan = &now
		changed = true
		return tx.UpdateCampaign(ctx, c)
	})
	return changed, err
}

// Recover 恢复所有 started 任务：已超时的先标记完成再关闭全部射频，其余继续计时
func (o *Orchestrator) Recover(ctx context.Context) error {
	campaigns, err := o.store.ListCampaignsByStatus(ctx, models.CampaignStarted)
	if err != nil {
		return fmt.Errorf("list started campaigns: %w", err)
	}

	now := o.clock.Now()
	for _, c := range campaigns {
		if c.StartScan == nil {
			// 启动指令组下发期间进程退出，射频状态未知
			o.logger.Warn().Int64("campaign", c.ID).Msg("任务没有开始时间，按失败收尾")
			if err := o.finalize(ctx, &run{id: c.ID, start: now}, models.CampaignFailed, PhaseFailed); err != nil {
				return err
			}
			continue
		}

		elapsed := c.Elapsed(now)
		if elapsed < c.Duration {
			o.logger.Info().Int64("campaign", c.ID).Dur("elapsed", elapsed).Msg("恢复任务计时")
			o.Start(c, elapsed)
			continue
		}

		o.logger.Info().Int64("campaign", c.ID).Dur("elapsed", elapsed).Msg("任务在停机期间已到期")
		if err := o.finalize(ctx, &run{id: c.ID, start: *c.StartScan}, models.CampaignCompleted, PhaseCompleted); err != nil {
			return err
		}
	}
	return nil
}

// finalize 标记终态后关闭全部射频；任务已被其他路径收尾时什么也不做
func (o *Orchestrator) finalize(ctx context.Context, r *run, status models.CampaignStatus, phase string) error {
	changed, err := o.markTerminal(ctx, r.id, status)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("finalize campaign %d: %w", r.id, err)
	}
	if !changed {
		return nil
	}
	o.CloseAll(ctx)
	o.rf.SetRFOpen(false)
	o.publishPhase(r, stage{name: phase}, status)
	return nil
}

func (o *Orchestrator) publishPhase(r *run, st stage, status models.CampaignStatus) {
	o.metrics.CampaignPhase(strconv.FormatInt(r.id, 10), st.number)

	if st.number > 0 {
		o.logger.Info().Int64("campaign", r.id).Str("phase", st.name).Msg("进入阶段")
	}
	if o.bus == nil {
		return
	}
	ev := models.CampaignPhaseEvent{
		CampaignID:     r.id,
		Phase:          st.name,
		ElapsedSeconds: o.clock.Now().Sub(r.start).Seconds(),
		Status:         status,
	}
	if err := o.bus.Publish(eventbus.TopicCampaign, ev); err != nil {
		o.logger.Error().Err(err).Msg("Failed to publish phase event")
	}
}
