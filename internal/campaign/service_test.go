package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbu-fleet/bbu-server/internal/clock"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher/dispatchertest"
	"github.com/bbu-fleet/bbu-server/internal/eventbus"
	"github.com/bbu-fleet/bbu-server/internal/models"
	"github.com/bbu-fleet/bbu-server/internal/protocol"
	"github.com/bbu-fleet/bbu-server/internal/registry"
	"github.com/bbu-fleet/bbu-server/internal/storage"
	"github.com/bbu-fleet/bbu-server/internal/validation"
)

const (
	exceptionIP = "10.0.0.1"
	otherIP     = "10.0.0.2"
	targetIMSI  = "510101234567890"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store   *storage.MemoryStore
	bus     *eventbus.Bus
	clk     *clock.Fake
	rec     *dispatchertest.Recorder
	reg     *registry.Registry
	xmlDir  string
	orch    *Orchestrator
	svc     *Service
	bundler *Bundler
	// jump 为真时直接把时钟推进到下一个到期时间
	jump bool
}

// newFixture 关闭补发，使计时 goroutine 成为虚拟时钟上唯一的等待者
func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, DefaultTimings)
}

func newFixtureWith(t *testing.T, timings Timings) *fixture {
	t.Helper()
	f := &fixture{
		store:  storage.NewMemoryStore(),
		bus:    eventbus.New(),
		clk:    clock.NewFake(t0),
		rec:    dispatchertest.NewRecorder(),
		xmlDir: t.TempDir(),
	}
	f.rec.UseClock(f.clk)
	disp := dispatcher.New(f.rec, f.clk, dispatcher.WithPolicy(dispatcher.Policy{}))
	f.reg = registry.New(f.store, f.bus, disp, f.clk)
	f.bundler = NewBundler(disp, dispatcher.NewFileConfigSource(f.xmlDir), f.clk, 500*time.Millisecond, "")
	f.orch = NewOrchestrator(f.store, disp, f.bundler, f.reg, f.bus, f.clk, timings)
	f.svc = NewService(f.store, f.orch, f.bundler, f.clk)

	ctx := context.Background()
	for _, ip := range []string{exceptionIP, otherIP} {
		_, err := f.reg.UpsertFromHeartbeat(ctx, ip, protocol.Heartbeat{State: protocol.StateOnline})
		require.NoError(t, err)
	}
	require.NoError(t, f.store.CreateOperator(ctx, &models.Operator{MCC: "510", MNC: "10", Brand: "Telkomsel", IP: exceptionIP}))

	t.Cleanup(func() {
		f.orch.Shutdown()
		disp.Close()
		f.bus.Close()
	})
	return f
}

// step 有等待者时推进 500ms，否则让出给后台 goroutine
func (f *fixture) step() {
	if f.jump {
		if at, ok := f.clk.Next(); ok {
			f.clk.Advance(at.Sub(f.clk.Now()))
			return
		}
	} else if f.clk.Pending() > 0 {
		f.clk.Advance(500 * time.Millisecond)
		return
	}
	time.Sleep(time.Millisecond)
}

// cellTimeline 发往 ip 的 StartCell/StopCell，时刻取相对 origin 的偏移
func (f *fixture) cellTimeline(ip string, origin time.Time) []string {
	var out []string
	for _, s := range f.rec.All() {
		if s.IP != ip || (s.Text != protocol.CmdStartCell && s.Text != protocol.CmdStopCell) {
			continue
		}
		out = append(out, s.Text+"@"+s.At.Sub(origin).String())
	}
	return out
}

func (f *fixture) runUntil(t *testing.T, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !done() {
		require.True(t, time.Now().Before(deadline), "virtual clock driver timed out")
		f.step()
	}
}

func (f *fixture) start(t *testing.T, req StartRequest) *StartResponse {
	t.Helper()
	type outcome struct {
		resp *StartResponse
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		resp, err := f.svc.Start(context.Background(), req)
		ch <- outcome{resp, err}
	}()

	var out outcome
	f.runUntil(t, func() bool {
		select {
		case out = <-ch:
			return true
		default:
			return false
		}
	})
	require.NoError(t, out.err)
	return out.resp
}

func (f *fixture) phases() <-chan models.CampaignPhaseEvent {
	ch := make(chan models.CampaignPhaseEvent, 64)
	f.bus.Subscribe(eventbus.TopicCampaign, func(_ eventbus.Topic, payload []byte) error {
		var ev models.CampaignPhaseEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		ch <- ev
		return nil
	})
	return ch
}

func nextPhase(t *testing.T, ch <-chan models.CampaignPhaseEvent) models.CampaignPhaseEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no phase event received")
		return models.CampaignPhaseEvent{}
	}
}

func TestWhitelistCampaign_PhasesAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phases := f.phases()

	resp := f.start(t, StartRequest{
		Name:     "night",
		IMSIs:    []string{targetIMSI},
		Mode:     string(models.ModeWhitelist),
		Duration: "02:30",
	})
	c := resp.Campaign
	require.NotNil(t, c.StartScan)
	assert.True(t, f.reg.RFOpen())

	// 启动指令组：名单按例外信道拆分
	assert.Equal(t, 1, f.rec.Count(exceptionIP, "SetBlackList "+targetIMSI))
	assert.Equal(t, 0, f.rec.Count(otherIP, "SetBlackList "+targetIMSI))
	assert.Equal(t, 1, f.rec.Count(otherIP, "SetWhiteList "+targetIMSI))
	assert.Equal(t, 0, f.rec.Count(exceptionIP, "SetWhiteList "+targetIMSI))
	assert.Equal(t, []string{exceptionIP, otherIP}, f.rec.IPs("StartCell"))
	assert.Zero(t, f.rec.Count(exceptionIP, "StopCell"))

	f.runUntil(t, func() bool { return !f.orch.Running(c.ID) })

	// 120s 只关匹配的例外信道，150s 到期关闭全部
	var stops []string
	for _, s := range f.rec.All() {
		if s.Text == protocol.CmdStopCell {
			stops = append(stops, s.IP)
		}
	}
	assert.Equal(t, []string{exceptionIP, exceptionIP, otherIP}, stops)

	stored, err := f.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignCompleted, stored.Status)
	require.NotNil(t, stored.StopScan)
	assert.Equal(t, 150*time.Second, stored.StopScan.Sub(*stored.StartScan))
	assert.False(t, f.reg.RFOpen())

	ev := nextPhase(t, phases)
	assert.Equal(t, PhaseOne, ev.Phase)
	ev = nextPhase(t, phases)
	assert.Equal(t, PhaseTwo, ev.Phase)
	assert.Equal(t, 120.0, ev.ElapsedSeconds)
	ev = nextPhase(t, phases)
	assert.Equal(t, PhaseCompleted, ev.Phase)
	assert.Equal(t, models.CampaignCompleted, ev.Status)
	assert.Equal(t, 150.0, ev.ElapsedSeconds)
}

func TestBlacklistCampaign_SwapsLists(t *testing.T) {
	f := newFixture(t)
	profile := filepath.Join(f.xmlDir, "mode", "appcfg", "blacklist")
	require.NoError(t, os.MkdirAll(profile, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(profile, "appcfg_"+exceptionIP+".xml"), []byte("<AppCfgExt><mode>2</mode></AppCfgExt>"), 0o644))

	resp := f.start(t, StartRequest{
		Name:     "swap",
		IMSIs:    []string{targetIMSI},
		Mode:     string(models.ModeBlacklist),
		Duration: "10:00",
	})

	assert.Equal(t, 1, f.rec.Count(otherIP, "SetBlackList "+targetIMSI))
	assert.Equal(t, 1, f.rec.Count(exceptionIP, "SetWhiteList "+targetIMSI))
	assert.Equal(t, 1, f.rec.Count(exceptionIP, "SetAppCfgExt"))
	// 另一台没有模板，记为失败但不影响后续步骤
	assert.Equal(t, 1, dispatcher.Failed(resp.Results))
	assert.Equal(t, []string{exceptionIP, otherIP}, f.rec.IPs("StartCell"))

	_, err := f.svc.Stop(context.Background(), resp.Campaign.ID)
	require.NoError(t, err)
}

func TestDFCampaign_Bundle(t *testing.T) {
	f := newFixture(t)
	for _, kind := range []string{"appcfg", "cellpara"} {
		dir := filepath.Join(f.xmlDir, "mode", kind, "Telkomsel")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for _, ip := range []string{exceptionIP, otherIP} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, kind+"_"+ip+".xml"), []byte("<cfg/>"), 0o644))
		}
	}

	resp := f.start(t, StartRequest{
		Name:     "df",
		IMSIs:    []string{targetIMSI},
		Mode:     string(models.ModeDF),
		Provider: "Telkomsel",
		Duration: "01:00",
		IPs:      []string{otherIP},
	})
	assert.Zero(t, dispatcher.Failed(resp.Results))

	var texts []string
	for _, s := range f.rec.All() {
		assert.Equal(t, otherIP, s.IP)
		texts = append(texts, s.Text)
	}
	require.Len(t, texts, 6)
	assert.Equal(t, "SetUlPcPara "+protocol.DefaultUlPcPara, texts[0])
	assert.Contains(t, texts[1], "SetAppCfgExt")
	assert.Contains(t, texts[2], "SetCellPara")
	assert.Equal(t, "SetBlackList "+targetIMSI, texts[3])
	assert.Equal(t, "GetCellPara", texts[4])
	assert.Equal(t, "StartCell", texts[5])

	// df 不分阶段，到期统一关闭
	f.runUntil(t, func() bool { return !f.orch.Running(resp.Campaign.ID) })
	assert.Equal(t, []string{exceptionIP, otherIP}, f.rec.IPs("StopCell"))
}

func TestStop_CancelsTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phases := f.phases()

	resp := f.start(t, StartRequest{Name: "all", Mode: string(models.ModeAll), Duration: "10:00"})
	id := resp.Campaign.ID
	require.True(t, f.orch.Running(id))
	assert.Equal(t, PhaseCountdown, nextPhase(t, phases).Phase)

	results, err := f.svc.Stop(ctx, id)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.False(t, f.orch.Running(id))
	assert.False(t, f.reg.RFOpen())
	assert.Equal(t, PhaseStopped, nextPhase(t, phases).Phase)

	stored, err := f.store.GetCampaign(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignCompleted, stored.Status)
	assert.NotNil(t, stored.StopScan)

	_, err = f.svc.Active(ctx)
	assert.ErrorIs(t, err, ErrNoActiveCampaign)

	_, err = f.svc.Stop(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStop_ReportsElapsedAndClosesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phases := f.phases()

	resp := f.start(t, StartRequest{Name: "all", Mode: string(models.ModeAll), Duration: "10:00"})
	id := resp.Campaign.ID
	started := *resp.Campaign.StartScan
	assert.Equal(t, PhaseCountdown, nextPhase(t, phases).Phase)

	f.runUntil(t, func() bool { return f.clk.Now().Sub(started) >= 30*time.Second })

	results, err := f.svc.Stop(ctx, id)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	ev := nextPhase(t, phases)
	assert.Equal(t, PhaseStopped, ev.Phase)
	assert.Equal(t, 30.0, ev.ElapsedSeconds)

	// 已完成的任务再次停止不重复下发，也不再广播
	results, err = f.svc.Stop(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, f.rec.Count(exceptionIP, protocol.CmdStopCell))
	assert.Equal(t, 1, f.rec.Count(otherIP, protocol.CmdStopCell))
	select {
	case ev := <-phases:
		t.Fatalf("unexpected phase event %q", ev.Phase)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStop_AfterExpirySendsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.start(t, StartRequest{Name: "all", Mode: string(models.ModeAll), Duration: "00:10"})
	f.runUntil(t, func() bool { return !f.orch.Running(resp.Campaign.ID) })
	require.Equal(t, 1, f.rec.Count(otherIP, protocol.CmdStopCell))

	results, err := f.svc.Stop(ctx, resp.Campaign.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, f.rec.Count(otherIP, protocol.CmdStopCell))

	stored, err := f.store.GetCampaign(ctx, resp.Campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignCompleted, stored.Status)
}

func TestWhitelistCampaign_ExceptionChannelTimeline(t *testing.T) {
	f := newFixture(t)
	f.jump = true

	resp := f.start(t, StartRequest{
		Name:     "full",
		IMSIs:    []string{targetIMSI},
		Mode:     string(models.ModeWhitelist),
		Duration: "20:00",
	})
	f.rec.Reset()
	f.runUntil(t, func() bool { return !f.orch.Running(resp.Campaign.ID) })

	origin := *resp.Campaign.StartScan
	assert.Equal(t, []string{
		"StopCell@2m0s",
		"StartCell@7m0s",
		"StopCell@7m30s",
		"StartCell@12m30s",
		"StopCell@13m0s",
		"StartCell@18m0s",
		"StopCell@18m30s",
		"StopCell@20m0s",
	}, f.cellTimeline(exceptionIP, origin))
	assert.Equal(t, []string{"StopCell@20m0s"}, f.cellTimeline(otherIP, origin))
}

func TestRecover_CycleTimeline(t *testing.T) {
	tests := []struct {
		name     string
		recovery RecoveryMode
		elapsed  time.Duration
		want     []string
	}{
		{
			name:     "restart from closed",
			recovery: RecoveryRestart,
			elapsed:  500 * time.Second,
			want: []string{
				"StopCell@0s",
				"StartCell@5m0s",
				"StopCell@5m30s",
				"StartCell@10m30s",
				"StopCell@11m0s",
				"StopCell@11m40s",
			},
		},
		{
			name:     "aligned inside open",
			recovery: RecoveryAligned,
			elapsed:  760 * time.Second,
			want: []string{
				"StartCell@0s",
				"StopCell@20s",
				"StartCell@5m50s",
				"StopCell@6m20s",
				"StopCell@7m20s",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timings := DefaultTimings
			timings.Recovery = tt.recovery
			f := newFixtureWith(t, timings)
			f.jump = true
			ctx := context.Background()

			started := t0.Add(-tt.elapsed)
			c := &models.Campaign{
				Name:      "resume",
				IMSIs:     models.StringList{targetIMSI},
				Mode:      models.ModeWhitelist,
				Status:    models.CampaignStarted,
				Duration:  20 * time.Minute,
				StartScan: &started,
			}
			require.NoError(t, f.store.CreateCampaign(ctx, c))

			require.NoError(t, f.svc.Recover(ctx))
			f.runUntil(t, func() bool { return !f.orch.Running(c.ID) })

			assert.Equal(t, tt.want, f.cellTimeline(exceptionIP, t0))
			assert.Equal(t, []string{tt.want[len(tt.want)-1]}, f.cellTimeline(otherIP, t0))
		})
	}
}

func TestStart_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, StartRequest{Name: "x", Mode: "scan", Duration: "01:00"})
	assert.ErrorIs(t, err, ErrUnknownMode)

	_, err = f.svc.Start(ctx, StartRequest{Name: "x", Mode: "all", Duration: "1:99"})
	assert.ErrorIs(t, err, validation.ErrValidation)

	_, err = f.svc.Start(ctx, StartRequest{Name: "x", Mode: "df", Duration: "01:00"})
	assert.ErrorIs(t, err, validation.ErrValidation)

	_, err = f.svc.Start(ctx, StartRequest{Name: "x", Mode: "all", Duration: "01:00", IPs: []string{"bad"}})
	assert.ErrorIs(t, err, validation.ErrValidation)

	svc := NewService(storage.NewMemoryStore(), f.orch, f.bundler, f.clk)
	_, err = svc.Start(ctx, StartRequest{Name: "x", Mode: "all", Duration: "01:00"})
	assert.ErrorIs(t, err, ErrNoDevices)

	assert.Empty(t, f.rec.All())
}

func TestRecover_ExpiredCampaignClosesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := t0.Add(-200 * time.Second)
	c := &models.Campaign{
		Name:      "stale",
		IMSIs:     models.StringList{targetIMSI},
		Mode:      models.ModeWhitelist,
		Status:    models.CampaignStarted,
		Duration:  150 * time.Second,
		StartScan: &started,
	}
	require.NoError(t, f.store.CreateCampaign(ctx, c))
	f.reg.SetRFOpen(true)

	require.NoError(t, f.svc.Recover(ctx))
	require.NoError(t, f.svc.Recover(ctx))

	assert.Equal(t, 1, f.rec.Count(exceptionIP, "StopCell"))
	assert.Equal(t, 1, f.rec.Count(otherIP, "StopCell"))
	assert.False(t, f.orch.Running(c.ID))
	assert.False(t, f.reg.RFOpen())

	stored, err := f.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignCompleted, stored.Status)
	require.NotNil(t, stored.StopScan)
	assert.Equal(t, t0, *stored.StopScan)
}

func TestRecover_UnstartedCampaignMarkedFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phases := f.phases()

	// 启动指令组尚未下发完进程就退出了
	c := &models.Campaign{
		Name:     "interrupted",
		IMSIs:    models.StringList{targetIMSI},
		Mode:     models.ModeWhitelist,
		Status:   models.CampaignStarted,
		Duration: 10 * time.Minute,
	}
	require.NoError(t, f.store.CreateCampaign(ctx, c))
	f.reg.SetRFOpen(true)

	require.NoError(t, f.svc.Recover(ctx))
	require.NoError(t, f.svc.Recover(ctx))

	assert.False(t, f.orch.Running(c.ID))
	assert.False(t, f.reg.RFOpen())
	assert.Equal(t, 1, f.rec.Count(exceptionIP, protocol.CmdStopCell))
	assert.Equal(t, 1, f.rec.Count(otherIP, protocol.CmdStopCell))

	stored, err := f.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignFailed, stored.Status)
	require.NotNil(t, stored.StopScan)
	assert.Equal(t, t0, *stored.StopScan)

	ev := nextPhase(t, phases)
	assert.Equal(t, PhaseFailed, ev.Phase)
	assert.Equal(t, models.CampaignFailed, ev.Status)

	_, err = f.svc.Active(ctx)
	assert.ErrorIs(t, err, ErrNoActiveCampaign)
}

func TestRecover_ResumesInsidePhaseTwo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := t0.Add(-130 * time.Second)
	c := &models.Campaign{
		Name:      "resume",
		IMSIs:     models.StringList{targetIMSI},
		Mode:      models.ModeWhitelist,
		Status:    models.CampaignStarted,
		Duration:  10 * time.Minute,
		StartScan: &started,
	}
	require.NoError(t, f.store.CreateCampaign(ctx, c))

	require.NoError(t, f.svc.Recover(ctx))
	assert.True(t, f.orch.Running(c.ID))
	assert.True(t, f.reg.RFOpen())

	assert.Eventually(t, func() bool {
		return f.rec.Count(exceptionIP, "StopCell") == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, f.rec.Count(otherIP, "StopCell"))

	_, err := f.svc.Stop(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.rec.Count(exceptionIP, "StopCell"))
	assert.Equal(t, 1, f.rec.Count(otherIP, "StopCell"))
}

// brokenOperators 读取运营商表总是失败
type brokenOperators struct {
	*storage.MemoryStore
}

func (brokenOperators) ListOperators(context.Context) ([]*models.Operator, error) {
	return nil, errors.New("operators table unavailable")
}

func TestOrchestrator_PhaseErrorMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := brokenOperators{f.store}
	disp := dispatcher.New(f.rec, f.clk, dispatcher.WithPolicy(dispatcher.Policy{}))
	orch := NewOrchestrator(store, disp, f.bundler, f.reg, f.bus, f.clk, DefaultTimings)
	t.Cleanup(orch.Shutdown)

	started := t0.Add(-125 * time.Second)
	c := &models.Campaign{
		Name:      "broken",
		IMSIs:     models.StringList{targetIMSI},
		Mode:      models.ModeWhitelist,
		Status:    models.CampaignStarted,
		Duration:  time.Hour,
		StartScan: &started,
	}
	require.NoError(t, f.store.CreateCampaign(ctx, c))

	require.NoError(t, orch.Recover(ctx))
	f.runUntil(t, func() bool { return !orch.Running(c.ID) })

	assert.Equal(t, 1, f.rec.Count(exceptionIP, "StopCell"))
	assert.Equal(t, 1, f.rec.Count(otherIP, "StopCell"))
	assert.False(t, f.reg.RFOpen())

	stored, err := f.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignFailed, stored.Status)
	assert.NotNil(t, stored.StopScan)
}

func TestAddTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const newIMSI = "510119999999999"

	target, results, err := f.svc.AddTarget(ctx, TargetRequest{Name: "a", IMSI: targetIMSI})
	require.NoError(t, err)
	assert.Equal(t, models.TargetActive, target.TargetStatus)
	assert.Empty(t, results)

	_, _, err = f.svc.AddTarget(ctx, TargetRequest{Name: "dup", IMSI: targetIMSI})
	assert.ErrorIs(t, err, ErrTargetExists)

	_, _, err = f.svc.AddTarget(ctx, TargetRequest{Name: "bad", IMSI: "12ab"})
	assert.ErrorIs(t, err, validation.ErrValidation)

	started := t0
	c := &models.Campaign{
		Name:      "live",
		IMSIs:     models.StringList{targetIMSI},
		Mode:      models.ModeWhitelist,
		Status:    models.CampaignStarted,
		Duration:  10 * time.Minute,
		StartScan: &started,
	}
	require.NoError(t, f.store.CreateCampaign(ctx, c))
	f.orch.Start(c, 0)

	_, results, err = f.svc.AddTarget(ctx, TargetRequest{Name: "b", IMSI: newIMSI})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, f.rec.Count(exceptionIP, "SetBlackList "+newIMSI))
	assert.Equal(t, 1, f.rec.Count(otherIP, "SetWhiteList "+newIMSI))

	stored, err := f.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.IMSIs.Contains(newIMSI))

	// 进入第 2 阶段时重新下发新目标的名单并刷新快照
	f.runUntil(t, func() bool { return f.rec.Count(exceptionIP, "StopCell") == 1 })
	assert.Equal(t, 2, f.rec.Count(exceptionIP, "SetBlackList "+newIMSI))

	stored, err = f.store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	var imsis []string
	for _, info := range stored.TargetInfo {
		imsis = append(imsis, info.IMSI)
	}
	assert.ElementsMatch(t, []string{targetIMSI, newIMSI}, imsis)

	_, err = f.svc.Stop(ctx, c.ID)
	require.NoError(t, err)
}
