package campaign

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bbu-fleet/bbu-server/internal/clock"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/models"
	"github.com/bbu-fleet/bbu-server/internal/protocol"
)

// DefaultStepInterval 启动指令组内相邻步骤的间隔
const DefaultStepInterval = 500 * time.Millisecond

// Bundler 按模式下发启动指令组
type Bundler struct {
	disp     *dispatcher.Dispatcher
	src      dispatcher.ConfigSource
	clock    clock.Clock
	step     time.Duration
	ulPcPara string
	logger   zerolog.Logger
}

// NewBundler step<=0 时使用默认间隔
func NewBundler(disp *dispatcher.Dispatcher, src dispatcher.ConfigSource, clk clock.Clock, step time.Duration, ulPcPara string) *Bundler {
	if step <= 0 {
		step = DefaultStepInterval
	}
	return &Bundler{
		disp:     disp,
		src:      src,
		clock:    clk,
		step:     step,
		ulPcPara: ulPcPara,
		logger:   log.With().Str("component", "bundle").Logger(),
	}
}

// BundleRequest 一次启动所需的参数，Channels 已限定在 IPs 内
type BundleRequest struct {
	Mode     models.CampaignMode
	Provider string
	IMSIs    []string
	IPs      []string
	Channels Channels
}

type bundleStep func(ctx context.Context) []dispatcher.Result

// Run 依次执行各步骤并汇总结果；ctx 取消时返回已完成部分
func (b *Bundler) Run(ctx context.Context, req BundleRequest) ([]dispatcher.Result, error) {
	steps, err := b.steps(req)
	if err != nil {
		return nil, err
	}

	var results []dispatcher.Result
	for i, step := range steps {
		if i > 0 {
			if err := b.pause(ctx); err != nil {
				return results, err
			}
		}
		results = append(results, step(ctx)...)
	}

	b.logger.Info().
		Str("mode", string(req.Mode)).
		Int("devices", len(req.IPs)).
		Int("failed", dispatcher.Failed(results)).
		Msg("启动指令组下发完成")
	return results, nil
}

func (b *Bundler) steps(req BundleRequest) ([]bundleStep, error) {
	imsi := strings.Join(req.IMSIs, ",")
	all := req.IPs

	send := func(ips []string, cmd protocol.Command) bundleStep {
		return func(ctx context.Context) []dispatcher.Result {
			return b.disp.SendToMany(ctx, ips, cmd)
		}
	}
	config := func(kind protocol.ConfigKind, profile string) bundleStep {
		return func(ctx context.Context) []dispatcher.Result {
			return b.disp.SendConfig(ctx, b.src, kind, profile, all)
		}
	}
	clearLists := func(ctx context.Context) []dispatcher.Result {
		out := b.disp.SendToMany(ctx, all, protocol.SetBlackList(""))
		return append(out, b.disp.SendToMany(ctx, all, protocol.SetWhiteList(""))...)
	}

	switch req.Mode {
	case models.ModeWhitelist, models.ModeBlacklist:
		black, white := req.Channels.Exception, req.Channels.Other
		if req.Mode == models.ModeBlacklist {
			black, white = white, black
		}
		steps := []bundleStep{
			send(all, protocol.SetUlPcPara(b.ulPcPara)),
			config(protocol.ConfigAppCfgExt, string(req.Mode)),
			clearLists,
		}
		if imsi != "" {
			if len(black) > 0 {
				steps = append(steps, send(black, protocol.SetBlackList(imsi)))
			}
			if len(white) > 0 {
				steps = append(steps, send(white, protocol.SetWhiteList(imsi)))
			}
		}
		return append(steps, send(all, protocol.StartCell())), nil

	case models.ModeAll:
		return []bundleStep{
			send(all, protocol.SetUlPcPara(b.ulPcPara)),
			config(protocol.ConfigAppCfgExt, string(models.ModeAll)),
			clearLists,
			send(all, protocol.StartCell()),
		}, nil

	case models.ModeDF:
		steps := []bundleStep{
			send(all, protocol.SetUlPcPara(b.ulPcPara)),
			config(protocol.ConfigAppCfgExt, req.Provider),
			config(protocol.ConfigCellPara, req.Provider),
		}
		if imsi != "" {
			steps = append(steps, send(all, protocol.SetBlackList(imsi)))
		}
		return append(steps,
			send(all, protocol.GetConfig(protocol.ConfigCellPara)),
			send(all, protocol.StartCell()),
		), nil
	}
	return nil, ErrUnknownMode
}

// ListUpdate 新增目标时按模式把 IMSI 下发到黑/白名单
func (b *Bundler) ListUpdate(ctx context.Context, mode models.CampaignMode, imsi string, ch Channels) []dispatcher.Result {
	switch mode {
	case models.ModeWhitelist, models.ModeBlacklist:
		black, white := ch.Exception, ch.Other
		if mode == models.ModeBlacklist {
			black, white = white, black
		}
		out := b.disp.SendToMany(ctx, black, protocol.SetBlackList(imsi))
		return append(out, b.disp.SendToMany(ctx, white, protocol.SetWhiteList(imsi))...)
	case models.ModeDF:
		all := append(append([]string{}, ch.Exception...), ch.Other...)
		return b.disp.SendToMany(ctx, all, protocol.SetBlackList(imsi))
	}
	return nil
}

func (b *Bundler) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.clock.After(b.step):
		return nil
	}
}
