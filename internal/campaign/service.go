// Package campaign 管理扫描任务：启动指令组、分阶段开关例外信道、到期收尾和重启恢复。
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bbu-fleet/bbu-server/internal/clock"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/models"
	"github.com/bbu-fleet/bbu-server/internal/storage"
	"github.com/bbu-fleet/bbu-server/internal/validation"
)

// StartRequest 启动任务请求，IPs 为空时下发给全部已知设备
type StartRequest struct {
	Name     string   `json:"name" validate:"required"`
	IMSIs    []string `json:"imsi" validate:"imsi"`
	Mode     string   `json:"mode" validate:"required,mode"`
	Provider string   `json:"provider"`
	Duration string   `json:"duration" validate:"required,duration"`
	IPs      []string `json:"ips" validate:"ip"`
}

// TargetRequest 新增目标
type TargetRequest struct {
	Name         string `json:"name" validate:"required"`
	IMSI         string `json:"imsi" validate:"required,imsi"`
	AlertStatus  string `json:"alertStatus"`
	TargetStatus string `json:"targetStatus"`
}

// StartResponse 启动结果
type StartResponse struct {
	Campaign *models.Campaign    `json:"campaign"`
	Results  []dispatcher.Result `json:"results"`
}

// Service 任务操作入口
type Service struct {
	store     storage.Store
	orch      *Orchestrator
	bundler   *Bundler
	clock     clock.Clock
	validator *validation.Validator
	logger    zerolog.Logger
}

// NewService creates a campaign service
func NewService(store storage.Store, orch *Orchestrator, bundler *Bundler, clk clock.Clock) *Service {
	return &Service{
		store:     store,
		orch:      orch,
		bundler:   bundler,
		clock:     clk,
		validator: validation.NewValidator(),
		logger:    log.With().Str("component", "campaign").Logger(),
	}
}

// Orchestrator 底层计时器
func (s *Service) Orchestrator() *Orchestrator {
	return s.orch
}

// Start 创建任务、下发启动指令组，StartCell 之后记录开始时间并开始计时
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if err := s.validator.Validate(&req); err != nil {
		if !models.CampaignMode(req.Mode).Valid() && req.Mode != "" {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMode, req.Mode)
		}
		return nil, err
	}
	duration, err := ParseDuration(req.Duration)
	if err != nil {
		return nil, err
	}
	mode := models.CampaignMode(req.Mode)
	if mode == models.ModeDF && req.Provider == "" {
		return nil, fmt.Errorf("%w: provider: field is required for df mode", validation.ErrValidation)
	}

	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	operators, err := s.store.ListOperators(ctx)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}

	ips := req.IPs
	if len(ips) == 0 {
		for _, d := range devices {
			ips = append(ips, d.IP)
		}
	}
	if len(ips) == 0 {
		return nil, ErrNoDevices
	}

	imsis := models.ParseStringList(strings.Join(req.IMSIs, ","))
	c := &models.Campaign{
		Name:     req.Name,
		IMSIs:    imsis,
		Provider: req.Provider,
		Mode:     mode,
		Status:   models.CampaignStarted,
		Duration: duration,
	}

	err = storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		targets, err := tx.ListTargets(ctx)
		if err != nil {
			return err
		}
		for _, t := range targets {
			c.TargetInfo = append(c.TargetInfo, t.Info())
		}
		return tx.CreateCampaign(ctx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	s.logger.Info().
		Int64("campaign", c.ID).
		Str("name", c.Name).
		Str("mode", string(mode)).
		Strs("imsi", imsis).
		Int("devices", len(ips)).
		Msg("任务创建")

	results, err := s.bundler.Run(ctx, BundleRequest{
		Mode:     mode,
		Provider: req.Provider,
		IMSIs:    imsis,
		IPs:      ips,
		Channels: Partition(devices, operators).Restrict(ips),
	})
	if err != nil {
		if _, markErr := s.orch.markTerminal(context.Background(), c.ID, models.CampaignFailed); markErr != nil {
			s.logger.Error().Err(markErr).Int64("campaign", c.ID).Msg("更新任务状态失败")
		}
		return &StartResponse{Campaign: c, Results: results}, fmt.Errorf("start bundle: %w", err)
	}

	now := s.clock.Now()
	c.StartScan = &now
	if err := s.store.UpdateCampaign(ctx, c); err != nil {
		return &StartResponse{Campaign: c, Results: results}, fmt.Errorf("record start: %w", err)
	}

	s.orch.Start(c, 0)
	return &StartResponse{Campaign: c, Results: results}, nil
}

// Stop 手动停止：取消计时，标记完成并关闭全部射频
func (s *Service) Stop(ctx context.Context, id int64) ([]dispatcher.Result, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, err
	}

	s.orch.Stop(id)

	changed, err := s.orch.markTerminal(ctx, id, models.CampaignCompleted)
	if err != nil {
		return nil, fmt.Errorf("stop campaign %d: %w", id, err)
	}
	if !changed {
		// 已由计时到期或先前的停止收尾，射频已关闭
		s.logger.Info().Int64("campaign", id).Str("status", string(c.Status)).Msg("任务已结束，无需停止")
		return []dispatcher.Result{}, nil
	}

	results := s.orch.CloseAll(ctx)
	s.orch.rf.SetRFOpen(false)

	start := s.clock.Now()
	if c.StartScan != nil {
		start = *c.StartScan
	}
	s.orch.publishPhase(&run{id: id, start: start}, stage{name: PhaseStopped}, models.CampaignCompleted)
	s.logger.Info().Int64("campaign", id).Int("failed", dispatcher.Failed(results)).Msg("任务已停止")
	return results, nil
}

// StopActive 停止当前进行中的任务
func (s *Service) StopActive(ctx context.Context) ([]dispatcher.Result, error) {
	c, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}
	return s.Stop(ctx, c.ID)
}

// Active 当前进行中的任务
func (s *Service) Active(ctx context.Context) (*models.Campaign, error) {
	c, err := s.store.GetActiveCampaign(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoActiveCampaign
	}
	return c, err
}

// Get 按 id 查询任务
func (s *Service) Get(ctx context.Context, id int64) (*models.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return c, err
}

// AddTarget 保存目标；有进行中的任务时把 IMSI 加入该任务、立即下发名单并通知计时器
func (s *Service) AddTarget(ctx context.Context, req TargetRequest) (*models.Target, []dispatcher.Result, error) {
	if err := s.validator.Validate(&req); err != nil {
		return nil, nil, err
	}
	if req.TargetStatus == "" {
		req.TargetStatus = models.TargetActive
	}

	target := &models.Target{
		Name:         req.Name,
		IMSI:         req.IMSI,
		AlertStatus:  req.AlertStatus,
		TargetStatus: req.TargetStatus,
	}
	err := storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		existing, err := tx.ListTargets(ctx)
		if err != nil {
			return err
		}
		for _, t := range existing {
			if t.IMSI == target.IMSI {
				return fmt.Errorf("%w: %s", ErrTargetExists, target.IMSI)
			}
		}
		return tx.CreateTarget(ctx, target)
	})
	if err != nil {
		return nil, nil, err
	}

	if target.TargetStatus != models.TargetActive {
		return target, nil, nil
	}

	active, err := s.store.GetActiveCampaign(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return target, nil, nil
	}
	if err != nil {
		return target, nil, fmt.Errorf("get active campaign: %w", err)
	}

	if !active.IMSIs.Contains(target.IMSI) {
		active.IMSIs = active.IMSIs.Add(target.IMSI)
		if err := s.store.UpdateCampaign(ctx, active); err != nil {
			return target, nil, fmt.Errorf("update campaign %d: %w", active.ID, err)
		}
	}

	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return target, nil, fmt.Errorf("list devices: %w", err)
	}
	operators, err := s.store.ListOperators(ctx)
	if err != nil {
		return target, nil, fmt.Errorf("list operators: %w", err)
	}

	results := s.bundler.ListUpdate(ctx, active.Mode, target.IMSI, Partition(devices, operators))
	s.orch.NotifyTargetChange(active.ID, target.IMSI)

	s.logger.Info().
		Int64("campaign", active.ID).
		Str("imsi", target.IMSI).
		Int("failed", dispatcher.Failed(results)).
		Msg("新增目标已加入进行中的任务")
	return target, results, nil
}

// Targets 全部目标
func (s *Service) Targets(ctx context.Context) ([]*models.Target, error) {
	return s.store.ListTargets(ctx)
}

// Crawls 任务的采集记录
func (s *Service) Crawls(ctx context.Context, id int64) ([]*models.CrawlRecord, error) {
	return s.store.ListCrawls(ctx, id)
}

// Recover 进程启动时恢复 started 任务
func (s *Service) Recover(ctx context.Context) error {
	return s.orch.Recover(ctx)
}
