package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bbu-fleet/bbu-server/internal/campaign"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/models"
)

// Commands 由 *campaign.Service 实现
type Commands interface {
	Start(ctx context.Context, req campaign.StartRequest) (*campaign.StartResponse, error)
	Stop(ctx context.Context, id int64) ([]dispatcher.Result, error)
	StopActive(ctx context.Context) ([]dispatcher.Result, error)
	AddTarget(ctx context.Context, req campaign.TargetRequest) (*models.Target, []dispatcher.Result, error)
}

// Reply request/reply 的统一应答
type Reply struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// StopRequest id 为 0 时停止当前进行中的任务
type StopRequest struct {
	ID int64 `json:"id"`
}

// NATSSubscriber 在 <prefix>.cmd.* 上提供任务指令
type NATSSubscriber struct {
	nc       *nats.Conn
	commands Commands
	prefix   string
	timeout  time.Duration
	subs     []*nats.Subscription
	logger   zerolog.Logger
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc *nats.Conn, commands Commands, prefix string) *NATSSubscriber {
	if prefix == "" {
		prefix = "bbu"
	}
	return &NATSSubscriber{
		nc:       nc,
		commands: commands,
		prefix:   prefix,
		// 启动指令组按步进间隔下发，需要留足时间
		timeout: 2 * time.Minute,
		subs:    make([]*nats.Subscription, 0),
		logger:  log.With().Str("component", "nats-cmd").Logger(),
	}
}

// Subject returns the full subject of a command
func (s *NATSSubscriber) Subject(cmd string) string {
	return fmt.Sprintf("%s.cmd.%s", s.prefix, cmd)
}

// Start starts subscriptions and blocks until ctx is done
func (s *NATSSubscriber) Start(ctx context.Context) error {
	handlers := map[string]func(context.Context, []byte) Reply{
		"campaign.start": s.handleCampaignStart,
		"campaign.stop":  s.handleCampaignStop,
		"target.add":     s.handleTargetAdd,
	}

	for cmd, h := range handlers {
		h := h
		subject := s.Subject(cmd)
		// 同一队列组内只有一个实例处理
		sub, err := s.nc.QueueSubscribe(subject, "bbu-server", func(msg *nats.Msg) {
			s.respond(ctx, msg, h)
		})
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Info().
		Int("subscriptions", len(s.subs)).
		Str("prefix", s.prefix).
		Msg("NATS subscriber started")

	<-ctx.Done()

	s.unsubscribe()
	return ctx.Err()
}

func (s *NATSSubscriber) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = s.subs[:0]
}

func (s *NATSSubscriber) respond(ctx context.Context, msg *nats.Msg, h func(context.Context, []byte) Reply) {
	s.logger.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received command")

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reply := h(cctx, msg.Data)

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to marshal reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to respond")
	}
}

func failure(err error) Reply {
	return Reply{Error: err.Error()}
}

func (s *NATSSubscriber) handleCampaignStart(ctx context.Context, data []byte) Reply {
	var req campaign.StartRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failure(fmt.Errorf("invalid request body: %w", err))
	}

	resp, err := s.commands.Start(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("name", req.Name).Msg("NATS 启动任务失败")
		if resp != nil {
			return Reply{Error: err.Error(), Data: resp}
		}
		return failure(err)
	}
	return Reply{OK: true, Data: resp}
}

func (s *NATSSubscriber) handleCampaignStop(ctx context.Context, data []byte) Reply {
	var req StopRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return failure(fmt.Errorf("invalid request body: %w", err))
		}
	}

	var (
		results []dispatcher.Result
		err     error
	)
	if req.ID == 0 {
		results, err = s.commands.StopActive(ctx)
	} else {
		results, err = s.commands.Stop(ctx, req.ID)
	}
	if err != nil {
		return failure(err)
	}
	return Reply{OK: true, Data: results}
}

func (s *NATSSubscriber) handleTargetAdd(ctx context.Context, data []byte) Reply {
	var req campaign.TargetRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failure(fmt.Errorf("invalid request body: %w", err))
	}

	target, results, err := s.commands.AddTarget(ctx, req)
	if err != nil {
		return failure(err)
	}
	return Reply{OK: true, Data: map[string]interface{}{
		"target":  target,
		"results": results,
	}}
}
