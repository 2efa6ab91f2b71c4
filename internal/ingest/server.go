// Package ingest 接收设备上行 UDP 报文，按类型分发到设备表、采集记录和事件总线。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bbu-fleet/bbu-server/internal/clock"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/eventbus"
	"github.com/bbu-fleet/bbu-server/internal/metrics"
	"github.com/bbu-fleet/bbu-server/internal/models"
	"github.com/bbu-fleet/bbu-server/internal/protocol"
	"github.com/bbu-fleet/bbu-server/internal/registry"
	"github.com/bbu-fleet/bbu-server/internal/storage"
)

// DefaultReadBuffer 单个 UDP 报文的最大长度
const DefaultReadBuffer = 65507

// Server 上行报文接收服务
type Server struct {
	conn     net.PacketConn
	registry *registry.Registry
	store    storage.Store
	bus      *eventbus.Bus
	configs  dispatcher.ConfigSource
	clock    clock.Clock
	metrics  *metrics.Metrics
	bufSize  int
	logger   zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithMetrics 报文计数
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadBuffer 读缓冲大小
func WithReadBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// New creates an ingest server on an already bound socket.
// 同一个 socket 也用于下行发送，设备按源端口回包。
func New(conn net.PacketConn, reg *registry.Registry, store storage.Store, bus *eventbus.Bus, configs dispatcher.ConfigSource, clk clock.Clock, opts ...Option) *Server {
	s := &Server{
		conn:     conn,
		registry: reg,
		store:    store,
		bus:      bus,
		configs:  configs,
		clock:    clk,
		bufSize:  DefaultReadBuffer,
		logger:   log.With().Str("component", "ingest").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve 读取报文直到 ctx 取消。
// 报文在读循环中顺序处理，同一设备的更新按到达顺序生效。
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info().Str("addr", s.conn.LocalAddr().String()).Msg("UDP 接收服务启动")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// 让阻塞中的 ReadFrom 立即返回
			_ = s.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	buf := make([]byte, s.bufSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error().Err(err).Msg("读取 UDP 包错误")
			continue
		}

		ip := hostOf(addr)
		if err := s.Handle(ctx, ip, buf[:n]); err != nil {
			s.logger.Warn().Err(err).Str("ip", ip).Msg("报文处理失败，已丢弃")
		}
	}
}

func hostOf(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Handle 处理来自 ip 的一条报文
func (s *Server) Handle(ctx context.Context, ip string, raw []byte) error {
	msg, err := protocol.Decode(raw)
	if err != nil {
		s.metrics.DecodeError()
		return err
	}
	s.metrics.UDPMessage(string(msg.Type()))

	switch m := msg.(type) {
	case protocol.Heartbeat:
		_, err = s.registry.UpsertFromHeartbeat(ctx, ip, m)
	case protocol.ConfigResponse:
		err = s.handleConfig(ctx, ip, m)
	case protocol.SniffReport:
		err = s.handleSniff(ctx, ip, m)
	case protocol.UeInfo:
		err = s.handleUeInfo(ctx, ip, m)
	case protocol.GPSInfo:
		s.registry.UpdateGPS(m.Lat, m.Lon)
	default:
		err = fmt.Errorf("%w: %T", protocol.ErrUnknownMessage, msg)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", msg.Type(), err)
	}
	return nil
}

func (s *Server) handleConfig(ctx context.Context, ip string, m protocol.ConfigResponse) error {
	kind := protocol.ConfigCellPara
	if m.Kind == protocol.TypeAppCfgExtRsp {
		kind = protocol.ConfigAppCfgExt
	}
	if s.configs != nil {
		if err := s.configs.SaveResponse(kind, ip, m.XML); err != nil {
			s.logger.Error().Err(err).Str("ip", ip).Str("kind", string(kind)).Msg("保存配置响应失败")
		}
	}

	var mode string
	if d, err := s.store.GetDevice(ctx, ip); err == nil {
		mode = d.Mode
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	cfg, err := protocol.ParseConfigXML(mode, m.XML)
	if err != nil {
		return err
	}
	_, err = s.registry.UpdateFromConfigResponse(ctx, ip, cfg)
	return err
}

func (s *Server) handleSniff(ctx context.Context, ip string, m protocol.SniffReport) error {
	entries, err := protocol.ParseSniffXML(m.XML)
	if err != nil {
		return err
	}
	rows, err := s.registry.RecordSniffReport(ctx, ip, entries)
	if err != nil {
		return err
	}
	s.logger.Info().Str("ip", ip).Int("rows", len(rows)).Msg("扫频结果已保存")
	return nil
}

// handleUeInfo 归入当前进行中的任务；没有任务时 campaign_id 为空
func (s *Server) handleUeInfo(ctx context.Context, ip string, m protocol.UeInfo) error {
	rec := &models.CrawlRecord{
		IMSI:      m.IMSI,
		IP:        ip,
		Timestamp: s.clock.Now(),
		RSRP:      m.RSRP,
		TAType:    m.TAType,
		ULCqi:     m.ULCqi,
		ULRssi:    m.ULRssi,
		Provider:  protocol.ProviderForIMSI(m.IMSI),
		IMEI:      m.IMEI,
		MSISDN:    m.MSISDN,
	}
	if fix, ok := s.registry.GPS(); ok {
		rec.Lat, rec.Long = fix.Lat, fix.Lon
	}

	var saved *models.CrawlRecord
	err := storage.WithTx(ctx, s.store, func(tx storage.Store) error {
		c, err := tx.GetActiveCampaign(ctx)
		switch {
		case err == nil:
			id := c.ID
			rec.CampaignID = &id
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		if d, err := tx.GetDevice(ctx, ip); err == nil {
			rec.Channel = d.Channel
		}

		saved, err = tx.UpsertCrawl(ctx, rec)
		return err
	})
	if err != nil {
		return err
	}

	if s.bus != nil {
		if err := s.bus.Publish(eventbus.TopicCrawling, models.CrawlEvent{SourceIP: ip, Record: *saved}); err != nil {
			s.logger.Error().Err(err).Msg("Failed to publish crawl event")
		}
	}
	return nil
}
