package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
	UDP      UDPConfig      `yaml:"udp"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Campaign CampaignConfig `yaml:"campaign"`
	XML      XMLConfig      `yaml:"xml"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr host:port
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres | memory
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console | json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// UDPConfig 设备侧 UDP 配置
type UDPConfig struct {
	Bind       string `yaml:"bind"`
	DevicePort int    `yaml:"device_port"`
	ReadBuffer int    `yaml:"read_buffer"`
}

// DispatchConfig 指令补发与启动指令组步进
type DispatchConfig struct {
	Repeats        int           `yaml:"repeats"`
	RepeatInterval time.Duration `yaml:"repeat_interval"`
	StepInterval   time.Duration `yaml:"step_interval"`
}

// WatchdogConfig 在线看门狗
type WatchdogConfig struct {
	Interval        time.Duration `yaml:"interval"`
	Timeout         time.Duration `yaml:"timeout"`
	ReannounceEvery int           `yaml:"reannounce_every"`
}

// CampaignConfig 任务分阶段计时
type CampaignConfig struct {
	Phase1        time.Duration `yaml:"phase1"`
	Phase2        time.Duration `yaml:"phase2"`
	Phase3        time.Duration `yaml:"phase3"`
	CycleClosed   time.Duration `yaml:"cycle_closed"`
	CycleOpen     time.Duration `yaml:"cycle_open"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	CycleRecovery string        `yaml:"cycle_recovery"` // restart | aligned
	UlPcPara      string        `yaml:"ul_pc_para"`
}

// XMLConfig 下发用配置模板目录
type XMLConfig struct {
	Dir string `yaml:"dir"`
}

// Default 全部使用默认值的配置
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// Load loads configuration from file; an empty filename yields defaults plus environment
func Load(filename string) (*Config, error) {
	var cfg Config

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
		if c.Database.Driver == "" {
			c.Database.Driver = "postgres"
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
		c.NATS.Enabled = true
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if bind := os.Getenv("BBU_UDP_BIND"); bind != "" {
		c.UDP.Bind = bind
	}

	if port := os.Getenv("BBU_DEVICE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.UDP.DevicePort = p
		} else {
			log.Warn().Str("value", port).Msg("BBU_DEVICE_PORT 不是有效端口，忽略")
		}
	}

	if addr := os.Getenv("API_ADDR"); addr != "" {
		host, port, err := splitHostPort(addr)
		if err != nil {
			log.Warn().Err(err).Str("value", addr).Msg("API_ADDR 无效，忽略")
		} else {
			c.API.Host, c.API.Port = host, port
		}
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	return host, p, nil
}

// setDefaults 只填充零值字段
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "bbu-server"
	}
	if c.Server.Version == "" {
		c.Server.Version = "1.0.0"
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "bbu"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}

	if c.UDP.Bind == "" {
		c.UDP.Bind = "0.0.0.0:9001"
	}
	if c.UDP.DevicePort == 0 {
		c.UDP.DevicePort = 7001
	}
	if c.UDP.ReadBuffer == 0 {
		c.UDP.ReadBuffer = 65507
	}

	// repeat_interval 也为零时视为整段未配置，否则 repeats: 0 表示不补发
	if c.Dispatch.Repeats == 0 && c.Dispatch.RepeatInterval == 0 {
		c.Dispatch.Repeats = 2
	}
	if c.Dispatch.RepeatInterval == 0 {
		c.Dispatch.RepeatInterval = 500 * time.Millisecond
	}
	if c.Dispatch.StepInterval == 0 {
		c.Dispatch.StepInterval = 500 * time.Millisecond
	}

	if c.Watchdog.Interval == 0 {
		c.Watchdog.Interval = time.Second
	}
	if c.Watchdog.Timeout == 0 {
		c.Watchdog.Timeout = 30 * time.Second
	}
	if c.Watchdog.ReannounceEvery == 0 {
		c.Watchdog.ReannounceEvery = 10
	}

	if c.Campaign.Phase1 == 0 {
		c.Campaign.Phase1 = 120 * time.Second
	}
	if c.Campaign.Phase2 == 0 {
		c.Campaign.Phase2 = 300 * time.Second
	}
	if c.Campaign.Phase3 == 0 {
		c.Campaign.Phase3 = 30 * time.Second
	}
	if c.Campaign.CycleClosed == 0 {
		c.Campaign.CycleClosed = 300 * time.Second
	}
	if c.Campaign.CycleOpen == 0 {
		c.Campaign.CycleOpen = 30 * time.Second
	}
	if c.Campaign.PollInterval == 0 {
		c.Campaign.PollInterval = time.Second
	}
	if c.Campaign.CycleRecovery == "" {
		c.Campaign.CycleRecovery = "restart"
	}
	if c.Campaign.UlPcPara == "" {
		c.Campaign.UlPcPara = "40 30 1"
	}

	if c.XML.Dir == "" {
		c.XML.Dir = "xml"
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	switch c.Campaign.CycleRecovery {
	case "restart", "aligned":
	default:
		return fmt.Errorf("invalid campaign.cycle_recovery: %s", c.Campaign.CycleRecovery)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if c.UDP.DevicePort <= 0 || c.UDP.DevicePort > 65535 {
		return fmt.Errorf("invalid udp.device_port: %d", c.UDP.DevicePort)
	}
	if c.Dispatch.Repeats < 0 {
		return fmt.Errorf("invalid dispatch.repeats: %d", c.Dispatch.Repeats)
	}
	return nil
}

// PrintConfigSummary 打印配置摘要
func (c *Config) PrintConfigSummary() {
	log.Info().
		Str("server", c.Server.Name).
		Str("version", c.Server.Version).
		Str("api", c.API.Addr()).
		Str("database", c.Database.Driver).
		Bool("nats", c.NATS.Enabled).
		Str("udp_bind", c.UDP.Bind).
		Int("device_port", c.UDP.DevicePort).
		Msg("=== BBU Server Configuration ===")

	log.Info().
		Int("repeats", c.Dispatch.Repeats).
		Dur("repeat_interval", c.Dispatch.RepeatInterval).
		Dur("step_interval", c.Dispatch.StepInterval).
		Dur("watchdog_timeout", c.Watchdog.Timeout).
		Msg("Dispatch")

	log.Info().
		Dur("phase1", c.Campaign.Phase1).
		Dur("phase2", c.Campaign.Phase2).
		Dur("phase3", c.Campaign.Phase3).
		Dur("cycle_closed", c.Campaign.CycleClosed).
		Dur("cycle_open", c.Campaign.CycleOpen).
		Str("cycle_recovery", c.Campaign.CycleRecovery).
		Msg("Campaign")
}
