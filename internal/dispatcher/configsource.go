package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bbu-fleet/bbu-server/internal/protocol"
)

// ErrConfigNotFound 该设备没有对应的配置文件
var ErrConfigNotFound = errors.New("config file not found")

// ConfigSource 按设备读取下发用的 XML 配置，并保存设备上报的配置响应
type ConfigSource interface {
	Load(kind protocol.ConfigKind, profile, ip string) (string, error)
	SaveResponse(kind protocol.ConfigKind, ip, xml string) error
}

// FileConfigSource 目录布局:
//
//	<dir>/mode/<kind>/<profile>/<kind>_<ip>.xml   下发模板
//	<dir>/received/<kind>/<kind>_<ip>.xml         设备最近一次上报
type FileConfigSource struct {
	dir string
}

// NewFileConfigSource creates a source rooted at dir
func NewFileConfigSource(dir string) *FileConfigSource {
	return &FileConfigSource{dir: dir}
}

// Path 下发模板路径
func (s *FileConfigSource) Path(kind protocol.ConfigKind, profile, ip string) string {
	return filepath.Join(s.dir, "mode", string(kind), profile, fmt.Sprintf("%s_%s.xml", kind, ip))
}

// Load 读取模板，去掉首尾空白
func (s *FileConfigSource) Load(kind protocol.ConfigKind, profile, ip string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown config kind %q", kind)
	}
	if strings.ContainsAny(profile, `/\`) || strings.Contains(profile, "..") {
		return "", fmt.Errorf("invalid profile %q", profile)
	}

	data, err := os.ReadFile(s.Path(kind, profile, ip))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s/%s/%s", ErrConfigNotFound, kind, profile, ip)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveResponse 覆盖保存设备上报的配置
func (s *FileConfigSource) SaveResponse(kind protocol.ConfigKind, ip, xml string) error {
	dir := filepath.Join(s.dir, "received", string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("%s_%s.xml", kind, ip)), []byte(xml), 0o644)
}

// SendConfig 读取每个设备的模板并下发 Set 指令，读取失败记为该地址失败
func (d *Dispatcher) SendConfig(ctx context.Context, src ConfigSource, kind protocol.ConfigKind, profile string, ips []string) []Result {
	results := make([]Result, 0, len(ips))
	for _, ip := range ips {
		cmd := protocol.SetConfig(kind, "")
		r := Result{IP: ip, Command: cmd.Name, Status: StatusSuccess}

		body, err := src.Load(kind, profile, ip)
		if err == nil {
			err = d.Send(ctx, ip, protocol.SetConfig(kind, body))
		}
		if err != nil {
			d.logger.Error().Err(err).Str("ip", ip).Str("kind", string(kind)).Str("profile", profile).Msg("配置下发失败")
			r.Status = StatusError
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}
