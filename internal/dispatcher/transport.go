package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrInvalidAddress 设备地址不是合法 IP
var ErrInvalidAddress = errors.New("invalid device address")

// Transport 把报文交给网络，不等待应答
type Transport interface {
	Send(ctx context.Context, ip string, payload []byte) error
}

// UDPTransport 通过共享的 UDP socket 发往 ip:devicePort。
// 与接收端共用 socket，设备应答回到本地监听端口。
type UDPTransport struct {
	conn       net.PacketConn
	devicePort int
}

// NewUDPTransport creates a transport writing on conn
func NewUDPTransport(conn net.PacketConn, devicePort int) *UDPTransport {
	return &UDPTransport{conn: conn, devicePort: devicePort}
}

// Send writes one datagram
func (t *UDPTransport) Send(ctx context.Context, ip string, payload []byte) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(t.devicePort)))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", ip, err)
	}
	if _, err := t.conn.WriteTo(payload, addr); err != nil {
		return fmt.Errorf("write to %s: %w", addr, err)
	}
	return nil
}
