package devices

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// TCPScaleTransport reads scales exposed through an Ethernet-serial bridge.
type TCPScaleTransport struct {
	Host        string
	Port        int
	DialTimeout time.Duration
}

func NewTCPScaleTransport(cfg ScaleConfig) *TCPScaleTransport {
	return &TCPScaleTransport{
		Host:        strings.TrimSpace(cfg.TCPHost),
		Port:        cfg.TCPPort,
		DialTimeout: 5 * time.Second,
	}
}

func (t *TCPScaleTransport) Request(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.Host == "" || t.Port <= 0 {
		return "", fmt.Errorf("%w: brak tcp_host/tcp_port w konfiguracji", ErrTransportUnavailable)
	}
	return net.JoinHostPort(t.Host, fmt.Sprint(t.Port)), nil
}

// Open dials addr. The baud rate is set on the bridge, not here.
func (t *TCPScaleTransport) Open(addr string, _ int) (ScalePort, error) {
	conn, err := net.DialTimeout("tcp", addr, t.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return tcpScalePort{Conn: conn}, nil
}

type tcpScalePort struct {
	net.Conn
}

func (tcpScalePort) ResetInputBuffer() error {
	return nil
}

// TCPPrinterTransport sends ESC/POS to network printers (raw/JetDirect, port 9100).
type TCPPrinterTransport struct {
	Host         string
	Port         int
	WriteTimeout time.Duration
}

func NewTCPPrinterTransport(cfg PrinterConfig) *TCPPrinterTransport {
	port := cfg.Port
	if port <= 0 {
		port = 9100
	}

	timeout := time.Duration(cfg.WriteTimeoutS) * time.Second
	if cfg.WriteTimeoutS <= 0 {
		timeout = 5 * time.Second
	}

	return &TCPPrinterTransport{
		Host:         strings.TrimSpace(cfg.Host),
		Port:         port,
		WriteTimeout: timeout,
	}
}

func (t *TCPPrinterTransport) Request(ctx context.Context) (PrinterDevice, error) {
	if t.Host == "" {
		return nil, fmt.Errorf("%w: brak host dla drukarki", ErrTransportUnavailable)
	}

	dialer := net.Dialer{Timeout: t.WriteTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(t.Host, fmt.Sprint(t.Port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	return &tcpPrinter{conn: conn, timeout: t.WriteTimeout}, nil
}

// tcpPrinter has a single stream, so every endpoint maps to the same socket.
type tcpPrinter struct {
	conn    net.Conn
	timeout time.Duration
}

func (p *tcpPrinter) SelectConfiguration(int) error { return nil }

func (p *tcpPrinter) ClaimInterface(int) error { return nil }

func (p *tcpPrinter) TransferOut(ctx context.Context, _ int, data []byte) error {
	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = p.conn.SetWriteDeadline(deadline)

	if _, err := p.conn.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return nil
}

func (p *tcpPrinter) Close() error {
	return p.conn.Close()
}
