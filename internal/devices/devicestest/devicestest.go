// Package devicestest provides in-memory scale and printer transports for
// tests of packages built on top of devices.
package devicestest

import (
	"context"
	"io"
	"sync"

	"github.com/NowakAdmin/BizantiPOS/internal/devices"
)

// Port is a scale port backed by a pipe. Feed blocks until the link has
// read the bytes.
type Port struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func NewPort() *Port {
	r, w := io.Pipe()
	return &Port{r: r, w: w}
}

func (p *Port) Feed(s string) error {
	_, err := p.w.Write([]byte(s))
	return err
}

func (p *Port) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *Port) Write(b []byte) (int, error) { return len(b), nil }

func (p *Port) Close() error {
	_ = p.w.Close()
	return p.r.Close()
}

func (p *Port) ResetInputBuffer() error { return nil }

type ScaleTransport struct {
	Port *Port
	Err  error
}

func (t *ScaleTransport) Request(context.Context) (string, error) {
	if t.Err != nil {
		return "", t.Err
	}
	return "fake", nil
}

func (t *ScaleTransport) Open(string, int) (devices.ScalePort, error) {
	return t.Port, nil
}

// Printer records every transfer.
type Printer struct {
	mu        sync.Mutex
	transfers [][]byte
	Fail      bool
}

func (p *Printer) SelectConfiguration(int) error { return nil }

func (p *Printer) ClaimInterface(int) error { return nil }

func (p *Printer) TransferOut(_ context.Context, _ int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.transfers = append(p.transfers, append([]byte(nil), data...))
	if p.Fail {
		return devices.ErrIOFailure
	}
	return nil
}

func (p *Printer) Close() error { return nil }

// Transfers returns a copy of everything sent so far.
func (p *Printer) Transfers() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.transfers...)
}

type PrinterTransport struct {
	Printer *Printer
	Err     error

	mu       sync.Mutex
	requests int
}

func (t *PrinterTransport) Request(context.Context) (devices.PrinterDevice, error) {
	t.mu.Lock()
	t.requests++
	t.mu.Unlock()

	if t.Err != nil {
		return nil, t.Err
	}
	return t.Printer, nil
}

// Requests counts calls to Request.
func (t *PrinterTransport) Requests() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests
}
