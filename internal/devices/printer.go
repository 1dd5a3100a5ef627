package devices

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
)

const (
	printerConfiguration = 1
	printerInterface     = 0
	primaryEndpoint      = 1
	fallbackEndpoint     = 2
)

// NewPrinterTransport picks the transport named in cfg.
func NewPrinterTransport(cfg PrinterConfig) (PrinterTransport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "usb":
		t, err := NewUSBPrinterTransport(cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "raw_tcp", "tcp", "network", "jetdirect":
		return NewTCPPrinterTransport(cfg), nil
	default:
		return nil, fmt.Errorf("nieobsługiwany transport drukarki: %s", cfg.Transport)
	}
}

// PrinterLink owns one receipt printer. Calls are serialized internally but
// receipts are not queued: callers decide the order.
type PrinterLink struct {
	transport PrinterTransport
	layout    ReceiptLayout
	logger    *log.Logger

	mu     sync.Mutex
	device PrinterDevice
}

func NewPrinterLink(transport PrinterTransport, layout ReceiptLayout, logger *log.Logger) *PrinterLink {
	return &PrinterLink{
		transport: transport,
		layout:    layout,
		logger:    logger,
	}
}

func (p *PrinterLink) State() PrinterState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		return PrinterConnected
	}
	return PrinterDisconnected
}

// Connect opens the printer, selects configuration 1 and claims interface 0.
// Either all steps succeed or the device is released again.
func (p *PrinterLink) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connectLocked(ctx)
}

func (p *PrinterLink) connectLocked(ctx context.Context) error {
	if p.device != nil {
		return nil
	}

	device, err := p.transport.Request(ctx)
	if err != nil {
		p.logger.Printf("Nie udało się połączyć z drukarką: %v", err)
		return err
	}

	if err = device.SelectConfiguration(printerConfiguration); err == nil {
		err = device.ClaimInterface(printerInterface)
	}
	if err != nil {
		_ = device.Close()
		p.logger.Printf("Nie udało się przejąć interfejsu drukarki: %v", err)
		return err
	}

	p.device = device
	p.logger.Printf("Połączono z drukarką")
	return nil
}

// PrintReceipt renders r and sends it, connecting first if needed.
func (p *PrinterLink) PrintReceipt(ctx context.Context, r ReceiptSpec) error {
	if err := r.Validate(); err != nil {
		p.logger.Printf("Odrzucono paragon %s: %v", r.SaleNumber, err)
		return err
	}

	return p.Print(ctx, RenderReceipt(r, p.layout))
}

// Print sends a prepared ESC/POS stream on endpoint 1 and, if that fails,
// once more on endpoint 2. When both fail the device is released, so the
// next print requests it again.
func (p *PrinterLink) Print(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(ctx); err != nil {
		return err
	}

	err := p.device.TransferOut(ctx, primaryEndpoint, data)
	if err == nil {
		return nil
	}
	p.logger.Printf("Wysyłka na endpoint %d nieudana, próbuję %d: %v", primaryEndpoint, fallbackEndpoint, err)

	if err = p.device.TransferOut(ctx, fallbackEndpoint, data); err != nil {
		p.logger.Printf("Wydruk nieudany, zwalniam drukarkę: %v", err)
		p.closeLocked()
		return fmt.Errorf("%w: wydruk nieudany: %v", ErrIOFailure, err)
	}

	return nil
}

// Close releases the printer. Safe to call when not connected.
func (p *PrinterLink) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeLocked()
}

func (p *PrinterLink) closeLocked() {
	if p.device == nil {
		return
	}

	if err := p.device.Close(); err != nil {
		p.logger.Printf("Błąd zamykania drukarki: %v", err)
	}
	p.device = nil
}

// RenderTemplate replaces {{key}} and {key} placeholders in label templates.
func RenderTemplate(template string, values map[string]string) string {
	rendered := template
	for key, value := range values {
		rendered = strings.ReplaceAll(rendered, "{{"+key+"}}", value)
		rendered = strings.ReplaceAll(rendered, "{"+key+"}", value)
	}

	return rendered
}
