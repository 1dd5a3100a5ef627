package devices

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/gousb"
)

// USBPrinterTransport opens USB printer-class devices through libusb.
type USBPrinterTransport struct {
	vendorID  gousb.ID
	productID gousb.ID

	mu  sync.Mutex
	usb *gousb.Context
}

// NewUSBPrinterTransport parses the optional hex VID/PID filter from cfg.
func NewUSBPrinterTransport(cfg PrinterConfig) (*USBPrinterTransport, error) {
	vid, err := parseUSBID(cfg.VendorID)
	if err != nil {
		return nil, fmt.Errorf("vendor_id: %w", err)
	}
	pid, err := parseUSBID(cfg.ProductID)
	if err != nil {
		return nil, fmt.Errorf("product_id: %w", err)
	}

	return &USBPrinterTransport{vendorID: vid, productID: pid}, nil
}

func parseUSBID(raw string) (gousb.ID, error) {
	raw = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(v), nil
}

func (t *USBPrinterTransport) Request(ctx context.Context) (PrinterDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usb, err := t.context()
	if err != nil {
		return nil, err
	}

	devs, err := usb.OpenDevices(t.matches)
	if len(devs) == 0 {
		if err != nil {
			return nil, classifyUSBError(err)
		}
		return nil, fmt.Errorf("%w: nie znaleziono drukarki USB", ErrTransportUnavailable)
	}

	for _, extra := range devs[1:] {
		_ = extra.Close()
	}

	dev := devs[0]
	_ = dev.SetAutoDetach(true)

	return &usbPrinter{dev: dev}, nil
}

// context creates the libusb context on first use. gousb panics when libusb
// cannot be initialised, which is reported as an unavailable transport.
func (t *USBPrinterTransport) context() (usb *gousb.Context, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.usb != nil {
		return t.usb, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: libusb: %v", ErrTransportUnavailable, r)
		}
	}()

	t.usb = gousb.NewContext()
	return t.usb, nil
}

func (t *USBPrinterTransport) matches(desc *gousb.DeviceDesc) bool {
	if t.vendorID != 0 && desc.Vendor != t.vendorID {
		return false
	}
	if t.productID != 0 && desc.Product != t.productID {
		return false
	}
	if desc.Class == gousb.ClassPrinter {
		return true
	}

	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == gousb.ClassPrinter {
					return true
				}
			}
		}
	}

	return false
}

func (t *USBPrinterTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.usb == nil {
		return nil
	}
	err := t.usb.Close()
	t.usb = nil
	return err
}

func classifyUSBError(err error) error {
	switch {
	case errors.Is(err, gousb.ErrorAccess):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.ErrorNotFound), errors.Is(err, gousb.ErrorNotSupported):
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
}

type usbPrinter struct {
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
}

func (p *usbPrinter) SelectConfiguration(n int) error {
	cfg, err := p.dev.Config(n)
	if err != nil {
		return classifyUSBError(err)
	}
	p.cfg = cfg
	return nil
}

func (p *usbPrinter) ClaimInterface(n int) error {
	if p.cfg == nil {
		return fmt.Errorf("%w: nie wybrano konfiguracji", ErrNotConnected)
	}
	intf, err := p.cfg.Interface(n, 0)
	if err != nil {
		return classifyUSBError(err)
	}
	p.intf = intf
	return nil
}

func (p *usbPrinter) TransferOut(ctx context.Context, endpoint int, data []byte) error {
	if p.intf == nil {
		return ErrNotConnected
	}

	out, err := p.intf.OutEndpoint(endpoint)
	if err != nil {
		return fmt.Errorf("%w: endpoint %d: %v", ErrIOFailure, endpoint, err)
	}

	if _, err = out.WriteContext(ctx, data); err != nil {
		return fmt.Errorf("%w: endpoint %d: %v", ErrIOFailure, endpoint, err)
	}
	return nil
}

func (p *usbPrinter) Close() error {
	if p.intf != nil {
		p.intf.Close()
		p.intf = nil
	}
	if p.cfg != nil {
		_ = p.cfg.Close()
		p.cfg = nil
	}
	return p.dev.Close()
}
