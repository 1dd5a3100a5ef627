package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const DefaultBaudRate = 9600

// SerialTransport opens RS-232/USB-CDC scale ports.
type SerialTransport struct {
	// Port, when set, is the only port granted.
	Port string
	// VendorID and ProductID (hex, e.g. "067b") filter enumerated USB ports.
	VendorID  string
	ProductID string
}

func NewSerialTransport(cfg ScaleConfig) *SerialTransport {
	return &SerialTransport{
		Port:      strings.TrimSpace(cfg.SerialPort),
		VendorID:  strings.TrimSpace(cfg.VendorID),
		ProductID: strings.TrimSpace(cfg.ProductID),
	}
}

func (t *SerialTransport) Request(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		if t.Port != "" {
			return t.Port, nil
		}
		return "", fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	for _, p := range ports {
		if t.Port != "" {
			if strings.EqualFold(p.Name, t.Port) {
				return p.Name, nil
			}
			continue
		}

		if t.matches(p) {
			return p.Name, nil
		}
	}

	if t.Port != "" {
		return "", fmt.Errorf("%w: brak portu %s", ErrTransportUnavailable, t.Port)
	}
	return "", fmt.Errorf("%w: nie znaleziono portu szeregowego wagi", ErrTransportUnavailable)
}

func (t *SerialTransport) matches(p *enumerator.PortDetails) bool {
	if t.VendorID == "" && t.ProductID == "" {
		return true
	}
	if !p.IsUSB {
		return false
	}
	if t.VendorID != "" && !strings.EqualFold(p.VID, t.VendorID) {
		return false
	}
	if t.ProductID != "" && !strings.EqualFold(p.PID, t.ProductID) {
		return false
	}
	return true
}

func (t *SerialTransport) Open(name string, baudRate int) (ScalePort, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, classifySerialError(err)
	}

	return port, nil
}

func classifySerialError(err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	switch portErr.Code() {
	case serial.PortNotFound, serial.InvalidSerialPort:
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	case serial.PermissionDenied:
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
}
