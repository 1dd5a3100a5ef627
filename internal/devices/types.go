package devices

import (
	"errors"
	"time"
)

var (
	// ErrTransportUnavailable means the serial/USB stack or the device itself is absent.
	ErrTransportUnavailable = errors.New("transport niedostępny")
	// ErrPermissionDenied means the device grant was refused.
	ErrPermissionDenied = errors.New("brak uprawnień do urządzenia")
	// ErrIOFailure wraps read and write errors on an open transport.
	ErrIOFailure = errors.New("błąd wejścia/wyjścia")

	ErrNotConnected      = errors.New("urządzenie nie jest połączone")
	ErrAlreadyReading    = errors.New("odczyt wagi już trwa")
	ErrConnectInProgress = errors.New("łączenie w toku")
	ErrInvalidReceipt    = errors.New("niepoprawny paragon")
)

// Unit is the unit of a scale reading.
type Unit string

const UnitKilogram Unit = "kg"

// ScaleReading is one decoded frame of scale output.
type ScaleReading struct {
	Weight float64   `json:"weight"`
	Unit   Unit      `json:"unit"`
	Stable bool      `json:"stable"`
	At     time.Time `json:"at"`
}

// ScaleState is the lifecycle of a ScaleLink. Transitions are
// Disconnected -> Connecting -> Connected -> Streaming -> Disconnected.
type ScaleState int

const (
	ScaleDisconnected ScaleState = iota
	ScaleConnecting
	ScaleConnected
	ScaleStreaming
)

func (s ScaleState) String() string {
	switch s {
	case ScaleConnecting:
		return "connecting"
	case ScaleConnected:
		return "connected"
	case ScaleStreaming:
		return "reading"
	default:
		return "disconnected"
	}
}

func (s ScaleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PrinterState is the lifecycle of a PrinterLink.
type PrinterState int

const (
	PrinterDisconnected PrinterState = iota
	PrinterConnected
)

func (s PrinterState) String() string {
	if s == PrinterConnected {
		return "connected"
	}
	return "disconnected"
}

func (s PrinterState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ScaleConfig struct {
	Transport      string `json:"transport"`
	SerialPort     string `json:"serial_port,omitempty"`
	VendorID       string `json:"vendor_id,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	BaudRate       int    `json:"baud_rate,omitempty"`
	TCPHost        string `json:"tcp_host,omitempty"`
	TCPPort        int    `json:"tcp_port,omitempty"`
	RequestCommand string `json:"request_command,omitempty"`
	RetryDelayMs   int    `json:"retry_delay_ms,omitempty"`
}

type PrinterConfig struct {
	Transport     string `json:"transport"`
	VendorID      string `json:"vendor_id,omitempty"`
	ProductID     string `json:"product_id,omitempty"`
	Host          string `json:"host,omitempty"`
	Port          int    `json:"port,omitempty"`
	WriteTimeoutS int    `json:"write_timeout_s,omitempty"`
}
