package devices

import (
	"context"
	"io"
)

// ScalePort is an open byte stream from a scale.
type ScalePort interface {
	io.ReadWriteCloser

	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error
}

// ScaleTransport grants and opens scale ports. Request is the equivalent of
// a device picker: it resolves which port the link may use.
type ScaleTransport interface {
	Request(ctx context.Context) (string, error)
	Open(name string, baudRate int) (ScalePort, error)
}

// PrinterDevice is an opened (not yet claimed) printer.
type PrinterDevice interface {
	SelectConfiguration(n int) error
	ClaimInterface(n int) error
	TransferOut(ctx context.Context, endpoint int, data []byte) error
	Close() error
}

// PrinterTransport grants and opens printer devices.
type PrinterTransport interface {
	Request(ctx context.Context) (PrinterDevice, error)
}
