// Package station owns the peripherals of one checkout: a scale link and a
// printer link. It is built once by main and handed to the API, the agent
// and the tray.
package station

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/NowakAdmin/BizantiPOS/internal/barcode"
	"github.com/NowakAdmin/BizantiPOS/internal/devices"
)

const subscriberBuffer = 16

type Status struct {
	Scale   devices.ScaleState    `json:"scale"`
	Printer devices.PrinterState  `json:"printer"`
	Reading *devices.ScaleReading `json:"reading,omitempty"`
}

type Station struct {
	scale   *devices.ScaleLink
	printer *devices.PrinterLink
	logger  *log.Logger

	printMu sync.Mutex

	mu          sync.Mutex
	latest      *devices.ScaleReading
	subscribers map[int]chan devices.ScaleReading
	nextID      int
}

func New(scale *devices.ScaleLink, printer *devices.PrinterLink, logger *log.Logger) *Station {
	return &Station{
		scale:       scale,
		printer:     printer,
		logger:      logger,
		subscribers: map[int]chan devices.ScaleReading{},
	}
}

// ConnectScale connects the scale if needed and makes sure it is reading.
func (s *Station) ConnectScale(ctx context.Context) error {
	if err := s.scale.Connect(ctx); err != nil {
		return err
	}

	// Readings outlive the request that started them; Stop ends them.
	err := s.scale.StartReading(context.WithoutCancel(ctx), s.publish)
	if errors.Is(err, devices.ErrAlreadyReading) {
		return nil
	}
	return err
}

func (s *Station) StopScale() {
	s.scale.Stop()

	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()
}

func (s *Station) ConnectPrinter(ctx context.Context) error {
	return s.printer.Connect(ctx)
}

// ClosePrinter releases the printer, e.g. before it is replugged. The next
// print connects again.
func (s *Station) ClosePrinter() {
	s.printMu.Lock()
	defer s.printMu.Unlock()

	s.printer.Close()
}

// PrintReceipt prints one receipt at a time; concurrent callers wait.
func (s *Station) PrintReceipt(ctx context.Context, r devices.ReceiptSpec) error {
	s.printMu.Lock()
	defer s.printMu.Unlock()

	if err := s.printer.PrintReceipt(ctx, r); err != nil {
		return err
	}

	s.logger.Printf("Wydrukowano paragon %s", r.SaleNumber)
	return nil
}

// PrintRaw sends a prepared stream, e.g. a rendered label template.
func (s *Station) PrintRaw(ctx context.Context, data []byte) error {
	s.printMu.Lock()
	defer s.printMu.Unlock()

	return s.printer.Print(ctx, data)
}

func (s *Station) DecodeBarcode(code string, kind barcode.ValueKind) barcode.DecodedBarcode {
	return barcode.Decode(code, kind)
}

func (s *Station) DecodeBarcodeImage(r io.Reader, kind barcode.ValueKind) (barcode.DecodedBarcode, error) {
	return barcode.DecodeImage(r, kind)
}

func (s *Station) LatestReading() (devices.ScaleReading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest == nil {
		return devices.ScaleReading{}, false
	}
	return *s.latest, true
}

func (s *Station) Status() Status {
	status := Status{
		Scale:   s.scale.State(),
		Printer: s.printer.State(),
	}
	if reading, ok := s.LatestReading(); ok {
		status.Reading = &reading
	}
	return status
}

// Subscribe returns a channel of readings and a func to drop it. Readings
// are skipped for a subscriber whose buffer is full.
func (s *Station) Subscribe() (<-chan devices.ScaleReading, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan devices.ScaleReading, subscriberBuffer)
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(ch)
			}
		})
	}
}

func (s *Station) publish(reading devices.ScaleReading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = &reading
	for _, ch := range s.subscribers {
		select {
		case ch <- reading:
		default:
		}
	}
}

// Close stops the scale and releases the printer.
func (s *Station) Close() {
	s.StopScale()
	s.printer.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}
