// Package api serves the local HTTP interface used by the POS page running
// in a browser on the same machine.
package api

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/NowakAdmin/BizantiPOS/internal/barcode"
	"github.com/NowakAdmin/BizantiPOS/internal/devices"
	"github.com/NowakAdmin/BizantiPOS/internal/station"
)

// Peripherals is the part of station.Station the API needs.
type Peripherals interface {
	ConnectScale(ctx context.Context) error
	StopScale()
	ConnectPrinter(ctx context.Context) error
	ClosePrinter()
	PrintReceipt(ctx context.Context, r devices.ReceiptSpec) error
	DecodeBarcode(code string, kind barcode.ValueKind) barcode.DecodedBarcode
	DecodeBarcodeImage(r io.Reader, kind barcode.ValueKind) (barcode.DecodedBarcode, error)
	Subscribe() (<-chan devices.ScaleReading, func())
	Status() station.Status
}

const maxImageBytes = 8 << 20

type Server struct {
	peripherals Peripherals
	logger      *log.Logger
	upgrader    websocket.Upgrader
}

func NewServer(peripherals Peripherals, logger *log.Logger) *Server {
	return &Server{
		peripherals: peripherals,
		logger:      logger,
		upgrader: websocket.Upgrader{
			// The API only listens on loopback; the POS page may be served
			// from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/barcode/image", s.handleDecodeImage).Methods(http.MethodPost)
	r.HandleFunc("/barcode/{code}", s.handleDecodeBarcode).Methods(http.MethodGet)

	r.HandleFunc("/scale", s.handleScaleStatus).Methods(http.MethodGet)
	r.HandleFunc("/scale/connect", s.handleScaleConnect).Methods(http.MethodPost)
	r.HandleFunc("/scale/stop", s.handleScaleStop).Methods(http.MethodPost)
	r.HandleFunc("/scale/stream", s.handleScaleStream).Methods(http.MethodGet)

	r.HandleFunc("/printer", s.handlePrinterStatus).Methods(http.MethodGet)
	r.HandleFunc("/printer/connect", s.handlePrinterConnect).Methods(http.MethodPost)
	r.HandleFunc("/printer/close", s.handlePrinterClose).Methods(http.MethodPost)
	r.HandleFunc("/printer/receipt", s.handlePrintReceipt).Methods(http.MethodPost)

	return r
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.logger.Printf("Lokalne API nasłuchuje na %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
