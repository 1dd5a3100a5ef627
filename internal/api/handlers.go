package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/NowakAdmin/BizantiPOS/internal/barcode"
	"github.com/NowakAdmin/BizantiPOS/internal/devices"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// deviceErrorStatus maps the device error taxonomy onto HTTP.
func deviceErrorStatus(err error) int {
	switch {
	case errors.Is(err, devices.ErrInvalidReceipt):
		return http.StatusBadRequest
	case errors.Is(err, devices.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, devices.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, devices.ErrConnectInProgress):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDecodeBarcode(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	kind := barcode.ParseKind(r.URL.Query().Get("kind"))

	writeJSON(w, http.StatusOK, s.peripherals.DecodeBarcode(code, kind))
}

func (s *Server) handleDecodeImage(w http.ResponseWriter, r *http.Request) {
	kind := barcode.ParseKind(r.URL.Query().Get("kind"))

	result, err := s.peripherals.DecodeBarcodeImage(io.LimitReader(r.Body, maxImageBytes), kind)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleScaleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.peripherals.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   status.Scale,
		"reading": status.Reading,
	})
}

func (s *Server) handleScaleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.peripherals.ConnectScale(r.Context()); err != nil {
		writeError(w, deviceErrorStatus(err), err)
		return
	}
	s.handleScaleStatus(w, r)
}

func (s *Server) handleScaleStop(w http.ResponseWriter, r *http.Request) {
	s.peripherals.StopScale()
	s.handleScaleStatus(w, r)
}

// handleScaleStream pushes every reading as one JSON message until the
// client goes away or the scale subscription ends.
func (s *Server) handleScaleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("Błąd WebSocket wagi: %v", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	readings, cancel := s.peripherals.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case reading, ok := <-readings:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err = conn.WriteJSON(reading); err != nil {
				return
			}
		}
	}
}

func (s *Server) handlePrinterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"state": s.peripherals.Status().Printer})
}

func (s *Server) handlePrinterConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.peripherals.ConnectPrinter(r.Context()); err != nil {
		writeError(w, deviceErrorStatus(err), err)
		return
	}
	s.handlePrinterStatus(w, r)
}

func (s *Server) handlePrinterClose(w http.ResponseWriter, r *http.Request) {
	s.peripherals.ClosePrinter()
	s.handlePrinterStatus(w, r)
}

func (s *Server) handlePrintReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt devices.ReceiptSpec
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := receipt.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	jobID := uuid.New().String()
	if err := s.peripherals.PrintReceipt(r.Context(), receipt); err != nil {
		s.logger.Printf("Zlecenie %s nieudane: %v", jobID, err)
		writeError(w, deviceErrorStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}
