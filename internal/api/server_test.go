package api

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NowakAdmin/BizantiPOS/internal/devices"
	"github.com/NowakAdmin/BizantiPOS/internal/devices/devicestest"
	"github.com/NowakAdmin/BizantiPOS/internal/station"
)

const receiptJSON = `{
	"sale_number": "S-1",
	"timestamp": "2026-10-15T10:00:00Z",
	"lines": [{"name": "Mleko", "quantity": 1, "unit_price": "3.49"}],
	"total": 3.49,
	"payment_method": "Karta"
}`

var _ = Describe("Server", func() {
	var (
		port             *devicestest.Port
		scaleTransport   *devicestest.ScaleTransport
		printer          *devicestest.Printer
		printerTransport *devicestest.PrinterTransport
		st               *station.Station
		httpServer       *httptest.Server
	)

	decodeBody := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body
	}

	post := func(path, contentType string, body io.Reader) *http.Response {
		resp, err := http.Post(httpServer.URL+path, contentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	get := func(path string) *http.Response {
		resp, err := http.Get(httpServer.URL + path)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		logger := log.New(io.Discard, "", 0)
		port = devicestest.NewPort()
		scaleTransport = &devicestest.ScaleTransport{Port: port}
		printer = &devicestest.Printer{}
		printerTransport = &devicestest.PrinterTransport{Printer: printer}

		st = station.New(
			devices.NewScaleLink(scaleTransport, devices.ScaleOptions{}, logger),
			devices.NewPrinterLink(printerTransport, devices.DefaultReceiptLayout(), logger),
			logger,
		)
		httpServer = httptest.NewServer(NewServer(st, logger).Router())
	})

	AfterEach(func() {
		httpServer.Close()
		st.Close()
	})

	Describe("GET /health", func() {
		It("should return OK", func() {
			resp := get("/health")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("status", "ok"))
		})
	})

	Describe("GET /barcode/{code}", func() {
		It("should decode a weight barcode", func() {
			resp := get("/barcode/2001235001000?kind=weight")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decodeBody(resp)
			Expect(body).To(HaveKeyWithValue("valid", true))
			Expect(body).To(HaveKeyWithValue("product_code", "123"))
			Expect(body).To(HaveKeyWithValue("value", 50.01))
			Expect(body).To(HaveKeyWithValue("value_kind", "weight"))
			Expect(body).To(HaveKeyWithValue("raw_input", "2001235001000"))
		})

		It("should default to a price", func() {
			body := decodeBody(get("/barcode/2000010012500"))
			Expect(body).To(HaveKeyWithValue("value", 1.25))
			Expect(body).To(HaveKeyWithValue("value_kind", "price"))
		})

		It("should return nulls for other barcodes", func() {
			body := decodeBody(get("/barcode/5901234123457"))
			Expect(body).To(HaveKeyWithValue("valid", false))
			Expect(body).To(HaveKeyWithValue("product_code", BeNil()))
			Expect(body).To(HaveKeyWithValue("value", BeNil()))
		})
	})

	Describe("POST /barcode/image", func() {
		It("should decode a barcode snapshot", func() {
			matrix, err := oned.NewEAN13Writer().Encode("2001235001006", gozxing.BarcodeFormat_EAN_13, 400, 120, nil)
			Expect(err).NotTo(HaveOccurred())
			var buf bytes.Buffer
			Expect(png.Encode(&buf, matrix)).To(Succeed())

			resp := post("/barcode/image?kind=weight", "image/png", &buf)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("product_code", "123"))
		})

		It("should reject bodies without a barcode", func() {
			resp := post("/barcode/image", "image/png", strings.NewReader("nope"))
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			resp.Body.Close()
		})
	})

	Describe("scale endpoints", func() {
		It("should connect and report the reading state", func() {
			resp := post("/scale/connect", "application/json", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("state", "reading"))
		})

		It("should stop the scale", func() {
			post("/scale/connect", "application/json", nil).Body.Close()

			resp := post("/scale/stop", "application/json", nil)
			Expect(decodeBody(resp)).To(HaveKeyWithValue("state", "disconnected"))
		})

		When("the scale is missing", func() {
			BeforeEach(func() {
				scaleTransport.Err = devices.ErrTransportUnavailable
			})

			It("should return service unavailable", func() {
				resp := post("/scale/connect", "application/json", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
				resp.Body.Close()
			})
		})

		It("should stream readings over a WebSocket", func() {
			post("/scale/connect", "application/json", nil).Body.Close()

			wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/scale/stream"
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			go func() {
				for i := 0; i < 100; i++ {
					if port.Feed("ST,GS,+  1.250kg\r\n") != nil {
						return
					}
					time.Sleep(20 * time.Millisecond)
				}
			}()

			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var reading devices.ScaleReading
			Expect(conn.ReadJSON(&reading)).To(Succeed())
			Expect(reading.Weight).To(Equal(1.25))
			Expect(reading.Unit).To(Equal(devices.UnitKilogram))
		})
	})

	Describe("POST /printer/receipt", func() {
		It("should print and return a job id", func() {
			resp := post("/printer/receipt", "application/json", strings.NewReader(receiptJSON))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decodeBody(resp)
			_, err := uuid.Parse(body["job_id"].(string))
			Expect(err).NotTo(HaveOccurred())
			Expect(printer.Transfers()).To(HaveLen(1))
			Expect(string(printer.Transfers()[0])).To(ContainSubstring("Nr: S-1\n"))
		})

		It("should reject malformed JSON", func() {
			resp := post("/printer/receipt", "application/json", strings.NewReader("{"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should reject receipts without lines", func() {
			resp := post("/printer/receipt", "application/json", strings.NewReader(`{"sale_number":"S-2","timestamp":"2026-10-15T10:00:00Z","total":0}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
			Expect(printer.Transfers()).To(BeEmpty())
		})

		When("the printer fails", func() {
			BeforeEach(func() {
				printer.Fail = true
			})

			It("should return bad gateway", func() {
				resp := post("/printer/receipt", "application/json", strings.NewReader(receiptJSON))
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				resp.Body.Close()
			})
		})
	})

	Describe("printer status", func() {
		It("should report the connection after connecting", func() {
			Expect(decodeBody(get("/printer"))).To(HaveKeyWithValue("state", "disconnected"))

			resp := post("/printer/connect", "application/json", nil)
			Expect(decodeBody(resp)).To(HaveKeyWithValue("state", "connected"))
		})

		It("should release the printer on close", func() {
			Expect(decodeBody(post("/printer/connect", "application/json", nil))).To(HaveKeyWithValue("state", "connected"))

			resp := post("/printer/close", "application/json", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeBody(resp)).To(HaveKeyWithValue("state", "disconnected"))
		})

		When("permission is denied", func() {
			BeforeEach(func() {
				printerTransport.Err = devices.ErrPermissionDenied
			})

			It("should return forbidden", func() {
				resp := post("/printer/connect", "application/json", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
				resp.Body.Close()
			})
		})
	})
})
