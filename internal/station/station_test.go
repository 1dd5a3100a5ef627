package station

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/NowakAdmin/BizantiPOS/internal/barcode"
	"github.com/NowakAdmin/BizantiPOS/internal/devices"
	"github.com/NowakAdmin/BizantiPOS/internal/devices/devicestest"
)

func receipt(number string) devices.ReceiptSpec {
	return devices.ReceiptSpec{
		SaleNumber:    number,
		Timestamp:     time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
		Lines:         []devices.ReceiptLine{{Name: "Mleko", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("3.49")}},
		Total:         decimal.RequireFromString("3.49"),
		PaymentMethod: "Gotowka",
	}
}

var _ = Describe("Station", func() {
	var (
		port             *devicestest.Port
		scaleTransport   *devicestest.ScaleTransport
		printer          *devicestest.Printer
		printerTransport *devicestest.PrinterTransport
		st               *Station
		ctx              context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger := log.New(io.Discard, "", 0)

		port = devicestest.NewPort()
		scaleTransport = &devicestest.ScaleTransport{Port: port}
		printer = &devicestest.Printer{}
		printerTransport = &devicestest.PrinterTransport{Printer: printer}

		st = New(
			devices.NewScaleLink(scaleTransport, devices.ScaleOptions{}, logger),
			devices.NewPrinterLink(printerTransport, devices.DefaultReceiptLayout(), logger),
			logger,
		)
	})

	AfterEach(func() {
		st.Close()
	})

	Describe("ConnectScale", func() {
		It("should connect and start reading", func() {
			Expect(st.ConnectScale(ctx)).To(Succeed())
			Expect(st.Status().Scale).To(Equal(devices.ScaleStreaming))
		})

		It("should be a no-op when already reading", func() {
			Expect(st.ConnectScale(ctx)).To(Succeed())
			Expect(st.ConnectScale(ctx)).To(Succeed())
		})

		It("should keep reading after the request context is cancelled", func() {
			reqCtx, cancel := context.WithCancel(ctx)
			Expect(st.ConnectScale(reqCtx)).To(Succeed())
			cancel()

			go func() { _ = port.Feed("1.500\n") }()
			Eventually(func() bool { _, ok := st.LatestReading(); return ok }).Should(BeTrue())
		})

		When("the scale is unavailable", func() {
			BeforeEach(func() {
				scaleTransport.Err = devices.ErrTransportUnavailable
			})

			It("should return the error", func() {
				Expect(errors.Is(st.ConnectScale(ctx), devices.ErrTransportUnavailable)).To(BeTrue())
				Expect(st.Status().Scale).To(Equal(devices.ScaleDisconnected))
			})
		})
	})

	Describe("readings", func() {
		BeforeEach(func() {
			Expect(st.ConnectScale(ctx)).To(Succeed())
		})

		It("should fan out to every subscriber", func() {
			first, cancelFirst := st.Subscribe()
			defer cancelFirst()
			second, cancelSecond := st.Subscribe()
			defer cancelSecond()

			go func() { _ = port.Feed("ST,GS,+  1.250kg\r\n") }()

			Eventually(first).Should(Receive(HaveField("Weight", 1.25)))
			Eventually(second).Should(Receive(HaveField("Weight", 1.25)))
		})

		It("should remember the latest reading", func() {
			go func() { _ = port.Feed("0.500\n0.750\n") }()

			Eventually(func() float64 {
				r, _ := st.LatestReading()
				return r.Weight
			}).Should(Equal(0.75))
			Expect(st.Status().Reading).NotTo(BeNil())
		})

		It("should close a cancelled subscription", func() {
			ch, cancel := st.Subscribe()
			cancel()
			cancel()
			Eventually(ch).Should(BeClosed())
		})

		It("should forget the reading when the scale stops", func() {
			go func() { _ = port.Feed("2.000\n") }()
			Eventually(func() bool { _, ok := st.LatestReading(); return ok }).Should(BeTrue())

			st.StopScale()

			_, ok := st.LatestReading()
			Expect(ok).To(BeFalse())
			Expect(st.Status().Scale).To(Equal(devices.ScaleDisconnected))
		})
	})

	Describe("PrintReceipt", func() {
		It("should print through the printer link", func() {
			Expect(st.PrintReceipt(ctx, receipt("A1"))).To(Succeed())
			Expect(printer.Transfers()).To(HaveLen(1))
			Expect(st.Status().Printer).To(Equal(devices.PrinterConnected))
		})

		It("should serialize concurrent prints", func() {
			var wg sync.WaitGroup
			for _, n := range []string{"A1", "A2", "A3"} {
				wg.Add(1)
				go func(n string) {
					defer wg.Done()
					defer GinkgoRecover()
					Expect(st.PrintReceipt(ctx, receipt(n))).To(Succeed())
				}(n)
			}
			wg.Wait()

			Expect(printer.Transfers()).To(HaveLen(3))
		})

		It("should report printer failures", func() {
			printer.Fail = true
			Expect(errors.Is(st.PrintReceipt(ctx, receipt("A1")), devices.ErrIOFailure)).To(BeTrue())
		})

		It("should request the printer again after a failed print", func() {
			printer.Fail = true
			Expect(st.PrintReceipt(ctx, receipt("A1"))).NotTo(Succeed())
			Expect(st.Status().Printer).To(Equal(devices.PrinterDisconnected))

			printer.Fail = false
			Expect(st.PrintReceipt(ctx, receipt("A2"))).To(Succeed())
			Expect(printerTransport.Requests()).To(Equal(2))
		})
	})

	Describe("ClosePrinter", func() {
		It("should release the printer until the next print", func() {
			Expect(st.ConnectPrinter(ctx)).To(Succeed())
			st.ClosePrinter()
			Expect(st.Status().Printer).To(Equal(devices.PrinterDisconnected))

			Expect(st.PrintReceipt(ctx, receipt("A1"))).To(Succeed())
			Expect(printerTransport.Requests()).To(Equal(2))
		})
	})

	Describe("DecodeBarcode", func() {
		It("should delegate to the barcode codec", func() {
			result := st.DecodeBarcode("2001235001000", barcode.KindWeight)
			Expect(result.Valid).To(BeTrue())
			Expect(*result.ProductCode).To(Equal("123"))
		})
	})
})
