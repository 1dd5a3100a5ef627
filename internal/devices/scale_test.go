package devices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type readingCollector struct {
	mu       sync.Mutex
	readings []ScaleReading
}

func (c *readingCollector) add(r ScaleReading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, r)
}

func (c *readingCollector) weights() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := []float64{}
	for _, r := range c.readings {
		out = append(out, r.Weight)
	}
	return out
}

var _ = Describe("ParseWeight", func() {
	DescribeTable("extracting the first numeric token",
		func(frame string, expected float64) {
			weight, ok := ParseWeight(frame)
			Expect(ok).To(BeTrue())
			Expect(weight).To(BeNumerically("~", expected, 1e-9))
		},
		Entry("status prefix and unit suffix", "ST,GS,+  1.250kg", 1.25),
		Entry("bare number", "0.500", 0.5),
		Entry("negative weight", "US,NT,-  0.020kg", -0.02),
		Entry("comma decimal separator", "  2,345 kg", 2.345),
		Entry("integer", "  12kg", 12.0),
	)

	DescribeTable("frames without a number",
		func(frame string) {
			_, ok := ParseWeight(frame)
			Expect(ok).To(BeFalse())
		},
		Entry("error text", "ERR"),
		Entry("empty", ""),
		Entry("status only", "OL,GS,+"),
	)
})

var _ = Describe("scanFrames", func() {
	It("should split on CR, LF, STX and ETX", func() {
		advance, token, err := scanFrames([]byte("\x021.000\x03rest"), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(advance).To(Equal(1))
		Expect(token).To(BeEmpty())

		advance, token, err = scanFrames([]byte("1.000\x03rest"), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(advance).To(Equal(6))
		Expect(string(token)).To(Equal("1.000"))
	})

	It("should wait for more data on an unterminated frame", func() {
		advance, token, err := scanFrames([]byte("1.0"), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(advance).To(BeZero())
		Expect(token).To(BeNil())
	})

	It("should cut long unterminated frames", func() {
		data := make([]byte, maxFrameLength+10)
		for i := range data {
			data[i] = 'x'
		}
		advance, token, _ := scanFrames(data, false)
		Expect(advance).To(Equal(maxFrameLength))
		Expect(token).To(HaveLen(maxFrameLength))
	})

	It("should flush the remainder at EOF", func() {
		advance, token, _ := scanFrames([]byte("2.5"), true)
		Expect(advance).To(Equal(3))
		Expect(string(token)).To(Equal("2.5"))
	})
})

var _ = Describe("ScaleLink", func() {
	var (
		port      *fakePort
		transport *fakeScaleTransport
		link      *ScaleLink
		collector *readingCollector
		ctx       context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		port = newFakePort()
		transport = &fakeScaleTransport{port: port}
		link = NewScaleLink(transport, ScaleOptions{RetryDelay: 10 * time.Millisecond}, discardLogger())
		collector = &readingCollector{}
	})

	AfterEach(func() {
		link.Stop()
	})

	It("should start disconnected", func() {
		Expect(link.State()).To(Equal(ScaleDisconnected))
	})

	When("Stop is called before Connect", func() {
		It("should be a no-op", func() {
			Expect(link.Stop).NotTo(Panic())
			Expect(link.State()).To(Equal(ScaleDisconnected))
			Expect(transport.openCount()).To(BeZero())
		})
	})

	Describe("Connect", func() {
		It("should open the port at 9600 baud by default", func() {
			Expect(link.Connect(ctx)).To(Succeed())
			Expect(link.State()).To(Equal(ScaleConnected))
			Expect(transport.baudRate).To(Equal(9600))
		})

		It("should not reopen the port when already connected", func() {
			Expect(link.Connect(ctx)).To(Succeed())
			Expect(link.Connect(ctx)).To(Succeed())
			Expect(transport.openCount()).To(Equal(1))
		})

		When("the grant is refused", func() {
			BeforeEach(func() {
				transport.requestErr = fmt.Errorf("%w: user cancelled", ErrPermissionDenied)
			})

			It("should report the failure and stay disconnected", func() {
				err := link.Connect(ctx)
				Expect(errors.Is(err, ErrPermissionDenied)).To(BeTrue())
				Expect(link.State()).To(Equal(ScaleDisconnected))
				Expect(transport.openCount()).To(BeZero())
			})
		})

		When("the port fails to open", func() {
			BeforeEach(func() {
				transport.openErr = fmt.Errorf("%w: busy", ErrIOFailure)
			})

			It("should stay disconnected", func() {
				Expect(errors.Is(link.Connect(ctx), ErrIOFailure)).To(BeTrue())
				Expect(link.State()).To(Equal(ScaleDisconnected))
			})
		})

		When("Stop arrives while connecting", func() {
			It("should close the opened port and stay disconnected", func() {
				transport.gate = make(chan struct{})

				result := make(chan error, 1)
				go func() { result <- link.Connect(ctx) }()
				Eventually(link.State).Should(Equal(ScaleConnecting))

				link.Stop()
				close(transport.gate)

				var err error
				Eventually(result).Should(Receive(&err))
				Expect(errors.Is(err, ErrNotConnected)).To(BeTrue())
				Expect(port.isClosed()).To(BeTrue())
				Expect(link.State()).To(Equal(ScaleDisconnected))
			})
		})

		When("a request command is configured", func() {
			BeforeEach(func() {
				link = NewScaleLink(transport, ScaleOptions{RequestCommand: "W\r\n"}, discardLogger())
			})

			It("should write it once after opening", func() {
				Expect(link.Connect(ctx)).To(Succeed())
				Expect(port.writtenString()).To(Equal("W\r\n"))
			})
		})
	})

	Describe("StartReading", func() {
		It("should require a connection", func() {
			Expect(link.StartReading(ctx, collector.add)).To(MatchError(ErrNotConnected))
		})

		When("connected", func() {
			BeforeEach(func() {
				Expect(link.Connect(ctx)).To(Succeed())
				Expect(link.StartReading(ctx, collector.add)).To(Succeed())
			})

			It("should move to Reading", func() {
				Expect(link.State()).To(Equal(ScaleStreaming))
			})

			It("should reject a second reader", func() {
				Expect(link.StartReading(ctx, collector.add)).To(MatchError(ErrAlreadyReading))
			})

			It("should treat Connect as a no-op", func() {
				Expect(link.Connect(ctx)).To(Succeed())
				Expect(transport.openCount()).To(Equal(1))
				Expect(link.State()).To(Equal(ScaleStreaming))
			})

			It("should deliver readings in order and drop garbled frames", func() {
				port.push("ST,GS,+  1.250kg\r\n")
				port.push("ERR\r\n")
				port.push("ST,GS,+  2.500kg\r\n")

				Eventually(collector.weights).Should(Equal([]float64{1.25, 2.5}))
				Consistently(collector.weights, 50*time.Millisecond).Should(HaveLen(2))
			})

			It("should report kilograms and a stable flag", func() {
				port.push("0.750\n")

				Eventually(func() int { return len(collector.weights()) }).Should(Equal(1))
				collector.mu.Lock()
				defer collector.mu.Unlock()
				Expect(collector.readings[0].Unit).To(Equal(UnitKilogram))
				Expect(collector.readings[0].Stable).To(BeTrue())
				Expect(collector.readings[0].At).NotTo(BeZero())
			})

			It("should join frames split across reads", func() {
				port.push("ST,GS,+  0.")
				port.push("750kg\r\n")

				Eventually(collector.weights).Should(Equal([]float64{0.75}))
			})

			It("should keep reading after a transient error", func() {
				port.push("1.000\n")
				port.fail(errors.New("framing error"))
				port.push("2.000\n")

				Eventually(collector.weights).Should(Equal([]float64{1, 2}))
				Expect(port.resetCount()).To(Equal(1))
				Expect(link.State()).To(Equal(ScaleStreaming))
			})

			It("should stop cleanly and close the port", func() {
				port.push("1.000\n")
				Eventually(collector.weights).Should(HaveLen(1))

				link.Stop()

				Expect(link.State()).To(Equal(ScaleDisconnected))
				Expect(port.isClosed()).To(BeTrue())
				Expect(link.Stop).NotTo(Panic())
			})

			It("should allow reconnecting after Stop", func() {
				link.Stop()

				transport.port = newFakePort()
				Expect(link.Connect(ctx)).To(Succeed())
				Expect(transport.openCount()).To(Equal(2))
			})
		})
	})
})
