package devices

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// weightPattern takes the first signed decimal token of a frame, so status
// prefixes and unit suffixes ("ST,GS,+  1.250kg") are ignored.
var weightPattern = regexp.MustCompile(`([-+]?)\s*([0-9]+(?:[.,][0-9]+)?)`)

const (
	maxFrameLength    = 256
	defaultRetryDelay = 500 * time.Millisecond
)

// NewScaleTransport picks the transport named in cfg.
func NewScaleTransport(cfg ScaleConfig) (ScaleTransport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "serial", "rs232", "com":
		return NewSerialTransport(cfg), nil
	case "tcp", "ethernet":
		return NewTCPScaleTransport(cfg), nil
	default:
		return nil, fmt.Errorf("nieobsługiwany transport wagi: %s", cfg.Transport)
	}
}

// ScaleOptions tunes a ScaleLink.
type ScaleOptions struct {
	BaudRate int
	// RequestCommand is written once after opening, for scales that only
	// answer on demand.
	RequestCommand string
	RetryDelay     time.Duration
}

func ScaleOptionsFromConfig(cfg ScaleConfig) ScaleOptions {
	return ScaleOptions{
		BaudRate:       cfg.BaudRate,
		RequestCommand: cfg.RequestCommand,
		RetryDelay:     time.Duration(cfg.RetryDelayMs) * time.Millisecond,
	}
}

// ScaleLink owns one scale port and streams readings from it.
type ScaleLink struct {
	transport ScaleTransport
	opts      ScaleOptions
	logger    *log.Logger

	mu     sync.Mutex
	state  ScaleState
	port   ScalePort
	cancel context.CancelFunc
	done   chan struct{}

	// stopped is set by Stop while a Connect is in flight.
	stopped bool
}

func NewScaleLink(transport ScaleTransport, opts ScaleOptions, logger *log.Logger) *ScaleLink {
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	return &ScaleLink{
		transport: transport,
		opts:      opts,
		logger:    logger,
	}
}

func (s *ScaleLink) State() ScaleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect requests and opens the scale port. It is a no-op when a port is
// already open. Failures are logged and returned; the link stays
// disconnected.
func (s *ScaleLink) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case ScaleConnected, ScaleStreaming:
		s.mu.Unlock()
		return nil
	case ScaleConnecting:
		s.mu.Unlock()
		return ErrConnectInProgress
	}
	s.state = ScaleConnecting
	s.stopped = false
	s.mu.Unlock()

	port, err := s.open(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil && s.stopped {
		_ = port.Close()
		err = fmt.Errorf("%w: zatrzymano w trakcie łączenia", ErrNotConnected)
	}
	s.stopped = false

	if err != nil {
		s.state = ScaleDisconnected
		s.logger.Printf("Nie udało się połączyć z wagą: %v", err)
		return err
	}

	s.port = port
	s.state = ScaleConnected
	s.logger.Printf("Połączono z wagą (%d baud)", s.opts.BaudRate)
	return nil
}

func (s *ScaleLink) open(ctx context.Context) (ScalePort, error) {
	name, err := s.transport.Request(ctx)
	if err != nil {
		return nil, err
	}

	port, err := s.transport.Open(name, s.opts.BaudRate)
	if err != nil {
		return nil, err
	}

	if s.opts.RequestCommand != "" {
		if _, err = port.Write([]byte(s.opts.RequestCommand)); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
		}
	}

	return port, nil
}

// StartReading starts the read loop and returns at once. onReading is
// called from the loop goroutine, in the order frames arrive, and must not
// call Stop.
func (s *ScaleLink) StartReading(ctx context.Context, onReading func(ScaleReading)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case ScaleStreaming:
		return ErrAlreadyReading
	case ScaleConnected:
	default:
		return ErrNotConnected
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = ScaleStreaming

	go s.readLoop(loopCtx, s.port, s.done, onReading)

	return nil
}

func (s *ScaleLink) readLoop(ctx context.Context, port ScalePort, done chan struct{}, onReading func(ScaleReading)) {
	defer close(done)

	for {
		scanner := bufio.NewScanner(port)
		scanner.Buffer(make([]byte, maxFrameLength), maxFrameLength)
		scanner.Split(scanFrames)

		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			weight, ok := ParseWeight(scanner.Text())
			if !ok {
				continue
			}

			onReading(ScaleReading{
				Weight: weight,
				Unit:   UnitKilogram,
				Stable: true,
				At:     time.Now(),
			})
		}

		if ctx.Err() != nil {
			return
		}

		err := scanner.Err()
		if err == nil {
			err = errors.New("koniec strumienia")
		}
		s.logger.Printf("Błąd odczytu wagi, ponawiam: %v", err)
		_ = port.ResetInputBuffer()

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.RetryDelay):
		}
	}
}

// Stop ends reading and closes the port. Safe to call in any state; a
// Connect in flight closes its port and fails.
func (s *ScaleLink) Stop() {
	s.mu.Lock()
	if s.state == ScaleConnecting {
		s.stopped = true
	}
	cancel, done, port := s.cancel, s.done, s.port
	s.cancel, s.done, s.port = nil, nil, nil
	wasOpen := s.state == ScaleConnected || s.state == ScaleStreaming
	if wasOpen {
		s.state = ScaleDisconnected
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if port != nil {
		_ = port.Close()
	}
	if done != nil {
		<-done
	}

	if wasOpen {
		s.logger.Printf("Rozłączono wagę")
	}
}

// ParseWeight extracts the first numeric token of a scale frame. Frames
// without a number report false.
func ParseWeight(frame string) (float64, bool) {
	match := weightPattern.FindStringSubmatch(frame)
	if len(match) != 3 {
		return 0, false
	}

	weight, err := strconv.ParseFloat(match[1]+strings.ReplaceAll(match[2], ",", "."), 64)
	if err != nil {
		return 0, false
	}

	return weight, true
}

// scanFrames splits scale output on CR, LF, STX and ETX, and cuts
// unterminated runs at maxFrameLength.
func scanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n\x02\x03"); i >= 0 {
		return i + 1, data[:i], nil
	}

	if len(data) >= maxFrameLength {
		return maxFrameLength, data[:maxFrameLength], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
