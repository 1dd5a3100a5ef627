package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/NowakAdmin/BizantiPOS/internal/agent"
	"github.com/NowakAdmin/BizantiPOS/internal/api"
	"github.com/NowakAdmin/BizantiPOS/internal/config"
	"github.com/NowakAdmin/BizantiPOS/internal/devices"
	"github.com/NowakAdmin/BizantiPOS/internal/station"
	"github.com/NowakAdmin/BizantiPOS/internal/tray"
	"github.com/NowakAdmin/BizantiPOS/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "configure":
			runConfigure()
			return
		case "headless":
			runHeadless()
			return
		case "version":
			fmt.Printf("BizantiPOS %s\n", version.Version)
			return
		}
	}

	runTray()
}

func runConfigure() {
	cfg, err := config.LoadOrCreateDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Błąd odczytu konfiguracji: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("configure")
	var (
		serverURL    = fs.StringLong("server", cfg.ServerURL, "Base URL API Bizanti, np. https://bizanti.pl")
		wsURL        = fs.StringLong("ws", cfg.WebSocketURL, "URL WebSocket agenta, np. wss://bizanti.pl/agent/ws")
		agentID      = fs.StringLong("agent-id", cfg.AgentID, "ID konta agenta")
		token        = fs.StringLong("token", cfg.AgentToken, "Token API agenta")
		tenantID     = fs.StringLong("tenant-id", cfg.TenantID, "Opcjonalny tenant ID")
		deviceName   = fs.StringLong("name", cfg.DeviceName, "Nazwa stanowiska widoczna w Bizanti")
		listen       = fs.StringLong("listen", cfg.API.Listen, "Adres lokalnego API")
		scaleMode    = fs.StringLong("scale", cfg.Scale.Transport, "Transport wagi: serial lub tcp")
		scalePort    = fs.StringLong("scale-port", cfg.Scale.SerialPort, "Port szeregowy wagi, np. COM3")
		scaleVID     = fs.StringLong("scale-vid", cfg.Scale.VendorID, "USB VID przejściówki wagi (hex)")
		scalePID     = fs.StringLong("scale-pid", cfg.Scale.ProductID, "USB PID przejściówki wagi (hex)")
		baudRate     = fs.IntLong("baud", cfg.Scale.BaudRate, "Prędkość portu wagi")
		scaleHost    = fs.StringLong("scale-host", cfg.Scale.TCPHost, "Host wagi sieciowej")
		scaleTCPPort = fs.IntLong("scale-tcp-port", cfg.Scale.TCPPort, "Port TCP wagi sieciowej")
		printerMode  = fs.StringLong("printer", cfg.Printer.Transport, "Transport drukarki: usb lub raw_tcp")
		printerVID   = fs.StringLong("printer-vid", cfg.Printer.VendorID, "USB VID drukarki (hex)")
		printerPID   = fs.StringLong("printer-pid", cfg.Printer.ProductID, "USB PID drukarki (hex)")
		printerHost  = fs.StringLong("printer-host", cfg.Printer.Host, "Host drukarki sieciowej")
		printerPort  = fs.IntLong("printer-port", cfg.Printer.Port, "Port drukarki sieciowej")
		merchant     = fs.StringLong("merchant", cfg.Receipt.MerchantName, "Nazwa sklepu na paragonie")
		encoding     = fs.StringLong("encoding", cfg.Receipt.Encoding, "Strona kodowa drukarki, np. cp852")
	)

	if err = ff.Parse(fs, os.Args[2:], ff.WithEnvVarPrefix("BIZANTI_POS")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		if errors.Is(err, ff.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Błąd: %v\n", err)
		os.Exit(1)
	}

	cfg.ServerURL = *serverURL
	cfg.WebSocketURL = *wsURL
	cfg.AgentID = *agentID
	cfg.AgentToken = *token
	cfg.TenantID = *tenantID
	cfg.DeviceName = *deviceName
	cfg.API.Listen = *listen
	cfg.Scale.Transport = *scaleMode
	cfg.Scale.SerialPort = *scalePort
	cfg.Scale.VendorID = *scaleVID
	cfg.Scale.ProductID = *scalePID
	cfg.Scale.BaudRate = *baudRate
	cfg.Scale.TCPHost = *scaleHost
	cfg.Scale.TCPPort = *scaleTCPPort
	cfg.Printer.Transport = *printerMode
	cfg.Printer.VendorID = *printerVID
	cfg.Printer.ProductID = *printerPID
	cfg.Printer.Host = *printerHost
	cfg.Printer.Port = *printerPort
	cfg.Receipt.MerchantName = *merchant
	cfg.Receipt.Encoding = *encoding

	if err = config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Błąd zapisu konfiguracji: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Konfiguracja zapisana: %s\n", config.Path())
}

// app is everything main wires together from the config.
type app struct {
	cfg     *config.Config
	logger  *log.Logger
	station *station.Station
	agent   *agent.Agent
	api     *api.Server
	closers []io.Closer
}

func newApp() (*app, func(), error) {
	cfg, err := config.LoadOrCreateDefault()
	if err != nil {
		return nil, nil, fmt.Errorf("błąd konfiguracji: %w", err)
	}

	logger, closeLog, err := buildLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("błąd loggera: %w", err)
	}

	scaleTransport, err := devices.NewScaleTransport(cfg.Scale)
	if err != nil {
		closeLog()
		return nil, nil, err
	}

	printerTransport, err := devices.NewPrinterTransport(cfg.Printer)
	if err != nil {
		closeLog()
		return nil, nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if closer, ok := printerTransport.(io.Closer); ok {
		a.closers = append(a.closers, closer)
	}

	a.station = station.New(
		devices.NewScaleLink(scaleTransport, devices.ScaleOptionsFromConfig(cfg.Scale), logger),
		devices.NewPrinterLink(printerTransport, cfg.Receipt, logger),
		logger,
	)
	a.agent = agent.New(cfg, a.station, logger)
	a.api = api.NewServer(a.station, logger)

	return a, func() {
		a.station.Close()
		for _, closer := range a.closers {
			_ = closer.Close()
		}
		closeLog()
	}, nil
}

// start brings up the local API and tries the configured devices once.
// Device failures are logged; they can be retried from the tray or the API.
func (a *app) start(ctx context.Context) {
	go func() {
		if err := a.api.ListenAndServe(ctx, a.cfg.API.Listen); err != nil {
			a.logger.Printf("Lokalne API zatrzymane: %v", err)
		}
	}()

	if err := a.station.ConnectScale(ctx); err != nil {
		a.logger.Printf("Waga niedostępna: %v", err)
	}
	if err := a.station.ConnectPrinter(ctx); err != nil {
		a.logger.Printf("Drukarka niedostępna: %v", err)
	}
}

func runHeadless() {
	a, closeFn, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a.start(ctx)

	if err = a.agent.Start(ctx); err != nil {
		a.logger.Printf("Nie udało się wystartować agenta: %v", err)
		return
	}

	<-ctx.Done()
	a.agent.Stop()
}

func runTray() {
	a, closeFn, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.start(ctx)

	tray.New(a.station, a.agent, a.logger).Run()
}

func buildLogger() (*log.Logger, func(), error) {
	logPath := filepath.Join(config.LogDir(), "pos.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	w := io.MultiWriter(os.Stdout, f)
	logger := log.New(w, "[bizanti-pos] ", log.LstdFlags|log.Lmicroseconds)

	return logger, func() {
		_ = f.Close()
	}, nil
}
