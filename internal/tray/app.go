package tray

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"time"

	"github.com/getlantern/systray"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/NowakAdmin/BizantiPOS/internal/autostart"
	"github.com/NowakAdmin/BizantiPOS/internal/devices"
	"github.com/NowakAdmin/BizantiPOS/internal/station"
	"github.com/NowakAdmin/BizantiPOS/internal/version"
)

const appName = "BizantiPOS"

// Peripherals is the part of station.Station driven from the menu.
type Peripherals interface {
	ConnectScale(ctx context.Context) error
	StopScale()
	ConnectPrinter(ctx context.Context) error
	ClosePrinter()
	PrintReceipt(ctx context.Context, r devices.ReceiptSpec) error
	Subscribe() (<-chan devices.ScaleReading, func())
	Status() station.Status
}

type Agent interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

type App struct {
	peripherals Peripherals
	agent       Agent
	logger      *log.Logger
}

func New(peripherals Peripherals, agent Agent, logger *log.Logger) *App {
	return &App{
		peripherals: peripherals,
		agent:       agent,
		logger:      logger,
	}
}

func (a *App) Run() {
	systray.Run(a.onReady, a.onExit)
}

func (a *App) onReady() {
	systray.SetIcon(generateIcon(16))
	systray.SetTitle("Bizanti POS")
	systray.SetTooltip("Bizanti POS - waga, drukarka, kody kreskowe")

	scaleStatus := systray.AddMenuItem("", "Stan wagi")
	scaleStatus.Disable()
	printerStatus := systray.AddMenuItem("", "Stan drukarki")
	printerStatus.Disable()
	agentStatus := systray.AddMenuItem(agentLine(false), "Połączenie z Bizanti")
	agentStatus.Disable()

	systray.AddSeparator()
	connectScale := systray.AddMenuItem("Połącz wagę", "Otwórz port wagi i zacznij odczyt")
	stopScale := systray.AddMenuItem("Zatrzymaj wagę", "Zamknij port wagi")
	connectPrinter := systray.AddMenuItem("Połącz drukarkę", "Połącz z drukarką paragonów")
	closePrinter := systray.AddMenuItem("Rozłącz drukarkę", "Zwolnij drukarkę, np. przed ponownym podłączeniem")
	testReceipt := systray.AddMenuItem("Drukuj paragon testowy", "Wydrukuj paragon próbny")

	systray.AddSeparator()
	start := systray.AddMenuItem("Połącz z Bizanti", "Uruchom agenta")
	stop := systray.AddMenuItem("Rozłącz z Bizanti", "Zatrzymaj agenta")

	autostartItem := systray.AddMenuItemCheckbox("Autostart", "Uruchamiaj przy logowaniu", false)
	if enabled, err := autostart.IsEnabled(appName); err == nil && enabled {
		autostartItem.Check()
	}

	versionItem := systray.AddMenuItem("Wersja: "+version.Version, "Wersja aplikacji")
	versionItem.Disable()

	systray.AddSeparator()
	quit := systray.AddMenuItem("Zamknij", "Zamknij BizantiPOS")

	refresh := func() {
		status := a.peripherals.Status()
		scaleStatus.SetTitle(scaleLine(status))
		printerStatus.SetTitle(printerLine(status.Printer))

		running := a.agent.IsRunning()
		agentStatus.SetTitle(agentLine(running))
		if running {
			start.Disable()
			stop.Enable()
		} else {
			start.Enable()
			stop.Disable()
		}
	}
	refresh()

	readings, unsubscribe := a.peripherals.Subscribe()
	ctx := context.Background()

	go func() {
		defer unsubscribe()

		for {
			select {
			case reading, ok := <-readings:
				if !ok {
					readings = nil
					continue
				}
				systray.SetTitle(weightTitle(reading))
				scaleStatus.SetTitle(scaleLine(a.peripherals.Status()))

			case <-connectScale.ClickedCh:
				if err := a.peripherals.ConnectScale(ctx); err != nil {
					a.logger.Printf("Nie udało się połączyć z wagą: %v", err)
				}
				refresh()

			case <-stopScale.ClickedCh:
				a.peripherals.StopScale()
				systray.SetTitle("Bizanti POS")
				refresh()

			case <-connectPrinter.ClickedCh:
				if err := a.peripherals.ConnectPrinter(ctx); err != nil {
					a.logger.Printf("Nie udało się połączyć z drukarką: %v", err)
				}
				refresh()

			case <-closePrinter.ClickedCh:
				a.peripherals.ClosePrinter()
				refresh()

			case <-testReceipt.ClickedCh:
				if err := a.peripherals.PrintReceipt(ctx, testReceiptSpec(time.Now())); err != nil {
					a.logger.Printf("Błąd wydruku testowego: %v", err)
				}
				refresh()

			case <-start.ClickedCh:
				if a.agent.IsRunning() {
					continue
				}
				if err := a.agent.Start(ctx); err != nil {
					a.logger.Printf("Błąd startu agenta: %v", err)
				}
				refresh()

			case <-stop.ClickedCh:
				a.agent.Stop()
				refresh()

			case <-autostartItem.ClickedCh:
				if autostartItem.Checked() {
					if err := autostart.Disable(appName); err != nil {
						a.logger.Printf("Błąd wyłączenia autostartu: %v", err)
						continue
					}
					autostartItem.Uncheck()
					continue
				}

				executablePath, err := os.Executable()
				if err != nil {
					a.logger.Printf("Błąd ścieżki EXE: %v", err)
					continue
				}

				if err = autostart.Enable(autostart.Item{Name: appName, Executable: executablePath}); err != nil {
					a.logger.Printf("Błąd autostartu: %v", err)
					continue
				}
				autostartItem.Check()

			case <-quit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

func (a *App) onExit() {
	a.agent.Stop()
	a.peripherals.StopScale()
}

func weightTitle(reading devices.ScaleReading) string {
	return fmt.Sprintf("%.3f %s", reading.Weight, reading.Unit)
}

func scaleLine(status station.Status) string {
	if status.Reading != nil {
		return fmt.Sprintf("Waga: %s (%s)", status.Scale, weightTitle(*status.Reading))
	}
	return "Waga: " + status.Scale.String()
}

func printerLine(state devices.PrinterState) string {
	return "Drukarka: " + state.String()
}

func agentLine(running bool) string {
	if running {
		return "Bizanti: online"
	}
	return "Bizanti: offline"
}

// testReceiptSpec is a one-line receipt for checking paper and layout.
func testReceiptSpec(now time.Time) devices.ReceiptSpec {
	price := decimal.RequireFromString("1.00")

	return devices.ReceiptSpec{
		SaleNumber:    "TEST-" + uuid.New().String()[:8],
		Timestamp:     now,
		Lines:         []devices.ReceiptLine{{Name: "Wydruk testowy", Quantity: decimal.NewFromInt(1), UnitPrice: price}},
		Total:         price,
		PaymentMethod: "Test",
	}
}

// generateIcon draws a receipt roll: a teal sheet with white text lines.
func generateIcon(size int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	teal := color.RGBA{0, 128, 128, 255}
	white := color.RGBA{255, 255, 255, 255}
	margin := size / 6

	for x := margin; x < size-margin; x++ {
		for y := 0; y < size; y++ {
			img.SetRGBA(x, y, teal)
		}
	}

	for y := margin + 1; y < size-margin; y += 3 {
		for x := margin + 2; x < size-margin-2; x++ {
			img.SetRGBA(x, y, white)
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
