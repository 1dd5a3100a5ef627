package devices

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	itemNameWidth  = 15
	quantityColumn = 8
	priceColumn    = 10
)

type ReceiptLine struct {
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Total is quantity times unit price.
func (l ReceiptLine) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// ReceiptSpec is a finished sale as handed over for printing.
type ReceiptSpec struct {
	SaleNumber    string          `json:"sale_number"`
	Timestamp     time.Time       `json:"timestamp"`
	Lines         []ReceiptLine   `json:"lines"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
}

func (r ReceiptSpec) Validate() error {
	if strings.TrimSpace(r.SaleNumber) == "" {
		return fmt.Errorf("%w: brak numeru sprzedaży", ErrInvalidReceipt)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: brak daty sprzedaży", ErrInvalidReceipt)
	}
	if len(r.Lines) == 0 {
		return fmt.Errorf("%w: brak pozycji", ErrInvalidReceipt)
	}

	for i, line := range r.Lines {
		switch {
		case strings.TrimSpace(line.Name) == "":
			return fmt.Errorf("%w: pozycja %d bez nazwy", ErrInvalidReceipt, i+1)
		case !line.Quantity.IsPositive():
			return fmt.Errorf("%w: pozycja %d ma ilość %s", ErrInvalidReceipt, i+1, line.Quantity)
		case line.UnitPrice.IsNegative():
			return fmt.Errorf("%w: pozycja %d ma ujemną cenę", ErrInvalidReceipt, i+1)
		}
	}

	if r.Total.IsNegative() {
		return fmt.Errorf("%w: ujemna suma", ErrInvalidReceipt)
	}

	return nil
}

// ReceiptLayout holds the merchant-specific parts of the receipt template.
type ReceiptLayout struct {
	MerchantName    string   `json:"merchant_name"`
	HeaderLines     []string `json:"header_lines,omitempty"`
	Width           int      `json:"width"`
	NonFiscalLabel  string   `json:"non_fiscal_label"`
	ClosingMessage  string   `json:"closing_message"`
	Currency        string   `json:"currency"`
	TimestampLayout string   `json:"timestamp_layout"`
	TimeZone        string   `json:"time_zone,omitempty"`
	Encoding        string   `json:"encoding,omitempty"`
	FeedLines       int      `json:"feed_lines"`
}

func DefaultReceiptLayout() ReceiptLayout {
	return ReceiptLayout{
		MerchantName:    "BIZANTI",
		Width:           32,
		NonFiscalLabel:  "PARAGON NIEFISKALNY",
		ClosingMessage:  "Dziekujemy za zakupy!",
		Currency:        "PLN",
		TimestampLayout: "02.01.2006 15:04",
		FeedLines:       4,
	}
}

// withDefaults fills zero fields from DefaultReceiptLayout.
func (l ReceiptLayout) withDefaults() ReceiptLayout {
	d := DefaultReceiptLayout()
	if l.Width <= 0 {
		l.Width = d.Width
	}
	if l.NonFiscalLabel == "" {
		l.NonFiscalLabel = d.NonFiscalLabel
	}
	if l.TimestampLayout == "" {
		l.TimestampLayout = d.TimestampLayout
	}
	if l.FeedLines <= 0 {
		l.FeedLines = d.FeedLines
	}
	return l
}

func (l ReceiptLayout) location() *time.Location {
	if l.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(l.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// RenderReceipt lays out r for a fixed-width thermal printer and returns the
// ESC/POS byte stream, ending with a paper cut.
func RenderReceipt(r ReceiptSpec, layout ReceiptLayout) []byte {
	layout = layout.withDefaults()
	divider := strings.Repeat("-", layout.Width)

	w := newESCPOSWriter(layout.Encoding)

	w.command(cmdAlignCenter)
	w.command(cmdBoldOn)
	w.command(cmdDoubleSizeOn)
	w.line(layout.MerchantName)
	w.command(cmdDoubleSizeOff)
	w.command(cmdBoldOff)

	w.command(cmdAlignLeft)
	for _, header := range layout.HeaderLines {
		w.line(header)
	}
	w.line(divider)

	w.command(cmdBoldOn)
	w.line(layout.NonFiscalLabel)
	w.command(cmdBoldOff)
	w.line("Data: " + r.Timestamp.In(layout.location()).Format(layout.TimestampLayout))
	w.line("Nr: " + r.SaleNumber)
	w.line(divider)

	w.line(padRight("Lp", 3) + "Produkt")
	w.line(amountColumns(layout.Width, "Ilosc", "Cena", "Wartosc"))

	for i, item := range r.Lines {
		w.line(padRight(fmt.Sprint(i+1), 3) + padRight(truncate(item.Name, itemNameWidth), itemNameWidth))
		w.line(amountColumns(layout.Width, item.Quantity.String(), formatMoney(item.UnitPrice), formatMoney(item.Total())))
	}
	w.line(divider)

	w.command(cmdBoldOn)
	w.line(spread("SUMA:", strings.TrimSpace(formatMoney(r.Total)+" "+layout.Currency), layout.Width))
	w.command(cmdBoldOff)
	w.line(spread("Platnosc:", r.PaymentMethod, layout.Width))
	w.line(divider)

	w.command(cmdAlignCenter)
	w.line(layout.ClosingMessage)
	w.feed(layout.FeedLines)
	w.command(cmdCut)

	return w.bytes()
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func amountColumns(width int, quantity, price, total string) string {
	totalColumn := width - quantityColumn - priceColumn
	if totalColumn < 1 {
		totalColumn = 1
	}
	return padLeft(quantity, quantityColumn) + padLeft(price, priceColumn) + padLeft(total, totalColumn)
}

func spread(left, right string, width int) string {
	gap := width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func padRight(s string, n int) string {
	if pad := n - utf8.RuneCountInString(s); pad > 0 {
		return s + strings.Repeat(" ", pad)
	}
	return s
}

func padLeft(s string, n int) string {
	if pad := n - utf8.RuneCountInString(s); pad > 0 {
		return strings.Repeat(" ", pad) + s
	}
	return s
}
