// Package barcode decodes the 13-digit in-store barcodes printed by
// weighing/pricing scales: prefix '2', a 5-digit PLU and a 5-digit price or
// weight field.
package barcode

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ValueKind says how the value field of a scale barcode is scaled.
type ValueKind string

const (
	// KindPrice has two implied decimal places.
	KindPrice ValueKind = "price"
	// KindWeight has three implied decimal places (kilograms).
	KindWeight ValueKind = "weight"
)

const (
	scaleBarcodeLength = 13
	scaleBarcodePrefix = '2'
)

// ParseKind maps a query/payload value to a ValueKind. Anything other than
// "weight" is a price.
func ParseKind(raw string) ValueKind {
	if strings.EqualFold(strings.TrimSpace(raw), string(KindWeight)) {
		return KindWeight
	}
	return KindPrice
}

// DecodedBarcode is the result of Decode. ProductCode, Value and ValueKind are
// nil when Valid is false.
type DecodedBarcode struct {
	Valid       bool             `json:"valid"`
	ProductCode *string          `json:"product_code"`
	Value       *decimal.Decimal `json:"value"`
	ValueKind   *ValueKind       `json:"value_kind"`
	RawInput    string           `json:"raw_input"`
}

// ValueText renders Value with the decimals of its kind: "1.25" for a price,
// "50.010" for a weight. It is empty when the barcode is not valid.
func (d DecodedBarcode) ValueText() string {
	if d.Value == nil {
		return ""
	}

	places := int32(2)
	if d.ValueKind != nil && *d.ValueKind == KindWeight {
		places = 3
	}
	return d.Value.StringFixed(places)
}

// MarshalJSON writes Value as a JSON number in the ValueText form.
func (d DecodedBarcode) MarshalJSON() ([]byte, error) {
	type plain DecodedBarcode

	out := struct {
		plain
		Value *json.Number `json:"value"`
	}{plain: plain(d)}

	if text := d.ValueText(); text != "" {
		n := json.Number(text)
		out.Value = &n
	}

	return json.Marshal(out)
}

// IsScaleBarcode reports whether code, with every non-digit removed, is
// exactly 13 digits starting with '2'.
func IsScaleBarcode(code string) bool {
	return isScaleDigits(digitsOnly(code))
}

// Decode splits a scale barcode into its PLU and value. Digit 11 is reserved
// and digit 12 (check digit) is not verified; use CheckDigitValid when that
// matters.
func Decode(code string, kind ValueKind) DecodedBarcode {
	clean := digitsOnly(code)
	if !isScaleDigits(clean) {
		return DecodedBarcode{RawInput: code}
	}

	if kind != KindWeight {
		kind = KindPrice
	}

	plu := strconv.FormatUint(fieldValue(clean[1:6]), 10)

	exp := int32(-2)
	if kind == KindWeight {
		exp = -3
	}
	value := decimal.New(int64(fieldValue(clean[6:11])), exp)

	return DecodedBarcode{
		Valid:       true,
		ProductCode: &plu,
		Value:       &value,
		ValueKind:   &kind,
		RawInput:    clean,
	}
}

// CheckDigitValid verifies the EAN-13 mod-10 check digit of code.
func CheckDigitValid(code string) bool {
	clean := digitsOnly(code)
	if len(clean) != scaleBarcodeLength {
		return false
	}

	sum := 0
	for i := 0; i < scaleBarcodeLength-1; i++ {
		d := int(clean[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}

	return (10-sum%10)%10 == int(clean[scaleBarcodeLength-1]-'0')
}

func isScaleDigits(clean string) bool {
	return len(clean) == scaleBarcodeLength && clean[0] == scaleBarcodePrefix
}

func digitsOnly(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for i := 0; i < len(code); i++ {
		if code[i] >= '0' && code[i] <= '9' {
			b.WriteByte(code[i])
		}
	}
	return b.String()
}

// fieldValue parses a fixed-width digit field. Callers pass digits only.
func fieldValue(field string) uint64 {
	var v uint64
	for i := 0; i < len(field); i++ {
		v = v*10 + uint64(field[i]-'0')
	}
	return v
}
