package barcode

import (
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
)

// DecodeImage locates an EAN-13 barcode in a PNG or JPEG snapshot (camera
// scanners) and decodes its digits with Decode. The error is only for images
// that cannot be read or contain no barcode; a barcode that is not a scale
// barcode yields Valid=false.
func DecodeImage(r io.Reader, kind ValueKind) (DecodedBarcode, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return DecodedBarcode{}, fmt.Errorf("image.Decode failed: %w", err)
	}

	return DecodeBitmap(img, kind)
}

// DecodeBitmap is DecodeImage for an already decoded image.
func DecodeBitmap(img image.Image, kind ValueKind) (DecodedBarcode, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return DecodedBarcode{}, fmt.Errorf("gozxing.NewBinaryBitmapFromImage failed: %w", err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}

	result, err := oned.NewEAN13Reader().Decode(bmp, hints)
	if err != nil {
		return DecodedBarcode{}, fmt.Errorf("nie znaleziono kodu EAN-13: %w", err)
	}

	return Decode(result.GetText(), kind), nil
}
