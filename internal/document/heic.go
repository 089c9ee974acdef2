package document

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/jdeng/goheif"
)

// Vision models reject HEIC; conversions use a quality high enough that
// extraction accuracy does not suffer.
const jpegQuality = 95

// ConvertHEIC decodes a HEIC/HEIF image and re-encodes it as JPEG. The
// caller keeps the original bytes for storage; the JPEG only feeds the
// model.
func ConvertHEIC(data []byte) ([]byte, error) {
	img, err := goheif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("document: decode heic: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("document: encode heic as jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
