// Package document classifies and normalizes inbound files: magic-number
// sniffing, PDF page-count and encryption checks, PDF page rasterization
// for the vision model, and HEIC to JPEG conversion. The original bytes are
// always what gets stored; rasterizations and conversions exist only for
// the model.
package document

import (
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

// MaxFileSize is the hard limit on an inbound document, enforced before
// enqueue from envelope-declared sizes and revalidated after download.
const MaxFileSize = 5 << 20

// MaxPDFPages bounds how many pages the pipeline accepts and rasterizes.
const MaxPDFPages = 5

// Kind is the normalized document class the pipeline switches on.
type Kind int

const (
	KindUnknown Kind = iota
	KindPDF
	KindHEIC
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindHEIC:
		return "heic"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Ext returns the storage extension for the original bytes.
func (k Kind) Ext() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindHEIC:
		return "heic"
	default:
		return "jpg"
	}
}

// Classify sniffs the magic number first and falls back to the file name's
// extension; chat clients routinely mislabel MIME types but rarely strip
// extensions.
func Classify(data []byte, fileName string) Kind {
	if t, err := filetype.Match(data); err == nil {
		switch t.MIME.Value {
		case "application/pdf":
			return KindPDF
		case "image/heif", "image/heic":
			return KindHEIC
		case "image/jpeg", "image/png", "image/webp", "image/tiff", "image/gif":
			return KindImage
		}
	}

	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), ".")) {
	case "pdf":
		return KindPDF
	case "heic", "heif":
		return KindHEIC
	case "jpg", "jpeg", "png", "webp", "tif", "tiff", "gif":
		return KindImage
	}
	return KindUnknown
}

// ContentType maps a kind to the upload content type for the original.
func (k Kind) ContentType() string {
	switch k {
	case KindPDF:
		return "application/pdf"
	case KindHEIC:
		return "image/heic"
	default:
		return "image/jpeg"
	}
}
