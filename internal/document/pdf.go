package document

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"strings"

	"github.com/gen2brain/go-fitz"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFInfo is what the policy checks need to know about a PDF without
// decoding any page content.
type PDFInfo struct {
	Pages     int
	Encrypted bool
}

// InspectPDF reads the cross-reference structure only. Password-protected
// files surface as Encrypted=true rather than an error; the pipeline turns
// that into a policy rejection.
func InspectPDF(data []byte) (PDFInfo, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := pdfapi.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		if isEncryptionError(err) {
			return PDFInfo{Encrypted: true}, nil
		}
		return PDFInfo{}, fmt.Errorf("document: read pdf: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return PDFInfo{}, fmt.Errorf("document: count pdf pages: %w", err)
	}
	return PDFInfo{
		Pages:     ctx.PageCount,
		Encrypted: ctx.Encrypt != nil,
	}, nil
}

func isEncryptionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}

// RasterizePDF renders up to maxPages pages as JPEGs for the vision model.
// The rasterizations are never stored.
func RasterizePDF(data []byte, maxPages int) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("document: open pdf for rasterization: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n > maxPages {
		n = maxPages
	}

	pages := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("document: rasterize pdf page %d: %w", i+1, err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("document: encode pdf page %d: %w", i+1, err)
		}
		pages = append(pages, buf.Bytes())
	}
	return pages, nil
}
