// Package pdf stamps a visual signature and a validation QR code onto an
// existing PDF.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/jung-kurt/gofpdf/contrib/gofpdi"
)

var ErrInvalidDocument = errors.New("invalid pdf document")

const (
	stampMargin    = 24.0
	qrSide         = 72.0
	signatureWidth = 140.0
	mediaBox       = "/MediaBox"
)

// Stamp is the visual material placed on the last page.
type Stamp struct {
	SignerName     string
	SignatureImage []byte // PNG
	QRImage        []byte // PNG
	ValidationURL  string
	SignedAt       time.Time
}

type Stamper interface {
	Stamp(ctx context.Context, original []byte, stamp Stamp) ([]byte, error)
}

type gofpdfStamper struct{}

func NewStamper() Stamper {
	return &gofpdfStamper{}
}

func (s *gofpdfStamper) Stamp(ctx context.Context, original []byte, stamp Stamp) (out []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(original) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}

	// gofpdi panics on unparsable input.
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrInvalidDocument, r)
		}
	}()

	doc := gofpdf.New("P", "pt", "A4", "")
	doc.SetAutoPageBreak(false, 0)

	importer := gofpdi.NewImporter()
	var rs io.ReadSeeker = bytes.NewReader(original)

	first := importer.ImportPageFromStream(doc, &rs, 1, mediaBox)
	sizes := importer.GetPageSizes()
	pages := len(sizes)
	if pages == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrInvalidDocument)
	}

	for page := 1; page <= pages; page++ {
		tpl := first
		if page > 1 {
			tpl = importer.ImportPageFromStream(doc, &rs, page, mediaBox)
		}
		w, h := sizes[page][mediaBox]["w"], sizes[page][mediaBox]["h"]
		doc.AddPageFormat("P", gofpdf.SizeType{Wd: w, Ht: h})
		importer.UseImportedTemplate(doc, tpl, 0, 0, w, h)

		if page == pages {
			drawStamp(doc, w, h, stamp)
		}
	}

	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write stamped document: %w", err)
	}
	return buf.Bytes(), nil
}

func drawStamp(doc *gofpdf.Fpdf, pageW, pageH float64, stamp Stamp) {
	tr := doc.UnicodeTranslatorFromDescriptor("")
	opts := gofpdf.ImageOptions{ImageType: "PNG"}

	qrX := pageW - stampMargin - qrSide
	qrY := pageH - stampMargin - qrSide
	if len(stamp.QRImage) > 0 {
		doc.RegisterImageOptionsReader("validation-qr", opts, bytes.NewReader(stamp.QRImage))
		doc.ImageOptions("validation-qr", qrX, qrY, qrSide, qrSide, false, opts, 0, stamp.ValidationURL)
	}

	sigX := qrX - 8 - signatureWidth
	if len(stamp.SignatureImage) > 0 {
		doc.RegisterImageOptionsReader("signature", opts, bytes.NewReader(stamp.SignatureImage))
		doc.ImageOptions("signature", sigX, qrY, signatureWidth, 0, false, opts, 0, "")
	}

	doc.SetFont("Helvetica", "", 7)
	doc.SetTextColor(60, 60, 60)
	line := qrY + qrSide - 10
	if stamp.SignerName != "" {
		doc.Text(sigX, line, tr(fmt.Sprintf("Signed by %s", stamp.SignerName)))
	}
	if !stamp.SignedAt.IsZero() {
		doc.Text(sigX, line+8, stamp.SignedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	if stamp.ValidationURL != "" {
		doc.SetFont("Helvetica", "", 5)
		doc.Text(sigX, line+15, stamp.ValidationURL)
	}
}
