package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"log/slog"
	"math"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// DefaultMaxImageSize is the longest side, in pixels, receipts are scaled
// down to before recognition.
const DefaultMaxImageSize = 2000

const (
	contrastFactor = 1.35
	contrastMid    = 128.0
)

// Prepare gets an uploaded receipt ready for recognition: it is decoded,
// scaled so its longest side is at most maxSize, turned to grayscale and
// given more contrast. If any of that fails the original bytes are returned
// unchanged.
func Prepare(imageData []byte, contentType string, maxSize int) ([]byte, string) {
	mimeType := normalizeMimeType(contentType)
	out, err := Normalize(imageData, mimeType, maxSize)
	if err != nil {
		slog.Warn("normalizing receipt image, using original", "content_type", mimeType, "error", err)
		return imageData, mimeType
	}
	return out, "image/png"
}

// Normalize decodes, scales and enhances a receipt image and returns it as
// PNG.
func Normalize(imageData []byte, contentType string, maxSize int) ([]byte, error) {
	img, err := decodeImage(imageData, normalizeMimeType(contentType))
	if err != nil {
		return nil, err
	}

	gray := enhance(img, maxSize)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func normalizeMimeType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

func decodeImage(imageData []byte, mimeType string) (image.Image, error) {
	switch {
	case mimeType == "application/pdf":
		return pdfToImage(imageData)
	case isHEICFormat(imageData) || isHEICMimeType(mimeType):
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	default:
		img, _, err := image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
		return img, nil
	}
}

// pdfToImage renders the first page of a PDF.
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// scaledSize returns the output size for an image of w×h whose longest side
// must not exceed maxSize.
func scaledSize(w, h, maxSize int) (int, int) {
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return w, h
	}
	scale := float64(maxSize) / float64(max(w, h))
	sw := max(1, int(math.Round(float64(w)*scale)))
	sh := max(1, int(math.Round(float64(h)*scale)))
	return sw, sh
}

// enhance box-filters img down to at most maxSize and maps every pixel to
// contrast-stretched luma.
func enhance(img image.Image, maxSize int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := scaledSize(w, h, maxSize)
	out := image.NewGray(image.Rect(0, 0, dw, dh))

	for dy := 0; dy < dh; dy++ {
		y0 := b.Min.Y + dy*h/dh
		y1 := max(y0+1, b.Min.Y+(dy+1)*h/dh)
		for dx := 0; dx < dw; dx++ {
			x0 := b.Min.X + dx*w/dw
			x1 := max(x0+1, b.Min.X+(dx+1)*w/dw)

			var r, g, bl, n float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					cr, cg, cb, _ := img.At(x, y).RGBA()
					r += float64(cr >> 8)
					g += float64(cg >> 8)
					bl += float64(cb >> 8)
					n++
				}
			}
			luma := (0.299*r + 0.587*g + 0.114*bl) / n
			out.Pix[dy*out.Stride+dx] = contrast(luma)
		}
	}
	return out
}

func contrast(luma float64) uint8 {
	v := (luma-contrastMid)*contrastFactor + contrastMid
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
