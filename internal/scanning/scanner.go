// Package scanning turns a photo of a receipt into plain text.
package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Recognizer reads the text of a receipt image.
type Recognizer interface {
	// Recognize returns the receipt text, one receipt line per text line.
	Recognize(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close releases resources held by the recognizer.
	Close() error
}

// Options are the hints passed to a recognizer.
type Options struct {
	// Languages uses tesseract-style codes joined by "+", e.g. "bul+eng".
	Languages string
	// PageSegMode uses tesseract page segmentation numbering. 4 means a single
	// column of text of variable sizes, which is what a receipt is.
	PageSegMode int
}

// DefaultOptions suit Bulgarian receipts.
func DefaultOptions() Options {
	return Options{Languages: "bul+eng", PageSegMode: 4}
}

var languageNames = map[string]string{
	"bul": "Bulgarian",
	"eng": "English",
	"deu": "German",
	"fra": "French",
	"ita": "Italian",
	"spa": "Spanish",
	"rus": "Russian",
	"ron": "Romanian",
	"ell": "Greek",
	"tur": "Turkish",
}

var pageSegHints = map[int]string{
	3:  "The page may contain several blocks of text; read them top to bottom.",
	4:  "The text is a single column of lines of varying size. Keep each printed line on its own output line.",
	6:  "The text is a single uniform block.",
	11: "The text is sparse; read every fragment you can find.",
}

// transcriptionPrompt asks a model for a plain transcription that the line
// parser can read.
func transcriptionPrompt(opts Options) string {
	var b strings.Builder
	b.WriteString("Transcribe the text of this shop receipt exactly as printed.\n")

	if langs := describeLanguages(opts.Languages); langs != "" {
		fmt.Fprintf(&b, "The receipt is written in %s.\n", langs)
	}
	if hint, ok := pageSegHints[opts.PageSegMode]; ok {
		b.WriteString(hint + "\n")
	}

	b.WriteString(`Rules:
- Output one printed line per output line, top to bottom.
- Keep the item name and its price on the same line, as on the receipt.
- Copy prices and quantities exactly, including the decimal separator.
- Do not translate, summarise, total or explain anything.
- Do not use markdown or code blocks.`)
	return b.String()
}

func describeLanguages(codes string) string {
	var names []string
	for _, code := range strings.Split(codes, "+") {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if name, ok := languageNames[code]; ok {
			names = append(names, name)
		} else {
			names = append(names, code)
		}
	}
	return strings.Join(names, " and ")
}

// ErrNoRecognizer is returned by Disabled.
var ErrNoRecognizer = errors.New("no text recognizer configured")

// Disabled is the recognizer used when none is configured. Every scan fails,
// which leaves the user a blank row to fill in by hand.
type Disabled struct{}

// Recognize implements Recognizer.
func (Disabled) Recognize(context.Context, []byte, string) (string, error) {
	return "", ErrNoRecognizer
}

// Close implements Recognizer.
func (Disabled) Close() error { return nil }
