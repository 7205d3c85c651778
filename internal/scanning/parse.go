package scanning

import (
	"regexp"
	"strings"
)

var (
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z]*\\s*\n?")
	fenceClose = regexp.MustCompile("\n?```\\s*$")
)

// cleanTranscript strips the wrapping some models add around a plain
// transcription and normalises line endings.
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}
