package parsing

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	pdfSniffBytes = 10000
	pdfMinTextLen = 100
	mimeTypePDF   = "application/pdf"
)

var letterRun = regexp.MustCompile(`[a-zA-Z]{10,}`)

// ExtractText turns an uploaded payload into text for the parser. PDFs get a
// cheap heuristic over the first bytes; when that looks binary the result is
// empty and the parser falls back to the file name. Other types are read as
// UTF-8.
func ExtractText(data []byte, mimeType string) string {
	if strings.EqualFold(mimeType, mimeTypePDF) {
		head := data
		if len(head) > pdfSniffBytes {
			head = head[:pdfSniffBytes]
		}
		text := strings.ToValidUTF8(string(head), string(utf8.RuneError))
		if utf8.RuneCountInString(text) < pdfMinTextLen || !letterRun.MatchString(text) {
			return ""
		}
		return text
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}
