package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

const maxTranscriptBytes = 8 << 20

// TranscriptFromPDF extracts the plain text of a PDF meeting transcript.
func TranscriptFromPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(text, maxTranscriptBytes)); err != nil {
		return "", fmt.Errorf("reading text from %s: %w", path, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
