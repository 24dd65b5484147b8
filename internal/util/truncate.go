package util

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncateBytes trims input so the result, marker included, fits in maxBytes.
// The cut never splits a UTF-8 sequence. It reports whether anything was cut.
func TruncateBytes(input string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(input) <= maxBytes {
		return input, false
	}
	marker := truncationMarker(len(input) - maxBytes)
	keep := maxBytes - len(marker)
	if keep <= 0 {
		return marker[:maxBytes], true
	}
	// recompute once: the dropped count grows by the marker length
	marker = truncationMarker(len(input) - keep)
	keep = maxBytes - len(marker)
	if keep < 0 {
		keep = 0
	}
	for keep > 0 && !utf8.RuneStart(input[keep]) {
		keep--
	}
	return input[:keep] + marker, true
}

func truncationMarker(dropped int) string {
	return fmt.Sprintf("\n...[truncated %d bytes]", dropped)
}

// TruncateLinesAndBytes limits lines and total byte count.
func TruncateLinesAndBytes(lines []string, maxLines int, maxBytes int) (out []string, truncated bool, byteCount int) {
	if maxLines <= 0 && maxBytes <= 0 {
		return lines, false, len(strings.Join(lines, "\n"))
	}
	for _, line := range lines {
		if maxLines > 0 && len(out) >= maxLines {
			truncated = true
			break
		}
		lineBytes := len(line)
		sep := 0
		if len(out) > 0 {
			sep = 1
		}
		if maxBytes > 0 && byteCount+sep+lineBytes > maxBytes {
			truncated = true
			break
		}
		if sep == 1 {
			byteCount++
		}
		byteCount += lineBytes
		out = append(out, line)
	}
	return out, truncated, byteCount
}

// Preview returns a short preview of text by limiting lines and bytes.
func Preview(text string, maxLines int, maxBytes int) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	trimmed, _, _ := TruncateLinesAndBytes(lines, maxLines, maxBytes)
	return strings.Join(trimmed, "\n")
}
