package util

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateBytesWithinLimit(t *testing.T) {
	out, truncated := TruncateBytes("hello", 10)
	if truncated || out != "hello" {
		t.Fatalf("expected untouched output, got %q %v", out, truncated)
	}
}

func TestTruncateBytesAddsMarker(t *testing.T) {
	input := strings.Repeat("x", 500)
	out, truncated := TruncateBytes(input, 100)
	if !truncated {
		t.Fatalf("expected truncation")
	}
	if len(out) > 100 {
		t.Fatalf("expected at most 100 bytes, got %d", len(out))
	}
	if !strings.Contains(out, "[truncated") {
		t.Fatalf("expected truncation marker, got %q", out)
	}
}

func TestTruncateBytesKeepsRunesWhole(t *testing.T) {
	input := strings.Repeat("é", 200)
	out, truncated := TruncateBytes(input, 101)
	if !truncated {
		t.Fatalf("expected truncation")
	}
	if !utf8.ValidString(out) {
		t.Fatalf("expected valid utf-8 after truncation")
	}
}

func TestTruncateBytesTinyBudget(t *testing.T) {
	out, truncated := TruncateBytes(strings.Repeat("x", 50), 5)
	if !truncated || len(out) != 5 {
		t.Fatalf("expected 5 byte marker, got %q", out)
	}
}

func TestPreview(t *testing.T) {
	text := "a\nb\nc\nd"
	if got := Preview(text, 2, 100); got != "a\nb" {
		t.Fatalf("unexpected preview %q", got)
	}
}
