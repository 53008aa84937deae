package storage

import (
	"testing"
	"time"
)

func TestParseTimestampFromKeyValidDate(t *testing.T) {
	ts, ok := parseTimestampFromKey("30-07-2026/1690000000000.png")
	if !ok {
		t.Fatalf("expected a valid DD-MM-YYYY prefix to parse")
	}
	want := time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC).Unix()
	if ts != want {
		t.Fatalf("got %d, want %d", ts, want)
	}
}

func TestParseTimestampFromKeyMissingSeparator(t *testing.T) {
	if _, ok := parseTimestampFromKey("not-a-dated-key"); ok {
		t.Fatalf("a key with no '/' segment cannot carry a date prefix")
	}
}

func TestParseTimestampFromKeyMalformedDate(t *testing.T) {
	if _, ok := parseTimestampFromKey("2026-07-30/face_120000.png"); ok {
		t.Fatalf("ISO-ordered date should not match the DD-MM-YYYY layout")
	}
}
