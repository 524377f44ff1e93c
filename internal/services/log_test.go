package services

import (
	"encoding/binary"
	"testing"
)

func TestLogStringParsesLengthPrefixedField(t *testing.T) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], 5)
	copy(buf[4:], "hello")

	if got := logString(buf, 0); got != "hello" {
		t.Fatalf("logString = %q, want %q", got, "hello")
	}
}

func TestLogStringRejectsOutOfRangeLength(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], 100)

	if got := logString(buf, 0); got != "<invalid>" {
		t.Fatalf("logString = %q, want <invalid>", got)
	}
}

func TestLogStringRejectsShortBuffer(t *testing.T) {
	if got := logString([]byte{1, 2}, 0); got != "" {
		t.Fatalf("logString = %q, want empty", got)
	}
}

func TestNameFromMessageBoundaries(t *testing.T) {
	buf := make([]byte, 8)
	copy(buf, "abc")

	if _, ok := nameFromMessage(buf, 0); ok {
		t.Fatal("zero-length name should be rejected")
	}
	if name, ok := nameFromMessage(buf, 3); !ok || name != "abc" {
		t.Fatalf("nameFromMessage(buf, 3) = %q, %v", name, ok)
	}
	if name, ok := nameFromMessage(buf, 100); !ok || name != string(buf) {
		t.Fatalf("nameFromMessage should clamp to buffer length, got %q, %v", name, ok)
	}
}
