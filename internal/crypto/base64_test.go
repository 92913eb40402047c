package crypto

import (
	"bytes"
	"fmt"
	"testing"
)

func TestBase64RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello")},
		{"binary zeros", []byte{0x00, 0x00, 0x00}},
		{"binary all ones", []byte{0xff, 0xff, 0xff}},
		{"binary mixed", []byte{0x00, 0xff, 0x7f, 0x80}},
		{"single byte", []byte{0x42}},
		{"two bytes", []byte{0x42, 0x43}},
		{"large data", make([]byte, 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeBase64(tt.data)
			decoded, err := DecodeBase64(encoded)
			if err != nil {
				t.Fatalf("DecodeBase64() error = %v", err)
			}
			if !bytes.Equal(decoded, tt.data) {
				t.Errorf("round trip failed: got %v, want %v", decoded, tt.data)
			}
		})
	}
}

func TestEncodeBase64_StandardEncoding(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"empty", []byte{}, ""},
		{"hello", []byte("hello"), "aGVsbG8="},
		{"one byte", []byte("a"), "YQ=="},
		{"three bytes", []byte("abc"), "YWJj"},
		{"non url-safe", []byte{0xfb, 0xff, 0x3f, 0xff}, "+/8//w=="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeBase64(tt.data); got != tt.expected {
				t.Errorf("EncodeBase64() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestDecodeBase64_MultipleFormats(t *testing.T) {
	original := []byte("hello world")

	tests := []struct {
		name    string
		encoded string
	}{
		{"standard encoding", "aGVsbG8gd29ybGQ="},
		{"standard without padding", "aGVsbG8gd29ybGQ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeBase64(tt.encoded)
			if err != nil {
				t.Fatalf("DecodeBase64() error = %v", err)
			}
			if !bytes.Equal(decoded, original) {
				t.Errorf("DecodeBase64() = %v, want %v", decoded, original)
			}
		})
	}
}

func TestDecodeBase64_URLSafeChars(t *testing.T) {
	decoded, err := DecodeBase64("-_8_-w==")
	if err != nil {
		t.Fatalf("DecodeBase64() with URL-safe chars failed: %v", err)
	}
	if !bytes.Equal(decoded, []byte{0xfb, 0xff, 0x3f, 0xfb}) {
		t.Errorf("DecodeBase64() = %x", decoded)
	}
}

func TestDecodeBase64_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"invalid chars", "!!!invalid!!!"},
		{"spaces in middle", "aGVs bG8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeBase64(tt.input); err == nil {
				t.Error("expected error for invalid input")
			}
		})
	}
}

// Example_base64Encoding demonstrates the wire encoding for key material.
func Example_base64Encoding() {
	encoded := EncodeBase64([]byte("Hello, World!"))
	fmt.Println(encoded)

	decoded, _ := DecodeBase64(encoded)
	fmt.Println(string(decoded))

	// Output:
	// SGVsbG8sIFdvcmxkIQ==
	// Hello, World!
}
