package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(b byte) string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{b}, 32))
}

func TestNewAESEncryptor(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		errorMsg string
	}{
		{name: "empty key", key: "", errorMsg: "encryption key is empty"},
		{name: "invalid base64", key: "not-valid-base64!@#$", errorMsg: "base64 decode failed"},
		{name: "key too short", key: base64.StdEncoding.EncodeToString(make([]byte, 16)), errorMsg: "must be 32 bytes"},
		{name: "valid 32-byte key", key: testKey(7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)
			if tt.errorMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
					t.Fatalf("NewAESEncryptor() error = %v, want containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil || enc == nil {
				t.Fatalf("NewAESEncryptor() = %v, %v", enc, err)
			}
		})
	}
}

func TestEncryptString_RoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(1))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	for _, s := range []string{"xoxb-123-456", "xoxe-1-refresh", strings.Repeat("x", 4096)} {
		sealed, err := EncryptString(enc, s)
		if err != nil {
			t.Fatalf("EncryptString(%q): %v", s, err)
		}
		if sealed == s {
			t.Fatalf("EncryptString returned plaintext")
		}
		got, err := DecryptString(enc, sealed)
		if err != nil {
			t.Fatalf("DecryptString: %v", err)
		}
		if got != s {
			t.Errorf("round trip = %q, want %q", got, s)
		}
	}

	if s, err := EncryptString(enc, ""); err != nil || s != "" {
		t.Errorf("EncryptString(\"\") = %q, %v; want empty", s, err)
	}
}

func TestEncrypt_NonceIsRandom(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(2))
	a, _ := enc.Encrypt([]byte("same"))
	b, _ := enc.Encrypt([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecrypt_TamperedOrWrongKey(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(3))
	other, _ := NewAESEncryptor(testKey(4))

	ct, err := enc.Encrypt([]byte("xoxb-token"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := other.Decrypt(ct); err == nil {
		t.Error("Decrypt with wrong key succeeded")
	}

	tampered := append([]byte{}, ct...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := enc.Decrypt(tampered); err == nil {
		t.Error("Decrypt of tampered ciphertext succeeded")
	}

	if _, err := enc.Decrypt([]byte{1, 2}); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Errorf("Decrypt(short) error = %v", err)
	}
}

func TestSealOpenTokens(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(5))

	a, r, v, err := SealTokens(nil, "access", "refresh")
	if err != nil || a != "access" || r != "refresh" || v != VersionPlaintext {
		t.Fatalf("SealTokens(nil) = %q %q %d %v", a, r, v, err)
	}

	a, r, v, err = SealTokens(enc, "access", "")
	if err != nil {
		t.Fatalf("SealTokens: %v", err)
	}
	if v != VersionAESGCM || a == "access" || r != "" {
		t.Fatalf("SealTokens(enc) = %q %q %d", a, r, v)
	}

	gotA, gotR, err := OpenTokens(enc, a, r, v)
	if err != nil || gotA != "access" || gotR != "" {
		t.Fatalf("OpenTokens = %q %q %v", gotA, gotR, err)
	}

	if _, _, err := OpenTokens(nil, a, r, v); !errors.Is(err, ErrKeyRequired) {
		t.Errorf("OpenTokens without key error = %v, want ErrKeyRequired", err)
	}
	if _, _, err := OpenTokens(enc, a, r, 9); err == nil {
		t.Error("OpenTokens accepted unknown version")
	}
}
