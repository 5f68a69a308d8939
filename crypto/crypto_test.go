package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newTestEncryptor(t *testing.T) *AESEncryptor {
	t.Helper()
	key, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey() error = %v", err)
	}
	enc, err := NewAESEncryptor(key)
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}
	return enc
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
		{name: "key too long", key: base64.StdEncoding.EncodeToString(make([]byte, 64)), errorMsg: "must be 32 bytes"},
		{name: "valid 32-byte key", key: base64.StdEncoding.EncodeToString(make([]byte, 32))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)
			if tt.errorMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("NewAESEncryptor() error = %v, want error containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil || enc == nil {
				t.Errorf("NewAESEncryptor() = %v, %v", enc, err)
			}
		})
	}
}

func TestEncryptDecrypt(t *testing.T) {
	enc := newTestEncryptor(t)

	for _, pt := range []string{"oauth:abc123", strings.Repeat("a", 1000), "Hello 世界"} {
		ct, err := enc.Encrypt([]byte(pt))
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if bytes.Contains(ct, []byte(pt)) {
			t.Errorf("ciphertext contains plaintext %q", pt)
		}
		got, err := enc.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if string(got) != pt {
			t.Errorf("Decrypt() = %q, want %q", got, pt)
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	enc := newTestEncryptor(t)
	a, _ := enc.Encrypt([]byte("same"))
	b, _ := enc.Encrypt([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc := newTestEncryptor(t)
	ct, err := enc.Encrypt([]byte("refresh-token"))
	if err != nil {
		t.Fatal(err)
	}
	ct[len(ct)-1] ^= 0xff
	if _, err := enc.Decrypt(ct); !errors.Is(err, ErrTampered) {
		t.Errorf("Decrypt(tampered) error = %v, want ErrTampered", err)
	}
	if _, err := enc.Decrypt(ct[:4]); !errors.Is(err, ErrTruncated) {
		t.Errorf("Decrypt(short) error = %v, want ErrTruncated", err)
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	a := newTestEncryptor(t)
	b := newTestEncryptor(t)
	ct, _ := a.Encrypt([]byte("secret"))
	if _, err := b.Decrypt(ct); err == nil {
		t.Error("Decrypt with a different key succeeded")
	}
}

func TestStringHelpers(t *testing.T) {
	enc := newTestEncryptor(t)

	empty, err := EncryptString(enc, "")
	if err != nil || empty != "" {
		t.Errorf("EncryptString(\"\") = %q, %v", empty, err)
	}
	s, err := EncryptString(enc, "access")
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecryptString(enc, s)
	if err != nil || got != "access" {
		t.Errorf("DecryptString() = %q, %v", got, err)
	}
	if _, err := DecryptString(enc, "%%%"); err == nil {
		t.Error("DecryptString accepted invalid base64")
	}
}
