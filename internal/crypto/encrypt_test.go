package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func newTestSealer(t *testing.T) *AESSealer {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}
	s, err := NewAESSealer(key)
	if err != nil {
		t.Fatalf("NewAESSealer() failed: %v", err)
	}
	return s
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("GenerateKey() returned %d bytes, want 32", len(key))
	}

	key2, _ := GenerateKey()
	if bytes.Equal(key, key2) {
		t.Error("GenerateKey() returned identical keys, should be random")
	}
}

func TestEncodeDecodeKeyBase64(t *testing.T) {
	key, _ := GenerateKey()

	decoded, err := DecodeKeyBase64(EncodeKeyBase64(key))
	if err != nil {
		t.Fatalf("DecodeKeyBase64() failed: %v", err)
	}
	if !bytes.Equal(key, decoded) {
		t.Error("DecodeKeyBase64() returned different key than original")
	}
}

func TestDecodeKeyBase64_Invalid(t *testing.T) {
	if _, err := DecodeKeyBase64(EncodeKeyBase64(make([]byte, 16))); err == nil {
		t.Error("DecodeKeyBase64() should fail for non-32-byte key")
	}
	if _, err := DecodeKeyBase64("not-valid-base64!!!"); err == nil {
		t.Error("DecodeKeyBase64() should fail for invalid base64")
	}
}

func TestNewAESSealer_WrongKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 24, 31, 33} {
		if _, err := NewAESSealer(make([]byte, size)); err == nil {
			t.Errorf("NewAESSealer() should fail with %d byte key", size)
		}
	}
	if _, err := NewAESSealer(nil); err == nil {
		t.Error("NewAESSealer() should fail with nil key")
	}
}

func TestSealOpen(t *testing.T) {
	s := newTestSealer(t)
	aad := []byte("checkout:chk_1")

	tests := []struct {
		name      string
		plaintext string
	}{
		{"form data", `{"version":1,"state":{"step":"shipping"}}`},
		{"empty", ""},
		{"unicode", "Vodičkova 1, Praha"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := s.Seal([]byte(tt.plaintext), aad)
			if err != nil {
				t.Fatalf("Seal() failed: %v", err)
			}
			if len(sealed) == 0 {
				t.Fatal("Seal() returned empty payload")
			}

			opened, err := s.Open(sealed, aad)
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			if string(opened) != tt.plaintext {
				t.Errorf("Open() = %q, want %q", opened, tt.plaintext)
			}
		})
	}
}

func TestSeal_NonDeterministic(t *testing.T) {
	s := newTestSealer(t)

	a, _ := s.Seal([]byte("test"), nil)
	b, _ := s.Seal([]byte("test"), nil)
	if bytes.Equal(a, b) {
		t.Error("Seal() returned identical payloads, should use random nonce")
	}
}

func TestOpen_Failures(t *testing.T) {
	s := newTestSealer(t)
	other := newTestSealer(t)

	sealed, _ := s.Seal([]byte("secret data"), []byte("checkout:chk_1"))

	t.Run("wrong key", func(t *testing.T) {
		if _, err := other.Open(sealed, []byte("checkout:chk_1")); err == nil {
			t.Error("Open() should fail with wrong key")
		}
	})

	t.Run("wrong associated data", func(t *testing.T) {
		if _, err := s.Open(sealed, []byte("checkout:chk_2")); err == nil {
			t.Error("Open() should fail when payload is moved to another key")
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		if _, err := s.Open([]byte("not-valid-base64!!!"), nil); err == nil {
			t.Error("Open() should fail with invalid base64")
		}
	})

	t.Run("too short", func(t *testing.T) {
		_, err := s.Open([]byte(EncodeKeyBase64([]byte("short"))), nil)
		if !errors.Is(err, ErrCiphertextTooShort) {
			t.Errorf("Open() error = %v, want ErrCiphertextTooShort", err)
		}
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		if tampered[10] == 'A' {
			tampered[10] = 'B'
		} else {
			tampered[10] = 'A'
		}
		if _, err := s.Open(tampered, []byte("checkout:chk_1")); err == nil {
			t.Error("Open() should fail with tampered payload")
		}
	})
}
