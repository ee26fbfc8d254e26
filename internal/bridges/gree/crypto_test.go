package gree

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const testKey = "0123456789abcdef"

func TestECBCodec_RoundTrip(t *testing.T) {
	codec := ECBCodec{}
	plaintext := []byte(`{"t":"bind","mac":"f4911e123456","uid":0}`)

	pack, tag, err := codec.Encrypt(testKey, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if tag != "" {
		t.Errorf("Encrypt() tag = %q, want empty for ECB", tag)
	}

	got, err := codec.Decrypt(testKey, pack, "")
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("Decrypt() = %s, want %s", got, plaintext)
	}
}

func TestECBCodec_MultiBlock(t *testing.T) {
	codec := ECBCodec{}

	// Long payload spanning several AES blocks
	plaintext := []byte(`{"t":"status","mac":"f4911e123456","cols":["Pow","Mod","SetTem","TemUn","WdSpd","Air","Blo","Health","SwhSlp","Lig"]}`)

	pack, _, err := codec.Encrypt(testKey, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(pack)
	if err != nil {
		t.Fatalf("pack is not base64: %v", err)
	}
	if len(raw)%16 != 0 {
		t.Errorf("ciphertext length %d is not a block multiple", len(raw))
	}

	got, err := codec.Decrypt(testKey, pack, "")
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("Decrypt() = %s, want %s", got, plaintext)
	}
}

func TestECBCodec_WrongKeyFailsClosed(t *testing.T) {
	codec := ECBCodec{}

	pack, _, err := codec.Encrypt(testKey, []byte(`{"t":"dev"}`))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	_, err = codec.Decrypt("fedcba9876543210", pack, "")
	if !errors.Is(err, ErrCrypto) {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrCrypto", err)
	}
}

func TestECBCodec_Decrypt_Invalid(t *testing.T) {
	codec := ECBCodec{}

	tests := []struct {
		name string
		pack string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"empty", ""},
		{"not block aligned", base64.StdEncoding.EncodeToString([]byte("short"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Decrypt(testKey, tt.pack, ""); !errors.Is(err, ErrCrypto) {
				t.Errorf("Decrypt() error = %v, want ErrCrypto", err)
			}
		})
	}
}

func TestECBCodec_BadKeyLength(t *testing.T) {
	codec := ECBCodec{}
	if _, _, err := codec.Encrypt("short", []byte("{}")); !errors.Is(err, ErrCrypto) {
		t.Errorf("Encrypt() with bad key error = %v, want ErrCrypto", err)
	}
}

func TestGCMCodec_RoundTrip(t *testing.T) {
	codec := GCMCodec{}
	plaintext := []byte(`{"t":"bindok","mac":"f4911e123456","key":"sessionkey123456"}`)

	pack, tag, err := codec.Encrypt(testKey, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if tag == "" {
		t.Fatal("Encrypt() returned empty tag for GCM")
	}

	rawTag, err := base64.StdEncoding.DecodeString(tag)
	if err != nil {
		t.Fatalf("tag is not base64: %v", err)
	}
	if len(rawTag) != 16 {
		t.Errorf("tag length = %d, want 16", len(rawTag))
	}

	got, err := codec.Decrypt(testKey, pack, tag)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("Decrypt() = %s, want %s", got, plaintext)
	}
}

func TestGCMCodec_WrongKey(t *testing.T) {
	codec := GCMCodec{}

	pack, tag, err := codec.Encrypt(testKey, []byte(`{"t":"dev"}`))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := codec.Decrypt("fedcba9876543210", pack, tag); !errors.Is(err, ErrCrypto) {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrCrypto", err)
	}
}

func TestGCMCodec_TamperedTag(t *testing.T) {
	codec := GCMCodec{}

	pack, _, err := codec.Encrypt(testKey, []byte(`{"t":"dev"}`))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	forged := base64.StdEncoding.EncodeToString(make([]byte, 16))
	if _, err := codec.Decrypt(testKey, pack, forged); !errors.Is(err, ErrCrypto) {
		t.Errorf("Decrypt() with forged tag error = %v, want ErrCrypto", err)
	}
}

func TestCodecFor(t *testing.T) {
	if _, ok := CodecFor(false).(ECBCodec); !ok {
		t.Error("CodecFor(false) is not ECBCodec")
	}
	if _, ok := CodecFor(true).(GCMCodec); !ok {
		t.Error("CodecFor(true) is not GCMCodec")
	}
}

func TestHandshakeKeys(t *testing.T) {
	// Both handshake keys must be valid AES-128 keys.
	for _, codec := range []Codec{ECBCodec{}, GCMCodec{}} {
		key := codec.HandshakeKey()
		if len(key) != 16 {
			t.Errorf("handshake key length = %d, want 16", len(key))
		}
		if _, _, err := codec.Encrypt(key, []byte(`{"t":"scan"}`)); err != nil {
			t.Errorf("Encrypt() with handshake key error = %v", err)
		}
	}

	if (ECBCodec{}).HandshakeKey() == (GCMCodec{}).HandshakeKey() {
		t.Error("cipher variants share a handshake key")
	}
}

func TestPKCS7Pad(t *testing.T) {
	tests := []struct {
		dataLen int
		wantLen int
		wantPad byte
	}{
		{0, 16, 16},
		{1, 16, 15},
		{15, 16, 1},
		{16, 32, 16},
		{17, 32, 15},
	}

	for _, tt := range tests {
		padded := pkcs7Pad([]byte(strings.Repeat("x", tt.dataLen)), 16)
		if len(padded) != tt.wantLen {
			t.Errorf("pkcs7Pad(len %d) length = %d, want %d", tt.dataLen, len(padded), tt.wantLen)
		}
		if padded[len(padded)-1] != tt.wantPad {
			t.Errorf("pkcs7Pad(len %d) last byte = %d, want %d", tt.dataLen, padded[len(padded)-1], tt.wantPad)
		}
	}
}
