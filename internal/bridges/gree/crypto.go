package gree

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Well-known handshake keys baked into Gree firmware. Scan and bind
// exchanges are encrypted with these; everything after bind uses the
// per-device session key returned in the bindok response.
const (
	// ecbHandshakeKey is the generic key for the original ECB firmware.
	ecbHandshakeKey = "a3K8Bx%2r8Y7#xDh"

	// gcmHandshakeKey is the generic key for V2+ (GCM) firmware.
	gcmHandshakeKey = "{yxAHAY_Lm6pbC/<"
)

// gcmNonce is the fixed nonce used by GCM firmware. The protocol reuses
// it for every message; confidentiality rests on the per-device key.
var gcmNonce = []byte{0x54, 0x40, 0x78, 0x44, 0x49, 0x67, 0x5a, 0x51, 0x6c, 0x5e, 0x63, 0x13}

// gcmAAD is the additional authenticated data GCM firmware expects.
var gcmAAD = []byte("qualcomm-test")

const gcmTagSize = 16

// Codec encrypts and decrypts pack payloads for one cipher variant.
//
// Encrypt returns the base64 pack and, for GCM, a separate base64 tag.
// Decrypt is fail-closed: a wrong key or corrupted input yields ErrCrypto,
// never silent garbage. Decrypted bytes are validated as JSON because
// AES-ECB has no integrity check of its own.
type Codec interface {
	// Encrypt seals plaintext with the given key.
	Encrypt(key string, plaintext []byte) (pack string, tag string, err error)

	// Decrypt opens a pack with the given key. tag is empty for ECB.
	Decrypt(key string, pack string, tag string) ([]byte, error)

	// HandshakeKey returns the well-known key used before bind.
	HandshakeKey() string
}

// CodecFor returns the codec for a device's cipher variant.
func CodecFor(useGCM bool) Codec {
	if useGCM {
		return GCMCodec{}
	}
	return ECBCodec{}
}

// ECBCodec implements the original AES-128-ECB cipher with PKCS7 padding.
type ECBCodec struct{}

// HandshakeKey returns the generic ECB firmware key.
func (ECBCodec) HandshakeKey() string { return ecbHandshakeKey }

// Encrypt pads the plaintext to the AES block size and encrypts each
// block independently. The result is standard base64.
func (ECBCodec) Encrypt(key string, plaintext []byte) (string, string, error) {
	block, err := newBlockCipher(key)
	if err != nil {
		return "", "", err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	for i := 0; i < len(padded); i += aes.BlockSize {
		block.Encrypt(ciphertext[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
	}

	return base64.StdEncoding.EncodeToString(ciphertext), "", nil
}

// Decrypt reverses Encrypt. ECB with a wrong key still "succeeds"
// mechanically, so the plaintext is trimmed at the last closing brace
// (devices pad with garbage past the JSON) and validated as JSON.
// Anything that does not survive validation is reported as ErrCrypto.
func (ECBCodec) Decrypt(key string, pack string, _ string) ([]byte, error) {
	block, err := newBlockCipher(key)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(pack)
	if err != nil {
		return nil, fmt.Errorf("%w: pack is not valid base64: %w", ErrCrypto, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d not a block multiple", ErrCrypto, len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += aes.BlockSize {
		block.Decrypt(plaintext[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
	}

	// Trim at the last closing brace rather than unpadding: some firmware
	// pads with junk bytes that are not valid PKCS7.
	end := bytes.LastIndexByte(plaintext, '}')
	if end < 0 {
		return nil, fmt.Errorf("%w: decrypted payload is not JSON", ErrCrypto)
	}
	plaintext = plaintext[:end+1]

	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("%w: decrypted payload is not JSON", ErrCrypto)
	}

	return plaintext, nil
}

// GCMCodec implements the AES-128-GCM cipher used by V2+ firmware.
// The nonce is fixed and the tag travels as a separate envelope field.
type GCMCodec struct{}

// HandshakeKey returns the generic GCM firmware key.
func (GCMCodec) HandshakeKey() string { return gcmHandshakeKey }

// Encrypt seals the plaintext and splits the GCM tag into its own field,
// matching the device's envelope format.
func (GCMCodec) Encrypt(key string, plaintext []byte) (string, string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", "", err
	}

	sealed := aead.Seal(nil, gcmNonce, plaintext, gcmAAD)
	if len(sealed) < gcmTagSize {
		return "", "", fmt.Errorf("%w: sealed payload shorter than tag", ErrCrypto)
	}

	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	return base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(tag), nil
}

// Decrypt opens pack+tag. GCM authenticates, so a wrong key or tampered
// input fails here without any JSON heuristics.
func (GCMCodec) Decrypt(key string, pack string, tag string) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(pack)
	if err != nil {
		return nil, fmt.Errorf("%w: pack is not valid base64: %w", ErrCrypto, err)
	}
	tagBytes, err := base64.StdEncoding.DecodeString(tag)
	if err != nil {
		return nil, fmt.Errorf("%w: tag is not valid base64: %w", ErrCrypto, err)
	}

	plaintext, err := aead.Open(nil, gcmNonce, append(ciphertext, tagBytes...), gcmAAD)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	// Some firmware pads the plaintext with trailing 0xff bytes.
	plaintext = bytes.TrimRight(plaintext, "\xff")

	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("%w: decrypted payload is not JSON", ErrCrypto)
	}

	return plaintext, nil
}

// newBlockCipher creates the AES block cipher, mapping key-size errors
// to ErrCrypto.
func newBlockCipher(key string) (cipher.Block, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return block, nil
}

// newGCM creates the AEAD with the protocol's 12-byte nonce size.
func newGCM(key string) (cipher.AEAD, error) {
	block, err := newBlockCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, len(gcmNonce))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return aead, nil
}

// pkcs7Pad appends PKCS7 padding up to the block size.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}
