package realtime

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// FrameEncryptor applies AES-256-GCM to WebSocket frames in production mode.
// An encrypted frame is itself JSON: {"encrypted":true,"payload":"<base64
// nonce+ciphertext>"}, so the transport stays text either way.
type FrameEncryptor struct {
	aead cipher.AEAD
}

// NewFrameEncryptor creates a FrameEncryptor with the given 32-byte AES-256
// key.
func NewFrameEncryptor(key []byte) (*FrameEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("frame encryptor: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("frame encryptor: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("frame encryptor: create GCM: %w", err)
	}

	return &FrameEncryptor{aead: aead}, nil
}

type encryptedFrame struct {
	Encrypted bool   `json:"encrypted"`
	Payload   string `json:"payload"`
}

// Encrypt seals the plaintext frame and wraps it in the encrypted envelope.
// The nonce is prepended to the ciphertext before base64 encoding.
func (e *FrameEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("frame encrypt: generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	return json.Marshal(encryptedFrame{
		Encrypted: true,
		Payload:   base64.StdEncoding.EncodeToString(sealed),
	})
}

// Decrypt unwraps an encrypted envelope back to the plaintext frame. Frames
// that do not carry the envelope are returned unchanged, so mixed traffic
// (e.g. a client that has not enabled encryption yet) still parses.
func (e *FrameEncryptor) Decrypt(raw []byte) ([]byte, error) {
	var env encryptedFrame
	if err := json.Unmarshal(raw, &env); err != nil || !env.Encrypted {
		return raw, nil
	}

	data, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("frame decrypt: base64 decode: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("frame decrypt: ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("frame decrypt: %w", err)
	}
	return plaintext, nil
}
