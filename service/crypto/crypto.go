package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Cipher encrypts delivery credentials at rest. The wire format is
// base64(iv || hmac-sha256(ciphertext) || ciphertext) with AES-256-CBC, so the
// integrity check runs before any decryption.
type Cipher struct {
	key []byte
}

// NewCipher derives a fixed-size key from the configured secret.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption key is not configured")
	}
	key := sha256.Sum256([]byte(secret))
	return &Cipher{key: key[:]}, nil
}

// Encrypt seals a plaintext credential.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := hmac.New(sha256.New, c.key)
	mac.Write(ciphertext)

	payload := append(append(iv, mac.Sum(nil)...), ciphertext...)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens a sealed credential, failing on any integrity mismatch.
func (c *Cipher) Decrypt(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("invalid encrypted payload: %w", err)
	}

	if len(raw) < aes.BlockSize+sha256.Size+aes.BlockSize {
		return "", fmt.Errorf("invalid encrypted payload: too short")
	}

	iv := raw[:aes.BlockSize]
	mac := raw[aes.BlockSize : aes.BlockSize+sha256.Size]
	ciphertext := raw[aes.BlockSize+sha256.Size:]

	if len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("invalid encrypted payload: bad block length")
	}

	expected := hmac.New(sha256.New, c.key)
	expected.Write(ciphertext)
	if !hmac.Equal(mac, expected.Sum(nil)) {
		return "", fmt.Errorf("integrity check failed")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("invalid encrypted payload: %w", err)
	}
	return string(unpadded), nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("bad padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("bad padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("bad padding")
		}
	}
	return data[:len(data)-n], nil
}
