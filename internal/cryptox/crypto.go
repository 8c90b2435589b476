// Package cryptox implements the envelope encryption Intune requires for
// mobile app content: AES-256-CBC over the installer payload, an HMAC-SHA256
// over IV and ciphertext, and a SHA-256 digest of the plaintext. The key
// material travels separately in the content-file commit call, so the storage
// tier never holds keys and ciphertext together.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/brewtune/brewtune/internal/common"
)

const (
	keySize = 32
	ivSize  = aes.BlockSize
	macSize = sha256.Size
)

// FileEncryptionInfo carries the four cryptographic artifacts the Graph
// commit call needs, plus the digest of the unencrypted payload. It must be
// held in memory until the commit succeeds and discarded afterwards.
type FileEncryptionInfo struct {
	EncryptionKey []byte
	MacKey        []byte
	IV            []byte
	Mac           []byte
	Digest        []byte
}

// GenerateRandByteArray returns size cryptographically random bytes.
func GenerateRandByteArray(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// EncryptFile encrypts the file at path into a sibling file with a ".bin"
// suffix and returns its path together with the encryption envelope.
//
// The emitted file layout is exactly: mac(32) ‖ IV(16) ‖ ciphertext. The mac
// covers IV‖ciphertext, never the plaintext; the digest covers the plaintext
// only. The caller owns both files and is responsible for deleting them.
func EncryptFile(path string) (string, *FileEncryptionInfo, error) {
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("reading plaintext: %w", err)
	}

	key, err := GenerateRandByteArray(keySize)
	if err != nil {
		return "", nil, fmt.Errorf("%w: key: %v", common.ErrEncryptionFailed, err)
	}
	macKey, err := GenerateRandByteArray(keySize)
	if err != nil {
		return "", nil, fmt.Errorf("%w: mac key: %v", common.ErrEncryptionFailed, err)
	}
	iv, err := GenerateRandByteArray(ivSize)
	if err != nil {
		return "", nil, fmt.Errorf("%w: iv: %v", common.ErrEncryptionFailed, err)
	}

	ciphertext, err := encryptCBC(plaintext, key, iv)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", common.ErrEncryptionFailed, err)
	}

	digest := sha256.Sum256(plaintext)

	h := hmac.New(sha256.New, macKey)
	h.Write(iv)
	h.Write(ciphertext)
	mac := h.Sum(nil)

	encPath := path + ".bin"
	out := make([]byte, 0, macSize+ivSize+len(ciphertext))
	out = append(out, mac...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	if err := os.WriteFile(encPath, out, 0o600); err != nil {
		return "", nil, fmt.Errorf("writing encrypted file: %w", err)
	}

	info := &FileEncryptionInfo{
		EncryptionKey: key,
		MacKey:        macKey,
		IV:            iv,
		Mac:           mac,
		Digest:        digest[:],
	}
	return encPath, info, nil
}

// DecryptFile reverses EncryptFile: it verifies the embedded mac against the
// envelope's mac key and returns the decrypted payload.
func DecryptFile(encPath string, info *FileEncryptionInfo) ([]byte, error) {
	data, err := os.ReadFile(encPath)
	if err != nil {
		return nil, fmt.Errorf("reading encrypted file: %w", err)
	}
	if len(data) < macSize+ivSize+aes.BlockSize {
		return nil, errors.New("encrypted file too short")
	}

	mac := data[:macSize]
	iv := data[macSize : macSize+ivSize]
	ciphertext := data[macSize+ivSize:]

	h := hmac.New(sha256.New, info.MacKey)
	h.Write(iv)
	h.Write(ciphertext)
	if !hmac.Equal(mac, h.Sum(nil)) {
		return nil, errors.New("mac mismatch")
	}

	return decryptCBC(ciphertext, info.EncryptionKey, iv)
}

func encryptCBC(plaintext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func decryptCBC(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not block-aligned")
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded, aes.BlockSize)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
