package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptPrivateKey and DecryptPrivateKey protect settlementInfra.privateKey
// at rest, e.g. when a config file on disk stores the encrypted form and the
// operator supplies kek (the key-encryption key) out of band. Grounded on
// core/security.go's Encrypt/Decrypt: XChaCha20-Poly1305, nonce||ciphertext||tag.
func EncryptPrivateKey(kek []byte, plaintextKey string) (string, error) {
	if len(kek) != chacha20poly1305.KeySize {
		return "", errors.New("config: kek must be 32 bytes")
	}
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := aead.Seal(nil, nonce, []byte(plaintextKey), nil)
	return hex.EncodeToString(append(nonce, ct...)), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey. Returns the plaintext key
// ready for use by core/claims's signer.
func DecryptPrivateKey(kek []byte, encoded string) (string, error) {
	if len(kek) != chacha20poly1305.KeySize {
		return "", errors.New("config: kek must be 32 bytes")
	}
	blob, err := hex.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	minLen := chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minLen {
		return "", errors.New("config: encrypted private key too short")
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return "", err
	}
	pt, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
