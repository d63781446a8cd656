// Package nip4 implements the directed-message payload cipher: a shared
// secret derived by secp256k1 key agreement, AES-256-CBC encryption with a
// fresh random IV, and the "<ciphertext>?iv=<iv>" base64 payload form.
package nip4

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// DecryptionError reports a payload that could not be decrypted: wrong key,
// damaged ciphertext or a malformed payload. Callers must treat it as "not
// for me", never as fatal.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "failed to decrypt: " + e.Reason
}

func decryptErr(format string, a ...interface{}) error {
	return &DecryptionError{Reason: fmt.Sprintf(format, a...)}
}

// ComputeSharedSecret derives the 32-byte symmetric key shared between the
// holder of sk and the holder of the secret key behind pub. Deterministic for
// a given key pair, and symmetric: both ends derive the same key.
func ComputeSharedSecret(pub string, sk string) ([]byte, error) {
	secKeyBytes, err := hex.DecodeString(sk)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key hex: %w", err)
	}
	secKey, _ := btcec.PrivKeyFromBytes(secKeyBytes)

	// the wire key is x-only; even parity is implied for key agreement.
	pubKeyBytes, err := hex.DecodeString("02" + pub)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex '%s': %w", pub, err)
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid public key '%s': %w", pub, err)
	}

	return btcec.GenerateSharedSecret(secKey, pubKey), nil
}

// Encrypt encrypts the message with the shared key, embedding a fresh random
// IV in the output. The IV is never reused across calls.
func Encrypt(message string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("invalid shared key: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err = rand.Read(iv); err != nil {
		return "", fmt.Errorf("error creating initialization vector: %w", err)
	}

	// automatically picks aes-256 based on key length (32 bytes)
	mode := cipher.NewCBCEncrypter(block, iv)

	plaintext := []byte(message)
	padding := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padding)
	copy(padded, plaintext)
	// add padding per PKCS#7
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padding)
	}

	ciphertext := make([]byte, len(padded))
	mode.CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) +
		"?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt inverts Encrypt. All failure paths return a *DecryptionError.
func Decrypt(content string, key []byte) (string, error) {
	parts := strings.Split(content, "?iv=")
	if len(parts) < 2 {
		return "", decryptErr("no initialization vector")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", decryptErr("invalid base64 ciphertext: %v", err)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", decryptErr("invalid base64 initialization vector: %v", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", decryptErr("invalid shared key: %v", err)
	}
	if len(iv) != aes.BlockSize {
		return "", decryptErr("initialization vector is not %d bytes",
			aes.BlockSize)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", decryptErr("ciphertext is not a multiple of the block size")
	}

	mode := cipher.NewCBCDecrypter(block, iv)
	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	// remove and verify PKCS#7 padding; garbage padding means a wrong key.
	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(plaintext) {
		return "", decryptErr("invalid padding")
	}
	for _, b := range plaintext[len(plaintext)-padding:] {
		if int(b) != padding {
			return "", decryptErr("invalid padding")
		}
	}

	return string(plaintext[:len(plaintext)-padding]), nil
}
