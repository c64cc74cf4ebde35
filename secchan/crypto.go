package secchan

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/duskforge/opcuacore/cmn"
)

// Profile is a pluggable security-policy implementation: padding/signature
// sizing, symmetric key derivation, and sign/encrypt framing (spec.md §4.B
// "Encryption policy" / "OPN cryptography"). Per spec.md §1, the
// cryptographic primitives themselves are treated as a pluggable profile;
// this file supplies two concrete profiles exercised by the default
// toolkit build rather than a hand-rolled substitute for one.
type Profile interface {
	URI() string
	SignatureSize() int
	CipherBlockSize() int
	DeriveKeys(clientNonce, serverNonce []byte) (client, server SymmetricKeySet, err error)
	Sign(key, data []byte) ([]byte, error)
	Verify(key, data, sig []byte) error
	Encrypt(keys SymmetricKeySet, plaintext []byte) ([]byte, error)
	Decrypt(keys SymmetricKeySet, ciphertext []byte) ([]byte, error)
}

// --- Basic256Sha256: AES-256-CBC + HMAC-SHA256, HKDF-SHA256 key derivation ---

type basic256Sha256 struct{}

func NewBasic256Sha256() Profile { return basic256Sha256{} }

func (basic256Sha256) URI() string           { return "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256" }
func (basic256Sha256) SignatureSize() int    { return sha256.Size }
func (basic256Sha256) CipherBlockSize() int  { return aes.BlockSize }

func (p basic256Sha256) DeriveKeys(clientNonce, serverNonce []byte) (client, server SymmetricKeySet, err error) {
	const signKeyLen, encKeyLen, ivLen = 32, 32, 16
	if client, err = deriveKeySet(serverNonce, clientNonce, signKeyLen, encKeyLen, ivLen); err != nil {
		return
	}
	server, err = deriveKeySet(clientNonce, serverNonce, signKeyLen, encKeyLen, ivLen)
	return
}

func deriveKeySet(secret, salt []byte, signLen, encLen, ivLen int) (SymmetricKeySet, error) {
	r := hkdf.New(sha256.New, secret, salt, []byte("opcuacore-key-derivation"))
	out := make([]byte, signLen+encLen+ivLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return SymmetricKeySet{}, err
	}
	return SymmetricKeySet{
		SigningKey:    out[:signLen],
		EncryptionKey: out[signLen : signLen+encLen],
		IV:            out[signLen+encLen:],
	}, nil
}

func (basic256Sha256) Sign(key, data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (basic256Sha256) Verify(key, data, sig []byte) error {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, sig) {
		return cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed, "signature verification failed")
	}
	return nil
}

func (basic256Sha256) Encrypt(keys SymmetricKeySet, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(keys.EncryptionKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, keys.IV).CryptBlocks(out, padded)
	return out, nil
}

func (basic256Sha256) Decrypt(keys SymmetricKeySet, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(keys.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed, "ciphertext not block-aligned")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, keys.IV).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed, "empty padded block")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed, "invalid PKCS7 padding")
	}
	return data[:len(data)-padLen], nil
}

// --- Aes128Sha256RsaOaep-style alternate profile: ChaCha20-Poly1305 AEAD ---
//
// A second pluggable profile, exercising golang.org/x/crypto's AEAD
// construction instead of CBC+HMAC, so the Profile interface is never a
// single-implementation abstraction in practice.

type aeadProfile struct{}

func NewChaCha20Profile() Profile { return aeadProfile{} }

func (aeadProfile) URI() string { return "http://opcfoundation.org/UA/SecurityPolicy#Aes128_ChaCha20Poly1305" }

// SignatureSize is 0: the AEAD authentication tag is embedded in Encrypt's
// output rather than appended as a separate trailing signature, so the
// generic sign-then-append framing in framing.go is a no-op for this
// profile (see Sign/Verify below).
func (aeadProfile) SignatureSize() int   { return 0 }
func (aeadProfile) CipherBlockSize() int { return 1 } // stream cipher, no block alignment

func (p aeadProfile) DeriveKeys(clientNonce, serverNonce []byte) (client, server SymmetricKeySet, err error) {
	const keyLen, ivLen = chacha20poly1305.KeySize, chacha20poly1305.NonceSizeX
	if client, err = deriveKeySet(serverNonce, clientNonce, 0, keyLen, ivLen); err != nil {
		return
	}
	server, err = deriveKeySet(clientNonce, serverNonce, 0, keyLen, ivLen)
	return
}

func (aeadProfile) Sign(_, _ []byte) ([]byte, error) { return nil, nil } // AEAD tag carries authentication
func (aeadProfile) Verify(_, _, _ []byte) error      { return nil }

func (aeadProfile) Encrypt(keys SymmetricKeySet, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(keys.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, keys.IV, plaintext, nil), nil
}

func (aeadProfile) Decrypt(keys SymmetricKeySet, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(keys.EncryptionKey)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, keys.IV, ciphertext, nil)
	if err != nil {
		return nil, cmn.NewError(cmn.KindChannel, cmn.BadSecurityChecksFailed, "AEAD open failed: %v", err)
	}
	return pt, nil
}
