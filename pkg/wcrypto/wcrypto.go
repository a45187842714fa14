// Package wcrypto implements the primitive cryptographic operations a
// Wii-family disc partition depends on: AES-128-CBC over sector/group
// buffers, SHA-1 (one-shot and incremental) for the hash tree, and
// RSA-2048 signature verification for strict certificate-chain checks.
//
// No suitable third-party library in the retrieved corpus wraps
// AES-CBC/SHA-1/RSA-verify at a higher level than the standard library;
// every repo that touches these primitives (e.g. pkg/xva's use of
// crypto/sha1) calls crypto/aes, crypto/cipher, crypto/sha1 and
// crypto/rsa directly, so this package does the same.
package wcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // SHA-1 is the disc format's hash, not a security choice we get to make
	"crypto/x509"
	"fmt"
	"hash"

	"github.com/wiidisc/wiidisc/pkg/werr"
)

// KeySize is the size, in bytes, of an AES-128 key; HashSize is that of
// a SHA-1 hash.
const (
	KeySize  = 16
	HashSize = 20
)

// SHA1 computes a one-shot SHA-1 digest.
func SHA1(data []byte) [HashSize]byte {
	return sha1.Sum(data)
}

// Hasher is an incremental SHA-1 accumulator that folds many small
// buffers into one digest without concatenating them first.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a ready-to-use incremental SHA-1 hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha1.New()}
}

// Write feeds more data into the hash.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum returns the final digest without resetting the hasher.
func (h *Hasher) Sum() [HashSize]byte {
	var out [HashSize]byte
	copy(out[:], h.h.Sum(nil))
	return out
}

// CBCDecrypt decrypts data in place using AES-128-CBC with the given
// key and IV. len(data) must be a non-zero multiple of aes.BlockSize.
func CBCDecrypt(key, iv, data []byte) error {
	if len(data)%aes.BlockSize != 0 || len(data) == 0 {
		return &werr.Error{Kind: werr.InvalidLayout, At: "CBCDecrypt", Err: fmt.Errorf("bad length %d", len(data))}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return &werr.Error{Kind: werr.InvalidLayout, Err: err}
	}
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(data, data)
	return nil
}

// CBCEncrypt encrypts data in place using AES-128-CBC with the given
// key and IV. len(data) must be a non-zero multiple of aes.BlockSize.
func CBCEncrypt(key, iv, data []byte) error {
	if len(data)%aes.BlockSize != 0 || len(data) == 0 {
		return &werr.Error{Kind: werr.InvalidLayout, At: "CBCEncrypt", Err: fmt.Errorf("bad length %d", len(data))}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return &werr.Error{Kind: werr.InvalidLayout, Err: err}
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(data, data)
	return nil
}

// DecryptTitleKey derives a partition's AES title key from the wrapped
// key stored in its ticket: AES-CBC-decrypt(commonKey, IV=titleID||0x00..0x00, wrappedTitleKey).
func DecryptTitleKey(commonKey [KeySize]byte, titleID [8]byte, wrappedKey [KeySize]byte) ([KeySize]byte, error) {
	var iv [16]byte
	copy(iv[:8], titleID[:])

	buf := make([]byte, KeySize)
	copy(buf, wrappedKey[:])

	if err := CBCDecrypt(commonKey[:], iv[:], buf); err != nil {
		return [KeySize]byte{}, err
	}

	var out [KeySize]byte
	copy(out[:], buf)
	return out, nil
}

// VerifyRSA2048 checks an RSA-2048 PKCS#1v1.5 SHA-1 signature. It is
// only invoked when the caller asks for strict certificate-chain
// verification (spec §4.2); fake-signed tickets/TMDs are expected to
// fail this and are verified instead by IsFakeSigned.
func VerifyRSA2048(pub *rsa.PublicKey, signed, sig []byte) error {
	hash := sha1.Sum(signed)
	//nolint:staticcheck // PKCS1v15+SHA1 is what the console's signature scheme uses
	if err := rsa.VerifyPKCS1v15(pub, 0, hash[:], sig); err != nil {
		return &werr.Error{Kind: werr.IntegrityFailed, Which: string(werr.TicketSig), Err: err}
	}
	return nil
}

// ParseRSAPublicKey extracts an RSA public key from a DER-encoded
// certificate body, as found in the disc's certificate chain.
func ParseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &werr.Error{Kind: werr.InvalidLayout, At: "cert", Err: err}
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, &werr.Error{Kind: werr.InvalidLayout, At: "cert", Err: fmt.Errorf("not an RSA public key")}
	}
	return pub, nil
}

// IsFakeSigned reports whether SHA-1(signed) begins with a zero byte,
// the console's "fake sign" validity check used when no PKI is
// required (spec §4.2).
func IsFakeSigned(signed []byte) bool {
	h := sha1.Sum(signed)
	return h[0] == 0
}

// BruteForceFakeSign mutates the 4-byte word at padding[off:off+4]
// within region until SHA-1(region[:signedLen]) begins with 0x00, or
// maxIterations is exhausted. It mutates region in place and returns
// the number of iterations performed.
//
// The source this is ported from iterates without a hard bound
// (spec §9 "Fake-sign brute-force bound"); we require callers to pass
// maxIterations and surface werr.SignFailed when exhausted.
func BruteForceFakeSign(region []byte, signedLen, wordOff, maxIterations int) (int, error) {
	if wordOff+4 > len(region) || signedLen > len(region) {
		return 0, &werr.Error{Kind: werr.InvalidLayout, At: "fake_sign"}
	}
	for i := 0; i < maxIterations; i++ {
		region[wordOff] = byte(i)
		region[wordOff+1] = byte(i >> 8)
		region[wordOff+2] = byte(i >> 16)
		region[wordOff+3] = byte(i >> 24)
		if IsFakeSigned(region[:signedLen]) {
			return i + 1, nil
		}
	}
	return maxIterations, &werr.Error{Kind: werr.SignFailed, At: "fake_sign", Err: fmt.Errorf("exhausted %d iterations", maxIterations)}
}

// ZeroIfAllZero returns true if b consists only of zero bytes, used to
// detect a cleared (never-signed) signature block.
func ZeroIfAllZero(b []byte) bool {
	return bytes.Equal(b, make([]byte, len(b)))
}
