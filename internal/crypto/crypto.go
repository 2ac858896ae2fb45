// Package crypto provides the cryptographic primitives the stegochannel
// protocol is built from: hashing, truncated message authentication,
// key derivation, authenticated encryption, and password stretching.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size, in bytes, of a ChannelKey, EpochKey, and
	// XChaCha20-Poly1305 key.
	KeySize = 32

	// TagSize is the size of a truncated HMAC-SHA256 authentication tag.
	TagSize = 8

	// AEADNonceSize is the size of an XChaCha20-Poly1305 nonce.
	AEADNonceSize = chacha20poly1305.NonceSizeX

	// AEADOverhead is the size of the Poly1305 tag appended to ciphertext.
	AEADOverhead = chacha20poly1305.Overhead

	// maxHKDFOutput is the largest output HKDF-Expand can safely produce
	// for a SHA-256-based PRK, per RFC 5869 §2.3.
	maxHKDFOutput = 255 * sha256.Size

	// argon2Time, argon2MemoryKiB, and argon2Threads are the Argon2id
	// parameters mandated by the channel-key passphrase derivation:
	// opslimit=3, memlimit=64 MiB.
	argon2Time      = 3
	argon2MemoryKiB = 64 * 1024
	argon2Threads   = 4
)

// ErrHKDFOutputTooLarge is returned when a caller asks HKDF-Expand to
// produce more than 255 hash-lengths of output.
var ErrHKDFOutputTooLarge = fmt.Errorf("hkdf: requested output exceeds %d bytes", maxHKDFOutput)

// SHA256 hashes the concatenation of all parts with SHA-256.
func SHA256(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HMACTrunc64 computes HMAC-SHA256(key, data) and truncates the result to
// its first 8 bytes, matching the frame codec's 64-bit tag.
func HMACTrunc64(key, data []byte) [TagSize]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	sum := mac.Sum(nil)
	var out [TagSize]byte
	copy(out[:], sum[:TagSize])
	return out
}

// HKDFExpand derives outLen pseudorandom bytes from a 32-byte pseudorandom
// key (PRK) and an info string, using HKDF-Expand with SHA-256. It rejects
// requests for more than 255 hash-lengths of output, per RFC 5869.
func HKDFExpand(prk [32]byte, info string, outLen int) ([]byte, error) {
	if outLen > maxHKDFOutput {
		return nil, ErrHKDFOutputTooLarge
	}
	reader := hkdf.Expand(sha256.New, prk[:], []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// Seal encrypts plaintext with XChaCha20-Poly1305 under key and the given
// 24-byte nonce, returning ciphertext||tag with no nonce prepended — the
// frame codec derives and carries the nonce itself.
func Seal(key [KeySize]byte, nonce [AEADNonceSize]byte, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}
	return aead.Seal(nil, nonce[:], plaintext, additionalData), nil
}

// ErrAuthFailure is returned by Open when the AEAD authentication tag does
// not verify.
var ErrAuthFailure = fmt.Errorf("aead: authentication failed")

// Open decrypts and authenticates ciphertext produced by Seal. On tag
// mismatch it returns ErrAuthFailure, never a partially-decrypted payload.
func Open(key [KeySize]byte, nonce [AEADNonceSize]byte, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// Argon2idDerive stretches a passphrase into a 32-byte key using Argon2id
// with opslimit=3 and memlimit=64 MiB, matching libsodium's
// crypto_pwhash defaults that the channel-key-from-passphrase helper relies
// on.
func Argon2idDerive(password, salt []byte) [32]byte {
	out := argon2.IDKey(password, salt, argon2Time, argon2MemoryKiB, argon2Threads, 32)
	var key [32]byte
	copy(key[:], out)
	return key
}

// ConstantTimeEqual reports whether a and b are equal, in time independent
// of their contents (but not their lengths).
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ConstantTimeLessUint64 reports whether a < b without branching on the
// values, so that selection-threshold comparisons do not leak timing
// information about the selection hash to a network observer.
func ConstantTimeLessUint64(a, b uint64) bool {
	// a < b  <=>  NOT(b <= a). ConstantTimeLessOrEq only accepts ints that
	// fit the platform word size, so compare byte-by-byte from the most
	// significant end instead, carrying a "still equal" mask.
	var lt, eq int = 0, 1
	for i := 7; i >= 0; i-- {
		ab := byte(a >> (8 * uint(i)))
		bb := byte(b >> (8 * uint(i)))
		byteLt := subtle.ConstantTimeLessOrEq(int(ab), int(bb)) & (1 - subtle.ConstantTimeByteEq(ab, bb))
		byteEq := subtle.ConstantTimeByteEq(ab, bb)
		lt |= eq & byteLt
		eq &= byteEq
	}
	return lt == 1
}

// ZeroBytes overwrites b with zeros in place. Use it to clear ephemeral
// key material, plaintext buffers, and AEAD inputs once they are no longer
// needed.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey32 overwrites a 32-byte key array with zeros in place.
func ZeroKey32(k *[32]byte) {
	for i := range k {
		k[i] = 0
	}
}
