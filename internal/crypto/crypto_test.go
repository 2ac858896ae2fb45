package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestSHA256Deterministic(t *testing.T) {
	a := SHA256([]byte("hello"), []byte("world"))
	b := SHA256([]byte("hello"), []byte("world"))
	if a != b {
		t.Errorf("SHA256 is not deterministic across calls")
	}

	c := SHA256([]byte("helloworld"))
	if a != c {
		t.Errorf("SHA256 of parts should equal SHA256 of concatenation")
	}

	d := SHA256([]byte("different"))
	if a == d {
		t.Errorf("SHA256 of different inputs collided")
	}
}

func TestHMACTrunc64Length(t *testing.T) {
	tag := HMACTrunc64([]byte("key"), []byte("data"))
	if len(tag) != TagSize {
		t.Fatalf("HMACTrunc64 returned %d bytes, want %d", len(tag), TagSize)
	}
}

func TestHMACTrunc64DetectsTampering(t *testing.T) {
	key := []byte("epoch-key-material-32-bytes-xxx")
	tag1 := HMACTrunc64(key, []byte("header+payload"))
	tag2 := HMACTrunc64(key, []byte("header+payload!"))
	if tag1 == tag2 {
		t.Errorf("HMACTrunc64 produced identical tags for different data")
	}
}

func TestHKDFExpandDeterministic(t *testing.T) {
	var prk [32]byte
	copy(prk[:], []byte("channel-key-shared-out-of-band!"))

	out1, err := HKDFExpand(prk, "btc:0000...:stegochannel-v0", 32)
	if err != nil {
		t.Fatalf("HKDFExpand() error = %v", err)
	}
	out2, err := HKDFExpand(prk, "btc:0000...:stegochannel-v0", 32)
	if err != nil {
		t.Fatalf("HKDFExpand() second call error = %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Errorf("HKDFExpand is not deterministic for identical inputs")
	}

	out3, err := HKDFExpand(prk, "btc:1111...:stegochannel-v0", 32)
	if err != nil {
		t.Fatalf("HKDFExpand() third call error = %v", err)
	}
	if bytes.Equal(out1, out3) {
		t.Errorf("HKDFExpand produced identical output for different info strings")
	}
}

func TestHKDFExpandRejectsOversizedOutput(t *testing.T) {
	var prk [32]byte
	_, err := HKDFExpand(prk, "info", maxHKDFOutput+1)
	if err != ErrHKDFOutputTooLarge {
		t.Errorf("HKDFExpand(oversized) error = %v, want ErrHKDFOutputTooLarge", err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		t.Fatalf("rand.Read key: %v", err)
	}
	var nonce [AEADNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		t.Fatalf("rand.Read nonce: %v", err)
	}

	plaintext := []byte("Hello StegoChannel")
	ciphertext, err := Seal(key, nonce, plaintext, nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if len(ciphertext) != len(plaintext)+AEADOverhead {
		t.Fatalf("ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+AEADOverhead)
	}

	decrypted, err := Open(key, nonce, ciphertext, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Open() = %q, want %q", decrypted, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		t.Fatalf("rand.Read key: %v", err)
	}
	var nonce [AEADNonceSize]byte

	ciphertext, err := Seal(key, nonce, []byte("Secret message"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	ciphertext[0] ^= 0xFF

	if _, err := Open(key, nonce, ciphertext, nil); err != ErrAuthFailure {
		t.Errorf("Open(tampered) error = %v, want ErrAuthFailure", err)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	var key, wrongKey [KeySize]byte
	key[0] = 1
	wrongKey[0] = 2
	var nonce [AEADNonceSize]byte

	ciphertext, err := Seal(key, nonce, []byte("payload"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := Open(wrongKey, nonce, ciphertext, nil); err != ErrAuthFailure {
		t.Errorf("Open(wrong key) error = %v, want ErrAuthFailure", err)
	}
}

func TestArgon2idDeriveDeterministic(t *testing.T) {
	salt := make([]byte, 16)
	k1 := Argon2idDerive([]byte("correct horse battery staple"), salt)
	k2 := Argon2idDerive([]byte("correct horse battery staple"), salt)
	if k1 != k2 {
		t.Errorf("Argon2idDerive is not deterministic for identical inputs")
	}

	k3 := Argon2idDerive([]byte("different passphrase"), salt)
	if k1 == k3 {
		t.Errorf("Argon2idDerive produced identical keys for different passphrases")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	a := []byte{1, 2, 3, 4}
	b := []byte{1, 2, 3, 4}
	c := []byte{1, 2, 3, 5}

	if !ConstantTimeEqual(a, b) {
		t.Errorf("ConstantTimeEqual(equal slices) = false")
	}
	if ConstantTimeEqual(a, c) {
		t.Errorf("ConstantTimeEqual(different slices) = true")
	}
}

func TestConstantTimeLessUint64(t *testing.T) {
	tests := []struct {
		a, b uint64
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{0, 0, false},
		{0x2a4e6c8f1b3d5a7e, 0x3FFFFFFFFFFFFFFF, true},
		{0x3FFFFFFFFFFFFFFF, 0x2a4e6c8f1b3d5a7e, false},
		{^uint64(0), ^uint64(0), false},
		{^uint64(0) - 1, ^uint64(0), true},
	}

	for _, tc := range tests {
		got := ConstantTimeLessUint64(tc.a, tc.b)
		if got != tc.want {
			t.Errorf("ConstantTimeLessUint64(%#x, %#x) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestZeroBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	ZeroBytes(b)
	for i, v := range b {
		if v != 0 {
			t.Errorf("ZeroBytes left non-zero byte at index %d: %d", i, v)
		}
	}
}

func TestZeroKey32(t *testing.T) {
	var k [32]byte
	for i := range k {
		k[i] = byte(i + 1)
	}
	ZeroKey32(&k)
	var zero [32]byte
	if k != zero {
		t.Errorf("ZeroKey32 left non-zero key material")
	}
}
