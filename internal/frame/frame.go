// Package frame implements the stegochannel wire frame: a short header,
// an optionally AEAD-encrypted payload, and a truncated HMAC tag, the
// whole thing wrapped in Reed-Solomon forward error correction so a
// handful of misread feature bits don't sink the message.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/postalsys/stegochannel/internal/crypto"
	"github.com/postalsys/stegochannel/internal/fec"
	"github.com/postalsys/stegochannel/internal/stegoerr"
)

const (
	// Version is the only frame format version this codec speaks.
	Version byte = 0

	// FlagEncrypted marks the payload as XChaCha20-Poly1305-encrypted
	// under the epoch key.
	FlagEncrypted byte = 1 << 0

	headerSize = 3 // 1 byte version|flags, 2 bytes LEN_BITS
	tagSize    = crypto.TagSize
	eccLen     = 8 // corrects up to 4 symbol errors

	// maxPayloadBits is the largest payload LEN_BITS (a uint16) can name.
	maxPayloadBits = 0xFFFF

	// maxRSBlockSize is the largest Reed-Solomon codeword RSEncode/RSDecode
	// handle: a single GF(2^8) symbol per byte, so the block (data plus
	// parity) can never exceed 255 bytes.
	maxRSBlockSize = 255

	// maxPayloadSize is the largest payload that still leaves room for the
	// header, tag, and parity within one RS block.
	maxPayloadSize = maxRSBlockSize - eccLen - headerSize - tagSize
)

// Decoded is a successfully decoded frame.
type Decoded struct {
	Version   byte
	Flags     byte
	Payload   []byte
	Encrypted bool
}

// EncodeFrame builds the bit stream for one frame: header, payload
// (optionally encrypted under epochKey and seqNum), truncated HMAC tag,
// and Reed-Solomon parity, returned as one bit per byte (0 or 1).
func EncodeFrame(epochKey [32]byte, seqNum uint64, plaintext []byte, encrypt bool) ([]byte, error) {
	payload := plaintext
	flags := byte(0)

	if encrypt {
		nonce, err := deriveNonce(epochKey, seqNum)
		if err != nil {
			return nil, err
		}
		header := []byte{Version<<4 | FlagEncrypted}
		ciphertext, err := crypto.Seal(epochKey, nonce, plaintext, header)
		if err != nil {
			return nil, fmt.Errorf("frame: encrypt payload: %w", err)
		}
		payload = ciphertext
		flags = FlagEncrypted
	}

	if len(payload) > maxPayloadSize || len(payload)*8 > maxPayloadBits {
		return nil, stegoerr.ErrMessageTooLarge
	}

	lenBits := uint16(len(payload) * 8)
	body := make([]byte, 0, headerSize+len(payload))
	body = append(body, Version<<4|flags, byte(lenBits>>8), byte(lenBits&0xFF))
	body = append(body, payload...)

	tag := crypto.HMACTrunc64(epochKey[:], body)
	framed := append(body, tag[:]...)

	encoded := fec.RSEncode(framed, eccLen)
	return BytesToBits(encoded), nil
}

// DecodeFrame reverses EncodeFrame. It never panics: any malformed or
// tampered input yields a *stegoerr.DecodeFailure describing which stage
// rejected it.
func DecodeFrame(epochKey [32]byte, seqNum uint64, bits []byte) (*Decoded, error) {
	raw := BitsToBytes(bits)
	if len(raw) < headerSize+tagSize+eccLen {
		return nil, stegoerr.NewDecodeFailure(stegoerr.ReasonTooFewBits)
	}

	corrected, err := fec.RSDecode(raw, eccLen)
	if err != nil {
		return nil, stegoerr.NewDecodeFailure(stegoerr.ReasonRSUncorrectable)
	}
	if len(corrected) < headerSize+tagSize {
		return nil, stegoerr.NewDecodeFailure(stegoerr.ReasonTooFewBits)
	}

	versionFlags := corrected[0]
	lenBits := uint16(corrected[1])<<8 | uint16(corrected[2])
	if lenBits%8 != 0 {
		return nil, stegoerr.NewDecodeFailure(stegoerr.ReasonLenInconsistent)
	}
	payloadLen := int(lenBits / 8)

	tagStart := headerSize + payloadLen
	tagEnd := tagStart + tagSize
	if tagEnd > len(corrected) {
		return nil, stegoerr.NewDecodeFailure(stegoerr.ReasonLenInconsistent)
	}

	body := corrected[:tagStart]
	tag := corrected[tagStart:tagEnd]
	expectedTag := crypto.HMACTrunc64(epochKey[:], body)
	if !crypto.ConstantTimeEqual(tag, expectedTag[:]) {
		return nil, stegoerr.NewDecodeFailure(stegoerr.ReasonAuthFailure)
	}

	version := versionFlags >> 4
	flags := versionFlags & 0x0F
	encrypted := flags&FlagEncrypted != 0
	payload := corrected[headerSize:tagStart]

	if encrypted {
		nonce, err := deriveNonce(epochKey, seqNum)
		if err != nil {
			return nil, stegoerr.NewDecodeFailure(stegoerr.ReasonDecryptFailure)
		}
		plaintext, err := crypto.Open(epochKey, nonce, payload, []byte{versionFlags})
		if err != nil {
			return nil, stegoerr.NewDecodeFailure(stegoerr.ReasonDecryptFailure)
		}
		payload = plaintext
	}

	return &Decoded{Version: version, Flags: flags, Payload: payload, Encrypted: encrypted}, nil
}

// deriveNonce derives a per-message XChaCha20-Poly1305 nonce from the
// epoch key and sequence number, so re-using an epoch key across several
// queued messages never reuses a nonce:
//
//	nonce = SHA-256(epoch_key || "nonce" || uint64_be(seq_num))[0:24]
func deriveNonce(epochKey [32]byte, seqNum uint64) ([crypto.AEADNonceSize]byte, error) {
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seqNum)
	sum := crypto.SHA256(epochKey[:], []byte("nonce"), seqBytes[:])

	var nonce [crypto.AEADNonceSize]byte
	copy(nonce[:], sum[:crypto.AEADNonceSize])
	return nonce, nil
}
