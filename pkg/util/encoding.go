package util

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// HexToBytes decodes a hex string to bytes, returning an error if invalid.
func HexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes to a hex string.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// ReverseBytes returns a reversed copy of b.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// NonceToHex encodes a nonce the way pools expect it in a submit: the four
// little-endian bytes as lowercase hex.
func NonceToHex(nonce uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], nonce)
	return hex.EncodeToString(b[:])
}

// DigestToHex encodes a 32-byte digest as 64 lowercase hex characters.
func DigestToHex(digest [32]byte) string {
	return hex.EncodeToString(digest[:])
}

// TargetFromHex parses a pool target string.
//
// Up to 8 hex characters are a 32-bit little-endian compact target, expanded
// with CompactTarget. Up to 16 characters are a full 64-bit little-endian
// target. Short strings are right-padded with zeros before decoding.
func TargetFromHex(s string) (uint64, error) {
	switch {
	case len(s) == 0:
		return 0, fmt.Errorf("empty target")
	case len(s) <= 8:
		padded := s + "00000000"[len(s):]
		b, err := hex.DecodeString(padded)
		if err != nil {
			return 0, fmt.Errorf("invalid target %q: %w", s, err)
		}
		t := binary.LittleEndian.Uint32(b)
		if t == 0 {
			return 0, fmt.Errorf("invalid target %q: zero", s)
		}
		return CompactTarget(t), nil
	case len(s) <= 16:
		padded := s + "0000000000000000"[len(s):]
		b, err := hex.DecodeString(padded)
		if err != nil {
			return 0, fmt.Errorf("invalid target %q: %w", s, err)
		}
		t := binary.LittleEndian.Uint64(b)
		if t == 0 {
			return 0, fmt.Errorf("invalid target %q: zero", s)
		}
		return t, nil
	default:
		return 0, fmt.Errorf("target too long: %d chars", len(s))
	}
}
