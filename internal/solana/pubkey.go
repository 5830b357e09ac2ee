package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	publicKeyLength = 32
	maxSeedLength   = 32
	maxSeeds        = 16
	pdaMarker       = "ProgramDerivedAddress"
)

// ErrNoViableBump is returned when every bump seed lands on the curve.
var ErrNoViableBump = errors.New("solana: unable to find a viable program address bump seed")

// PublicKey is a 32 byte ed25519 account address.
type PublicKey [publicKeyLength]byte

// ParsePublicKey decodes a base58 account address.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("decode public key %q: %w", s, err)
	}
	if len(raw) != publicKeyLength {
		return PublicKey{}, fmt.Errorf("public key %q has %d bytes, want %d", s, len(raw), publicKeyLength)
	}
	var pk PublicKey
	copy(pk[:], raw)
	return pk, nil
}

// MustPublicKey panics on an invalid address; intended for constants.
func MustPublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// Bytes returns a copy of the raw key.
func (pk PublicKey) Bytes() []byte {
	out := make([]byte, publicKeyLength)
	copy(out, pk[:])
	return out
}

// FindProgramAddress derives the canonical PDA for seeds under programID,
// walking bump seeds from 255 down until the hash falls off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	if len(seeds) >= maxSeeds {
		return PublicKey{}, 0, fmt.Errorf("too many seeds: %d", len(seeds))
	}
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return PublicKey{}, 0, fmt.Errorf("seed exceeds %d bytes", maxSeedLength)
		}
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID[:])
		h.Write([]byte(pdaMarker))

		var candidate PublicKey
		copy(candidate[:], h.Sum(nil))
		if !IsOnCurve(candidate) {
			return candidate, uint8(bump), nil
		}
	}
	return PublicKey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether pk decodes to a valid ed25519 point.
func IsOnCurve(pk PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}
