// Package address canonicalizes token and holder addresses per chain family.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// Address errors.
var (
	ErrInvalidEVMAddress    = errors.New("invalid evm address")
	ErrInvalidSolanaAddress = errors.New("invalid solana address")
)

// ZeroEVM is the EVM zero address used as the mint/burn counterparty.
const ZeroEVM = "0x0000000000000000000000000000000000000000"

// ChecksumEVM returns the EIP-55 mixed-case form of a 20-byte hex address.
// Input may be any case, with or without the 0x prefix.
func ChecksumEVM(addr string) (string, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	if len(raw) != 40 {
		return "", fmt.Errorf("%w: %q has %d hex digits", ErrInvalidEVMAddress, addr, len(raw))
	}
	lower := strings.ToLower(raw)
	if _, err := hex.DecodeString(lower); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidEVMAddress, addr, err)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := make([]byte, 0, 42)
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		// Nibble i of the hash decides the case of hex letter i.
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && c <= 'f' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out), nil
}

// EVMFromTopic extracts an address from a 32-byte log topic (left-padded).
func EVMFromTopic(topic string) (string, error) {
	raw := strings.TrimPrefix(topic, "0x")
	if len(raw) != 64 {
		return "", fmt.Errorf("%w: topic %q", ErrInvalidEVMAddress, topic)
	}
	return ChecksumEVM(raw[24:])
}

// CanonicalSolana validates a base58 public key and returns its canonical encoding.
func CanonicalSolana(addr string) (string, error) {
	decoded, err := base58.Decode(strings.TrimSpace(addr))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidSolanaAddress, addr, err)
	}
	if len(decoded) != 32 {
		return "", fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidSolanaAddress, addr, len(decoded))
	}
	return base58.Encode(decoded), nil
}

// IsOnCurve reports whether a Solana public key is a point on the ed25519 curve.
// Program-derived addresses are off-curve and cannot sign, so holders whose
// owner is off-curve are program-controlled (pool vaults, escrows).
func IsOnCurve(addr string) bool {
	decoded, err := base58.Decode(addr)
	if err != nil || len(decoded) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(decoded)
	return err == nil
}
