// Package identity mints the single-use account-style values that bind a
// stored CID to its encrypted on-ledger handle.
//
// An Identity is 160 random bits with a canonical lowercase 0x-hex text
// form. It doubles as symmetric key material and as the secret submitted
// to the co-processor, so a fresh one is minted for every stored file and
// it is only ever held in memory for the duration of one operation.
package identity

import (
	"crypto/rand"
	"fmt"
	"strings"

	"confidential-storage/internal/fault"

	"github.com/ethereum/go-ethereum/common"
)

const Size = common.AddressLength

type Identity struct {
	addr common.Address
}

// Mint draws a new identity from the system CSPRNG.
func Mint() (Identity, error) {
	var b [Size]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Identity{}, fmt.Errorf("failed to mint identity: %w", err)
	}
	id := Identity{addr: common.Address(b)}
	if id.IsZero() {
		return Identity{}, fmt.Errorf("failed to mint identity: %w", fault.ErrInvalidIdentity)
	}
	return id, nil
}

// Parse accepts any 0x-prefixed hex casing, including EIP-55 checksums.
func Parse(text string) (Identity, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "0x") && !strings.HasPrefix(text, "0X") {
		return Identity{}, fmt.Errorf("%w: missing 0x prefix", fault.ErrInvalidIdentity)
	}
	if !common.IsHexAddress(text) {
		return Identity{}, fmt.Errorf("%w: not a 20-byte hex value", fault.ErrInvalidIdentity)
	}
	id := Identity{addr: common.HexToAddress(text)}
	if id.IsZero() {
		return Identity{}, fmt.Errorf("%w: zero value", fault.ErrInvalidIdentity)
	}
	return id, nil
}

// FromAddress wraps a co-processor decrypted address.
func FromAddress(addr common.Address) (Identity, error) {
	if addr == (common.Address{}) {
		return Identity{}, fmt.Errorf("%w: zero value", fault.ErrInvalidIdentity)
	}
	return Identity{addr: addr}, nil
}

// String returns the canonical lowercase form used as key material.
func (i Identity) String() string {
	return strings.ToLower(i.addr.Hex())
}

func (i Identity) Address() common.Address { return i.addr }

func (i Identity) Bytes() []byte { return i.addr.Bytes() }

func (i Identity) IsZero() bool { return i.addr == common.Address{} }

func (i Identity) Equal(o Identity) bool { return i.addr == o.addr }
