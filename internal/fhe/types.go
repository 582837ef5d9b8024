// Package fhe is the client side of the FHE co-processor: encrypted input
// construction, authorization of user decryption, and the process-wide
// session that bootstraps the co-processor client once.
package fhe

import (
	"encoding/binary"
	"fmt"
	"time"

	"confidential-storage/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FheType tags an encrypted value. Only addresses are used by this scheme.
type FheType byte

const (
	TypeAddress FheType = 7

	// MaxDurationDays bounds a decryption authorization window.
	MaxDurationDays = 365
)

// Keypair is generated fresh for every reveal attempt. The co-processor
// re-encrypts decrypted values to PublicKey; PrivateKey never leaves the
// process.
type Keypair struct {
	PublicKey  []byte
	PrivateKey []byte
}

type ValidityWindow struct {
	Start        time.Time
	DurationDays int
}

func NewValidityWindow(now time.Time, days int) (ValidityWindow, error) {
	if days <= 0 || days > MaxDurationDays {
		return ValidityWindow{}, fmt.Errorf("fhe: validity window of %d days out of range", days)
	}
	return ValidityWindow{Start: time.Unix(now.Unix(), 0), DurationDays: days}, nil
}

func (w ValidityWindow) StartTimestamp() int64 { return w.Start.Unix() }

func (w ValidityWindow) End() time.Time {
	return w.Start.Add(time.Duration(w.DurationDays) * 24 * time.Hour)
}

func (w ValidityWindow) Contains(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End())
}

type HandleContractPair struct {
	Handle          domain.Handle  `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

type EncryptedInput struct {
	Handles    []domain.Handle
	InputProof []byte
}

// DecryptionGrant authorizes exactly one decryption request. It is never
// persisted or reused.
type DecryptionGrant struct {
	Keypair   *Keypair
	Window    ValidityWindow
	Contracts []common.Address
	Signature []byte
}

// NetworkConfig is fetched once when the session initializes.
type NetworkConfig struct {
	ChainID           int64          `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContractAddressDecryption"`
	ACLContract       common.Address `json:"aclContractAddress"`
	InputVerifier     common.Address `json:"inputVerifierAddress"`
	PublicKey         hexutil.Bytes  `json:"publicKey"`
}

// InputAAD binds a sealed input to the (contract, user, chain) it was
// produced for.
func InputAAD(contract, user common.Address, chainID int64) []byte {
	aad := make([]byte, 0, 2*common.AddressLength+8)
	aad = append(aad, contract.Bytes()...)
	aad = append(aad, user.Bytes()...)
	return binary.BigEndian.AppendUint64(aad, uint64(chainID))
}
