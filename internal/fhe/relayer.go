package fhe

import (
	"context"

	"confidential-storage/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Relayer is the transport to the co-processor network. Implementations
// classify failures with the fault taxonomy: unreachable services report
// fault.ErrEncryptionServiceUnavailable, refused authorizations
// fault.ErrDecryptionDenied.
type Relayer interface {
	NetworkConfig(ctx context.Context) (*NetworkConfig, error)
	InputProof(ctx context.Context, req *InputProofRequest) (*InputProofResponse, error)
	UserDecrypt(ctx context.Context, req *UserDecryptRequest) (*UserDecryptResponse, error)
}

type InputProofRequest struct {
	ContractAddress common.Address `json:"contractAddress"`
	UserAddress     common.Address `json:"userAddress"`
	ChainID         int64          `json:"contractChainId"`
	Ciphertext      hexutil.Bytes  `json:"ciphertextWithInputVerification"`
}

type InputProofResponse struct {
	Handles    []domain.Handle `json:"handles"`
	InputProof hexutil.Bytes   `json:"inputProof"`
}

type UserDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	StartTimestamp      int64                `json:"startTimestamp"`
	DurationDays        int                  `json:"durationDays"`
	ChainID             int64                `json:"contractsChainId"`
	ContractAddresses   []common.Address     `json:"contractAddresses"`
	UserAddress         common.Address       `json:"userAddress"`
	Signature           hexutil.Bytes        `json:"signature"`
	PublicKey           hexutil.Bytes        `json:"publicKey"`
}

// SealedValue carries a plaintext re-encrypted to the requester's key.
type SealedValue struct {
	Handle  domain.Handle `json:"handle"`
	Payload hexutil.Bytes `json:"payload"`
}

type UserDecryptResponse struct {
	Results []SealedValue `json:"results"`
}
