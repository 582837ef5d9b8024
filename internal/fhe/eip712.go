package fhe

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	decryptionDomainName    = "Decryption"
	decryptionDomainVersion = "1"

	UserDecryptPrimaryType = "UserDecryptRequestVerification"
)

var userDecryptTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	UserDecryptPrimaryType: {
		{Name: "publicKey", Type: "bytes"},
		{Name: "contractAddresses", Type: "address[]"},
		{Name: "startTimestamp", Type: "uint256"},
		{Name: "durationDays", Type: "uint256"},
		{Name: "extraData", Type: "bytes"},
	},
}

// NewUserDecryptTypedData builds the structured message a user signs to
// authorize decryption of values bound to contracts, re-encrypted to
// publicKey, within the window.
func NewUserDecryptTypedData(chainID int64, verifyingContract common.Address, publicKey []byte, contracts []common.Address, w ValidityWindow) *apitypes.TypedData {
	addrs := make([]interface{}, len(contracts))
	for i, c := range contracts {
		addrs[i] = c.Hex()
	}
	return &apitypes.TypedData{
		Types:       userDecryptTypes,
		PrimaryType: UserDecryptPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              decryptionDomainName,
			Version:           decryptionDomainVersion,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(publicKey),
			"contractAddresses": addrs,
			"startTimestamp":    strconv.FormatInt(w.StartTimestamp(), 10),
			"durationDays":      strconv.Itoa(w.DurationDays),
			"extraData":         "0x",
		},
	}
}

// RecoverTypedDataSigner returns the address that produced signature over td.
func RecoverTypedDataSigner(td *apitypes.TypedData, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, errors.New("invalid signature length")
	}
	hash, _, err := apitypes.TypedDataAndHash(*td)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
