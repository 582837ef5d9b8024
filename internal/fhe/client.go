package fhe

import (
	"context"
	"errors"
	"fmt"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"
	"confidential-storage/pkg/seal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Client is an initialized co-processor client. It is only obtained through
// a Session, which guarantees a single instance per process.
type Client struct {
	relayer Relayer
	config  NetworkConfig
}

func newClient(r Relayer, cfg *NetworkConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("missing network config")
	}
	if cfg.VerifyingContract == (common.Address{}) {
		return nil, errors.New("network config missing verifyingContractAddressDecryption")
	}
	if len(cfg.PublicKey) != seal.KeySize {
		return nil, fmt.Errorf("network public key has %d bytes", len(cfg.PublicKey))
	}
	return &Client{relayer: r, config: *cfg}, nil
}

func (c *Client) Config() NetworkConfig { return c.config }

func (c *Client) CreateEncryptedInput(contract, user common.Address) *InputBuilder {
	return &InputBuilder{client: c, contract: contract, user: user}
}

func (c *Client) GenerateKeypair() (*Keypair, error) {
	pub, priv, err := seal.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Keypair{PublicKey: pub, PrivateKey: priv}, nil
}

func (c *Client) CreateEIP712(publicKey []byte, contracts []common.Address, w ValidityWindow) *apitypes.TypedData {
	return NewUserDecryptTypedData(c.config.ChainID, c.config.VerifyingContract, publicKey, contracts, w)
}

// UserDecrypt asks the network to decrypt pairs under an authorization and
// opens the re-encrypted results with kp. Handles the network did not
// return are absent from the map.
func (c *Client) UserDecrypt(ctx context.Context, pairs []HandleContractPair, grant *DecryptionGrant, user common.Address) (map[domain.Handle]string, error) {
	resp, err := c.relayer.UserDecrypt(ctx, &UserDecryptRequest{
		HandleContractPairs: pairs,
		StartTimestamp:      grant.Window.StartTimestamp(),
		DurationDays:        grant.Window.DurationDays,
		ChainID:             c.config.ChainID,
		ContractAddresses:   grant.Contracts,
		UserAddress:         user,
		Signature:           grant.Signature,
		PublicKey:           grant.Keypair.PublicKey,
	})
	if err != nil {
		return nil, err
	}

	out := make(map[domain.Handle]string, len(resp.Results))
	for _, r := range resp.Results {
		plain, err := seal.Open(grant.Keypair.PrivateKey, r.Payload, r.Handle[:])
		if err != nil {
			return nil, fmt.Errorf("%w: result for %s: %w", fault.ErrAuthenticationFailure, r.Handle, err)
		}
		value, err := DecodeValue(plain)
		if err != nil {
			return nil, fmt.Errorf("%w: result for %s: %w", fault.ErrMalformedPayload, r.Handle, err)
		}
		out[r.Handle] = value
	}
	return out, nil
}

// EncodeValue lays out a typed plaintext as the network stores it.
func EncodeValue(t FheType, value []byte) []byte {
	return append([]byte{byte(t)}, value...)
}

// DecodeValue renders a decrypted value as text. Addresses come back in
// lowercase 0x form.
func DecodeValue(plain []byte) (string, error) {
	if len(plain) == 0 {
		return "", nil
	}
	switch FheType(plain[0]) {
	case TypeAddress:
		if len(plain) != 1+common.AddressLength {
			return "", fmt.Errorf("address value has %d bytes", len(plain)-1)
		}
		return hexutil.Encode(plain[1:]), nil
	default:
		return "", fmt.Errorf("unsupported value type %d", plain[0])
	}
}

// InputBuilder accumulates plaintexts for a single encrypted input.
type InputBuilder struct {
	client   *Client
	contract common.Address
	user     common.Address
	values   [][]byte
}

func (b *InputBuilder) AddAddress(addr common.Address) *InputBuilder {
	b.values = append(b.values, EncodeValue(TypeAddress, addr.Bytes()))
	return b
}

// Encrypt seals the values to the network key and obtains handles plus the
// proof binding them to (contract, user).
func (b *InputBuilder) Encrypt(ctx context.Context) (*EncryptedInput, error) {
	if len(b.values) == 0 {
		return nil, errors.New("encrypted input has no values")
	}
	if len(b.values) > 255 {
		return nil, errors.New("encrypted input has too many values")
	}

	packed := []byte{byte(len(b.values))}
	for _, v := range b.values {
		packed = append(packed, byte(len(v)))
		packed = append(packed, v...)
	}
	cfg := b.client.config
	ciphertext, err := seal.Seal(cfg.PublicKey, packed, InputAAD(b.contract, b.user, cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("failed to seal input: %w", err)
	}

	resp, err := b.client.relayer.InputProof(ctx, &InputProofRequest{
		ContractAddress: b.contract,
		UserAddress:     b.user,
		ChainID:         cfg.ChainID,
		Ciphertext:      ciphertext,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Handles) != len(b.values) {
		return nil, fmt.Errorf("%w: expected %d handles, got %d", fault.ErrMalformedPayload, len(b.values), len(resp.Handles))
	}
	return &EncryptedInput{Handles: resp.Handles, InputProof: resp.InputProof}, nil
}

// UnpackInput reverses the value packing done by Encrypt.
func UnpackInput(packed []byte) ([][]byte, error) {
	if len(packed) == 0 {
		return nil, errors.New("empty input")
	}
	n := int(packed[0])
	rest := packed[1:]
	values := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if len(rest) == 0 {
			return nil, errors.New("truncated input")
		}
		l := int(rest[0])
		if len(rest) < 1+l {
			return nil, errors.New("truncated input value")
		}
		values = append(values, rest[1:1+l])
		rest = rest[1+l:]
	}
	if len(rest) != 0 {
		return nil, errors.New("trailing bytes in input")
	}
	return values, nil
}
