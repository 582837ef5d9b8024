// Package coprocessor is an in-process FHE co-processor network. It keeps
// ciphertexts and their access lists, issues input proofs, and serves user
// decryption requests the way the hosted relayer does. It backs the local
// relayer mode and the tests.
package coprocessor

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"
	"confidential-storage/internal/fhe"
	"confidential-storage/pkg/seal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const handleVersion = 0

type ciphertext struct {
	value    []byte
	contract common.Address
	user     common.Address
	verified bool
}

type Options struct {
	ChainID           int64
	VerifyingContract common.Address
	ACLContract       common.Address
	Now               func() time.Time
}

type Network struct {
	cfg     fhe.NetworkConfig
	encPriv []byte
	signer  *ecdsa.PrivateKey
	now     func() time.Time

	mu     sync.RWMutex
	values map[domain.Handle]*ciphertext
	acl    map[domain.Handle]map[common.Address]bool
	down   bool

	inputRequests   atomic.Int64
	decryptRequests atomic.Int64
}

var _ fhe.Relayer = (*Network)(nil)

func New(opts Options) (*Network, error) {
	if opts.ChainID <= 0 {
		return nil, errors.New("coprocessor: chain id required")
	}
	if opts.VerifyingContract == (common.Address{}) {
		return nil, errors.New("coprocessor: verifying contract required")
	}
	pub, priv, err := seal.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("coprocessor: network key: %w", err)
	}
	signer, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("coprocessor: signer key: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Network{
		cfg: fhe.NetworkConfig{
			ChainID:           opts.ChainID,
			VerifyingContract: opts.VerifyingContract,
			ACLContract:       opts.ACLContract,
			InputVerifier:     crypto.PubkeyToAddress(signer.PublicKey),
			PublicKey:         pub,
		},
		encPriv: priv,
		signer:  signer,
		now:     opts.Now,
		values:  make(map[domain.Handle]*ciphertext),
		acl:     make(map[domain.Handle]map[common.Address]bool),
	}, nil
}

// SetDown makes every request fail as if the network were unreachable.
func (n *Network) SetDown(down bool) {
	n.mu.Lock()
	n.down = down
	n.mu.Unlock()
}

func (n *Network) InputRequests() int64   { return n.inputRequests.Load() }
func (n *Network) DecryptRequests() int64 { return n.decryptRequests.Load() }

func (n *Network) available() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.down {
		return fault.ErrEncryptionServiceUnavailable
	}
	return nil
}

func (n *Network) NetworkConfig(ctx context.Context) (*fhe.NetworkConfig, error) {
	if err := n.available(); err != nil {
		return nil, err
	}
	cfg := n.cfg
	cfg.PublicKey = slices.Clone(n.cfg.PublicKey)
	return &cfg, nil
}

func (n *Network) InputProof(ctx context.Context, req *fhe.InputProofRequest) (*fhe.InputProofResponse, error) {
	if err := n.available(); err != nil {
		return nil, err
	}
	n.inputRequests.Add(1)

	if req.ChainID != n.cfg.ChainID {
		return nil, fmt.Errorf("%w: chain %d not served", fault.ErrInvalidRequest, req.ChainID)
	}
	packed, err := seal.Open(n.encPriv, req.Ciphertext, fhe.InputAAD(req.ContractAddress, req.UserAddress, req.ChainID))
	if err != nil {
		return nil, fmt.Errorf("%w: input does not verify: %w", fault.ErrInvalidRequest, err)
	}
	values, err := fhe.UnpackInput(packed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fault.ErrInvalidRequest, err)
	}

	digest := crypto.Keccak256(req.Ciphertext)
	handles := make([]domain.Handle, len(values))

	n.mu.Lock()
	for i, v := range values {
		if _, err := fhe.DecodeValue(v); err != nil {
			n.mu.Unlock()
			return nil, fmt.Errorf("%w: value %d: %w", fault.ErrInvalidRequest, i, err)
		}
		h := n.deriveHandle(digest, i, fhe.FheType(v[0]))
		handles[i] = h
		n.values[h] = &ciphertext{
			value:    slices.Clone(v),
			contract: req.ContractAddress,
			user:     req.UserAddress,
		}
	}
	n.mu.Unlock()

	proof, err := n.signProof(handles, req.ContractAddress, req.UserAddress)
	if err != nil {
		return nil, err
	}
	return &fhe.InputProofResponse{Handles: handles, InputProof: proof}, nil
}

// deriveHandle mirrors the on-chain handle layout: a hash prefix followed
// by the value index, chain id, type and version.
func (n *Network) deriveHandle(digest []byte, index int, t fhe.FheType) domain.Handle {
	var h domain.Handle
	copy(h[:], crypto.Keccak256(digest, []byte{byte(index)}))
	h[21] = byte(index)
	binary.BigEndian.PutUint64(h[22:30], uint64(n.cfg.ChainID))
	h[30] = byte(t)
	h[31] = handleVersion
	return h
}

func (n *Network) proofDigest(handles []domain.Handle, contract, user common.Address) []byte {
	buf := make([]byte, 0, len(handles)*32+2*common.AddressLength+8)
	for _, h := range handles {
		buf = append(buf, h[:]...)
	}
	buf = append(buf, contract.Bytes()...)
	buf = append(buf, user.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(n.cfg.ChainID))
	return crypto.Keccak256(buf)
}

// Proof layout: count(1) | signers(1) | handles(32*count) | signature(65).
func (n *Network) signProof(handles []domain.Handle, contract, user common.Address) ([]byte, error) {
	sig, err := crypto.Sign(n.proofDigest(handles, contract, user), n.signer)
	if err != nil {
		return nil, fmt.Errorf("failed to sign input proof: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	proof := []byte{byte(len(handles)), 1}
	for _, h := range handles {
		proof = append(proof, h[:]...)
	}
	return append(proof, sig...), nil
}

// VerifyInput checks that proof attests handle for (contract, submitter).
// The ledger calls it before accepting a stored handle.
func (n *Network) VerifyInput(handle domain.Handle, proof []byte, contract, submitter common.Address) error {
	if len(proof) < 2 {
		return fmt.Errorf("%w: proof too short", fault.ErrInvalidProof)
	}
	count := int(proof[0])
	if proof[1] != 1 || len(proof) != 2+count*32+crypto.SignatureLength {
		return fmt.Errorf("%w: malformed proof", fault.ErrInvalidProof)
	}
	handles := make([]domain.Handle, count)
	found := false
	for i := range handles {
		copy(handles[i][:], proof[2+i*32:])
		if handles[i] == handle {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: handle not covered by proof", fault.ErrInvalidProof)
	}

	sig := slices.Clone(proof[2+count*32:])
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(n.proofDigest(handles, contract, submitter), sig)
	if err != nil || crypto.PubkeyToAddress(*pub) != n.cfg.InputVerifier {
		return fmt.Errorf("%w: proof signature does not match", fault.ErrInvalidProof)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	ct, ok := n.values[handle]
	if !ok || ct.contract != contract || ct.user != submitter {
		return fmt.Errorf("%w: unknown ciphertext", fault.ErrInvalidProof)
	}
	ct.verified = true
	return nil
}

// Allow grants accounts persistent access to handle.
func (n *Network) Allow(handle domain.Handle, accounts ...common.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ct, ok := n.values[handle]
	if !ok || !ct.verified {
		return fmt.Errorf("%w: handle %s not verified", fault.ErrInvalidProof, handle)
	}
	set := n.acl[handle]
	if set == nil {
		set = make(map[common.Address]bool)
		n.acl[handle] = set
	}
	for _, a := range accounts {
		set[a] = true
	}
	return nil
}

func (n *Network) IsAllowed(handle domain.Handle, account common.Address) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.acl[handle][account]
}

func (n *Network) UserDecrypt(ctx context.Context, req *fhe.UserDecryptRequest) (*fhe.UserDecryptResponse, error) {
	if err := n.available(); err != nil {
		return nil, err
	}
	n.decryptRequests.Add(1)

	if err := n.authorize(req); err != nil {
		slog.Debug("user decrypt denied", "user", req.UserAddress.Hex(), "reason", err)
		return nil, fmt.Errorf("%w: %w", fault.ErrDecryptionDenied, err)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	resp := &fhe.UserDecryptResponse{}
	for _, pair := range req.HandleContractPairs {
		ct, ok := n.values[pair.Handle]
		if !ok {
			continue
		}
		if ct.contract != pair.ContractAddress {
			return nil, fmt.Errorf("%w: handle %s is not bound to %s", fault.ErrDecryptionDenied, pair.Handle, pair.ContractAddress.Hex())
		}
		acl := n.acl[pair.Handle]
		if !acl[req.UserAddress] || !acl[pair.ContractAddress] {
			return nil, fmt.Errorf("%w: %s may not decrypt %s", fault.ErrDecryptionDenied, req.UserAddress.Hex(), pair.Handle)
		}
		sealed, err := seal.Seal(req.PublicKey, ct.value, pair.Handle[:])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fault.ErrDecryptionDenied, err)
		}
		resp.Results = append(resp.Results, fhe.SealedValue{Handle: pair.Handle, Payload: sealed})
	}
	return resp, nil
}

func (n *Network) authorize(req *fhe.UserDecryptRequest) error {
	if req.ChainID != n.cfg.ChainID {
		return fmt.Errorf("chain %d not served", req.ChainID)
	}
	if req.DurationDays <= 0 || req.DurationDays > fhe.MaxDurationDays {
		return fmt.Errorf("duration of %d days out of range", req.DurationDays)
	}
	window := fhe.ValidityWindow{Start: time.Unix(req.StartTimestamp, 0), DurationDays: req.DurationDays}
	if !window.Contains(n.now()) {
		return errors.New("authorization window not valid now")
	}
	if len(req.ContractAddresses) == 0 {
		return errors.New("no contracts authorized")
	}
	if len(req.PublicKey) != seal.KeySize {
		return errors.New("invalid public key")
	}

	td := fhe.NewUserDecryptTypedData(n.cfg.ChainID, n.cfg.VerifyingContract, req.PublicKey, req.ContractAddresses, window)
	signer, err := fhe.RecoverTypedDataSigner(td, req.Signature)
	if err != nil {
		return err
	}
	if !bytes.Equal(signer.Bytes(), req.UserAddress.Bytes()) {
		return errors.New("signature is not from the requesting user")
	}

	for _, pair := range req.HandleContractPairs {
		if !slices.Contains(req.ContractAddresses, pair.ContractAddress) {
			return fmt.Errorf("contract %s not covered by authorization", pair.ContractAddress.Hex())
		}
	}
	return nil
}
