package fhe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"
	"confidential-storage/internal/identity"
	"confidential-storage/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TypedDataSigner is the wallet capability needed to authorize decryption.
type TypedDataSigner interface {
	Address() common.Address
	SignTypedData(ctx context.Context, td *apitypes.TypedData) ([]byte, error)
}

// HandleBuilder turns identities into confidential handles and back.
type HandleBuilder struct {
	session *Session
}

func NewHandleBuilder(session *Session) *HandleBuilder {
	return &HandleBuilder{session: session}
}

func (b *HandleBuilder) Session() *Session { return b.session }

// BuildHandle encrypts id for use by contract on behalf of submitter.
func (b *HandleBuilder) BuildHandle(ctx context.Context, contract, submitter common.Address, id identity.Identity) (*domain.ConfidentialHandle, error) {
	if id.IsZero() {
		return nil, fault.ErrInvalidIdentity
	}
	client, err := b.session.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}

	input, err := client.CreateEncryptedInput(contract, submitter).AddAddress(id.Address()).Encrypt(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.ConfidentialHandle{Handle: input.Handles[0], InputProof: input.InputProof}, nil
}

// Authorize produces a single-use grant: a fresh keypair and the signer's
// approval to decrypt values of contracts within [now, now+days).
func (b *HandleBuilder) Authorize(ctx context.Context, signer TypedDataSigner, contracts []common.Address, now time.Time, days int) (*DecryptionGrant, error) {
	if len(contracts) == 0 {
		return nil, fmt.Errorf("%w: no contracts to authorize", fault.ErrInvalidRequest)
	}
	window, err := NewValidityWindow(now, days)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fault.ErrInvalidRequest, err)
	}

	client, err := b.session.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}
	kp, err := client.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	td := client.CreateEIP712(kp.PublicKey, contracts, window)
	sig, err := signer.SignTypedData(ctx, td)
	if err != nil {
		return nil, signFailure(err)
	}

	return &DecryptionGrant{
		Keypair:   kp,
		Window:    window,
		Contracts: append([]common.Address(nil), contracts...),
		Signature: sig,
	}, nil
}

// signFailure reports a refusal by the wallet owner as a declined
// authorization. Cancellation and transport failures keep their own class.
func signFailure(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to sign decryption request: %w", err)
	}
	if errors.Is(err, wallet.ErrRejected) {
		return fmt.Errorf("%w: %w", fault.ErrAuthorizationDeclined, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied") {
		return fmt.Errorf("%w: %w", fault.ErrAuthorizationDeclined, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", fault.ErrNetwork, err)
	}
	return fmt.Errorf("failed to sign decryption request: %w", err)
}

// RequestReveal decrypts handle, bound to contract, under grant. The result
// is the identity text.
func (b *HandleBuilder) RequestReveal(ctx context.Context, handle domain.Handle, contract common.Address, grant *DecryptionGrant, requester common.Address) (string, error) {
	if grant == nil || grant.Keypair == nil {
		return "", errors.New("missing decryption grant")
	}
	client, err := b.session.EnsureReady(ctx)
	if err != nil {
		return "", err
	}

	results, err := client.UserDecrypt(ctx, []HandleContractPair{{Handle: handle, ContractAddress: contract}}, grant, requester)
	if err != nil {
		return "", err
	}
	value, ok := results[handle]
	if !ok || value == "" {
		return "", fmt.Errorf("%w: no value for handle %s", fault.ErrEmptyResult, handle)
	}
	return value, nil
}
