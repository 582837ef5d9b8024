package repository

import (
	"context"
	"fmt"
	"strings"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// FileRepository is the ledger holding FileRecords. Records are immutable
// once the ledger accepts them.
type FileRepository interface {
	ListByOwner(ctx context.Context, owner common.Address) ([]*domain.FileRecord, error)
	Get(ctx context.Context, id uint64) (*domain.FileRecord, error)
	Submit(ctx context.Context, input *domain.StoreFileInput) (PendingSubmission, error)
}

// PendingSubmission is a ledger write that has been sent but not
// necessarily included yet.
type PendingSubmission interface {
	Reference() string
	Wait(ctx context.Context) (uint64, error)
}

// InputVerifier stands in for the on-chain input verification and ACL
// grant when the ledger is not a contract.
type InputVerifier interface {
	VerifyInput(handle domain.Handle, proof []byte, contract, submitter common.Address) error
	Allow(handle domain.Handle, accounts ...common.Address) error
}

type settledSubmission struct {
	ref string
	id  uint64
}

func (s *settledSubmission) Reference() string { return s.ref }

func (s *settledSubmission) Wait(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.id, nil
}

// validateStoreInput applies the ledger's acceptance rules.
func validateStoreInput(validate *validator.Validate, in *domain.StoreFileInput) error {
	if in == nil {
		return fmt.Errorf("%w: missing input", fault.ErrInvalidRequest)
	}
	if strings.TrimSpace(in.Filename) == "" {
		return fault.ErrEmptyFilename
	}
	if len(in.EncryptedLocator) == 0 {
		return fault.ErrEmptyLocator
	}
	if in.Handle.IsZero() || len(in.InputProof) == 0 {
		return fmt.Errorf("%w: missing handle or proof", fault.ErrInvalidProof)
	}
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", fault.ErrInvalidRequest, err)
	}
	return nil
}

// acceptHandle verifies the input proof and grants the contract and owner
// access, as the contract does on storeFile.
func acceptHandle(v InputVerifier, contract common.Address, in *domain.StoreFileInput) error {
	if v == nil {
		return nil
	}
	if err := v.VerifyInput(in.Handle, in.InputProof, contract, in.Owner); err != nil {
		return err
	}
	return v.Allow(in.Handle, contract, in.Owner)
}
