package service

import (
	"errors"
	"fmt"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"
)

// WorkflowError names the state a store or reveal failed in.
type WorkflowError struct {
	Operation domain.OperationKind
	State     string
	Err       error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s failed in state %s: %v", e.Operation, e.State, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// FailedState returns the state recorded in a WorkflowError anywhere in
// err's chain.
func FailedState(err error) (string, bool) {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.State, true
	}
	return "", false
}

// UserMessage renders err as something the file owner can act on.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, fault.ErrTransactionRejected):
		return "Transaction was cancelled"
	case errors.Is(err, fault.ErrAuthorizationDeclined):
		return "Signature request was declined"
	case errors.Is(err, fault.ErrInsufficientFunds):
		return "Insufficient funds to pay for the transaction"
	case errors.Is(err, fault.ErrNetwork):
		return "Network error. Please check your connection and try again"
	case errors.Is(err, fault.ErrSizeLimitExceeded):
		return "File is too large. Maximum size is 10 MB"
	case errors.Is(err, fault.ErrUpload):
		return "Failed to upload file to IPFS"
	case errors.Is(err, fault.ErrEncryptionServiceUnavailable):
		return "Encryption service is not available. Please try again later"
	case errors.Is(err, fault.ErrDecryptionDenied):
		return "You are not authorized to decrypt this file"
	case errors.Is(err, fault.ErrEmptyResult),
		errors.Is(err, fault.ErrAuthenticationFailure),
		errors.Is(err, fault.ErrMalformedPayload):
		return "The stored reference for this file is corrupted"
	case errors.Is(err, fault.ErrFileNotFound):
		return "File not found"
	case errors.Is(err, fault.ErrEmptyFilename):
		return "Filename must not be empty"
	case errors.Is(err, fault.ErrStorageFetch):
		return "Failed to download file from IPFS"
	case errors.Is(err, fault.ErrLedgerSubmission):
		return "Transaction failed"
	default:
		return "An unexpected error occurred"
	}
}
