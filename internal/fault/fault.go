// Package fault - error instances for the confidential-reference protocol
//
// Provides a single instance of each error so callers can classify a
// failure with errors.Is instead of partial string matches. Context is
// attached by wrapping: fmt.Errorf("%w: %w", fault.ErrUpload, cause).
package fault

import "errors"

// error base
type GenericError string

// to allow for different classes of errors
type InvalidError GenericError
type ProcessError GenericError
type DeniedError GenericError
type IntegrityError GenericError

// protocol errors - keep in alphabetic order
var (
	ErrAuthenticationFailure        = IntegrityError("authentication failure")
	ErrAuthorizationDeclined        = DeniedError("authorization declined")
	ErrDecryptionDenied             = DeniedError("decryption denied")
	ErrEmptyResult                  = IntegrityError("decryption result is empty")
	ErrEncryptionServiceUnavailable = ProcessError("encryption service unavailable")
	ErrLedgerSubmission             = ProcessError("ledger submission failed")
	ErrMalformedPayload             = IntegrityError("malformed encrypted payload")
	ErrSizeLimitExceeded            = InvalidError("file size exceeds limit")
	ErrUpload                       = ProcessError("upload to storage network failed")
)

// ledger and request errors
var (
	ErrEmptyFilename       = InvalidError("filename is empty")
	ErrEmptyLocator        = InvalidError("encrypted locator is empty")
	ErrFileNotFound        = InvalidError("file not found")
	ErrInsufficientFunds   = ProcessError("insufficient funds")
	ErrInvalidIdentity     = InvalidError("identity is invalid")
	ErrInvalidProof        = InvalidError("input proof is invalid")
	ErrInvalidRequest      = InvalidError("request is invalid")
	ErrNetwork             = ProcessError("network failure")
	ErrStorageFetch        = ProcessError("fetch from storage network failed")
	ErrTransactionRejected = DeniedError("transaction rejected")
)

// the error interface base method
func (e GenericError) Error() string { return string(e) }

// the error interface methods
func (e InvalidError) Error() string   { return string(e) }
func (e ProcessError) Error() string   { return string(e) }
func (e DeniedError) Error() string    { return string(e) }
func (e IntegrityError) Error() string { return string(e) }

// determine the class of an error anywhere in its chain
func IsErrInvalid(e error) bool   { var t InvalidError; return errors.As(e, &t) }
func IsErrProcess(e error) bool   { var t ProcessError; return errors.As(e, &t) }
func IsErrDenied(e error) bool    { var t DeniedError; return errors.As(e, &t) }
func IsErrIntegrity(e error) bool { var t IntegrityError; return errors.As(e, &t) }

// IsRetriable reports whether repeating the failed step may succeed.
// Integrity and authorization failures are surfaced, never retried.
func IsRetriable(e error) bool {
	if IsErrIntegrity(e) || IsErrDenied(e) {
		return false
	}
	return errors.Is(e, ErrEncryptionServiceUnavailable) || errors.Is(e, ErrNetwork)
}

// Kind names the taxonomy entry of an error for API consumers.
func Kind(e error) string {
	kinds := []struct {
		err  error
		name string
	}{
		{ErrSizeLimitExceeded, "SizeLimitExceeded"},
		{ErrUpload, "UploadError"},
		{ErrEncryptionServiceUnavailable, "EncryptionServiceUnavailable"},
		{ErrMalformedPayload, "MalformedPayload"},
		{ErrAuthenticationFailure, "AuthenticationFailure"},
		{ErrAuthorizationDeclined, "AuthorizationDeclined"},
		{ErrDecryptionDenied, "DecryptionDenied"},
		{ErrEmptyResult, "EmptyResult"},
		{ErrLedgerSubmission, "LedgerSubmissionError"},
		{ErrFileNotFound, "FileNotFound"},
		{ErrStorageFetch, "StorageFetchError"},
	}
	for _, k := range kinds {
		if errors.Is(e, k.err) {
			return k.name
		}
	}
	if IsErrInvalid(e) {
		return "InvalidRequest"
	}
	return "InternalError"
}
