package repository

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"confidential-storage/internal/fault"
	"confidential-storage/internal/wallet"
)

// ClassifyLedgerError tags a failed ledger write with its sub-class so
// callers can tell a cancelled transaction from an unfunded account or a
// network problem. The result always matches fault.ErrLedgerSubmission.
func ClassifyLedgerError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fault.ErrLedgerSubmission) {
		return err
	}
	if class := ledgerClass(err); class != nil {
		return fmt.Errorf("%w: %w: %w", fault.ErrLedgerSubmission, class, err)
	}
	return fmt.Errorf("%w: %w", fault.ErrLedgerSubmission, err)
}

func ledgerClass(err error) error {
	for _, known := range []error{
		fault.ErrEmptyFilename,
		fault.ErrEmptyLocator,
		fault.ErrInvalidProof,
		fault.ErrInvalidRequest,
		fault.ErrTransactionRejected,
		fault.ErrInsufficientFunds,
		fault.ErrNetwork,
	} {
		if errors.Is(err, known) {
			return nil
		}
	}
	if errors.Is(err, wallet.ErrRejected) {
		return fault.ErrTransactionRejected
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.ErrNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"),
		strings.Contains(msg, "user denied"),
		strings.Contains(msg, "action_rejected"),
		strings.Contains(msg, "4001"):
		return fault.ErrTransactionRejected
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient balance"):
		return fault.ErrInsufficientFunds
	case strings.Contains(msg, "network"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "timeout"):
		return fault.ErrNetwork
	}
	return nil
}
