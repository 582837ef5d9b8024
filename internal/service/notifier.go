package service

import (
	"log/slog"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// StatusNotifier receives every workflow transition for an owner.
type StatusNotifier interface {
	Notify(owner common.Address, event *domain.StatusEvent)
}

type nopNotifier struct{}

func (nopNotifier) Notify(common.Address, *domain.StatusEvent) {}

var storeMessages = map[domain.StoreState]string{
	domain.StoreIdle:                          "Preparing upload",
	domain.StoreUploading:                     "Uploading file to IPFS",
	domain.StoreEncrypting:                    "Encrypting file reference",
	domain.StoreAwaitingSignatureOrSubmission: "Submitting transaction",
	domain.StoreConfirming:                    "Waiting for confirmation",
	domain.StoreDone:                          "File stored successfully",
	domain.StoreFailed:                        "Store failed",
}

var revealMessages = map[domain.RevealState]string{
	domain.RevealIdle:                 "Preparing decryption",
	domain.RevealAuthorizing:          "Sign the decryption request",
	domain.RevealRequestingDecryption: "Requesting decryption",
	domain.RevealDecrypting:           "Decrypting file reference",
	domain.RevealRevealed:             "File reference revealed",
	domain.RevealFailed:               "Reveal failed",
}

// run tracks one workflow instance and reports its transitions.
type run struct {
	id       string
	kind     domain.OperationKind
	owner    common.Address
	fileID   uint64
	filename string
	state    string
	notifier StatusNotifier
}

func newRun(kind domain.OperationKind, owner common.Address, notifier StatusNotifier) *run {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &run{id: uuid.NewString(), kind: kind, owner: owner, notifier: notifier}
}

func (r *run) enter(state, message string) {
	r.state = state
	slog.Debug("workflow transition",
		"operation", r.kind,
		"operation_id", r.id,
		"state", state,
		"file_id", r.fileID,
	)
	r.notifier.Notify(r.owner, r.event(state, message, nil))
}

// fail reports err against the current state and returns it wrapped.
func (r *run) fail(failedState, message string, err error) error {
	wrapped := &WorkflowError{Operation: r.kind, State: r.state, Err: err}
	slog.Warn("workflow failed",
		"operation", r.kind,
		"operation_id", r.id,
		"state", r.state,
		"file_id", r.fileID,
		"kind", fault.Kind(err),
		"error", err,
	)
	r.notifier.Notify(r.owner, r.event(failedState, message, err))
	return wrapped
}

func (r *run) event(state, message string, err error) *domain.StatusEvent {
	ev := &domain.StatusEvent{
		OperationID: r.id,
		Kind:        r.kind,
		State:       state,
		FileID:      r.fileID,
		Filename:    r.filename,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	}
	if err != nil {
		ev.Error = UserMessage(err)
		ev.ErrorKind = fault.Kind(err)
	}
	return ev
}
