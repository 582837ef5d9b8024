package domain

import "time"

type StoreState string

const (
	StoreIdle                          StoreState = "idle"
	StoreUploading                     StoreState = "uploading"
	StoreEncrypting                    StoreState = "encrypting"
	StoreAwaitingSignatureOrSubmission StoreState = "awaiting_signature_or_submission"
	StoreConfirming                    StoreState = "confirming"
	StoreDone                          StoreState = "done"
	StoreFailed                        StoreState = "failed"
)

func (s StoreState) Terminal() bool { return s == StoreDone || s == StoreFailed }

type RevealState string

const (
	RevealIdle                 RevealState = "idle"
	RevealAuthorizing          RevealState = "authorizing"
	RevealRequestingDecryption RevealState = "requesting_decryption"
	RevealDecrypting           RevealState = "decrypting"
	RevealRevealed             RevealState = "revealed"
	RevealFailed               RevealState = "failed"
)

func (s RevealState) Terminal() bool { return s == RevealRevealed || s == RevealFailed }

type OperationKind string

const (
	OperationStore  OperationKind = "store"
	OperationReveal OperationKind = "reveal"
)

// StatusEvent is pushed to the owner's connected clients on each transition.
type StatusEvent struct {
	OperationID string        `json:"operation_id"`
	Kind        OperationKind `json:"kind"`
	State       string        `json:"state"`
	FileID      uint64        `json:"file_id,omitempty"`
	Filename    string        `json:"filename,omitempty"`
	Message     string        `json:"message"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}
