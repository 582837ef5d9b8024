package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Handle is the ledger-visible reference to an FHE ciphertext.
type Handle [32]byte

func (h Handle) Hex() string { return hexutil.Encode(h[:]) }

func (h Handle) String() string { return h.Hex() }

func (h Handle) IsZero() bool { return h == Handle{} }

func (h Handle) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func ParseHandle(text string) (Handle, error) {
	b, err := hexutil.Decode(strings.TrimSpace(text))
	if err != nil {
		return Handle{}, fmt.Errorf("invalid handle: %w", err)
	}
	if len(b) != len(Handle{}) {
		return Handle{}, fmt.Errorf("invalid handle: %d bytes", len(b))
	}
	var h Handle
	copy(h[:], b)
	return h, nil
}

// FileRecord is owned by the ledger; this process only holds read copies.
type FileRecord struct {
	ID                      uint64         `json:"id"`
	Filename                string         `json:"filename"`
	EncryptedLocator        []byte         `json:"encrypted_locator"`
	EncryptedIdentityHandle Handle         `json:"encrypted_identity_handle"`
	Owner                   common.Address `json:"owner"`
	CreatedAt               time.Time      `json:"created_at"`
}

// ConfidentialHandle is produced once per store and consumed by the ledger.
type ConfidentialHandle struct {
	Handle     Handle `json:"handle"`
	InputProof []byte `json:"input_proof"`
}

// StoreFileInput is the single ledger write of a store operation.
type StoreFileInput struct {
	Owner            common.Address `json:"owner" validate:"required"`
	Filename         string         `json:"filename" validate:"required"`
	EncryptedLocator []byte         `json:"encrypted_locator" validate:"required"`
	Handle           Handle         `json:"handle" validate:"required"`
	InputProof       []byte         `json:"input_proof" validate:"required"`
}

type FileResponse struct {
	ID                      uint64    `json:"id"`
	Filename                string    `json:"filename"`
	EncryptedLocator        string    `json:"encrypted_locator"`
	EncryptedIdentityHandle string    `json:"encrypted_identity_handle"`
	Owner                   string    `json:"owner"`
	CreatedAt               time.Time `json:"created_at"`
}

func NewFileResponse(r *FileRecord) *FileResponse {
	return &FileResponse{
		ID:                      r.ID,
		Filename:                r.Filename,
		EncryptedLocator:        hexutil.Encode(r.EncryptedLocator),
		EncryptedIdentityHandle: r.EncryptedIdentityHandle.Hex(),
		Owner:                   r.Owner.Hex(),
		CreatedAt:               r.CreatedAt,
	}
}

type StoreResult struct {
	OperationID string        `json:"operation_id"`
	FileID      uint64        `json:"file_id"`
	Record      *FileResponse `json:"record,omitempty"`
	States      []StoreState  `json:"states"`
}

// RevealResult is cached per file id for the rest of the session.
type RevealResult struct {
	FileID     uint64 `json:"file_id"`
	Identity   string `json:"identity"`
	CID        string `json:"cid"`
	GatewayURL string `json:"gateway_url,omitempty"`
}

type GatewayResponse struct {
	Gateway string `json:"gateway"`
	URL     string `json:"url,omitempty"`
}

type SessionResponse struct {
	Address string `json:"address"`
	Ready   bool   `json:"ready"`
}
