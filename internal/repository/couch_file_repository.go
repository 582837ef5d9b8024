package repository

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-kivik/kivik/v4"
	"github.com/go-playground/validator/v10"
)

const (
	fileSequenceDocID = "sequence:file"
	maxSequenceRetry  = 5
)

type fileDoc struct {
	ID               string    `json:"_id,omitempty"`
	Rev              string    `json:"_rev,omitempty"`
	Type             string    `json:"type"`
	FileID           uint64    `json:"file_id"`
	Filename         string    `json:"filename"`
	EncryptedLocator string    `json:"encrypted_locator"`
	Handle           string    `json:"handle"`
	Owner            string    `json:"owner"`
	CreatedAt        time.Time `json:"created_at"`
}

type sequenceDoc struct {
	ID    string `json:"_id"`
	Rev   string `json:"_rev,omitempty"`
	Value uint64 `json:"value"`
}

type couchFileRepository struct {
	client   *kivik.Client
	dbName   string
	contract common.Address
	verifier InputVerifier
	validate *validator.Validate
}

// NewCouchFileRepository keeps the ledger as CouchDB documents keyed
// "file:<id>". Ids come from a sequence document updated under optimistic
// revision control.
func NewCouchFileRepository(client *kivik.Client, dbName string, contract common.Address, verifier InputVerifier) FileRepository {
	return &couchFileRepository{
		client:   client,
		dbName:   dbName,
		contract: contract,
		verifier: verifier,
		validate: validator.New(),
	}
}

func fileDocID(id uint64) string {
	return fmt.Sprintf("file:%d", id)
}

func (r *couchFileRepository) ListByOwner(ctx context.Context, owner common.Address) ([]*domain.FileRecord, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"type":  "file",
			"owner": strings.ToLower(owner.Hex()),
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var records []*domain.FileRecord
	for rows.Next() {
		var doc fileDoc
		if err := rows.ScanDoc(&doc); err != nil {
			docID, _ := rows.ID()
			slog.Warn("skipping unreadable file document", "doc", docID, "error", err)
			continue
		}
		rec, err := doc.record()
		if err != nil {
			slog.Warn("skipping malformed file document", "doc", doc.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return records, nil
}

func (r *couchFileRepository) Get(ctx context.Context, id uint64) (*domain.FileRecord, error) {
	db := r.client.DB(r.dbName)

	var doc fileDoc
	if err := db.Get(ctx, fileDocID(id)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %d", fault.ErrFileNotFound, id)
		}
		return nil, fmt.Errorf("failed to find file: %w", err)
	}

	return doc.record()
}

func (r *couchFileRepository) Submit(ctx context.Context, in *domain.StoreFileInput) (PendingSubmission, error) {
	if err := validateStoreInput(r.validate, in); err != nil {
		return nil, err
	}
	if err := acceptHandle(r.verifier, r.contract, in); err != nil {
		return nil, err
	}

	id, err := r.nextID(ctx)
	if err != nil {
		return nil, err
	}

	doc := &fileDoc{
		Type:             "file",
		FileID:           id,
		Filename:         in.Filename,
		EncryptedLocator: hexutil.Encode(in.EncryptedLocator),
		Handle:           in.Handle.Hex(),
		Owner:            strings.ToLower(in.Owner.Hex()),
		CreatedAt:        time.Now().UTC(),
	}

	docID := fileDocID(id)
	if _, err := r.client.DB(r.dbName).Put(ctx, docID, doc); err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &settledSubmission{ref: docID, id: id}, nil
}

func (r *couchFileRepository) nextID(ctx context.Context) (uint64, error) {
	db := r.client.DB(r.dbName)

	for attempt := 0; attempt < maxSequenceRetry; attempt++ {
		seq := sequenceDoc{ID: fileSequenceDocID}
		if err := db.Get(ctx, fileSequenceDocID).ScanDoc(&seq); err != nil {
			if kivik.HTTPStatus(err) != http.StatusNotFound {
				return 0, fmt.Errorf("failed to read file sequence: %w", err)
			}
			seq = sequenceDoc{ID: fileSequenceDocID}
		}

		seq.Value++
		_, err := db.Put(ctx, fileSequenceDocID, seq)
		if err == nil {
			return seq.Value, nil
		}
		if kivik.HTTPStatus(err) != http.StatusConflict {
			return 0, fmt.Errorf("failed to advance file sequence: %w", err)
		}
	}

	return 0, fmt.Errorf("failed to advance file sequence: too much contention")
}

func (d *fileDoc) record() (*domain.FileRecord, error) {
	locator, err := hexutil.Decode(d.EncryptedLocator)
	if err != nil {
		return nil, fmt.Errorf("file %d: bad locator: %w", d.FileID, err)
	}
	handle, err := domain.ParseHandle(d.Handle)
	if err != nil {
		return nil, fmt.Errorf("file %d: %w", d.FileID, err)
	}
	if !common.IsHexAddress(d.Owner) {
		return nil, fmt.Errorf("file %d: bad owner", d.FileID)
	}
	return &domain.FileRecord{
		ID:                      d.FileID,
		Filename:                d.Filename,
		EncryptedLocator:        locator,
		EncryptedIdentityHandle: handle,
		Owner:                   common.HexToAddress(d.Owner),
		CreatedAt:               d.CreatedAt,
	}, nil
}
