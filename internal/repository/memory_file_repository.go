package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// MemoryFileRepository is a process-local ledger.
type MemoryFileRepository struct {
	contract common.Address
	verifier InputVerifier
	validate *validator.Validate
	now      func() time.Time

	mu      sync.RWMutex
	records []*domain.FileRecord
	nextID  uint64
	// hidden maps a record id to the number of list calls it stays invisible for.
	hidden  map[uint64]int
	listLag int
}

func NewMemoryFileRepository(contract common.Address, verifier InputVerifier) *MemoryFileRepository {
	return &MemoryFileRepository{
		contract: contract,
		verifier: verifier,
		validate: validator.New(),
		now:      time.Now,
		nextID:   1,
		hidden:   make(map[uint64]int),
	}
}

// SetListLag hides each new record from the next n ListByOwner calls, the
// way a lagging read replica would.
func (r *MemoryFileRepository) SetListLag(n int) {
	r.mu.Lock()
	r.listLag = n
	r.mu.Unlock()
}

func (r *MemoryFileRepository) ListByOwner(ctx context.Context, owner common.Address) ([]*domain.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.FileRecord
	for _, rec := range r.records {
		if rec.Owner != owner {
			continue
		}
		if n := r.hidden[rec.ID]; n > 0 {
			r.hidden[rec.ID] = n - 1
			continue
		}
		out = append(out, copyRecord(rec))
	}
	return out, nil
}

func (r *MemoryFileRepository) Get(ctx context.Context, id uint64) (*domain.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return copyRecord(rec), nil
		}
	}
	return nil, fmt.Errorf("%w: %d", fault.ErrFileNotFound, id)
}

func (r *MemoryFileRepository) Submit(ctx context.Context, in *domain.StoreFileInput) (PendingSubmission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateStoreInput(r.validate, in); err != nil {
		return nil, err
	}
	if err := acceptHandle(r.verifier, r.contract, in); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &domain.FileRecord{
		ID:                      r.nextID,
		Filename:                in.Filename,
		EncryptedLocator:        slices.Clone(in.EncryptedLocator),
		EncryptedIdentityHandle: in.Handle,
		Owner:                   in.Owner,
		CreatedAt:               r.now().UTC(),
	}
	r.nextID++
	r.records = append(r.records, rec)
	if r.listLag > 0 {
		r.hidden[rec.ID] = r.listLag
	}
	return &settledSubmission{ref: fmt.Sprintf("memory:%d", rec.ID), id: rec.ID}, nil
}

func copyRecord(rec *domain.FileRecord) *domain.FileRecord {
	c := *rec
	c.EncryptedLocator = slices.Clone(rec.EncryptedLocator)
	return &c
}
