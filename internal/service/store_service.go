package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"
	"confidential-storage/internal/fhe"
	"confidential-storage/internal/identity"
	"confidential-storage/internal/locator"
	"confidential-storage/internal/repository"
	"confidential-storage/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

type StoreConfig struct {
	Contract        common.Address
	MaxFileSize     int64
	ConfirmTimeout  time.Duration
	ConfirmInterval time.Duration
}

type StoreService struct {
	network  storage.Network
	handles  *fhe.HandleBuilder
	files    repository.FileRepository
	owner    common.Address
	notifier StatusNotifier
	cfg      StoreConfig
}

func NewStoreService(
	network storage.Network,
	handles *fhe.HandleBuilder,
	files repository.FileRepository,
	owner common.Address,
	notifier StatusNotifier,
	cfg StoreConfig,
) *StoreService {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = storage.MaxObjectSize
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = 500 * time.Millisecond
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &StoreService{
		network:  network,
		handles:  handles,
		files:    files,
		owner:    owner,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Store uploads data, binds its CID to a fresh identity and records the
// result on the ledger. Every call creates a new, independent record.
func (s *StoreService) Store(ctx context.Context, filename string, data []byte) (*domain.StoreResult, error) {
	r := newRun(domain.OperationStore, s.owner, s.notifier)
	r.filename = filename
	result := &domain.StoreResult{OperationID: r.id}

	to := func(state domain.StoreState) {
		result.States = append(result.States, state)
		r.enter(string(state), storeMessages[state])
	}
	fail := func(err error) (*domain.StoreResult, error) {
		result.States = append(result.States, domain.StoreFailed)
		return result, r.fail(string(domain.StoreFailed), storeMessages[domain.StoreFailed], err)
	}

	to(domain.StoreIdle)
	if strings.TrimSpace(filename) == "" {
		return fail(fault.ErrEmptyFilename)
	}

	to(domain.StoreUploading)
	if err := storage.CheckSize(int64(len(data)), s.cfg.MaxFileSize); err != nil {
		return fail(fmt.Errorf("%w: %w", fault.ErrUpload, err))
	}
	c, err := s.network.Upload(ctx, data, filename)
	if err != nil {
		if !errors.Is(err, fault.ErrUpload) {
			err = fmt.Errorf("%w: %w", fault.ErrUpload, err)
		}
		return fail(err)
	}

	to(domain.StoreEncrypting)
	input, err := s.seal(ctx, filename, c.String())
	if err != nil {
		return fail(err)
	}

	to(domain.StoreAwaitingSignatureOrSubmission)
	pending, err := s.files.Submit(ctx, input)
	if err != nil {
		return fail(repository.ClassifyLedgerError(err))
	}

	to(domain.StoreConfirming)
	fileID, err := pending.Wait(ctx)
	if err != nil {
		return fail(repository.ClassifyLedgerError(err))
	}
	r.fileID = fileID
	result.FileID = fileID

	if rec := s.awaitVisible(ctx, fileID); rec != nil {
		result.Record = domain.NewFileResponse(rec)
	}

	to(domain.StoreDone)
	slog.Info("file stored", "operation_id", r.id, "file_id", fileID, "tx", pending.Reference())
	return result, nil
}

// seal mints the identity and produces both of its encrypted forms. The
// identity does not outlive this call.
func (s *StoreService) seal(ctx context.Context, filename, cidText string) (*domain.StoreFileInput, error) {
	id, err := identity.Mint()
	if err != nil {
		return nil, err
	}

	var (
		payload []byte
		handle  *domain.ConfidentialHandle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		payload, err = locator.Encrypt(id.String(), cidText)
		return err
	})
	g.Go(func() error {
		var err error
		handle, err = s.handles.BuildHandle(gctx, s.cfg.Contract, s.owner, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &domain.StoreFileInput{
		Owner:            s.owner,
		Filename:         filename,
		EncryptedLocator: payload,
		Handle:           handle.Handle,
		InputProof:       handle.InputProof,
	}, nil
}

// awaitVisible polls the owner's file list until fileID shows up or the
// confirmation timeout passes. A record that stays invisible is not an
// error; the ledger already accepted it.
func (s *StoreService) awaitVisible(ctx context.Context, fileID uint64) *domain.FileRecord {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.ConfirmInterval)
	defer ticker.Stop()

	for {
		records, err := s.files.ListByOwner(ctx, s.owner)
		if err != nil {
			slog.Debug("file list refresh failed", "file_id", fileID, "error", err)
		}
		for _, rec := range records {
			if rec.ID == fileID {
				return rec
			}
		}

		select {
		case <-ctx.Done():
			slog.Warn("stored file not yet visible", "file_id", fileID, "timeout", s.cfg.ConfirmTimeout)
			return nil
		case <-ticker.C:
		}
	}
}
