package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"
	"confidential-storage/internal/fhe"
	"confidential-storage/internal/identity"
	"confidential-storage/internal/locator"
	"confidential-storage/internal/repository"
	"confidential-storage/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

type RevealConfig struct {
	Contract     common.Address
	ValidityDays int
}

type RevealService struct {
	files    repository.FileRepository
	handles  *fhe.HandleBuilder
	signer   fhe.TypedDataSigner
	network  storage.Network
	notifier StatusNotifier
	cfg      RevealConfig

	// revealed entries never expire; only Reset drops them.
	revealed *cache.Cache
	inflight singleflight.Group
	now      func() time.Time
}

func NewRevealService(
	files repository.FileRepository,
	handles *fhe.HandleBuilder,
	signer fhe.TypedDataSigner,
	network storage.Network,
	notifier StatusNotifier,
	cfg RevealConfig,
) *RevealService {
	if cfg.ValidityDays <= 0 {
		cfg.ValidityDays = 7
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &RevealService{
		files:    files,
		handles:  handles,
		signer:   signer,
		network:  network,
		notifier: notifier,
		cfg:      cfg,
		revealed: cache.New(cache.NoExpiration, 0),
		now:      time.Now,
	}
}

func cacheKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// Cached returns the reveal of id if this session already produced one.
func (s *RevealService) Cached(id uint64) (*domain.RevealResult, bool) {
	v, ok := s.revealed.Get(cacheKey(id))
	if !ok {
		return nil, false
	}
	res := v.(domain.RevealResult)
	return &res, true
}

// Reset forgets every reveal of this session.
func (s *RevealService) Reset() {
	s.revealed.Flush()
}

func (s *RevealService) RevealByID(ctx context.Context, id uint64) (*domain.RevealResult, error) {
	if res, ok := s.Cached(id); ok {
		return res, nil
	}
	rec, err := s.files.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Reveal(ctx, rec)
}

// Reveal recovers the CID behind rec. Repeat calls for the same record are
// served from the session cache; concurrent calls share one attempt. A caller
// whose ctx ends stops waiting while the shared attempt carries on for the
// others.
func (s *RevealService) Reveal(ctx context.Context, rec *domain.FileRecord) (*domain.RevealResult, error) {
	if res, ok := s.Cached(rec.ID); ok {
		return res, nil
	}

	ch := s.inflight.DoChan(cacheKey(rec.ID), func() (interface{}, error) {
		if res, ok := s.Cached(rec.ID); ok {
			return *res, nil
		}
		return s.reveal(context.WithoutCancel(ctx), rec)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return nil, out.Err
		}
		res := out.Val.(domain.RevealResult)
		return &res, nil
	}
}

func (s *RevealService) reveal(ctx context.Context, rec *domain.FileRecord) (domain.RevealResult, error) {
	r := newRun(domain.OperationReveal, s.signer.Address(), s.notifier)
	r.fileID = rec.ID
	r.filename = rec.Filename

	to := func(state domain.RevealState) {
		r.enter(string(state), revealMessages[state])
	}
	fail := func(err error) (domain.RevealResult, error) {
		return domain.RevealResult{}, r.fail(string(domain.RevealFailed), revealMessages[domain.RevealFailed], err)
	}

	to(domain.RevealIdle)
	if len(rec.EncryptedLocator) == 0 || rec.EncryptedIdentityHandle.IsZero() {
		return fail(fmt.Errorf("%w: record %d has no encrypted reference", fault.ErrMalformedPayload, rec.ID))
	}

	to(domain.RevealAuthorizing)
	contracts := []common.Address{s.cfg.Contract}
	grant, err := s.handles.Authorize(ctx, s.signer, contracts, s.now(), s.cfg.ValidityDays)
	if err != nil {
		return fail(err)
	}

	to(domain.RevealRequestingDecryption)
	idText, err := s.handles.RequestReveal(ctx, rec.EncryptedIdentityHandle, s.cfg.Contract, grant, s.signer.Address())
	if err != nil {
		return fail(err)
	}
	id, err := identity.Parse(idText)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", fault.ErrMalformedPayload, err))
	}

	to(domain.RevealDecrypting)
	cidText, err := locator.Decrypt(id.String(), rec.EncryptedLocator)
	if err != nil {
		return fail(err)
	}
	c, err := storage.ParseCID(cidText)
	if err != nil {
		return fail(fmt.Errorf("%w: decrypted reference is not a cid", fault.ErrMalformedPayload))
	}

	res := domain.RevealResult{
		FileID:     rec.ID,
		Identity:   id.String(),
		CID:        c.String(),
		GatewayURL: storage.GatewayURL(s.network.Gateway(), c),
	}
	s.revealed.Set(cacheKey(rec.ID), res, cache.NoExpiration)

	to(domain.RevealRevealed)
	return res, nil
}
