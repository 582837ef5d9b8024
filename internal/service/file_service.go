package service

import (
	"context"
	"sort"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/repository"
	"confidential-storage/internal/storage"

	"github.com/ethereum/go-ethereum/common"
)

type FileService struct {
	files   repository.FileRepository
	reveals *RevealService
	network storage.Network
	owner   common.Address
}

func NewFileService(files repository.FileRepository, reveals *RevealService, network storage.Network, owner common.Address) *FileService {
	return &FileService{
		files:   files,
		reveals: reveals,
		network: network,
		owner:   owner,
	}
}

// List returns the owner's files, newest first.
func (s *FileService) List(ctx context.Context) ([]*domain.FileResponse, error) {
	records, err := s.files.ListByOwner(ctx, s.owner)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	responses := make([]*domain.FileResponse, len(records))
	for i, rec := range records {
		responses[i] = domain.NewFileResponse(rec)
	}
	return responses, nil
}

func (s *FileService) Gateway() *domain.GatewayResponse {
	return &domain.GatewayResponse{Gateway: s.network.Gateway()}
}

// GatewayURL is the public view URL of a CID given as text.
func (s *FileService) GatewayURL(cidText string) (string, error) {
	c, err := storage.ParseCID(cidText)
	if err != nil {
		return "", err
	}
	return storage.GatewayURL(s.network.Gateway(), c), nil
}

// Download reveals the file's CID if needed and fetches its content.
func (s *FileService) Download(ctx context.Context, id uint64) (string, []byte, error) {
	rec, err := s.files.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	res, err := s.reveals.Reveal(ctx, rec)
	if err != nil {
		return "", nil, err
	}
	c, err := storage.ParseCID(res.CID)
	if err != nil {
		return "", nil, err
	}
	data, err := s.network.Fetch(ctx, c)
	if err != nil {
		return "", nil, err
	}
	return rec.Filename, data, nil
}
