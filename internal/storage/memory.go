package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"confidential-storage/internal/fault"

	"github.com/ipfs/go-cid"
)

// MemoryNetwork keeps objects in process memory. Identical content yields
// the same CID.
type MemoryNetwork struct {
	gateway string
	maxSize int64

	mu      sync.RWMutex
	objects map[cid.Cid][]byte
	failing bool

	uploads atomic.Int64
}

func NewMemoryNetwork(gateway string, maxSize int64) *MemoryNetwork {
	if gateway == "" {
		gateway = DefaultPublicGateway
	}
	return &MemoryNetwork{
		gateway: gateway,
		maxSize: maxSize,
		objects: make(map[cid.Cid][]byte),
	}
}

func (m *MemoryNetwork) Gateway() string { return m.gateway }

// Uploads counts the uploads that reached the network.
func (m *MemoryNetwork) Uploads() int64 { return m.uploads.Load() }

// SetFailing makes uploads fail as an unreachable network would.
func (m *MemoryNetwork) SetFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.mu.Unlock()
}

func (m *MemoryNetwork) Upload(ctx context.Context, data []byte, name string) (cid.Cid, error) {
	if err := CheckSize(int64(len(data)), m.maxSize); err != nil {
		return cid.Undef, err
	}
	m.uploads.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return cid.Undef, fmt.Errorf("%w: network unreachable", fault.ErrUpload)
	}

	c, err := ComputeCID(data)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %w", fault.ErrUpload, err)
	}
	m.objects[c] = slices.Clone(data)
	return c, nil
}

func (m *MemoryNetwork) Fetch(ctx context.Context, c cid.Cid) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", fault.ErrStorageFetch, c)
	}
	return slices.Clone(data), nil
}
