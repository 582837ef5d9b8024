// Package storage moves file content to and from a content-addressed
// storage network. Content is public once uploaded; only its CID is kept
// secret, and that happens elsewhere.
package storage

import (
	"context"
	"fmt"
	"strings"

	"confidential-storage/internal/fault"

	"github.com/dustin/go-humanize"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// MaxObjectSize is the largest file accepted for upload.
const MaxObjectSize int64 = 10 << 20

type Network interface {
	Upload(ctx context.Context, data []byte, name string) (cid.Cid, error)
	Fetch(ctx context.Context, c cid.Cid) ([]byte, error)
	// Gateway is the base URL files can be viewed through.
	Gateway() string
}

// CheckSize fails with fault.ErrSizeLimitExceeded when size is over limit.
// A limit of zero or less means MaxObjectSize.
func CheckSize(size, limit int64) error {
	if limit <= 0 {
		limit = MaxObjectSize
	}
	if size > limit {
		return fmt.Errorf("%w: %s is over the %s limit", fault.ErrSizeLimitExceeded,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)))
	}
	return nil
}

func ParseCID(text string) (cid.Cid, error) {
	c, err := cid.Decode(strings.TrimSpace(text))
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: invalid cid: %w", fault.ErrInvalidRequest, err)
	}
	return c, nil
}

// ComputeCID addresses raw bytes the way a CIDv1 raw-leaf upload does.
func ComputeCID(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// GatewayURL is where content c can be viewed through gateway.
func GatewayURL(gateway string, c cid.Cid) string {
	return strings.TrimRight(gateway, "/") + "/ipfs/" + c.String()
}

// verifyContent checks data against c when c addresses raw bytes. Other
// codecs wrap the content in a DAG and are trusted as served.
func verifyContent(c cid.Cid, data []byte) error {
	if c.Prefix().Codec != cid.Raw {
		return nil
	}
	got, err := c.Prefix().Sum(data)
	if err != nil {
		return err
	}
	if !got.Equals(c) {
		return fmt.Errorf("content does not match %s", c)
	}
	return nil
}
