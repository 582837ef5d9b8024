package fhe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"confidential-storage/internal/fault"

	"golang.org/x/sync/singleflight"
)

// Provider reports whether the co-processor is reachable and produces the
// client once it is.
type Provider interface {
	Ready(ctx context.Context) error
	Init(ctx context.Context) (*Client, error)
}

type relayerProvider struct {
	relayer Relayer
}

// NewRelayerProvider treats the relayer as ready once it serves the network
// config.
func NewRelayerProvider(r Relayer) Provider {
	return &relayerProvider{relayer: r}
}

func (p *relayerProvider) Ready(ctx context.Context) error {
	_, err := p.relayer.NetworkConfig(ctx)
	return err
}

func (p *relayerProvider) Init(ctx context.Context) (*Client, error) {
	cfg, err := p.relayer.NetworkConfig(ctx)
	if err != nil {
		return nil, err
	}
	return newClient(p.relayer, cfg)
}

type SessionOptions struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		PollInterval: 100 * time.Millisecond,
		PollTimeout:  10 * time.Second,
		MaxAttempts:  10,
		RetryDelay:   time.Second,
	}
}

// Session owns the single co-processor client of the process. Concurrent
// callers share one in-flight bootstrap; a successful bootstrap is kept for
// the life of the session, a failed one is not.
type Session struct {
	provider Provider
	opts     SessionOptions
	group    singleflight.Group

	mu     sync.RWMutex
	client *Client
}

func NewSession(provider Provider, opts SessionOptions) *Session {
	d := DefaultSessionOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = d.PollInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = d.PollTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = d.MaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	return &Session{provider: provider, opts: opts}
}

// Ready reports whether the client has been initialized.
func (s *Session) Ready() bool {
	return s.current() != nil
}

func (s *Session) current() *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// EnsureReady returns the initialized client, bootstrapping it on first use.
// A caller whose ctx ends stops waiting; the shared bootstrap carries on for
// the others.
func (s *Session) EnsureReady(ctx context.Context) (*Client, error) {
	if c := s.current(); c != nil {
		return c, nil
	}

	ch := s.group.DoChan("bootstrap", func() (interface{}, error) {
		if c := s.current(); c != nil {
			return c, nil
		}
		return s.bootstrap(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", fault.ErrEncryptionServiceUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	}
}

func (s *Session) bootstrap(ctx context.Context) (*Client, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		lastErr = s.waitReady(ctx)
		if lastErr == nil {
			break
		}
		slog.Warn("encryption service not ready", "attempt", attempt, "max_attempts", s.opts.MaxAttempts, "error", lastErr)
		if attempt < s.opts.MaxAttempts {
			if err := sleep(ctx, s.opts.RetryDelay); err != nil {
				return nil, fmt.Errorf("%w: %w", fault.ErrEncryptionServiceUnavailable, err)
			}
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: gave up after %d attempts: %w", fault.ErrEncryptionServiceUnavailable, s.opts.MaxAttempts, lastErr)
	}

	client, err := s.provider.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: init: %w", fault.ErrEncryptionServiceUnavailable, err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	cfg := client.Config()
	slog.Info("encryption service ready",
		"chain_id", cfg.ChainID,
		"verifying_contract", cfg.VerifyingContract.Hex(),
	)
	return client, nil
}

// waitReady polls the provider until it reports ready or PollTimeout passes.
func (s *Session) waitReady(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, s.opts.PollTimeout)
	defer cancel()

	lastErr := s.provider.Ready(pollCtx)
	if lastErr == nil {
		return nil
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return fmt.Errorf("not ready within %s: %w", s.opts.PollTimeout, lastErr)
		case <-ticker.C:
			if lastErr = s.provider.Ready(pollCtx); lastErr == nil {
				return nil
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
