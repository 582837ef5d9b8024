package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/pkg/jwt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/patrickmn/go-cache"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownWallet      = errors.New("wallet is not served by this instance")
)

// AuthService issues API tokens to whoever proves control of the served
// wallet by signing a one-time challenge.
type AuthService struct {
	wallet            common.Address
	jwtSecret         string
	jwtExpiration     time.Duration
	refreshExpiration time.Duration
	challengeTTL      time.Duration
	challenges        *cache.Cache
	now               func() time.Time
}

func NewAuthService(wallet common.Address, jwtSecret string, jwtExp, refreshExp, challengeTTL time.Duration) *AuthService {
	if challengeTTL <= 0 {
		challengeTTL = 5 * time.Minute
	}
	return &AuthService{
		wallet:            wallet,
		jwtSecret:         jwtSecret,
		jwtExpiration:     jwtExp,
		refreshExpiration: refreshExp,
		challengeTTL:      challengeTTL,
		challenges:        cache.New(challengeTTL, 2*challengeTTL),
		now:               time.Now,
	}
}

func challengeKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func (s *AuthService) Challenge(req *domain.ChallengeRequest) (*domain.ChallengeResponse, error) {
	addr := common.HexToAddress(req.Address)
	if addr != s.wallet {
		return nil, ErrUnknownWallet
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	expiresAt := s.now().Add(s.challengeTTL).UTC()
	message := fmt.Sprintf("Sign in to Confidential Storage\n\nWallet: %s\nNonce: %s\nExpires: %s",
		addr.Hex(), hexutil.Encode(nonce), expiresAt.Format(time.RFC3339))

	s.challenges.Set(challengeKey(addr), message, s.challengeTTL)

	return &domain.ChallengeResponse{Message: message, ExpiresAt: expiresAt}, nil
}

// Login consumes the pending challenge of the address; a challenge
// answers at most one login attempt.
func (s *AuthService) Login(req *domain.LoginRequest) (*domain.LoginResponse, error) {
	addr := common.HexToAddress(req.Address)
	key := challengeKey(addr)

	v, ok := s.challenges.Get(key)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	s.challenges.Delete(key)

	sig, err := hexutil.Decode(req.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return nil, ErrInvalidCredentials
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(v.(string))), sig)
	if err != nil || crypto.PubkeyToAddress(*pub) != addr {
		return nil, ErrInvalidCredentials
	}

	return s.Issue(addr)
}

// Issue mints a token pair for addr without a challenge.
func (s *AuthService) Issue(addr common.Address) (*domain.LoginResponse, error) {
	accessToken, err := jwt.GenerateToken(addr.Hex(), s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := jwt.GenerateRefreshToken(addr.Hex(), s.refreshExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &domain.LoginResponse{
		Address:      addr.Hex(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtExpiration.Seconds()),
	}, nil
}

func (s *AuthService) RefreshToken(req *domain.RefreshTokenRequest) (*domain.TokenResponse, error) {
	claims, err := jwt.ValidateRefreshToken(req.RefreshToken, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token")
	}

	accessToken, err := jwt.GenerateToken(claims.UserID, s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwtExpiration.Seconds()),
	}, nil
}
