package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"confidential-storage/internal/fault"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ipfs/go-cid"
)

const (
	DefaultPinataAPIURL  = "https://api.pinata.cloud"
	DefaultPinataGateway = "https://gateway.pinata.cloud"
	DefaultPublicGateway = "https://ipfs.io"
)

type PinataConfig struct {
	APIURL     string
	GatewayURL string
	JWT        string
	MaxSize    int64
}

type PinataClient struct {
	apiURL  string
	gateway string
	token   string
	maxSize int64
	client  *http.Client
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func NewPinataClient(cfg PinataConfig) (*PinataClient, error) {
	if cfg.JWT == "" {
		return nil, fmt.Errorf("pinata: JWT is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultPinataAPIURL
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultPinataGateway
	}
	warnIfExpired(cfg.JWT)

	return &PinataClient{
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		gateway: strings.TrimRight(cfg.GatewayURL, "/"),
		token:   cfg.JWT,
		maxSize: cfg.MaxSize,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// warnIfExpired inspects the API token without verifying it; the signature
// is Pinata's to check.
func warnIfExpired(token string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Before(time.Now()) {
		slog.Warn("pinata token has expired", "expired_at", exp.Time)
	}
}

func (p *PinataClient) Gateway() string { return p.gateway }

func (p *PinataClient) Upload(ctx context.Context, data []byte, name string) (cid.Cid, error) {
	if err := CheckSize(int64(len(data)), p.maxSize); err != nil {
		return cid.Undef, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %w", fault.ErrUpload, err)
	}
	if _, err := fw.Write(data); err != nil {
		return cid.Undef, fmt.Errorf("%w: %w", fault.ErrUpload, err)
	}
	meta, _ := json.Marshal(map[string]string{"name": name})
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return cid.Undef, fmt.Errorf("%w: %w", fault.ErrUpload, err)
	}
	if err := mw.WriteField("pinataOptions", `{"cidVersion":1}`); err != nil {
		return cid.Undef, fmt.Errorf("%w: %w", fault.ErrUpload, err)
	}
	if err := mw.Close(); err != nil {
		return cid.Undef, fmt.Errorf("%w: %w", fault.ErrUpload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %w", fault.ErrUpload, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %w", fault.ErrUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return cid.Undef, fmt.Errorf("%w: status %d: %s", fault.ErrUpload, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var pin pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pin); err != nil {
		return cid.Undef, fmt.Errorf("%w: failed to decode response: %w", fault.ErrUpload, err)
	}
	c, err := cid.Decode(pin.IpfsHash)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: invalid cid %q: %w", fault.ErrUpload, pin.IpfsHash, err)
	}

	slog.Debug("pinned file", "cid", c.String(), "size", pin.PinSize)
	return c, nil
}

func (p *PinataClient) Fetch(ctx context.Context, c cid.Cid) ([]byte, error) {
	return fetchFromGateway(ctx, p.client, p.gateway, c, p.maxSize)
}

func fetchFromGateway(ctx context.Context, client *http.Client, gateway string, c cid.Cid, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxObjectSize
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GatewayURL(gateway, c), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fault.ErrStorageFetch, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fault.ErrStorageFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: gateway returned status %d", fault.ErrStorageFetch, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fault.ErrStorageFetch, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: content is over the size limit", fault.ErrStorageFetch)
	}
	if err := verifyContent(c, data); err != nil {
		return nil, fmt.Errorf("%w: %w", fault.ErrStorageFetch, err)
	}
	return data, nil
}

// GatewayClient is a read-only view of the network through a public
// gateway, used when no pinning credentials are configured.
type GatewayClient struct {
	gateway string
	maxSize int64
	client  *http.Client
}

func NewGatewayClient(gateway string, maxSize int64) *GatewayClient {
	if gateway == "" {
		gateway = DefaultPublicGateway
	}
	return &GatewayClient{
		gateway: strings.TrimRight(gateway, "/"),
		maxSize: maxSize,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (g *GatewayClient) Gateway() string { return g.gateway }

func (g *GatewayClient) Upload(ctx context.Context, data []byte, name string) (cid.Cid, error) {
	if err := CheckSize(int64(len(data)), g.maxSize); err != nil {
		return cid.Undef, err
	}
	return cid.Undef, fmt.Errorf("%w: no pinning service configured", fault.ErrUpload)
}

func (g *GatewayClient) Fetch(ctx context.Context, c cid.Cid) ([]byte, error) {
	return fetchFromGateway(ctx, g.client, g.gateway, c, g.maxSize)
}
