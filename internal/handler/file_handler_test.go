package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/fault"
	"confidential-storage/internal/fhe"
	"confidential-storage/internal/fhe/coprocessor"
	"confidential-storage/internal/middleware"
	"confidential-storage/internal/repository"
	"confidential-storage/internal/service"
	"confidential-storage/internal/storage"
	"confidential-storage/internal/wallet"
	"confidential-storage/pkg/jwt"
	"confidential-storage/pkg/response"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChainID = 11155111
	testSecret  = "handler-test-secret"
	testMaxSize = 4096
)

var testContract = common.HexToAddress("0x36bcD537F9e0bdD0Fe1c7544cB76ABd426120902")

type harness struct {
	router *mux.Router
	owner  common.Address
	token  string
	ipfs   *storage.MemoryNetwork
	net    *coprocessor.Network
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	network, err := coprocessor.New(coprocessor.Options{
		ChainID:           testChainID,
		VerifyingContract: common.HexToAddress("0x5ffdaAB0373E62E2ea2944776209aEf29E631A64"),
	})
	require.NoError(t, err)
	signer, err := wallet.GenerateKeySigner(testChainID)
	require.NoError(t, err)

	session := fhe.NewSession(fhe.NewRelayerProvider(network), fhe.SessionOptions{
		PollInterval: time.Millisecond,
		PollTimeout:  5 * time.Millisecond,
		MaxAttempts:  2,
		RetryDelay:   time.Millisecond,
	})
	builder := fhe.NewHandleBuilder(session)
	ledger := repository.NewMemoryFileRepository(testContract, network)
	ipfs := storage.NewMemoryNetwork("", testMaxSize)

	store := service.NewStoreService(ipfs, builder, ledger, signer.Address(), nil, service.StoreConfig{
		Contract:        testContract,
		MaxFileSize:     testMaxSize,
		ConfirmTimeout:  time.Second,
		ConfirmInterval: time.Millisecond,
	})
	reveals := service.NewRevealService(ledger, builder, signer, ipfs, nil, service.RevealConfig{
		Contract:     testContract,
		ValidityDays: 7,
	})
	files := service.NewFileService(ledger, reveals, ipfs, signer.Address())
	h := NewFileHandler(store, reveals, files, session, signer.Address(), testMaxSize)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/ipfs/gateway", h.Gateway).Methods("GET")
	api.HandleFunc("/session", h.Session).Methods("GET")
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(testSecret))
	protected.HandleFunc("/files", h.List).Methods("GET")
	protected.HandleFunc("/files", h.Store).Methods("POST")
	protected.HandleFunc("/files/{id}/reveal", h.Reveal).Methods("POST")
	protected.HandleFunc("/files/{id}/download", h.Download).Methods("GET")
	protected.HandleFunc("/session/reset", h.ResetSession).Methods("POST")

	token, err := jwt.GenerateToken(signer.Address().Hex(), time.Hour, testSecret)
	require.NoError(t, err)

	return &harness{router: r, owner: signer.Address(), token: token, ipfs: ipfs, net: network}
}

func (h *harness) do(t *testing.T, req *http.Request, token string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var body response.Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeData(t *testing.T, body response.Response, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(body.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestStoreRevealDownloadOverHTTP(t *testing.T) {
	h := newHarness(t)
	content := []byte("quarterly report, confidential")

	rec, body := h.do(t, uploadRequest(t, "report.txt", content), h.token)
	require.Equal(t, http.StatusCreated, rec.Code, body.Error)
	var stored domain.StoreResult
	decodeData(t, body, &stored)
	assert.Equal(t, domain.StoreDone, stored.States[len(stored.States)-1])

	rec, body = h.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil), h.token)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.FileResponse
	decodeData(t, body, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "report.txt", list[0].Filename)

	path := "/api/v1/files/" + jsonNumber(stored.FileID)
	rec, body = h.do(t, httptest.NewRequest(http.MethodPost, path+"/reveal", nil), h.token)
	require.Equal(t, http.StatusOK, rec.Code, body.Error)
	var revealed domain.RevealResult
	decodeData(t, body, &revealed)
	want, err := storage.ComputeCID(content)
	require.NoError(t, err)
	assert.Equal(t, want.String(), revealed.CID)
	assert.Equal(t, storage.GatewayURL(h.ipfs.Gateway(), want), revealed.GatewayURL)

	rec, _ = h.do(t, httptest.NewRequest(http.MethodGet, path+"/download", nil), h.token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, `attachment; filename=report.txt`, rec.Header().Get("Content-Disposition"))
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestStoreRejectsOversizedFile(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, uploadRequest(t, "big.bin", make([]byte, testMaxSize+1)), h.token)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "SizeLimitExceeded", body.Code)
	assert.Equal(t, int64(0), h.ipfs.Uploads())
	assert.Equal(t, int64(0), h.net.InputRequests())
}

func TestStoreRequiresFile(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", strings.NewReader("nothing"))
	req.Header.Set("Content-Type", "text/plain")
	rec, _ := h.do(t, req, h.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevealUnknownFile(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/files/42/reveal", nil), h.token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "FileNotFound", body.Code)
	assert.Equal(t, "File not found", body.Error)

	rec, _ = h.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/files/abc/reveal", nil), h.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenForAnotherWalletIsForbidden(t *testing.T) {
	h := newHarness(t)
	stranger, err := jwt.GenerateToken("0x1111111111111111111111111111111111111111", time.Hour, testSecret)
	require.NoError(t, err)

	rec, _ := h.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil), stranger)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = h.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGatewayAndSession(t *testing.T) {
	h := newHarness(t)
	c, err := storage.ComputeCID([]byte("hello"))
	require.NoError(t, err)

	rec, body := h.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ipfs/gateway?cid="+c.String(), nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var gw domain.GatewayResponse
	decodeData(t, body, &gw)
	assert.Equal(t, storage.DefaultPublicGateway, gw.Gateway)
	assert.Equal(t, storage.GatewayURL(gw.Gateway, c), gw.URL)

	rec, _ = h.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ipfs/gateway?cid=not-a-cid", nil), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = h.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sess domain.SessionResponse
	decodeData(t, body, &sess)
	assert.Equal(t, h.owner.Hex(), sess.Address)
	assert.False(t, sess.Ready)

	rec, _ = h.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/session/reset", nil), h.token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusForClasses(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: %w", fault.ErrUpload, fault.ErrSizeLimitExceeded), http.StatusRequestEntityTooLarge},
		{fault.ErrFileNotFound, http.StatusNotFound},
		{fault.ErrEmptyFilename, http.StatusBadRequest},
		{fault.ErrDecryptionDenied, http.StatusForbidden},
		{fmt.Errorf("%w: %w", fault.ErrLedgerSubmission, fault.ErrTransactionRejected), http.StatusForbidden},
		{fault.ErrEncryptionServiceUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", fault.ErrLedgerSubmission, fault.ErrNetwork), http.StatusServiceUnavailable},
		{fault.ErrAuthenticationFailure, http.StatusUnprocessableEntity},
		{fault.ErrUpload, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
