package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/service"
	"confidential-storage/pkg/response"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, r http.Handler, path string, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b)))
	var resp response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestAuthHandlerLoginFlow(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	h := NewAuthHandler(service.NewAuthService(addr, testSecret, time.Minute, time.Hour, time.Minute))
	r := mux.NewRouter()
	r.HandleFunc("/auth/challenge", h.Challenge).Methods("POST")
	r.HandleFunc("/auth/login", h.Login).Methods("POST")
	r.HandleFunc("/auth/refresh", h.Refresh).Methods("POST")

	rec, _ := postJSON(t, r, "/auth/challenge", map[string]string{"address": "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := postJSON(t, r, "/auth/challenge", map[string]string{"address": addr.Hex()})
	require.Equal(t, http.StatusOK, rec.Code)
	var ch domain.ChallengeResponse
	decodeData(t, body, &ch)

	sig, err := crypto.Sign(accounts.TextHash([]byte(ch.Message)), key)
	require.NoError(t, err)
	rec, body = postJSON(t, r, "/auth/login", map[string]string{"address": addr.Hex(), "signature": hexutil.Encode(sig)})
	require.Equal(t, http.StatusOK, rec.Code, body.Error)
	var login domain.LoginResponse
	decodeData(t, body, &login)
	assert.NotEmpty(t, login.AccessToken)

	rec, _ = postJSON(t, r, "/auth/refresh", map[string]string{"refresh_token": login.RefreshToken})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = postJSON(t, r, "/auth/refresh", map[string]string{"refresh_token": login.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
