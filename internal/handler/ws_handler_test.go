package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"confidential-storage/internal/domain"
	"confidential-storage/internal/websocket"
	"confidential-storage/pkg/jwt"

	"github.com/ethereum/go-ethereum/common"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketStreamsStatusEvents(t *testing.T) {
	manager := websocket.NewManager(5, time.Second, time.Minute, time.Minute)
	go manager.Run()
	t.Cleanup(manager.Stop)

	owner := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	token, err := jwt.GenerateToken(owner.Hex(), time.Hour, testSecret)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(NewWebSocketHandler(manager, testSecret, 1024, 1024).HandleConnection))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := ws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := ws.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello websocket.Message
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, websocket.TypeHello, hello.Type)

	manager.Notify(owner, &domain.StatusEvent{
		OperationID: "op-7",
		Kind:        domain.OperationReveal,
		State:       string(domain.RevealAuthorizing),
		Message:     "Sign the decryption request",
	})

	var msg websocket.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, websocket.TypeStatus, msg.Type)
	var ev domain.StatusEvent
	require.NoError(t, msg.UnmarshalPayload(&ev))
	assert.Equal(t, "op-7", ev.OperationID)
	assert.Equal(t, string(domain.RevealAuthorizing), ev.State)
}
