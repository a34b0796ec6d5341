package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/contract/internal/domain"
	"github.com/evetabi/contract/internal/ws"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

var secret = []byte("ws-test-secret")

func signedToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	s, err := tok.SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func dial(t *testing.T, srvURL, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srvURL, "http")
	if token != "" {
		u += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m.Type
}

func TestHubRoutesAddressedMessages(t *testing.T) {
	hub := ws.NewHub(secret, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()

	owner := uuid.New()
	ownerConn := dial(t, srv.URL, signedToken(t, owner))
	anonConn := dial(t, srv.URL, "")

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectedCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("clients not registered: %d", hub.ConnectedCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	p := &domain.Position{ID: uuid.New(), UserID: owner, Symbol: "BTCUSDT", Side: domain.SideBuyUp, Amount: decimal.NewFromInt(10)}
	settled := ws.NewPositionSettledMessage(p, domain.Settlement{Result: domain.ResultWin, ClosedAt: time.Now()})
	if err := hub.Send(ctx, string(ws.MsgTypePositionSettled), settled); err != nil {
		t.Fatalf("Send settled: %v", err)
	}
	if err := hub.Send(ctx, string(ws.MsgTypePositionOpened), ws.NewPositionOpenedMessage(p)); err != nil {
		t.Fatalf("Send opened: %v", err)
	}

	// direct and broadcast queues are independent, so order is not fixed
	seen := map[string]bool{readType(t, ownerConn): true, readType(t, ownerConn): true}
	if !seen[string(ws.MsgTypePositionSettled)] || !seen[string(ws.MsgTypePositionOpened)] {
		t.Errorf("owner received %v, want both settled and opened", seen)
	}
	// the anonymous client never sees the addressed message
	if got := readType(t, anonConn); got != string(ws.MsgTypePositionOpened) {
		t.Errorf("anonymous first message = %q, want opened", got)
	}
}
