package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/contract/internal/notify"
)

type recordingSender struct {
	name   string
	err    error
	mu     sync.Mutex
	events []string
}

func (r *recordingSender) Send(_ context.Context, event string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierIsolatesSenderFailures(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("down")}
	ok := &recordingSender{name: "ok"}

	n := notify.NewNotifier(discardLogger(), broken, nil, ok)
	err := n.Notify(context.Background(), notify.EventPositionOpened, map[string]string{"id": "x"})
	if err == nil {
		t.Fatal("expected combined error from broken sender")
	}
	if len(ok.events) != 1 || ok.events[0] != notify.EventPositionOpened {
		t.Errorf("healthy sender got %v, want one %s", ok.events, notify.EventPositionOpened)
	}
}

func TestNotifierNoSenders(t *testing.T) {
	n := notify.NewNotifier(discardLogger())
	if err := n.Notify(context.Background(), "x", nil); err != nil {
		t.Errorf("no senders should be a no-op, got %v", err)
	}
}

func TestWebhookSender(t *testing.T) {
	var got struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/events" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := notify.NewWebhookSender(srv.URL+"/", time.Second)
	if err := s.Send(context.Background(), notify.EventPositionOpened, map[string]string{"positionId": "p1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Event != notify.EventPositionOpened || got.Data["positionId"] != "p1" {
		t.Errorf("server received %+v", got)
	}
}

func TestWebhookSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := notify.NewWebhookSender(srv.URL, time.Second)
	if err := s.Send(context.Background(), "e", nil); err == nil {
		t.Error("expected error on 502")
	}
}
