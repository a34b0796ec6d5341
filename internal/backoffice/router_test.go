package backoffice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evetabi/contract/internal/backoffice"
	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/evetabi/contract/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeQueue struct {
	enqueued  []domain.Result
	createdBy string
}

func (f *fakeQueue) Enqueue(_ context.Context, r domain.Result, n int, by string) ([]*domain.SessionControl, error) {
	f.createdBy = by
	out := make([]*domain.SessionControl, 0, n)
	for i := 0; i < n; i++ {
		f.enqueued = append(f.enqueued, r)
		out = append(out, &domain.SessionControl{ID: uuid.New(), Final: r, Required: true, CreatedAt: time.Now()})
	}
	return out, nil
}

func (f *fakeQueue) Cancel(context.Context, uuid.UUID) error { return domain.ErrSessionControlNotFound }

func (f *fakeQueue) List(context.Context, bool, int, int) ([]*domain.SessionControl, error) {
	return []*domain.SessionControl{}, nil
}

func (f *fakeQueue) CountPending(context.Context) (int, error) { return len(f.enqueued), nil }

type fakePositions struct{}

func (fakePositions) List(context.Context, domain.PositionFilter) ([]*domain.Position, error) {
	return []*domain.Position{}, nil
}
func (fakePositions) Count(context.Context, domain.PositionFilter) (int, error) { return 3, nil }
func (fakePositions) GetByID(context.Context, uuid.UUID) (*domain.Position, error) {
	return nil, domain.ErrPositionNotFound
}

type fakeTxns struct{}

func (fakeTxns) GetTransactions(context.Context, uuid.UUID) ([]*domain.Transaction, error) {
	return nil, nil
}

type fakeSettlement struct {
	forced *domain.Result
	err    error
}

func (f *fakeSettlement) CloseManually(_ context.Context, id uuid.UUID, exit decimal.Decimal, forced *domain.Result, _ string) (*domain.Position, error) {
	f.forced = forced
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Position{ID: id, Status: domain.PositionClosed, ExitPrice: &exit}, nil
}

func (f *fakeSettlement) LastSweep() service.SweepStats { return service.SweepStats{Settled: 7} }

// ── Harness ───────────────────────────────────────────────────────────────────

type harness struct {
	h     http.Handler
	auth  *service.AuthService
	queue *fakeQueue
	settl *fakeSettlement
}

func newHarness(t *testing.T, allowedIPs string) *harness {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Env: "development", BackofficeAllowedIPs: allowedIPs},
		JWT:    config.JWTConfig{AccessSecret: "bo-test-secret", AccessTTL: time.Minute},
	}
	auth := service.NewAuthService(cfg)
	q := &fakeQueue{}
	s := &fakeSettlement{}
	h := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:      auth,
		Positions:    fakePositions{},
		Transactions: fakeTxns{},
		Queue:        q,
		Settlement:   s,
		Cfg:          cfg,
	})
	return &harness{h: h, auth: auth, queue: q, settl: s}
}

func (hs *harness) call(t *testing.T, role domain.UserRole, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		tok, err := hs.auth.IssueAccessToken(uuid.New(), role)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rr := httptest.NewRecorder()
	hs.h.ServeHTTP(rr, req)
	var m map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &m)
	return rr.Code, m
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestAdminRoutesRequireBackofficeRole(t *testing.T) {
	hs := newHarness(t, "")
	if code, _ := hs.call(t, "", http.MethodGet, "/admin/dashboard", ""); code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", code)
	}
	if code, _ := hs.call(t, domain.RoleUser, http.MethodGet, "/admin/dashboard", ""); code != http.StatusForbidden {
		t.Errorf("trader role = %d, want 403", code)
	}
	code, body := hs.call(t, domain.RoleReadOnly, http.MethodGet, "/admin/dashboard", "")
	if code != http.StatusOK {
		t.Fatalf("readonly dashboard = %d", code)
	}
	data := body["data"].(map[string]any)
	if data["open_positions"] != float64(3) {
		t.Errorf("dashboard = %v", data)
	}
}

func TestReadOnlyCannotWrite(t *testing.T) {
	hs := newHarness(t, "")
	code, _ := hs.call(t, domain.RoleReadOnly, http.MethodPost, "/admin/session-controls", `{"result":"WIN","count":2}`)
	if code != http.StatusForbidden {
		t.Errorf("readonly enqueue = %d, want 403", code)
	}
	if len(hs.queue.enqueued) != 0 {
		t.Error("entries enqueued despite 403")
	}
}

func TestEnqueueSessionControls(t *testing.T) {
	hs := newHarness(t, "")
	code, body := hs.call(t, domain.RoleRisk, http.MethodPost, "/admin/session-controls", `{"result":"loss","count":3}`)
	if code != http.StatusCreated {
		t.Fatalf("enqueue = %d %v", code, body)
	}
	if len(hs.queue.enqueued) != 3 || hs.queue.enqueued[0] != domain.ResultLoss {
		t.Errorf("enqueued %v", hs.queue.enqueued)
	}
	if hs.queue.createdBy == "" {
		t.Error("createdBy not recorded")
	}

	for _, bad := range []string{`{"result":"DRAW"}`, `{"result":"WIN","count":5000}`, `{}`} {
		if code, _ := hs.call(t, domain.RoleAdmin, http.MethodPost, "/admin/session-controls", bad); code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", bad, code)
		}
	}
}

func TestCancelMissingEntry(t *testing.T) {
	hs := newHarness(t, "")
	code, body := hs.call(t, domain.RoleAdmin, http.MethodDelete, "/admin/session-controls/"+uuid.NewString(), "")
	if code != http.StatusNotFound || body["code"] != "ERR_NOT_FOUND" {
		t.Errorf("cancel = %d %v", code, body)
	}
}

func TestManualClose(t *testing.T) {
	hs := newHarness(t, "")
	path := fmt.Sprintf("/admin/positions/%s/close", uuid.New())

	code, _ := hs.call(t, domain.RoleOps, http.MethodPost, path, `{"exitPrice":"65000","result":"win"}`)
	if code != http.StatusOK {
		t.Fatalf("close = %d", code)
	}
	if hs.settl.forced == nil || *hs.settl.forced != domain.ResultWin {
		t.Errorf("forced = %v, want WIN", hs.settl.forced)
	}

	code, _ = hs.call(t, domain.RoleOps, http.MethodPost, path, `{"exitPrice":"65000"}`)
	if code != http.StatusOK || hs.settl.forced != nil {
		t.Errorf("unforced close = %d forced=%v", code, hs.settl.forced)
	}

	hs.settl.err = fmt.Errorf("settlement_service.CloseManually: %w", domain.ErrPositionNotOpen)
	code, body := hs.call(t, domain.RoleOps, http.MethodPost, path, `{"exitPrice":"65000"}`)
	if code != http.StatusConflict || body["code"] != "ERR_POSITION_NOT_OPEN" {
		t.Errorf("close of closed position = %d %v", code, body)
	}
}

func TestIPWhitelist(t *testing.T) {
	hs := newHarness(t, "10.0.0.1")
	// httptest requests come from 192.0.2.1
	if code, _ := hs.call(t, domain.RoleAdmin, http.MethodGet, "/admin/dashboard", ""); code != http.StatusForbidden {
		t.Errorf("non-whitelisted IP = %d, want 403", code)
	}
}
