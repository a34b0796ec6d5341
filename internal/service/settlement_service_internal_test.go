package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fakeExpired struct {
	positions []*domain.Position
	filter    domain.PositionFilter
}

func (f *fakeExpired) ListExpiredOpen(_ context.Context, filter domain.PositionFilter, _ time.Time) ([]*domain.Position, error) {
	f.filter = filter
	return f.positions, nil
}

func newSweepService(lister expiredLister, closer closeFunc) *SettlementService {
	return &SettlementService{
		expired:  lister,
		closeOne: closer,
		cfg:      &config.SettlementConfig{SweepBatchLimit: 50},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func expiredPositions(n int) []*domain.Position {
	out := make([]*domain.Position, n)
	for i := range out {
		out[i] = &domain.Position{
			ID:         uuid.New(),
			UserID:     uuid.New(),
			Symbol:     "BTCUSDT",
			Side:       domain.SideBuyUp,
			EntryPrice: decimal.NewFromInt(100),
			Status:     domain.PositionOpen,
		}
	}
	return out
}

func TestSettleExpiredIsolatesFailures(t *testing.T) {
	positions := expiredPositions(4)
	errs := map[uuid.UUID]error{
		positions[1].ID: fmt.Errorf("credit: %w", domain.ErrTransientStorage),
		positions[2].ID: domain.ErrPositionNotOpen,
	}

	var attempted []uuid.UUID
	closer := func(_ context.Context, id uuid.UUID, exit decimal.Decimal, opts closeOptions) (*domain.Position, domain.Settlement, error) {
		attempted = append(attempted, id)
		if !opts.skipLocked {
			t.Errorf("sweep close of %s without skipLocked", id)
		}
		if err := errs[id]; err != nil {
			return nil, domain.Settlement{}, err
		}
		for _, p := range positions {
			if p.ID == id {
				return p, domain.Settlement{Result: domain.ResultWin, ActualProfit: decimal.NewFromInt(8)}, nil
			}
		}
		t.Fatalf("unknown position %s", id)
		return nil, domain.Settlement{}, nil
	}

	svc := newSweepService(&fakeExpired{positions: positions}, closer)
	res, err := svc.SettleExpired(context.Background(), SweepScope{}, decimal.NewFromInt(110))
	if err != nil {
		t.Fatalf("SettleExpired: %v", err)
	}

	if len(attempted) != len(positions) {
		t.Fatalf("attempted %d positions, want %d", len(attempted), len(positions))
	}
	if len(res.Settled) != 2 {
		t.Fatalf("settled = %d, want 2", len(res.Settled))
	}
	if res.Settled[0].ID != positions[0].ID || res.Settled[1].ID != positions[3].ID {
		t.Errorf("settled the wrong positions: %+v", res.Settled)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(res.Failures))
	}
	f := res.Failures[0]
	if f.PositionID != positions[1].ID {
		t.Errorf("failure for %s, want %s", f.PositionID, positions[1].ID)
	}
	if !f.Retryable() {
		t.Error("transient storage failure should be retryable")
	}
}

func TestSettleExpiredNonRetryableFailure(t *testing.T) {
	positions := expiredPositions(1)
	closer := func(context.Context, uuid.UUID, decimal.Decimal, closeOptions) (*domain.Position, domain.Settlement, error) {
		return nil, domain.Settlement{}, errors.New("wallet row missing")
	}
	svc := newSweepService(&fakeExpired{positions: positions}, closer)

	res, err := svc.SettleExpired(context.Background(), SweepScope{}, decimal.NewFromInt(90))
	if err != nil {
		t.Fatalf("SettleExpired: %v", err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Retryable() {
		t.Fatalf("failures = %+v, want one non-retryable", res.Failures)
	}
}

func TestSettleExpiredRejectsBadPrice(t *testing.T) {
	svc := newSweepService(&fakeExpired{}, func(context.Context, uuid.UUID, decimal.Decimal, closeOptions) (*domain.Position, domain.Settlement, error) {
		t.Fatal("close called for a rejected sweep")
		return nil, domain.Settlement{}, nil
	})
	for _, price := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		if _, err := svc.SettleExpired(context.Background(), SweepScope{}, price); !domain.IsValidation(err) {
			t.Errorf("price %s: err = %v, want validation error", price, err)
		}
	}
}

func TestSettleExpiredStopsOnCancelledContext(t *testing.T) {
	calls := 0
	closer := func(context.Context, uuid.UUID, decimal.Decimal, closeOptions) (*domain.Position, domain.Settlement, error) {
		calls++
		return nil, domain.Settlement{}, domain.ErrPositionNotOpen
	}
	svc := newSweepService(&fakeExpired{positions: expiredPositions(3)}, closer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.SettleExpired(ctx, SweepScope{}, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("SettleExpired: %v", err)
	}
	if calls != 0 {
		t.Errorf("closed %d positions after cancel", calls)
	}
}

func TestLastSweepTracksGlobalSweepsOnly(t *testing.T) {
	positions := expiredPositions(3)
	lister := &fakeExpired{positions: positions}
	closer := func(_ context.Context, id uuid.UUID, _ decimal.Decimal, _ closeOptions) (*domain.Position, domain.Settlement, error) {
		return &domain.Position{ID: id}, domain.Settlement{Result: domain.ResultLoss}, nil
	}
	svc := newSweepService(lister, closer)
	ctx := context.Background()

	if _, err := svc.SettleExpired(ctx, SweepScope{Symbol: "btcusdt"}, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("global sweep: %v", err)
	}
	if lister.filter.Symbol != "BTCUSDT" || lister.filter.Limit != 50 {
		t.Errorf("filter = %+v", lister.filter)
	}
	global := svc.LastSweep()
	if global.Scope != "global" || global.Settled != 3 {
		t.Fatalf("last sweep = %+v, want global with 3 settled", global)
	}

	lister.positions = positions[:1]
	user := uuid.New()
	if _, err := svc.SettleExpired(ctx, SweepScope{UserID: &user}, decimal.NewFromInt(1)); err != nil {
		t.Fatalf("user sweep: %v", err)
	}
	if lister.filter.UserID == nil || *lister.filter.UserID != user {
		t.Errorf("user sweep filter = %+v", lister.filter)
	}
	if got := svc.LastSweep(); got != global {
		t.Errorf("user sweep replaced stats: %+v, want %+v", got, global)
	}
}

func TestDecideOutcome(t *testing.T) {
	pos := &domain.Position{Side: domain.SideBuyUp, EntryPrice: decimal.NewFromInt(100)}
	up := decimal.NewFromInt(105)
	loss := domain.ResultLoss
	noOverride := func() (*domain.SessionControl, error) { return nil, domain.ErrNoSessionControl }

	tests := []struct {
		name       string
		forced     *domain.Result
		claim      func() (*domain.SessionControl, error)
		exit       decimal.Decimal
		wantResult domain.Result
		wantSource domain.OutcomeSource
		wantErr    bool
	}{
		{
			name:   "forced",
			forced: &loss,
			claim: func() (*domain.SessionControl, error) {
				t.Error("queue claimed for a forced close")
				return nil, nil
			},
			exit:       up,
			wantResult: domain.ResultLoss,
			wantSource: domain.SourceManual,
		},
		{
			name: "override",
			claim: func() (*domain.SessionControl, error) {
				return &domain.SessionControl{Final: domain.ResultLoss}, nil
			},
			exit:       up,
			wantResult: domain.ResultLoss,
			wantSource: domain.SourceOverride,
		},
		{
			name:       "price up",
			claim:      noOverride,
			exit:       up,
			wantResult: domain.ResultWin,
			wantSource: domain.SourcePrice,
		},
		{
			name:       "price tie",
			claim:      noOverride,
			exit:       decimal.NewFromInt(100),
			wantResult: domain.ResultLoss,
			wantSource: domain.SourcePrice,
		},
		{
			name: "claim error",
			claim: func() (*domain.SessionControl, error) {
				return nil, fmt.Errorf("lock: %w", domain.ErrTransientStorage)
			},
			exit:    up,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, source, err := decideOutcome(pos, tc.exit, tc.forced, tc.claim)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrTransientStorage) {
					t.Fatalf("err = %v, want transient storage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decideOutcome: %v", err)
			}
			if result != tc.wantResult || source != tc.wantSource {
				t.Errorf("got %s/%s, want %s/%s", result, source, tc.wantResult, tc.wantSource)
			}
		})
	}
}
