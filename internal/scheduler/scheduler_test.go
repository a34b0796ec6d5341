package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/evetabi/contract/internal/scheduler"
	"github.com/evetabi/contract/internal/service"
	"github.com/shopspring/decimal"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls map[string]decimal.Decimal
	panic string
}

func (f *fakeSweeper) SettleExpired(_ context.Context, scope service.SweepScope, price decimal.Decimal) (*service.SweepResult, error) {
	if scope.Symbol == f.panic {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]decimal.Decimal{}
	}
	f.calls[scope.Symbol] = price
	return &service.SweepResult{}, nil
}

type fakeSymbols []string

func (f fakeSymbols) DistinctExpiredSymbols(context.Context, time.Time) ([]string, error) {
	return f, nil
}

type fakePrices map[string]decimal.Decimal

func (f fakePrices) GetWeightedPrice(_ context.Context, symbol string) (decimal.Decimal, []domain.PriceSource, error) {
	p, ok := f[symbol]
	if !ok {
		return decimal.Zero, nil, domain.ErrPriceUnavailable
	}
	return p, nil, nil
}

type fakeLocker struct{ held bool }

func (f *fakeLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Settlement: config.SettlementConfig{SweepInterval: time.Second, SweepLockTTL: time.Second},
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSweepOnceSettlesEachPricedSymbol(t *testing.T) {
	sw := &fakeSweeper{panic: "DOGEUSDT"}
	prices := fakePrices{
		"BTCUSDT":  decimal.NewFromInt(65000),
		"ETHUSDT":  decimal.NewFromInt(3200),
		"DOGEUSDT": decimal.NewFromFloat(0.12),
	}
	symbols := fakeSymbols{"BTCUSDT", "ETHUSDT", "DOGEUSDT", "XRPUSDT"}

	s := scheduler.NewScheduler(sw, symbols, prices, &fakeLocker{}, nil, testConfig(), discard())
	s.SweepOnce(context.Background())

	var got []string
	for sym := range sw.calls {
		got = append(got, sym)
	}
	sort.Strings(got)
	// XRPUSDT has no price and DOGEUSDT panicked; neither stops the others.
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Fatalf("swept %v, want [BTCUSDT ETHUSDT]", got)
	}
	if !sw.calls["BTCUSDT"].Equal(decimal.NewFromInt(65000)) {
		t.Errorf("BTCUSDT price = %s", sw.calls["BTCUSDT"])
	}
}

func TestSweepOnceSkipsWhenLockHeld(t *testing.T) {
	sw := &fakeSweeper{}
	s := scheduler.NewScheduler(sw, fakeSymbols{"BTCUSDT"},
		fakePrices{"BTCUSDT": decimal.NewFromInt(1)}, &fakeLocker{held: true}, nil, testConfig(), discard())
	s.SweepOnce(context.Background())
	if len(sw.calls) != 0 {
		t.Errorf("sweep ran while lock held: %v", sw.calls)
	}
}

type errLocker struct{}

func (errLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, errors.New("redis down")
}

func TestSweepOnceSkipsWhenLockErrors(t *testing.T) {
	sw := &fakeSweeper{}
	s := scheduler.NewScheduler(sw, fakeSymbols{"BTCUSDT"},
		fakePrices{"BTCUSDT": decimal.NewFromInt(1)}, errLocker{}, nil, testConfig(), discard())
	s.SweepOnce(context.Background())
	if len(sw.calls) != 0 {
		t.Errorf("sweep ran without lock: %v", sw.calls)
	}
}
