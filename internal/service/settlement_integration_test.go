package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/evetabi/contract/internal/repository"
	"github.com/evetabi/contract/internal/service"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// These tests need a disposable Postgres database:
//
//	TEST_DATABASE_DSN="postgres://postgres@localhost/contract_test?sslmode=disable" go test ./internal/service/
//
// They run against the real schema so the row locks and guards are exercised.

type pgEnv struct {
	db       *sqlx.DB
	cfg      *config.Config
	position *service.PositionService
	settle   *service.SettlementService
	queue    *repository.SessionControlRepository
}

func newPGEnv(t *testing.T) *pgEnv {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// pending overrides from earlier runs would change outcomes
	if _, err := db.Exec(`DELETE FROM session_controls WHERE required`); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{Settlement: config.SettlementConfig{
		Asset:            domain.DefaultAsset,
		FeeRate:          domain.DefaultFeeRate,
		StatementTimeout: 5 * time.Second,
		AnnounceTimeout:  time.Second,
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	positions := repository.NewPositionRepository(db)
	wallets := repository.NewWalletRepository(db)
	queue := repository.NewSessionControlRepository(db)

	return &pgEnv{
		db:       db,
		cfg:      cfg,
		position: service.NewPositionService(db, positions, wallets, cfg, logger),
		settle:   service.NewSettlementService(db, positions, wallets, queue, cfg, logger),
		queue:    queue,
	}
}

// newUser funds a fresh user and removes everything it touched afterwards.
func (e *pgEnv) newUser(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := e.db.Exec(`INSERT INTO wallets (user_id, asset, available) VALUES ($1, $2, $3)`,
		id, domain.DefaultAsset, decimal.NewFromInt(balance))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		e.db.Exec(`DELETE FROM session_controls WHERE position_id IN (SELECT id FROM positions WHERE user_id = $1)`, id)
		e.db.Exec(`DELETE FROM wallet_transactions WHERE wallet_id IN (SELECT id FROM wallets WHERE user_id = $1)`, id)
		e.db.Exec(`DELETE FROM positions WHERE user_id = $1`, id)
		e.db.Exec(`DELETE FROM wallets WHERE user_id = $1`, id)
	})
	return id
}

func (e *pgEnv) open(t *testing.T, user uuid.UUID, symbol string) *domain.Position {
	t.Helper()
	p, err := e.position.Open(context.Background(), domain.OpenPositionRequest{
		UserID:        user,
		Symbol:        symbol,
		Side:          domain.SideBuyUp,
		Amount:        decimal.NewFromInt(100),
		Duration:      60,
		CurrentPrice:  decimal.NewFromInt(50000),
		Profitability: decimal.NewFromInt(20),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return p
}

// expire moves a position's expiry into the past.
func (e *pgEnv) expire(t *testing.T, id uuid.UUID) {
	t.Helper()
	if _, err := e.db.Exec(`UPDATE positions SET expires_at = now() - interval '1 second' WHERE id = $1`, id); err != nil {
		t.Fatal(err)
	}
}

func (e *pgEnv) balance(t *testing.T, user uuid.UUID) decimal.Decimal {
	t.Helper()
	w, err := e.position.Balance(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	return w.Available
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestOpenAndSettleBalances(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	win := env.newUser(t, 1000)
	loss := env.newUser(t, 1000)
	pw := env.open(t, win, "itestusdt")
	pl := env.open(t, loss, "ITESTUSDT")

	if got := env.balance(t, win); !got.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("balance after open = %s, want 900", got)
	}

	env.expire(t, pw.ID)
	env.expire(t, pl.ID)

	res, err := env.settle.SettleExpired(ctx, service.SweepScope{UserID: &win}, decimal.NewFromInt(50100))
	if err != nil || len(res.Settled) != 1 {
		t.Fatalf("settle win = %+v, %v", res, err)
	}
	if got := env.balance(t, win); !got.Equal(decimal.RequireFromString("1019.8")) {
		t.Errorf("winner balance = %s, want 1019.8", got)
	}

	res, err = env.settle.SettleExpired(ctx, service.SweepScope{UserID: &loss}, decimal.NewFromInt(49900))
	if err != nil || len(res.Settled) != 1 {
		t.Fatalf("settle loss = %+v, %v", res, err)
	}
	if res.Settled[0].Result != domain.ResultLoss || !res.Settled[0].ActualProfit.Equal(decimal.RequireFromString("-20.2")) {
		t.Errorf("loss summary = %+v", res.Settled[0])
	}
	if got := env.balance(t, loss); !got.Equal(decimal.RequireFromString("979.8")) {
		t.Errorf("loser balance = %s, want 979.8", got)
	}
}

func TestOpenRejections(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	user := env.newUser(t, 150)
	env.open(t, user, "ITESTUSDT")

	_, err := env.position.Open(ctx, domain.OpenPositionRequest{
		UserID: user, Symbol: "ITESTUSDT", Side: domain.SideBuyDown,
		Amount: decimal.NewFromInt(10), Duration: 60,
		CurrentPrice: decimal.NewFromInt(50000), Profitability: decimal.NewFromInt(20),
	})
	if !errors.Is(err, domain.ErrOpenPositionExists) {
		t.Errorf("second open err = %v, want ErrOpenPositionExists", err)
	}

	poor := env.newUser(t, 50)
	_, err = env.position.Open(ctx, domain.OpenPositionRequest{
		UserID: poor, Symbol: "ITESTUSDT", Side: domain.SideBuyUp,
		Amount: decimal.NewFromInt(100), Duration: 60,
		CurrentPrice: decimal.NewFromInt(50000), Profitability: decimal.NewFromInt(20),
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("underfunded open err = %v, want ErrInsufficientBalance", err)
	}
	if got := env.balance(t, poor); !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("balance after rejected open = %s, want 50", got)
	}
}

func TestOverrideQueueConsumedInOrder(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	for _, r := range []domain.Result{domain.ResultWin, domain.ResultLoss, domain.ResultWin} {
		if _, err := env.queue.Enqueue(ctx, r, 1, "test"); err != nil {
			t.Fatal(err)
		}
	}

	// Exit below entry: by price every BUY_UP here would lose.
	exit := decimal.NewFromInt(49000)
	want := []domain.Result{domain.ResultWin, domain.ResultLoss, domain.ResultWin, domain.ResultLoss}
	for i, w := range want {
		user := env.newUser(t, 1000)
		p := env.open(t, user, "ITESTUSDT")
		env.expire(t, p.ID)

		res, err := env.settle.SettleExpired(ctx, service.SweepScope{UserID: &user}, exit)
		if err != nil || len(res.Settled) != 1 {
			t.Fatalf("settle #%d = %+v, %v", i, res, err)
		}
		if res.Settled[0].Result != w {
			t.Errorf("position #%d result = %s, want %s", i, res.Settled[0].Result, w)
		}
	}

	pending, err := env.queue.CountPending(ctx)
	if err != nil || pending != 0 {
		t.Errorf("pending = %d, %v; want 0", pending, err)
	}
}

func TestConcurrentSettlementIsExactlyOnce(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	const users = 10
	ids := make([]uuid.UUID, 0, users)
	positions := make([]*domain.Position, 0, users)
	for i := 0; i < users; i++ {
		u := env.newUser(t, 1000)
		p := env.open(t, u, "ITESTUSDT")
		env.expire(t, p.ID)
		ids = append(ids, u)
		positions = append(positions, p)
	}

	price := decimal.NewFromInt(50100)
	var wg sync.WaitGroup
	var mu sync.Mutex
	settled := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.settle.SettleExpired(ctx, service.SweepScope{Symbol: "ITESTUSDT"}, price)
			if err != nil {
				t.Errorf("sweep: %v", err)
				return
			}
			mu.Lock()
			settled += len(res.Settled)
			mu.Unlock()
		}()
	}
	// a per-user poll and an operator close race the sweeps
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := env.settle.SettleExpired(ctx, service.SweepScope{UserID: &ids[0]}, price)
		if err == nil {
			mu.Lock()
			settled += len(res.Settled)
			mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		_, err := env.settle.CloseManually(ctx, positions[1].ID, price, nil, "test")
		if err == nil {
			mu.Lock()
			settled++
			mu.Unlock()
		} else if !errors.Is(err, domain.ErrPositionNotOpen) {
			t.Errorf("manual close: %v", err)
		}
	}()
	wg.Wait()

	if settled != users {
		t.Errorf("settled %d times, want %d", settled, users)
	}

	for i, u := range ids {
		var credits int
		err := env.db.Get(&credits, `
			SELECT COUNT(*) FROM wallet_transactions
			WHERE ref_id = $1 AND type IN ('position_settle', 'position_close_manual')`, positions[i].ID)
		if err != nil {
			t.Fatal(err)
		}
		if credits != 1 {
			t.Errorf("position %d credited %d times", i, credits)
		}
		if got := env.balance(t, u); !got.Equal(decimal.RequireFromString("1019.8")) {
			t.Errorf("user %d balance = %s, want 1019.8", i, got)
		}
	}
}

func TestSweepContinuesPastFailedPosition(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	users := make([]uuid.UUID, 3)
	positions := make([]*domain.Position, 3)
	for i := range users {
		users[i] = env.newUser(t, 1000)
		positions[i] = env.open(t, users[i], "ITESTUSDT")
		env.expire(t, positions[i].ID)
	}

	// Hold the middle user's wallet row so crediting it runs into the
	// statement timeout.
	blocker, err := env.db.Beginx()
	if err != nil {
		t.Fatal(err)
	}
	defer blocker.Rollback()
	if _, err := blocker.Exec(`SELECT 1 FROM wallets WHERE user_id = $1 FOR UPDATE`, users[1]); err != nil {
		t.Fatal(err)
	}
	env.cfg.Settlement.StatementTimeout = 300 * time.Millisecond

	res, err := env.settle.SettleExpired(ctx, service.SweepScope{Symbol: "ITESTUSDT"}, decimal.NewFromInt(50100))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if err := blocker.Rollback(); err != nil {
		t.Fatal(err)
	}

	if len(res.Failures) != 1 {
		t.Fatalf("failures = %+v, want 1", res.Failures)
	}
	if res.Failures[0].PositionID != positions[1].ID || !res.Failures[0].Retryable() {
		t.Errorf("failure = %+v, want retryable failure of %s", res.Failures[0], positions[1].ID)
	}
	if len(res.Settled) != 2 {
		t.Errorf("settled = %d, want 2", len(res.Settled))
	}

	for i, p := range positions {
		var status domain.PositionStatus
		if err := env.db.Get(&status, `SELECT status FROM positions WHERE id = $1`, p.ID); err != nil {
			t.Fatal(err)
		}
		want := domain.PositionClosed
		if i == 1 {
			want = domain.PositionOpen
		}
		if status != want {
			t.Errorf("position %d status = %s, want %s", i, status, want)
		}
	}
	if got := env.balance(t, users[1]); !got.Equal(decimal.NewFromInt(900)) {
		t.Errorf("blocked user balance = %s, want 900", got)
	}

	// the next sweep picks the position up again
	env.cfg.Settlement.StatementTimeout = 5 * time.Second
	res, err = env.settle.SettleExpired(ctx, service.SweepScope{UserID: &users[1]}, decimal.NewFromInt(50100))
	if err != nil || len(res.Settled) != 1 {
		t.Fatalf("retry sweep = %+v, %v", res, err)
	}
}
