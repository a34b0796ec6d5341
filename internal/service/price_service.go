package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ──────────────────────────────────────────────────────────────────────────────
// Exchange weight constants
// ──────────────────────────────────────────────────────────────────────────────

const (
	exchangeBinance = "binance"
	exchangeBybit   = "bybit"
	exchangeOKX     = "okx"
)

// exchangeDef describes a single price-feed source.
type exchangeDef struct {
	name   string
	weight decimal.Decimal // 0–100
	fetch  func(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PriceMirror shares the last good price between replicas. Implemented by
// the Redis price cache.
type PriceMirror interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
}

type cachedPrice struct {
	price   decimal.Decimal
	at      time.Time
	sources []domain.PriceSource
}

// ──────────────────────────────────────────────────────────────────────────────
// PriceService
// ──────────────────────────────────────────────────────────────────────────────

// PriceService fetches spot prices for a symbol from several exchanges in
// parallel, computes a weighted average and caches it per symbol. The
// background sweep settles against this price.
type PriceService struct {
	client *http.Client
	cfg    *config.PriceConfig
	mirror PriceMirror // optional
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedPrice

	// per-exchange last-success timestamp (for ExchangeStatus)
	statusMu    sync.RWMutex
	lastSuccess map[string]time.Time
	exchanges   []exchangeDef
}

// NewPriceService constructs a PriceService from the given config.
func NewPriceService(cfg *config.Config) *PriceService {
	ps := &PriceService{
		client: &http.Client{Timeout: cfg.Price.FetchTimeout},
		cfg:    &cfg.Price,
		logger: slog.Default().With(slog.String("component", "price")),
		cache:  make(map[string]cachedPrice),
		lastSuccess: map[string]time.Time{
			exchangeBinance: {},
			exchangeBybit:   {},
			exchangeOKX:     {},
		},
	}

	ps.exchanges = []exchangeDef{
		{name: exchangeBinance, weight: decimal.NewFromInt(int64(cfg.Price.BinanceWeight)), fetch: ps.fetchBinance},
		{name: exchangeBybit, weight: decimal.NewFromInt(int64(cfg.Price.BybitWeight)), fetch: ps.fetchBybit},
		{name: exchangeOKX, weight: decimal.NewFromInt(int64(cfg.Price.OKXWeight)), fetch: ps.fetchOKX},
	}
	return ps
}

// SetMirror injects the shared price store post-construction.
func (ps *PriceService) SetMirror(m PriceMirror) { ps.mirror = m }

// ──────────────────────────────────────────────────────────────────────────────
// Public API
// ──────────────────────────────────────────────────────────────────────────────

// GetWeightedPrice returns the symbol's price as a weighted average of all
// reachable exchanges, re-normalising the weights over the sources that
// answered. A fresh in-memory value (< CacheTTL) is returned as is.
//
// When every exchange fails the mirror's value is used if it is no older
// than one FetchTimeout plus CacheTTL; otherwise ErrPriceUnavailable.
func (ps *PriceService) GetWeightedPrice(ctx context.Context, symbol string) (decimal.Decimal, []domain.PriceSource, error) {
	symbol = domain.NormalizeSymbol(symbol)

	// ── Cache check ──────────────────────────────────────────────────────────
	if c, ok := ps.fresh(symbol); ok {
		return c.price, c.sources, nil
	}

	// ── Parallel fetch ───────────────────────────────────────────────────────
	fetchCtx, cancel := context.WithTimeout(ctx, ps.client.Timeout)
	defer cancel()

	prices := make([]decimal.Decimal, len(ps.exchanges))
	var g errgroup.Group
	for i, ex := range ps.exchanges {
		g.Go(func() error {
			p, err := ex.fetch(fetchCtx, symbol)
			if err != nil {
				ps.logger.Debug("exchange fetch failed", "exchange", ex.name, "symbol", symbol, "err", err)
				return nil // one exchange down is not fatal
			}
			prices[i] = p
			return nil
		})
	}
	_ = g.Wait()

	// ── Weighted average ─────────────────────────────────────────────────────
	var sources []domain.PriceSource
	now := time.Now()

	for i, ex := range ps.exchanges {
		p := prices[i]
		if !p.IsPositive() || ex.weight.IsZero() {
			continue
		}
		sources = append(sources, domain.PriceSource{Exchange: ex.name, Price: p, Weight: ex.weight, FetchedAt: now})

		ps.statusMu.Lock()
		ps.lastSuccess[ex.name] = now
		ps.statusMu.Unlock()
	}

	if len(sources) == 0 {
		return ps.fromMirror(ctx, symbol)
	}

	weightedAvg := domain.WeightedPrice(sources)

	ps.mu.Lock()
	ps.cache[symbol] = cachedPrice{price: weightedAvg, at: now, sources: sources}
	ps.mu.Unlock()

	if ps.mirror != nil {
		if err := ps.mirror.SetPrice(ctx, symbol, weightedAvg, now); err != nil {
			ps.logger.Warn("price mirror write failed", "symbol", symbol, "err", err)
		}
	}
	return weightedAvg, sources, nil
}

// GetCachedPrice returns the in-memory price for symbol if still within TTL.
func (ps *PriceService) GetCachedPrice(symbol string) (decimal.Decimal, bool) {
	c, ok := ps.fresh(domain.NormalizeSymbol(symbol))
	return c.price, ok
}

// ExchangeStatus returns a map of exchange name → whether it was reachable in
// the last 5 seconds. Used by the back-office dashboard.
func (ps *PriceService) ExchangeStatus() map[string]bool {
	threshold := 5 * time.Second
	ps.statusMu.RLock()
	defer ps.statusMu.RUnlock()

	status := make(map[string]bool, len(ps.lastSuccess))
	for name, t := range ps.lastSuccess {
		status[name] = !t.IsZero() && time.Since(t) < threshold
	}
	return status
}

func (ps *PriceService) fresh(symbol string) (cachedPrice, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	c, ok := ps.cache[symbol]
	if !ok || time.Since(c.at) >= ps.cfg.CacheTTL {
		return cachedPrice{}, false
	}
	return c, true
}

func (ps *PriceService) fromMirror(ctx context.Context, symbol string) (decimal.Decimal, []domain.PriceSource, error) {
	if ps.mirror == nil {
		return decimal.Zero, nil, fmt.Errorf("price_service: %s: all exchange fetches failed: %w", symbol, domain.ErrPriceUnavailable)
	}
	price, ts, err := ps.mirror.GetPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("price_service: %s: mirror: %w", symbol, domain.ErrPriceUnavailable)
	}
	if time.Since(ts) > ps.cfg.FetchTimeout+ps.cfg.CacheTTL {
		return decimal.Zero, nil, fmt.Errorf("price_service: %s: mirror value stale: %w", symbol, domain.ErrPriceUnavailable)
	}
	return price, []domain.PriceSource{{Exchange: "mirror", Price: price, FetchedAt: ts}}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Exchange fetchers
// ──────────────────────────────────────────────────────────────────────────────

// fetchBinance fetches the spot price from Binance REST API.
//
//	GET /api/v3/ticker/price?symbol=BTCUSDT
//	{"symbol":"BTCUSDT","price":"87350.00"}
func (ps *PriceService) fetchBinance(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := ps.doGet(ctx, ps.cfg.BinanceURL+"/api/v3/ticker/price?symbol="+symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: %w", err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("binance parse: %w", err)
	}
	if resp.Price == "" {
		return decimal.Zero, fmt.Errorf("binance: empty price field")
	}
	return decimal.NewFromString(resp.Price)
}

// fetchBybit fetches the spot price from Bybit REST API.
//
//	GET /v5/market/tickers?category=spot&symbol=BTCUSDT
//	{"result":{"list":[{"lastPrice":"87350.00",...}]}}
func (ps *PriceService) fetchBybit(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := ps.doGet(ctx, ps.cfg.BybitURL+"/v5/market/tickers?category=spot&symbol="+symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit: %w", err)
	}

	var resp struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit parse: %w", err)
	}
	if len(resp.Result.List) == 0 || resp.Result.List[0].LastPrice == "" {
		return decimal.Zero, fmt.Errorf("bybit: empty result list")
	}
	return decimal.NewFromString(resp.Result.List[0].LastPrice)
}

// fetchOKX fetches the spot price from OKX REST API.
//
//	GET /api/v5/market/ticker?instId=BTC-USDT
//	{"data":[{"last":"87350.00",...}]}
func (ps *PriceService) fetchOKX(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := ps.doGet(ctx, ps.cfg.OKXURL+"/api/v5/market/ticker?instId="+okxInstrument(symbol))
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx: %w", err)
	}

	var resp struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("okx parse: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].Last == "" {
		return decimal.Zero, fmt.Errorf("okx: empty data field")
	}
	return decimal.NewFromString(resp.Data[0].Last)
}

// okxInstrument turns BTCUSDT into BTC-USDT.
func okxInstrument(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "USD", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote) + "-" + quote
		}
	}
	return symbol
}

// ──────────────────────────────────────────────────────────────────────────────
// HTTP helper
// ──────────────────────────────────────────────────────────────────────────────

// doGet performs an HTTP GET with the service's client and returns the body
// bytes, or an error for any non-200 status code.
func (ps *PriceService) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "evetabi-contract/1.0")

	resp, err := ps.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
