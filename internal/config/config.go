// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/evetabi/contract/internal/domain"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // e.g. "8080"
	BackofficePort       string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	BackofficeAllowedIPs string        // comma-separated IPs; "" = allow all
	AllowedOrigins       []string      // CORS / WS origins; empty = allow all
	BackofficeOrigins    []string      // admin UI origins for CORS
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
	MigrationsDir   string        // default "migrations"
}

// JWTConfig holds the secret used to verify access tokens issued by the
// auth provider.
type JWTConfig struct {
	AccessSecret string        // must be set
	AccessTTL    time.Duration // default 15m; used when issuing service tokens
}

// RedisConfig holds Redis settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	TLSEnabled bool
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// PriceConfig holds exchange API settings.
type PriceConfig struct {
	BinanceURL   string        // default "https://api.binance.com"
	BybitURL     string        // default "https://api.bybit.com"
	OKXURL       string        // default "https://www.okx.com"
	FetchTimeout time.Duration // default 2s
	CacheTTL     time.Duration // default 1s
	// Symbols pushed to WS clients by the price loop
	Symbols           []string      // default ["BTCUSDT"]
	BroadcastInterval time.Duration // default 1s
	// Weight percentages (must sum to 100)
	BinanceWeight int // default 50
	BybitWeight   int // default 30
	OKXWeight     int // default 20
}

// SettlementConfig holds position and settlement settings.
type SettlementConfig struct {
	Asset            string          // wallet asset, default "USDT"
	FeeRate          decimal.Decimal // share of profit withheld, default 0.01
	StatementTimeout time.Duration   // per-position SET LOCAL statement_timeout, default 3s
	SweepInterval    time.Duration   // background global sweep, default 5s
	SweepLockTTL     time.Duration   // redis single-flight lock, default 30s
	SweepBatchLimit  int             // max positions per symbol per sweep, 0 = no cap
	AnnounceTimeout  time.Duration   // fire-and-forget announcement, default 5s
	AnnounceWebhook  string          // optional external real-time server URL
	EnforceSchedule  bool            // reject durations not in the schedule
	ScheduleFile     string          // optional TOML file overriding the built-in schedule
	Schedule         *domain.Schedule
}

// NotifierConfig holds settings for the client-side reveal poller.
type NotifierConfig struct {
	APIBaseURL   string        // default "http://localhost:8080"
	Token        string        // bearer token of the watched user
	UserID       string        // when Token is empty, mint a token for this user
	Symbol       string        // currently viewed symbol
	PollInterval time.Duration // default 2s
	RecentWindow time.Duration // default 90s
	FetchLimit   int           // default 30
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	JWT        JWTConfig
	Redis      RedisConfig
	Price      PriceConfig
	Settlement SettlementConfig
	Notifier   NotifierConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}

	// In production, DB DSN must be explicit
	if c.IsProd() && os.Getenv("DATABASE_DSN") == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}

	// Price weights must sum to 100
	total := c.Price.BinanceWeight + c.Price.BybitWeight + c.Price.OKXWeight
	if total != 100 {
		errs = append(errs, fmt.Errorf(
			"price weights must sum to 100, got %d (Binance=%d Bybit=%d OKX=%d)",
			total, c.Price.BinanceWeight, c.Price.BybitWeight, c.Price.OKXWeight,
		))
	}

	if c.Settlement.FeeRate.IsNegative() || c.Settlement.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf(
			"SETTLEMENT_FEE_RATE must be in [0, 1), got %s", c.Settlement.FeeRate,
		))
	}
	if c.Settlement.Asset == "" {
		errs = append(errs, errors.New("SETTLEMENT_ASSET must not be empty"))
	}
	if c.Settlement.SweepInterval <= 0 {
		errs = append(errs, errors.New("SETTLEMENT_SWEEP_INTERVAL must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails — call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads a .env file if present, then builds a Config from the
// environment. Unlike Get it does not cache the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:                 getEnv("SERVER_PORT", "8080"),
		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		Env:                  getEnv("ENVIRONMENT", "development"),
		ReadTimeout:          getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:         getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
		AllowedOrigins:       getList("ALLOWED_ORIGINS"),
		BackofficeOrigins:    getList("BACKOFFICE_ORIGINS"),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "evetabi_contract"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		MigrationsDir:   getEnv("DB_MIGRATIONS_DIR", "migrations"),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		AccessTTL:    getDuration("JWT_ACCESS_TTL", 15*time.Minute),
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	redisPool, err := getInt("REDIS_POOL_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("REDIS_POOL_SIZE: %w", err)
	}
	cfg.Redis = RedisConfig{
		Addr:       getEnv("REDIS_ADDR", ""),
		Password:   getEnv("REDIS_PASSWORD", ""),
		DB:         redisDB,
		PoolSize:   redisPool,
		TLSEnabled: getBool("REDIS_TLS", false),
	}

	// ── Price ─────────────────────────────────────────────────────────────────
	binW, err := getInt("PRICE_BINANCE_WEIGHT", 50)
	if err != nil {
		return nil, fmt.Errorf("PRICE_BINANCE_WEIGHT: %w", err)
	}
	byW, err := getInt("PRICE_BYBIT_WEIGHT", 30)
	if err != nil {
		return nil, fmt.Errorf("PRICE_BYBIT_WEIGHT: %w", err)
	}
	okxW, err := getInt("PRICE_OKX_WEIGHT", 20)
	if err != nil {
		return nil, fmt.Errorf("PRICE_OKX_WEIGHT: %w", err)
	}

	cfg.Price = PriceConfig{
		BinanceURL:    getEnv("PRICE_BINANCE_URL", "https://api.binance.com"),
		BybitURL:      getEnv("PRICE_BYBIT_URL", "https://api.bybit.com"),
		OKXURL:        getEnv("PRICE_OKX_URL", "https://www.okx.com"),
		FetchTimeout:  getDuration("PRICE_FETCH_TIMEOUT", 2*time.Second),
		CacheTTL:      getDuration("PRICE_CACHE_TTL", 1*time.Second),
		BinanceWeight: binW,
		BybitWeight:   byW,
		OKXWeight:     okxW,

		Symbols:           getList("PRICE_SYMBOLS"),
		BroadcastInterval: getDuration("PRICE_BROADCAST_INTERVAL", time.Second),
	}
	if len(cfg.Price.Symbols) == 0 {
		cfg.Price.Symbols = []string{"BTCUSDT"}
	}

	// ── Settlement ────────────────────────────────────────────────────────────
	feeRate, err := getDecimal("SETTLEMENT_FEE_RATE", domain.DefaultFeeRate)
	if err != nil {
		return nil, fmt.Errorf("SETTLEMENT_FEE_RATE: %w", err)
	}

	batch, err := getInt("SETTLEMENT_SWEEP_BATCH_LIMIT", 500)
	if err != nil {
		return nil, fmt.Errorf("SETTLEMENT_SWEEP_BATCH_LIMIT: %w", err)
	}

	cfg.Settlement = SettlementConfig{
		Asset:            getEnv("SETTLEMENT_ASSET", domain.DefaultAsset),
		FeeRate:          feeRate,
		StatementTimeout: getDuration("SETTLEMENT_STATEMENT_TIMEOUT", 3*time.Second),
		SweepInterval:    getDuration("SETTLEMENT_SWEEP_INTERVAL", 5*time.Second),
		SweepLockTTL:     getDuration("SETTLEMENT_SWEEP_LOCK_TTL", 30*time.Second),
		SweepBatchLimit:  batch,
		AnnounceTimeout:  getDuration("SETTLEMENT_ANNOUNCE_TIMEOUT", 5*time.Second),
		AnnounceWebhook:  getEnv("SOCKET_SERVER_URL", ""),
		EnforceSchedule:  getBool("SETTLEMENT_ENFORCE_SCHEDULE", false),
		ScheduleFile:     getEnv("SETTLEMENT_SCHEDULE_FILE", ""),
		Schedule:         domain.DefaultSchedule(),
	}
	if cfg.Settlement.ScheduleFile != "" {
		sched, err := LoadSchedule(cfg.Settlement.ScheduleFile)
		if err != nil {
			return nil, fmt.Errorf("SETTLEMENT_SCHEDULE_FILE: %w", err)
		}
		cfg.Settlement.Schedule = sched
	}

	// ── Notifier ──────────────────────────────────────────────────────────────
	limit, err := getInt("NOTIFIER_FETCH_LIMIT", 30)
	if err != nil {
		return nil, fmt.Errorf("NOTIFIER_FETCH_LIMIT: %w", err)
	}
	cfg.Notifier = NotifierConfig{
		APIBaseURL:   getEnv("NOTIFIER_API_URL", "http://localhost:"+cfg.Server.Port),
		Token:        getEnv("NOTIFIER_TOKEN", ""),
		UserID:       getEnv("NOTIFIER_USER_ID", ""),
		Symbol:       getEnv("NOTIFIER_SYMBOL", "BTCUSDT"),
		PollInterval: getDuration("NOTIFIER_POLL_INTERVAL", 2*time.Second),
		RecentWindow: getDuration("NOTIFIER_RECENT_WINDOW", 90*time.Second),
		FetchLimit:   limit,
	}

	return cfg, nil
}

// scheduleFile is the on-disk shape of SETTLEMENT_SCHEDULE_FILE:
//
//	[[option]]
//	duration = 30
//	profitability = 20
type scheduleFile struct {
	Options []domain.DurationOption `toml:"option"`
}

// LoadSchedule decodes a TOML duration schedule.
func LoadSchedule(path string) (*domain.Schedule, error) {
	var f scheduleFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode %q: %w", path, err)
	}
	return domain.NewSchedule(f.Options)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", v)
	}
	return d, nil
}

func getBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getList splits a comma-separated env var, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Log warning and fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}
