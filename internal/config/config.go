// Package config handles configuration loading and validation.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gateway-fm/faucetbot/pkg/types"
)

// Config holds faucet bot configuration. It is loaded once at startup and
// passed explicitly; nothing here changes afterwards.
type Config struct {
	RPCURL              string
	ChainID             int64 // 0 = use the node's eth_chainId
	RouterAddress       common.Address
	WrappedNativeSymbol string
	ExplorerTxURL       string
	Mode                types.Mode
	Tokens              []types.Token
	PrivateKeys         []string

	ClaimWorkers        int
	ClaimGasLimit       uint64
	ClaimMaxRetries     int
	ClaimConfirmTimeout time.Duration
	ClaimCooldownSkip   bool
	ClaimCooldown       time.Duration

	SwapGasMultiplier float64
	SwapInterval      time.Duration
	SwapSchedule      string // optional cron expression, overrides SwapInterval
	SwapMaxAttempts   int
	SwapSubmitRetries int
	ApproveGasLimit   uint64
	MinNativeBalance  *big.Int

	RPCTimeout    time.Duration
	RPCMaxRetries int
	RPCRateLimit  float64 // requests per second, 0 = unlimited

	ListenAddr         string // "" disables the status API
	DatabasePath       string // "" disables history
	CORSAllowedOrigins string
	LogLevel           string
	LogFormat          string
}

// Defaults
const (
	DefaultRPCURL              = "https://testnet.storyrpc.io"
	DefaultRouterAddress       = "0x56300f2dB653393e78C7b5edE9c8f74237B76F47"
	DefaultWrappedNativeSymbol = "WETH"
	DefaultExplorerTxURL       = "https://testnet.storyscan.xyz/tx/"
	DefaultMode                = types.ModeAll
	DefaultClaimWorkers        = 10
	DefaultClaimGasLimit       = 200_000
	DefaultClaimMaxRetries     = 3
	DefaultClaimConfirmTimeout = 60 * time.Second
	DefaultClaimCooldown       = 24 * time.Hour
	DefaultSwapGasMultiplier   = 1.1
	DefaultSwapInterval        = 24 * time.Hour
	DefaultSwapMaxAttempts     = 5
	DefaultSwapSubmitRetries   = 3
	DefaultApproveGasLimit     = 200_000
	DefaultMinNativeBalanceWei = "10000000000000000" // 0.01 native
	DefaultRPCTimeout          = 30 * time.Second
	DefaultRPCMaxRetries       = 3
	DefaultListenAddr          = ":3001"
	DefaultDatabasePath        = "./data/faucetbot.db"
	DefaultCORSAllowedOrigins  = "*"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultEnvFile             = ".env"
)

// DefaultTokens are the Story testnet faucet tokens.
func DefaultTokens() []types.Token {
	return []types.Token{
		{Symbol: "SUSDT", Address: common.HexToAddress("0x8812d810EA7CC4e1c3FB45cef19D6a7ECBf2D85D")},
		{Symbol: "SUSDC", Address: common.HexToAddress("0x700722D24f9256Be288f56449E8AB1D27C4a70ca")},
		{Symbol: "WBTC", Address: common.HexToAddress("0x153B112138C6dE2CAD16D66B4B6448B7b88CAEF3")},
		{Symbol: "WETH", Address: common.HexToAddress("0x968B9a5603ddEb2A78Aa08182BC44Ece1D9E5bf0")},
	}
}

func defaults() *Config {
	minNative, _ := new(big.Int).SetString(DefaultMinNativeBalanceWei, 10)
	return &Config{
		RPCURL:              DefaultRPCURL,
		RouterAddress:       common.HexToAddress(DefaultRouterAddress),
		WrappedNativeSymbol: DefaultWrappedNativeSymbol,
		ExplorerTxURL:       DefaultExplorerTxURL,
		Mode:                DefaultMode,
		Tokens:              DefaultTokens(),
		ClaimWorkers:        DefaultClaimWorkers,
		ClaimGasLimit:       DefaultClaimGasLimit,
		ClaimMaxRetries:     DefaultClaimMaxRetries,
		ClaimConfirmTimeout: DefaultClaimConfirmTimeout,
		ClaimCooldown:       DefaultClaimCooldown,
		SwapGasMultiplier:   DefaultSwapGasMultiplier,
		SwapInterval:        DefaultSwapInterval,
		SwapMaxAttempts:     DefaultSwapMaxAttempts,
		SwapSubmitRetries:   DefaultSwapSubmitRetries,
		ApproveGasLimit:     DefaultApproveGasLimit,
		MinNativeBalance:    minNative,
		RPCTimeout:          DefaultRPCTimeout,
		RPCMaxRetries:       DefaultRPCMaxRetries,
		ListenAddr:          DefaultListenAddr,
		DatabasePath:        DefaultDatabasePath,
		CORSAllowedOrigins:  DefaultCORSAllowedOrigins,
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
	}
}

// Load reads configuration from a dotenv file, environment variables and
// command-line arguments, in increasing order of precedence. The dotenv file
// (ENV_FILE, default .env) never overrides variables already set.
func Load(args []string) (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := defaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applyFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var r envReader
	r.str("RPC_URL", &c.RPCURL)
	r.int64("CHAIN_ID", &c.ChainID)
	r.address("ROUTER_ADDRESS", &c.RouterAddress)
	r.str("WRAPPED_NATIVE_SYMBOL", &c.WrappedNativeSymbol)
	r.str("EXPLORER_TX_URL", &c.ExplorerTxURL)
	if v := os.Getenv("MODE"); v != "" {
		c.Mode = types.Mode(strings.ToLower(v))
	}

	r.int("CLAIM_WORKERS", &c.ClaimWorkers)
	r.uint64("CLAIM_GAS_LIMIT", &c.ClaimGasLimit)
	r.int("CLAIM_MAX_RETRIES", &c.ClaimMaxRetries)
	r.duration("CLAIM_CONFIRM_TIMEOUT", &c.ClaimConfirmTimeout)
	r.bool("CLAIM_COOLDOWN_SKIP", &c.ClaimCooldownSkip)
	r.duration("CLAIM_COOLDOWN", &c.ClaimCooldown)

	r.float("SWAP_GAS_MULTIPLIER", &c.SwapGasMultiplier)
	r.duration("SWAP_INTERVAL", &c.SwapInterval)
	r.str("SWAP_SCHEDULE", &c.SwapSchedule)
	r.int("SWAP_MAX_ATTEMPTS", &c.SwapMaxAttempts)
	r.int("SWAP_SUBMIT_RETRIES", &c.SwapSubmitRetries)
	r.uint64("APPROVE_GAS_LIMIT", &c.ApproveGasLimit)
	r.bigInt("MIN_NATIVE_BALANCE_WEI", &c.MinNativeBalance)

	r.duration("RPC_TIMEOUT", &c.RPCTimeout)
	r.int("RPC_MAX_RETRIES", &c.RPCMaxRetries)
	r.float("RPC_RATE_LIMIT", &c.RPCRateLimit)

	r.strAllowEmpty("LISTEN_ADDR", &c.ListenAddr)
	r.strAllowEmpty("DATABASE_PATH", &c.DatabasePath)
	r.str("CORS_ALLOWED_ORIGINS", &c.CORSAllowedOrigins)
	r.str("LOG_LEVEL", &c.LogLevel)
	r.str("LOG_FORMAT", &c.LogFormat)
	if r.err != nil {
		return r.err
	}

	if path := os.Getenv("TOKENS_FILE"); path != "" {
		tokens, err := LoadTokens(path)
		if err != nil {
			return err
		}
		c.Tokens = tokens
	}

	keys, err := loadKeys()
	if err != nil {
		return err
	}
	c.PrivateKeys = keys
	return nil
}

func (c *Config) applyFlags(args []string) error {
	flags := flag.NewFlagSet("faucetbot", flag.ContinueOnError)
	var (
		rpcURL       = flags.String("rpc", c.RPCURL, "JSON-RPC endpoint URL")
		chainID      = flags.Int64("chainid", c.ChainID, "Chain ID (0 = ask the node)")
		mode         = flags.String("mode", string(c.Mode), "Run mode: claim, swap or all")
		router       = flags.String("router", c.RouterAddress.Hex(), "Swap router address")
		workers      = flags.Int("workers", c.ClaimWorkers, "Concurrent claim submissions")
		swapInterval = flags.Duration("swap-interval", c.SwapInterval, "Pause between swap passes")
		swapSchedule = flags.String("swap-schedule", c.SwapSchedule, "Cron schedule for swap passes (overrides -swap-interval)")
		listenAddr   = flags.String("listen", c.ListenAddr, "HTTP listen address (empty disables the API)")
		dbPath       = flags.String("db", c.DatabasePath, "SQLite history path (empty disables history)")
		tokensFile   = flags.String("tokens", "", "YAML token list file")
		logLevel     = flags.String("log-level", c.LogLevel, "Log level: debug, info, warn, error")
		logFormat    = flags.String("log-format", c.LogFormat, "Log format: json or text")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}

	c.RPCURL = *rpcURL
	c.ChainID = *chainID
	c.Mode = types.Mode(strings.ToLower(*mode))
	if !common.IsHexAddress(*router) {
		return fmt.Errorf("invalid router address %q", *router)
	}
	c.RouterAddress = common.HexToAddress(*router)
	c.ClaimWorkers = *workers
	c.SwapInterval = *swapInterval
	c.SwapSchedule = *swapSchedule
	c.ListenAddr = *listenAddr
	c.DatabasePath = *dbPath
	c.LogLevel = *logLevel
	c.LogFormat = *logFormat

	if *tokensFile != "" {
		tokens, err := LoadTokens(*tokensFile)
		if err != nil {
			return err
		}
		c.Tokens = tokens
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.ChainID < 0 {
		return fmt.Errorf("chain ID cannot be negative")
	}
	switch c.Mode {
	case types.ModeClaim, types.ModeSwap, types.ModeAll:
	default:
		return fmt.Errorf("invalid mode: %s (supported: claim, swap, all)", c.Mode)
	}
	if len(c.PrivateKeys) == 0 {
		return fmt.Errorf("no private keys configured (set PRIVATE_KEYS or PRIVATE_KEYS_FILE)")
	}
	if len(c.Tokens) == 0 {
		return fmt.Errorf("token list is empty")
	}
	if c.Mode != types.ModeClaim && c.RouterAddress == (common.Address{}) {
		return fmt.Errorf("router address is required for mode %s", c.Mode)
	}
	if c.ClaimWorkers <= 0 {
		return fmt.Errorf("claim workers must be positive")
	}
	if c.ClaimGasLimit == 0 || c.ApproveGasLimit == 0 {
		return fmt.Errorf("gas limits must be positive")
	}
	if c.ClaimMaxRetries <= 0 || c.SwapMaxAttempts <= 0 || c.SwapSubmitRetries <= 0 {
		return fmt.Errorf("retry counts must be positive")
	}
	if c.ClaimConfirmTimeout <= 0 {
		return fmt.Errorf("claim confirm timeout must be positive")
	}
	if c.SwapGasMultiplier < 1 {
		return fmt.Errorf("swap gas multiplier must be at least 1, got %v", c.SwapGasMultiplier)
	}
	if c.SwapInterval <= 0 && c.SwapSchedule == "" {
		return fmt.Errorf("swap interval must be positive")
	}
	if c.MinNativeBalance == nil || c.MinNativeBalance.Sign() < 0 {
		return fmt.Errorf("minimum native balance cannot be negative")
	}
	if c.RPCRateLimit < 0 {
		return fmt.Errorf("RPC rate limit cannot be negative")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (supported: json, text)", c.LogFormat)
	}
	return nil
}

// tokenFile is the TOKENS_FILE layout:
//
//	tokens:
//	  - symbol: SUSDT
//	    address: "0x8812d810EA7CC4e1c3FB45cef19D6a7ECBf2D85D"
type tokenFile struct {
	Tokens []struct {
		Symbol  string `yaml:"symbol"`
		Address string `yaml:"address"`
	} `yaml:"tokens"`
}

// LoadTokens reads a YAML token list.
func LoadTokens(path string) ([]types.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tf tokenFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", path, err)
	}

	tokens := make([]types.Token, 0, len(tf.Tokens))
	seen := make(map[common.Address]bool, len(tf.Tokens))
	for i, t := range tf.Tokens {
		if t.Symbol == "" {
			return nil, fmt.Errorf("token #%d: symbol is required", i+1)
		}
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("token %s: invalid address %q", t.Symbol, t.Address)
		}
		addr := common.HexToAddress(t.Address)
		if seen[addr] {
			return nil, fmt.Errorf("token %s: duplicate address %s", t.Symbol, addr.Hex())
		}
		seen[addr] = true
		tokens = append(tokens, types.Token{Symbol: t.Symbol, Address: addr})
	}
	return tokens, nil
}

// loadKeys reads PRIVATE_KEYS (comma separated) or PRIVATE_KEYS_FILE (one
// key per line, # comments allowed). Keys are never accepted as flags.
func loadKeys() ([]string, error) {
	if v := os.Getenv("PRIVATE_KEYS"); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		return keys, nil
	}

	path := os.Getenv("PRIVATE_KEYS_FILE")
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open private keys file: %w", err)
	}
	defer f.Close()

	var keys []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read private keys file: %w", err)
	}
	return keys, nil
}

// envReader applies environment overrides and keeps the first parse error.
type envReader struct {
	err error
}

func (r *envReader) lookup(key string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	v := os.Getenv(key)
	return v, v != ""
}

func (r *envReader) fail(key, v string, err error) {
	r.err = fmt.Errorf("invalid %s=%q: %w", key, v, err)
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		*dst = v
	}
}

// strAllowEmpty lets an explicitly empty variable clear the default.
func (r *envReader) strAllowEmpty(key string, dst *string) {
	if r.err != nil {
		return
	}
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func (r *envReader) int(key string, dst *int) {
	if v, ok := r.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) int64(key string, dst *int64) {
	if v, ok := r.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) uint64(key string, dst *uint64) {
	if v, ok := r.lookup(key); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) float(key string, dst *float64) {
	if v, ok := r.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (r *envReader) bool(key string, dst *bool) {
	if v, ok := r.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(key string, dst *time.Duration) {
	if v, ok := r.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (r *envReader) address(key string, dst *common.Address) {
	if v, ok := r.lookup(key); ok {
		if !common.IsHexAddress(v) {
			r.fail(key, v, errors.New("not a hex address"))
			return
		}
		*dst = common.HexToAddress(v)
	}
}

func (r *envReader) bigInt(key string, dst **big.Int) {
	if v, ok := r.lookup(key); ok {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			r.fail(key, v, errors.New("not a decimal integer"))
			return
		}
		*dst = n
	}
}
