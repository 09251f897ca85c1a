package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Chains    ChainsConfig    `mapstructure:"chains"`
	Contracts ContractsConfig `mapstructure:"contracts"`
	Relayer   RelayerConfig   `mapstructure:"relayer"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress string `mapstructure:"http_address"`
	GRPCAddress string `mapstructure:"grpc_address"`
	JWTSecret   string `mapstructure:"jwt_secret"`
}

type ChainsConfig struct {
	Game       ChainConfig `mapstructure:"game"`
	Randomness ChainConfig `mapstructure:"randomness"`
}

// ChainConfig describes one RPC endpoint set. When WSURL is set the chain is
// watched over a streaming subscription, otherwise HTTPURL is polled.
type ChainConfig struct {
	Name         string        `mapstructure:"name"`
	HTTPURL      string        `mapstructure:"http_url"`
	WSURL        string        `mapstructure:"ws_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StartBlock   uint64        `mapstructure:"start_block"`
}

func (c ChainConfig) Streaming() bool {
	return c.WSURL != ""
}

type ContractsConfig struct {
	CoinFlip          string `mapstructure:"coin_flip"`
	RockPaperScissors string `mapstructure:"rock_paper_scissors"`
	NumberGuess       string `mapstructure:"number_guess"`
	VRFFlipRPS        string `mapstructure:"vrf_flip_rps"`
	VRFNumberGuess    string `mapstructure:"vrf_number_guess"`
}

type RelayerConfig struct {
	PrivateKey     string        `mapstructure:"private_key"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
}

type WatcherConfig struct {
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay"`
	RescanDepth       uint64        `mapstructure:"rescan_depth"`
	MaxBlockRange     uint64        `mapstructure:"max_block_range"`
}

type LedgerConfig struct {
	Driver   string         `mapstructure:"driver"` // postgres, redis or memory
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NotifyConfig struct {
	WebhookURL   string        `mapstructure:"webhook_url"`
	WebhookToken string        `mapstructure:"webhook_token"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var ErrInvalidConfig = errors.New("invalid configuration")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.grpc_address", ":9090")
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("chains.game.name", "morph")
	v.SetDefault("chains.game.http_url", "")
	v.SetDefault("chains.game.ws_url", "")
	v.SetDefault("chains.game.poll_interval", 5*time.Second)
	v.SetDefault("chains.game.start_block", 0)
	v.SetDefault("chains.randomness.name", "base")
	v.SetDefault("chains.randomness.http_url", "")
	v.SetDefault("chains.randomness.ws_url", "")
	v.SetDefault("chains.randomness.poll_interval", 5*time.Second)
	v.SetDefault("chains.randomness.start_block", 0)

	v.SetDefault("contracts.coin_flip", "")
	v.SetDefault("contracts.rock_paper_scissors", "")
	v.SetDefault("contracts.number_guess", "")
	v.SetDefault("contracts.vrf_flip_rps", "")
	v.SetDefault("contracts.vrf_number_guess", "")

	v.SetDefault("relayer.private_key", "")
	v.SetDefault("relayer.confirm_timeout", 2*time.Minute)

	v.SetDefault("watcher.reconnect_delay", 5*time.Second)
	v.SetDefault("watcher.reconnect_max_delay", time.Minute)
	v.SetDefault("watcher.rescan_depth", 12)
	v.SetDefault("watcher.max_block_range", 2000)

	v.SetDefault("ledger.driver", "postgres")
	v.SetDefault("ledger.postgres.host", "localhost")
	v.SetDefault("ledger.postgres.port", 5432)
	v.SetDefault("ledger.postgres.user", "postgres")
	v.SetDefault("ledger.postgres.password", "")
	v.SetDefault("ledger.postgres.dbname", "gamerelay")
	v.SetDefault("ledger.postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_token", "")
	v.SetDefault("notify.timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path (optional) and overlays environment
// variables, e.g. RELAYER_PRIVATE_KEY or CHAINS_GAME_HTTP_URL.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Relayer.PrivateKey = strings.TrimPrefix(cfg.Relayer.PrivateKey, "0x")
	return &cfg, nil
}

// Validate reports every missing connection parameter the engine cannot start
// without.
func (c *Config) Validate() error {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	check("chains.game.http_url", c.Chains.Game.HTTPURL)
	check("chains.randomness.http_url", c.Chains.Randomness.HTTPURL)
	check("contracts.coin_flip", c.Contracts.CoinFlip)
	check("contracts.rock_paper_scissors", c.Contracts.RockPaperScissors)
	check("contracts.number_guess", c.Contracts.NumberGuess)
	check("contracts.vrf_flip_rps", c.Contracts.VRFFlipRPS)
	check("contracts.vrf_number_guess", c.Contracts.VRFNumberGuess)
	check("relayer.private_key", c.Relayer.PrivateKey)

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}

	var malformed []string
	for _, addr := range []struct{ name, value string }{
		{"contracts.coin_flip", c.Contracts.CoinFlip},
		{"contracts.rock_paper_scissors", c.Contracts.RockPaperScissors},
		{"contracts.number_guess", c.Contracts.NumberGuess},
		{"contracts.vrf_flip_rps", c.Contracts.VRFFlipRPS},
		{"contracts.vrf_number_guess", c.Contracts.VRFNumberGuess},
	} {
		if !common.IsHexAddress(strings.TrimSpace(addr.value)) {
			malformed = append(malformed, addr.name)
		}
	}
	if len(malformed) > 0 {
		return fmt.Errorf("%w: not an address: %s", ErrInvalidConfig, strings.Join(malformed, ", "))
	}

	switch c.Ledger.Driver {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("%w: unknown ledger driver %q", ErrInvalidConfig, c.Ledger.Driver)
	}
	return nil
}
