package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Blockchain BlockchainConfig `yaml:"blockchain"`
	Relayer    RelayerConfig    `yaml:"relayer"`
	Admin      AdminConfig      `yaml:"admin"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins"` // CORS; empty allows any origin
}

// Addr listen address for http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres | sqlite
	DSN    string `yaml:"dsn"`
}

// NATSConfig NATS message server configuration. Empty URL disables NATS.
type NATSConfig struct {
	URL            string `yaml:"url"`
	Timeout        int    `yaml:"timeout"`        // seconds
	ReconnectWait  int    `yaml:"reconnect_wait"` // seconds
	MaxReconnects  int    `yaml:"max_reconnects"`
	SubjectPrefix  string `yaml:"subject_prefix"`  // lifecycle events go to <prefix>.<status>
	TriggerSubject string `yaml:"trigger_subject"` // a message here triggers one pass
}

// BlockchainConfig chain and relayer wallet configuration
type BlockchainConfig struct {
	ChainID            int64            `yaml:"chainId"`
	RPCEndpoints       []string         `yaml:"rpcEndpoints"`
	RelayerAddress     string           `yaml:"relayerAddress"`
	PrivateKey         string           `yaml:"privateKey"`         // hex, with or without 0x
	GasPrice           string           `yaml:"gasPrice"`           // wei, empty uses the node's suggestion
	GasLimit           uint64           `yaml:"gasLimit"`           // 0 estimates per call
	GasPriceMultiplier float64          `yaml:"gasPriceMultiplier"` // applied to suggested gas price
	RPCTimeout         time.Duration    `yaml:"rpcTimeout"`
	Contracts          []ContractConfig `yaml:"contracts"`
}

// RelayerConfig reconciliation settings
type RelayerConfig struct {
	RequiredConfirmations uint64        `yaml:"requiredConfirmations"`
	ExpiryWindow          time.Duration `yaml:"expiryWindow"`
	MaxNonceAttempts      int           `yaml:"maxNonceAttempts"`
	PassInterval          time.Duration `yaml:"passInterval"`
}

// AdminConfig Admin API access control configuration
type AdminConfig struct {
	JWTSecret  string        `yaml:"jwtSecret"`
	TokenTTL   time.Duration `yaml:"tokenTTL"`
	AllowedIPs []string      `yaml:"allowedIPs"` // IPs or CIDRs besides localhost; empty allows any client with a valid token
}

// LogConfig logrus settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// AppConfig last loaded configuration
var AppConfig *Config

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig Load configuration file, apply defaults and environment overrides
func LoadConfig(configPath string) (*Config, error) {
	// ifconfiguration file pathempty，Use default path
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	AppConfig = cfg
	return cfg, nil
}

// Parse decodes YAML, then applies environment overrides and defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	overrideFromEnv(&cfg)
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.NATS.Timeout == 0 {
		c.NATS.Timeout = 5
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "relayer.requests"
	}
	if c.Blockchain.GasPriceMultiplier == 0 {
		c.Blockchain.GasPriceMultiplier = 1.0
	}
	if c.Blockchain.RPCTimeout == 0 {
		c.Blockchain.RPCTimeout = 15 * time.Second
	}
	if c.Relayer.RequiredConfirmations == 0 {
		c.Relayer.RequiredConfirmations = 1
	}
	if c.Relayer.ExpiryWindow == 0 {
		c.Relayer.ExpiryWindow = 24 * time.Hour
	}
	if c.Relayer.MaxNonceAttempts == 0 {
		c.Relayer.MaxNonceAttempts = 32
	}
	if c.Relayer.PassInterval == 0 {
		c.Relayer.PassInterval = 15 * time.Second
	}
	if c.Admin.TokenTTL == 0 {
		c.Admin.TokenTTL = 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the settings the relayer cannot start without
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	if c.Blockchain.ChainID <= 0 {
		errs = append(errs, errors.New("blockchain.chainId is required"))
	}
	if len(c.Blockchain.RPCEndpoints) == 0 {
		errs = append(errs, errors.New("blockchain.rpcEndpoints is required"))
	}
	if c.Blockchain.RelayerAddress != "" && !common.IsHexAddress(c.Blockchain.RelayerAddress) {
		errs = append(errs, fmt.Errorf("blockchain.relayerAddress %q is not a hex address", c.Blockchain.RelayerAddress))
	}
	if c.Blockchain.GasPriceMultiplier < 0 {
		errs = append(errs, errors.New("blockchain.gasPriceMultiplier must not be negative"))
	}
	for i, contract := range c.Blockchain.Contracts {
		if !common.IsHexAddress(contract.Address) {
			errs = append(errs, fmt.Errorf("blockchain.contracts[%d].address %q is not a hex address", i, contract.Address))
		}
		if contract.ABI == "" && contract.ABIFile == "" {
			errs = append(errs, fmt.Errorf("blockchain.contracts[%d] needs abi or abiFile", i))
		}
	}

	if c.Relayer.MaxNonceAttempts < 0 {
		errs = append(errs, errors.New("relayer.maxNonceAttempts must not be negative"))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not supported", c.Log.Format))
	}

	return errors.Join(errs...)
}

// overrideFromEnv Override configuration from environment variables
func overrideFromEnv(config *Config) {
	// Database
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}

	// server configuration
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// NATS
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}

	// Blockchain
	if rpcEndpoints := os.Getenv("RPC_ENDPOINTS"); rpcEndpoints != "" {
		config.Blockchain.RPCEndpoints = splitList(rpcEndpoints)
	}
	if privateKey := os.Getenv("RELAYER_PRIVATE_KEY"); privateKey != "" {
		config.Blockchain.PrivateKey = privateKey
	}
	if relayerAddress := os.Getenv("RELAYER_ADDRESS"); relayerAddress != "" {
		config.Blockchain.RelayerAddress = relayerAddress
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			config.Blockchain.ChainID = id
		}
	}

	// Relayer
	if required := os.Getenv("REQUIRED_CONFIRMATIONS"); required != "" {
		if n, err := strconv.ParseUint(required, 10, 64); err == nil {
			config.Relayer.RequiredConfirmations = n
		}
	}

	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = splitList(origins)
	}
	if ips := os.Getenv("ADMIN_ALLOWED_IPS"); ips != "" {
		config.Admin.AllowedIPs = splitList(ips)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
