package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/viper"

	"github.com/medgrid/health-exchange/internal/system/constants"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabasesConfig   `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Admission   AdmissionConfig   `mapstructure:"admission"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Hostname     string        `mapstructure:"hostname"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`
}

// DatabasesConfig holds all database configurations.
type DatabasesConfig struct {
	Exchange DatabaseConfig `mapstructure:"exchange"`
}

// DatabaseConfig holds individual database configuration.
type DatabaseConfig struct {
	Type            string        `mapstructure:"type"`
	Hostname        string        `mapstructure:"hostname"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MarketplaceConfig holds marketplace fee and payout configuration.
type MarketplaceConfig struct {
	// PlatformFeeBps is the platform cut in basis points (500 = 5%).
	PlatformFeeBps int `mapstructure:"platform_fee_bps"`
	// PlatformAccount receives the platform fee on every completed access.
	PlatformAccount string `mapstructure:"platform_account"`
}

// AdmissionConfig holds bootstrap identities for the permissioning engines.
// The bootstrap admin is seeded only when the respective store is empty, so a
// fresh deployment can pass its own admission checks.
type AdmissionConfig struct {
	BootstrapAdmin     string                  `mapstructure:"bootstrap_admin"`
	BootstrapValidator BootstrapValidatorEntry `mapstructure:"bootstrap_validator"`
}

// BootstrapValidatorEntry identifies the genesis validator node.
type BootstrapValidatorEntry struct {
	PubkeyHigh       string `mapstructure:"pubkey_high"`
	PubkeyLow        string `mapstructure:"pubkey_low"`
	OrganizationName string `mapstructure:"organization_name"`
}

var globalConfig *Config

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("deployment")
		v.SetConfigType("yaml")
		v.AddConfigPath("./repository/conf")
		v.AddConfigPath("./cmd/server/repository/conf")
		v.AddConfigPath("../repository/conf")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("HEALTH_EXCHANGE")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	globalConfig = &config
	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Exchange.Hostname == "" {
		return fmt.Errorf("database hostname is required")
	}

	if config.Database.Exchange.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if config.Marketplace.PlatformFeeBps < 0 || config.Marketplace.PlatformFeeBps > constants.MaxPlatformFeeBps {
		return fmt.Errorf("platform fee must be between 0 and %d bps, got %d",
			constants.MaxPlatformFeeBps, config.Marketplace.PlatformFeeBps)
	}

	if config.Marketplace.PlatformAccount == "" {
		return fmt.Errorf("marketplace platform account is required")
	}
	if !common.IsHexAddress(config.Marketplace.PlatformAccount) {
		return fmt.Errorf("marketplace platform account is not a valid address: %s",
			config.Marketplace.PlatformAccount)
	}

	if config.Admission.BootstrapAdmin != "" && !common.IsHexAddress(config.Admission.BootstrapAdmin) {
		return fmt.Errorf("bootstrap admin is not a valid address: %s", config.Admission.BootstrapAdmin)
	}

	return nil
}

// Get returns the global configuration.
func Get() *Config {
	return globalConfig
}

// SetGlobal sets the global configuration (for testing purposes).
func SetGlobal(cfg *Config) {
	globalConfig = cfg
}

// GetDSN returns the database connection string.
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		d.User,
		d.Password,
		d.Hostname,
		d.Port,
		d.Database,
	)
}

// GetServerAddress returns the server address in host:port format.
func (s *ServerConfig) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", s.Hostname, s.Port)
}

// GetPlatformAccount returns the typed platform fee account.
func (m *MarketplaceConfig) GetPlatformAccount() common.Address {
	return common.HexToAddress(m.PlatformAccount)
}

// Identity returns the typed public-key halves of the bootstrap validator.
// The boolean is false when the entry is unset or malformed.
func (b *BootstrapValidatorEntry) Identity() (common.Hash, common.Hash, bool) {
	if b.PubkeyHigh == "" || b.PubkeyLow == "" {
		return common.Hash{}, common.Hash{}, false
	}
	high, err := hexutil.Decode(b.PubkeyHigh)
	if err != nil || len(high) != common.HashLength {
		return common.Hash{}, common.Hash{}, false
	}
	low, err := hexutil.Decode(b.PubkeyLow)
	if err != nil || len(low) != common.HashLength {
		return common.Hash{}, common.Hash{}, false
	}
	return common.BytesToHash(high), common.BytesToHash(low), true
}

// GetBootstrapValidator returns the bootstrap validator entry and whether one
// is configured.
func (a *AdmissionConfig) GetBootstrapValidator() (*BootstrapValidatorEntry, bool) {
	if a.BootstrapValidator.PubkeyHigh == "" && a.BootstrapValidator.PubkeyLow == "" {
		return nil, false
	}
	return &a.BootstrapValidator, true
}

// GetBootstrapAdmin returns the typed bootstrap admin address and whether one
// is configured.
func (a *AdmissionConfig) GetBootstrapAdmin() (common.Address, bool) {
	if a.BootstrapAdmin == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(a.BootstrapAdmin), true
}
