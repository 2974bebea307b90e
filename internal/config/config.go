package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"golang.org/x/crypto/bcrypt"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	minSecretLength = 32
)

// Config holds runtime configuration for the auth server, sourced from env vars.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`

	JWTAccessSecret     string        `env:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret    string        `env:"JWT_REFRESH_SECRET"`
	JWTIssuer           string        `env:"JWT_ISSUER" envDefault:"fanzone-auth"`
	JWTAccessTTL        time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	JWTRefreshTTL       time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	RotateRefreshTokens bool          `env:"ROTATE_REFRESH_TOKENS" envDefault:"false"`

	BcryptCost        int           `env:"BCRYPT_COST" envDefault:"12"`
	CredentialTimeout time.Duration `env:"CREDENTIAL_TIMEOUT" envDefault:"5s"`
	TokenTimeout      time.Duration `env:"TOKEN_TIMEOUT" envDefault:"5s"`

	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	LoginRatePerSecond float64 `env:"LOGIN_RATE_PER_SECOND" envDefault:"1"`
	LoginRateBurst     int     `env:"LOGIN_RATE_BURST" envDefault:"5"`

	// TrustedProxies lists the CIDRs or addresses whose forwarding headers
	// name the real client. Empty means the peer address is always used.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Port = strings.TrimSpace(c.Port)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.JWTAccessSecret = strings.TrimSpace(c.JWTAccessSecret)
	c.JWTRefreshSecret = strings.TrimSpace(c.JWTRefreshSecret)
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.CORSOrigins = parseOrigins(c.CORSOrigins)
	c.TrustedProxies = trimEmpty(c.TrustedProxies)
}

// Validate checks cross-field rules that env tags cannot express.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.JWTAccessSecret == "" {
		return errors.New("JWT_ACCESS_SECRET is required")
	}
	if c.JWTRefreshSecret == "" {
		return errors.New("JWT_REFRESH_SECRET is required")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if !c.IsDevelopment() {
		if len(c.JWTAccessSecret) < minSecretLength {
			return fmt.Errorf("JWT_ACCESS_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.JWTAccessSecret))
		}
		if len(c.JWTRefreshSecret) < minSecretLength {
			return fmt.Errorf("JWT_REFRESH_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.JWTRefreshSecret))
		}
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return errors.New("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}
	if c.JWTAccessTTL >= c.JWTRefreshTTL {
		return errors.New("JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.CredentialTimeout <= 0 || c.TokenTimeout <= 0 {
		return errors.New("CREDENTIAL_TIMEOUT and TOKEN_TIMEOUT must be positive")
	}
	if c.LoginRatePerSecond <= 0 || c.LoginRateBurst <= 0 {
		return errors.New("LOGIN_RATE_PER_SECOND and LOGIN_RATE_BURST must be positive")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host prefix.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %q is not an address or CIDR", entry)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// IsDevelopment reports whether relaxed secret rules apply.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// ClientConfig configures the fanctl session client.
type ClientConfig struct {
	APIURL         string        `env:"FANZONE_API_URL" envDefault:"http://localhost:8080"`
	SessionFile    string        `env:"FANZONE_SESSION_FILE"`
	SessionKey     string        `env:"FANZONE_SESSION_KEY"`
	RequestTimeout time.Duration `env:"FANZONE_REQUEST_TIMEOUT" envDefault:"10s"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"warn"`
}

// LoadClient reads client configuration from the environment.
func LoadClient() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("parse client config: %w", err)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.SessionKey == "" {
		return ClientConfig{}, errors.New("FANZONE_SESSION_KEY is required")
	}
	if cfg.RequestTimeout <= 0 {
		return ClientConfig{}, errors.New("FANZONE_REQUEST_TIMEOUT must be positive")
	}
	return cfg, nil
}

func parseOrigins(in []string) []string {
	out := trimEmpty(in)
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func trimEmpty(in []string) []string {
	var out []string
	for _, part := range in {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
