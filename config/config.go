package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	HashAlgorithmBcrypt   = "bcrypt"
	HashAlgorithmArgon2id = "argon2id"

	minProductionSecretLength = 32
)

// Placeholder secrets shipped in sample env files. They are refused in production.
var developmentSecrets = []string{
	"very-insecure-dev-secret",
	"change-me",
	"secret",
	"test-secret",
}

type Config struct {
	Env            string
	MigrateOnStart bool
	HTTP           HTTPConfig
	GRPC           GRPCConfig
	MySQL          MySQLConfig
	JWT            JWTConfig
	Tokens         TokenConfig
	Password       PasswordConfig
	Mail           MailConfig
	Redis          RedisConfig
	RateLimit      RateLimitConfig
	Log            LogConfig
}

type HTTPConfig struct {
	Host string
	Port string

	// TrustedProxies lists proxy addresses (IPs or CIDRs) whose X-Forwarded-For is honored.
	// Empty means client addresses come from the socket only.
	TrustedProxies []string
}

// TrustedProxyRanges parses TrustedProxies. A bare IP becomes a single-host range.
func (h HTTPConfig) TrustedProxyRanges() ([]*net.IPNet, error) {
	ranges := make([]*net.IPNet, 0, len(h.TrustedProxies))
	for _, entry := range h.TrustedProxies {
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q", entry)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			ranges = append(ranges, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", entry, err)
		}
		ranges = append(ranges, ipNet)
	}
	return ranges, nil
}

type GRPCConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN string
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type TokenConfig struct {
	TwoFATTL time.Duration
	ResetTTL time.Duration
}

type PasswordConfig struct {
	Algorithm  string
	BcryptCost int
	Policy     PasswordPolicy
}

type MailConfig struct {
	From       string
	SMTPHost   string
	SMTPPort   int
	SMTPUser   string
	SMTPPass   string
	OutboxFile string
	Timeout    time.Duration
}

// SMTPEnabled reports whether enough transport settings exist to deliver real mail.
func (m MailConfig) SMTPEnabled() bool {
	return m.SMTPHost != "" && m.SMTPUser != ""
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

func (p PasswordPolicy) Validate(password string) error {
	if len(password) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters long", p.MinLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasNumber = true
		case unicode.IsPunct(ch) || unicode.IsSymbol(ch):
			hasSpecial = true
		}
	}

	var missing []string
	if p.RequireUppercase && !hasUpper {
		missing = append(missing, "uppercase letter")
	}
	if p.RequireLowercase && !hasLower {
		missing = append(missing, "lowercase letter")
	}
	if p.RequireNumber && !hasNumber {
		missing = append(missing, "number")
	}
	if p.RequireSpecial && !hasSpecial {
		missing = append(missing, "special character")
	}

	if len(missing) > 0 {
		return fmt.Errorf("password must contain at least one: %s", strings.Join(missing, ", "))
	}

	return nil
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignores error if not found)
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required")
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	cfg := &Config{
		Env:            strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
		MigrateOnStart: getBoolEnv("MIGRATE_ON_START", true),
		HTTP: HTTPConfig{
			Host:           os.Getenv("HTTP_HOST"),
			Port:           getEnv("HTTP_PORT", "4000"),
			TrustedProxies: getListEnv("TRUSTED_PROXIES"),
		},
		GRPC: GRPCConfig{
			Host: os.Getenv("GRPC_HOST"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN: mysqlDSN,
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
			TTL:    getDurationEnv("JWT_TTL", time.Hour),
		},
		Tokens: TokenConfig{
			TwoFATTL: getDurationEnv("TWO_FA_TTL", 10*time.Minute),
			ResetTTL: getDurationEnv("RESET_TOKEN_TTL", 30*time.Minute),
		},
		Password: PasswordConfig{
			Algorithm:  strings.ToLower(getEnv("PASSWORD_HASH_ALGORITHM", HashAlgorithmBcrypt)),
			BcryptCost: getIntEnv("BCRYPT_COST", 10),
			Policy:     loadPasswordPolicy(),
		},
		Mail: MailConfig{
			From:       getEnv("FROM_EMAIL", "no-reply@example.com"),
			SMTPHost:   os.Getenv("SMTP_HOST"),
			SMTPPort:   getIntEnv("SMTP_PORT", 587),
			SMTPUser:   os.Getenv("SMTP_USER"),
			SMTPPass:   os.Getenv("SMTP_PASS"),
			OutboxFile: os.Getenv("NOTIFY_OUTBOX_FILE"),
			Timeout:    getSecondsEnv("NOTIFY_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Max:    getIntEnv("RATE_LIMIT_MAX", 10),
			Window: getSecondsEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings that would silently weaken the service.
func (c *Config) Validate() error {
	switch c.Password.Algorithm {
	case HashAlgorithmBcrypt, HashAlgorithmArgon2id:
	default:
		return fmt.Errorf("unsupported PASSWORD_HASH_ALGORITHM %q", c.Password.Algorithm)
	}

	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be greater than 0")
	}

	if _, err := c.HTTP.TrustedProxyRanges(); err != nil {
		return err
	}

	if c.IsProduction() {
		if len(c.JWT.Secret) < minProductionSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d characters in production", minProductionSecretLength)
		}
		for _, placeholder := range developmentSecrets {
			if c.JWT.Secret == placeholder {
				return errors.New("JWT_SECRET uses a development placeholder")
			}
		}
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func (c *Config) DSN() string {
	return c.MySQL.DSN
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var values []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func loadPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        getIntEnv("PASSWORD_MIN_LENGTH", 6),
		RequireUppercase: getBoolEnv("PASSWORD_REQUIRE_UPPERCASE", false),
		RequireLowercase: getBoolEnv("PASSWORD_REQUIRE_LOWERCASE", false),
		RequireNumber:    getBoolEnv("PASSWORD_REQUIRE_NUMBER", false),
		RequireSpecial:   getBoolEnv("PASSWORD_REQUIRE_SPECIAL", false),
	}
}
