package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	API         APIConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	Broker      BrokerConfig
	ControlBus  ControlBusConfig
	Auth        AuthConfig
	Security    SecurityConfig
	Log         LogConfig
	Tracing     TracingConfig
	Routing     RoutingConfig
	Environment string
}

type APIConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string
}

// CacheConfig configures the process-local Cache (C4). InMemory
// selects MemoryCache; otherwise Redis at Addr is used, with MemoryCache
// as the fallback when that connection fails.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	InMemory bool
}

// BrokerConfig configures the broker adapter (C5). Type selects
// "amqp" (real wire I/O via amqp091-go) or "mock" (in-memory, used in
// tests and for environments without a broker deployed).
type BrokerConfig struct {
	Type               string
	Host               string
	Port               string
	ManagementUser     string
	ManagementPassword string
	CircuitMaxRequests uint32
	CircuitInterval    time.Duration
	CircuitTimeout     time.Duration
}

// ControlBusConfig configures the Redis pub/sub control bus (C6).
type ControlBusConfig struct {
	Addr     string
	Password string
	DB       int
	NodeID   string
}

type AuthConfig struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration
	SessionTTL      time.Duration
	BcryptCost      int
	Providers       map[string]OIDCProvider
}

// OIDCProvider configures one federated login provider, verified via
// coreos/go-oidc against the provider's discovery document.
type OIDCProvider struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	IssuerURL    string
	Scopes       []string
}

type SecurityConfig struct {
	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int

	CORSAllowOrigins []string

	AuditEnabled bool

	ForceHTTPS bool

	CSPEnabled  bool
	HSTSEnabled bool
	HSTSMaxAge  int
}

// RoutingConfig bounds the downlink correlation window of the Routing
// Engine (C7): how long an application's downlink command waits for a
// result before the buffered row is considered expired.
type RoutingConfig struct {
	DownlinkDefaultTTL time.Duration
	DownlinkMaxTTL     time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
	OTLPEndpoint string
}

func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		API: APIConfig{
			Port:         getEnv("API_PORT", "8080"),
			Host:         getEnv("API_HOST", "0.0.0.0"),
			ReadTimeout:  getDurationEnv("API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("API_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Type:           getEnv("DB_TYPE", "postgres"),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			Name:           getEnv("DB_NAME", "controlplane"),
			User:           getEnv("DB_USER", "controlplane"),
			Password:       getEnv("DB_PASSWORD", ""),
			SSLMode:        getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:   getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:   getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "internal/store/postgres/migrations"),
		},
		Cache: CacheConfig{
			Addr:     getEnv("CACHE_ADDR", "localhost:6379"),
			Password: getEnv("CACHE_PASSWORD", ""),
			DB:       getIntEnv("CACHE_DB", 0),
			TTL:      getDurationEnv("CACHE_TTL", 5*time.Minute),
			InMemory: getBoolEnv("CACHE_IN_MEMORY", false),
		},
		Broker: BrokerConfig{
			Type:               getEnv("BROKER_TYPE", "amqp"),
			Host:               getEnv("BROKER_HOST", "localhost"),
			Port:               getEnv("BROKER_PORT", "5672"),
			ManagementUser:     getEnv("BROKER_MGMT_USER", "guest"),
			ManagementPassword: getEnv("BROKER_MGMT_PASSWORD", "guest"),
			CircuitMaxRequests: uint32(getIntEnv("BROKER_CIRCUIT_MAX_REQUESTS", 5)),
			CircuitInterval:    getDurationEnv("BROKER_CIRCUIT_INTERVAL", 60*time.Second),
			CircuitTimeout:     getDurationEnv("BROKER_CIRCUIT_TIMEOUT", 30*time.Second),
		},
		ControlBus: ControlBusConfig{
			Addr:     getEnv("CONTROL_BUS_ADDR", "localhost:6379"),
			Password: getEnv("CONTROL_BUS_PASSWORD", ""),
			DB:       getIntEnv("CONTROL_BUS_DB", 1),
			NodeID:   getEnv("NODE_ID", randomNodeID()),
		},
		Auth: AuthConfig{
			AccessTokenTTL:  getDurationEnv("ACCESS_TOKEN_TTL", 1*time.Hour),
			RefreshTokenTTL: getDurationEnv("REFRESH_TOKEN_TTL", 30*24*time.Hour),
			AuthCodeTTL:     getDurationEnv("AUTH_CODE_TTL", 10*time.Minute),
			SessionTTL:      getDurationEnv("SESSION_TTL", 24*time.Hour),
			BcryptCost:      getIntEnv("BCRYPT_COST", 12),
			Providers:       loadOIDCProviders(),
		},
		Security: SecurityConfig{
			RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
			RateLimitRPS:     getIntEnv("RATE_LIMIT_RPS", 100),
			RateLimitBurst:   getIntEnv("RATE_LIMIT_BURST", 200),
			CORSAllowOrigins: getStringSliceEnv("CORS_ALLOW_ORIGINS", []string{"http://localhost:3000"}),
			AuditEnabled:     getBoolEnv("AUDIT_ENABLED", true),
			ForceHTTPS:       getBoolEnv("FORCE_HTTPS", false),
			CSPEnabled:       getBoolEnv("CSP_ENABLED", true),
			HSTSEnabled:      getBoolEnv("HSTS_ENABLED", true),
			HSTSMaxAge:       getIntEnv("HSTS_MAX_AGE", 31536000),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:      getBoolEnv("TRACING_ENABLED", false),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "controlplane"),
			OTLPEndpoint: getEnv("TRACING_OTLP_ENDPOINT", "localhost:4317"),
		},
		Routing: RoutingConfig{
			DownlinkDefaultTTL: getDurationEnv("DOWNLINK_DEFAULT_TTL", 1*time.Minute),
			DownlinkMaxTTL:     getDurationEnv("DOWNLINK_MAX_TTL", 1*time.Hour),
		},
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}

	for name, provider := range c.Auth.Providers {
		if provider.ClientID == "" || provider.ClientSecret == "" {
			return fmt.Errorf("OIDC provider %s is missing client credentials", name)
		}
		if provider.IssuerURL == "" {
			return fmt.Errorf("OIDC provider %s is missing issuer URL", name)
		}
	}

	return nil
}

func randomNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "node-1"
	}
	return host
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	switch value {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(value, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func loadOIDCProviders() map[string]OIDCProvider {
	providers := make(map[string]OIDCProvider)

	if getEnv("OAUTH_GOOGLE_CLIENT_ID", "") != "" {
		providers["google"] = OIDCProvider{
			ClientID:     getEnv("OAUTH_GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("OAUTH_GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("OAUTH_GOOGLE_REDIRECT_URL", ""),
			IssuerURL:    "https://accounts.google.com",
			Scopes:       []string{"openid", "email", "profile"},
		}
	}

	if getEnv("OAUTH_OIDC_CLIENT_ID", "") != "" {
		providers["oidc"] = OIDCProvider{
			ClientID:     getEnv("OAUTH_OIDC_CLIENT_ID", ""),
			ClientSecret: getEnv("OAUTH_OIDC_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("OAUTH_OIDC_REDIRECT_URL", ""),
			IssuerURL:    getEnv("OAUTH_OIDC_ISSUER_URL", ""),
			Scopes:       getStringSliceEnv("OAUTH_OIDC_SCOPES", []string{"openid", "email", "profile"}),
		}
	}

	return providers
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result []string
	for _, s := range splitString(value, ",") {
		if trimmed := trimString(s); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func splitString(s, sep string) []string {
	var result []string
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	if start < len(s) {
		result = append(result, s[start:])
	}
	return result
}

func trimString(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for start < end && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
