package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the service reads.
const EnvPrefix = "IDENTITY"

const minSessionSecretLength = 32

type AppConfig struct {
	App           AppSettings          `mapstructure:"app"`
	Postgres      PostgresSettings     `mapstructure:"postgres"`
	Redis         RedisSettings        `mapstructure:"redis"`
	Kafka         KafkaSettings        `mapstructure:"kafka"`
	GRPC          GRPCSettings         `mapstructure:"grpc"`
	Telemetry     TelemetrySettings    `mapstructure:"telemetry"`
	Argon2        Argon2Settings       `mapstructure:"argon2"`
	Hashing       HashingSettings      `mapstructure:"hashing"`
	Session       SessionSettings      `mapstructure:"session"`
	Tokens        TokenSettings        `mapstructure:"tokens"`
	OAuth         OAuthSettings        `mapstructure:"oauth"`
	Frontend      FrontendSettings     `mapstructure:"frontend"`
	Notifications NotificationSettings `mapstructure:"notifications"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type GRPCSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	Schema            string        `mapstructure:"schema"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// DSN renders a libpq-style connection URL with credentials escaped.
func (p PostgresSettings) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": {p.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	DB               int           `mapstructure:"db"`
	Password         string        `mapstructure:"password"`
	TLSEnabled       bool          `mapstructure:"tls_enabled"`
	OAuthStatePrefix string        `mapstructure:"oauth_state_prefix"`
	OAuthStateTTL    time.Duration `mapstructure:"oauth_state_ttl"`
}

// KafkaSettings configures the notification producer
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// HashingSettings bounds concurrent password hashing.
type HashingSettings struct {
	Workers        int `mapstructure:"workers"`
	MinZxcvbnScore int `mapstructure:"min_zxcvbn_score"`
}

type SessionSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type TokenSettings struct {
	VerificationTTL time.Duration `mapstructure:"verification_ttl"`
	ResetTTL        time.Duration `mapstructure:"reset_ttl"`
	// ResetKind is either "numeric" (6-digit code) or "opaque".
	ResetKind string `mapstructure:"reset_kind"`
}

type OAuthSettings struct {
	CallbackBaseURL string                `mapstructure:"callback_base_url"`
	Google          OAuthProviderSettings `mapstructure:"google"`
	GitHub          OAuthProviderSettings `mapstructure:"github"`
}

type OAuthProviderSettings struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// Enabled reports whether both client credentials are present.
func (o OAuthProviderSettings) Enabled() bool {
	return o.ClientID != "" && o.ClientSecret != ""
}

type FrontendSettings struct {
	URL string `mapstructure:"url"`
}

type NotificationSettings struct {
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	// ResetDeliveryRequired makes forgot-password fail when the reset email cannot be handed off.
	ResetDeliveryRequired bool `mapstructure:"reset_delivery_required"`
}

type TelemetrySettings struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
		"grpc.enabled",
		"grpc.host",
		"grpc.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.schema",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.oauth_state_prefix",
		"redis.oauth_state_ttl",
		"kafka.enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"telemetry.enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"hashing.workers",
		"hashing.min_zxcvbn_score",
		"session.secret",
		"session.issuer",
		"session.ttl",
		"tokens.verification_ttl",
		"tokens.reset_ttl",
		"tokens.reset_kind",
		"oauth.callback_base_url",
		"oauth.google.client_id",
		"oauth.google.client_secret",
		"oauth.github.client_id",
		"oauth.github.client_secret",
		"frontend.url",
		"notifications.send_timeout",
		"notifications.reset_delivery_required",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate reports every configuration problem that would prevent the service from starting safely.
func (c *AppConfig) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var errs []error
	if len(c.Session.Secret) < minSessionSecretLength {
		errs = append(errs, fmt.Errorf("session.secret must be at least %d bytes", minSessionSecretLength))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Tokens.VerificationTTL <= 0 || c.Tokens.ResetTTL <= 0 {
		errs = append(errs, errors.New("tokens ttl values must be positive"))
	}
	switch c.Tokens.ResetKind {
	case "numeric", "opaque":
	default:
		errs = append(errs, fmt.Errorf("tokens.reset_kind %q is not one of numeric, opaque", c.Tokens.ResetKind))
	}
	if c.Argon2.Memory < 8*uint32(c.Argon2.Parallelism) || c.Argon2.Iterations == 0 || c.Argon2.Parallelism == 0 {
		errs = append(errs, errors.New("argon2 parameters are out of range"))
	}
	if c.Argon2.SaltLength < 8 || c.Argon2.KeyLength < 16 {
		errs = append(errs, errors.New("argon2 salt_length must be >= 8 and key_length >= 16"))
	}
	for name, p := range map[string]OAuthProviderSettings{"google": c.OAuth.Google, "github": c.OAuth.GitHub} {
		if (p.ClientID == "") != (p.ClientSecret == "") {
			errs = append(errs, fmt.Errorf("oauth.%s requires both client_id and client_secret", name))
		}
	}
	if (c.OAuth.Google.Enabled() || c.OAuth.GitHub.Enabled()) && c.OAuth.CallbackBaseURL == "" {
		errs = append(errs, errors.New("oauth.callback_base_url is required when a provider is enabled"))
	}
	if c.Frontend.URL == "" {
		errs = append(errs, errors.New("frontend.url is required"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "identity-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "identity")
	v.SetDefault("postgres.password", "identity_password")
	v.SetDefault("postgres.database", "identity")
	v.SetDefault("postgres.schema", "identity")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.oauth_state_prefix", "identity:oauth_state")
	v.SetDefault("redis.oauth_state_ttl", "10m")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "identity")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "identity-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 2)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("hashing.workers", 0)
	v.SetDefault("hashing.min_zxcvbn_score", 0)

	v.SetDefault("session.secret", "")
	v.SetDefault("session.issuer", "identity-service")
	v.SetDefault("session.ttl", "168h")

	v.SetDefault("tokens.verification_ttl", "24h")
	v.SetDefault("tokens.reset_ttl", "1h")
	v.SetDefault("tokens.reset_kind", "numeric")

	v.SetDefault("oauth.callback_base_url", "http://localhost:8080")

	v.SetDefault("frontend.url", "http://localhost:3000")

	v.SetDefault("notifications.send_timeout", "10s")
	v.SetDefault("notifications.reset_delivery_required", false)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, EnvPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
