package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Mail      MailSettings      `mapstructure:"mail"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Security  SecuritySettings  `mapstructure:"security"`
	Challenge ChallengeSettings `mapstructure:"challenge"`
	Token     TokenSettings     `mapstructure:"token"`
	Timing    TimingSettings    `mapstructure:"timing"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
}

// AppSettings configures the HTTP server. TrustedProxies lists the proxy
// addresses whose forwarding headers are honoured when resolving the client IP.
type AppSettings struct {
	Name            string        `mapstructure:"name"`
	Env             string        `mapstructure:"env"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the mail queue producer and worker
type KafkaSettings struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	RunMailWorker bool     `mapstructure:"run_mail_worker"`
}

// MailSettings configures SMTP delivery. Without SMTPHost mail is only logged.
type MailSettings struct {
	SMTPHost string        `mapstructure:"smtp_host"`
	SMTPPort int           `mapstructure:"smtp_port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// SecuritySettings configures hashing of one-time codes and the queue cipher key.
// AppKey is the base64 master key from which the code cipher key is derived.
type SecuritySettings struct {
	AppKey            string         `mapstructure:"app_key"`
	CodeHashAlgorithm string         `mapstructure:"code_hash_algorithm"`
	BcryptCost        int            `mapstructure:"bcrypt_cost"`
	Argon2            Argon2Settings `mapstructure:"argon2"`
}

// Argon2Settings configures Argon2id parameters used for one-time code hashes
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// ChallengeSettings configures login code issuance and verification.
type ChallengeSettings struct {
	CodeDigits       int           `mapstructure:"code_digits"`
	TTL              time.Duration `mapstructure:"ttl"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	LockDuration     time.Duration `mapstructure:"lock_duration"`
	RateLimitPerHour int           `mapstructure:"rate_limit_per_hour"`
	ResendCooldown   time.Duration `mapstructure:"resend_cooldown"`
	Retention        time.Duration `mapstructure:"retention"`
	PruneInterval    time.Duration `mapstructure:"prune_interval"`
}

// TokenSettings configures bearer token issuance and enforcement.
type TokenSettings struct {
	DefaultValidity       time.Duration `mapstructure:"default_validity"`
	EnforceIPRestrictions bool          `mapstructure:"enforce_ip_restrictions"`
}

// TimingSettings configures the latency floor applied to login code requests.
type TimingSettings struct {
	Floor  time.Duration `mapstructure:"floor"`
	Jitter time.Duration `mapstructure:"jitter"`
}

// RateLimitSettings configures the per-client form limiter in front of the login code endpoints
type RateLimitSettings struct {
	WindowDuration       time.Duration `mapstructure:"window_duration"`
	LoginFormMaxAttempts int           `mapstructure:"login_form_max_attempts"`
	DegradationMode      string        `mapstructure:"degradation_mode"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUTH")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.trusted_proxies",
		"app.shutdown_timeout",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
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
		"redis.key_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.consumer_group",
		"kafka.run_mail_worker",
		"mail.smtp_host",
		"mail.smtp_port",
		"mail.username",
		"mail.password",
		"mail.from",
		"mail.timeout",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"security.app_key",
		"security.code_hash_algorithm",
		"security.bcrypt_cost",
		"security.argon2.memory",
		"security.argon2.iterations",
		"security.argon2.parallelism",
		"security.argon2.salt_length",
		"security.argon2.key_length",
		"challenge.code_digits",
		"challenge.ttl",
		"challenge.max_attempts",
		"challenge.lock_duration",
		"challenge.rate_limit_per_hour",
		"challenge.resend_cooldown",
		"challenge.retention",
		"challenge.prune_interval",
		"token.default_validity",
		"token.enforce_ip_restrictions",
		"timing.floor",
		"timing.jitter",
		"rate_limit.window_duration",
		"rate_limit.login_form_max_attempts",
		"rate_limit.degradation_mode",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the challenge and token flows cannot honour.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Challenge.CodeDigits < 1 || c.Challenge.CodeDigits > 18 {
		errs = append(errs, fmt.Errorf("challenge.code_digits must be between 1 and 18, got %d", c.Challenge.CodeDigits))
	}
	if c.Challenge.TTL <= 0 {
		errs = append(errs, errors.New("challenge.ttl must be positive"))
	}
	if c.Challenge.MaxAttempts <= 0 {
		errs = append(errs, errors.New("challenge.max_attempts must be positive"))
	}
	if c.Challenge.LockDuration <= 0 {
		errs = append(errs, errors.New("challenge.lock_duration must be positive"))
	}
	if c.Challenge.RateLimitPerHour <= 0 {
		errs = append(errs, errors.New("challenge.rate_limit_per_hour must be positive"))
	}
	if c.Timing.Floor < 0 || c.Timing.Jitter < 0 {
		errs = append(errs, errors.New("timing.floor and timing.jitter must not be negative"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Security.CodeHashAlgorithm)) {
	case "argon2id", "bcrypt":
	default:
		errs = append(errs, fmt.Errorf("security.code_hash_algorithm %q is not supported", c.Security.CodeHashAlgorithm))
	}
	if strings.TrimSpace(c.Mail.SMTPHost) != "" && strings.TrimSpace(c.Mail.From) == "" {
		errs = append(errs, errors.New("mail.from is required when mail.smtp_host is set"))
	}
	if c.App.Env == "production" && strings.TrimSpace(c.Security.AppKey) == "" {
		errs = append(errs, errors.New("security.app_key is required in production"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "passwordless-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.trusted_proxies", []string{})
	v.SetDefault("app.shutdown_timeout", "15s")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "auth")
	v.SetDefault("postgres.password", "auth_password")
	v.SetDefault("postgres.database", "auth")
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
	v.SetDefault("redis.key_prefix", "auth:rate-limit")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "auth")
	v.SetDefault("kafka.consumer_group", "auth-mailer")
	v.SetDefault("kafka.run_mail_worker", false)

	v.SetDefault("mail.smtp_host", "")
	v.SetDefault("mail.smtp_port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.timeout", "10s")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "passwordless-auth")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("security.app_key", "")
	v.SetDefault("security.code_hash_algorithm", "argon2id")
	v.SetDefault("security.bcrypt_cost", 10)
	v.SetDefault("security.argon2.memory", 19456) // 19 MiB
	v.SetDefault("security.argon2.iterations", 2)
	v.SetDefault("security.argon2.parallelism", 1)
	v.SetDefault("security.argon2.salt_length", 16)
	v.SetDefault("security.argon2.key_length", 32)

	v.SetDefault("challenge.code_digits", 6)
	v.SetDefault("challenge.ttl", "10m")
	v.SetDefault("challenge.max_attempts", 5)
	v.SetDefault("challenge.lock_duration", "15m")
	v.SetDefault("challenge.rate_limit_per_hour", 5)
	v.SetDefault("challenge.resend_cooldown", "60s")
	v.SetDefault("challenge.retention", "168h")
	v.SetDefault("challenge.prune_interval", "1h")

	v.SetDefault("token.default_validity", "2160h") // 90 days
	v.SetDefault("token.enforce_ip_restrictions", true)

	v.SetDefault("timing.floor", "300ms")
	v.SetDefault("timing.jitter", "50ms")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_form_max_attempts", 10)
	v.SetDefault("rate_limit.degradation_mode", "lenient")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "AUTH_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
