// Package config loads the gateway's process-wide settings. Environment
// variables always win; an optional YAML file may supply the base layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Mail provider names accepted by MAIL_PROVIDER.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderStdout = "stdout"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Mail      MailConfig      `yaml:"mail"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Static    StaticConfig    `yaml:"static"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port" validate:"min=1,max=65535"`
	TrustProxy     bool     `yaml:"trust_proxy"`
	BodyLimitBytes int64    `yaml:"body_limit_bytes" validate:"gt=0"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MailConfig describes the outbound transport and the staff inbox.
type MailConfig struct {
	Provider       string        `yaml:"provider" validate:"oneof=smtp ses stdout"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	To             string        `yaml:"to"`
	From           string        `yaml:"from"`
	FromName       string        `yaml:"from_name"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	RequireTLS     bool          `yaml:"require_tls"`
	SendTimeout    time.Duration `yaml:"send_timeout" validate:"gt=0"`
	SendsPerSecond float64       `yaml:"sends_per_second" validate:"gte=0"`

	// SendAck mails the submitter a receipt after the staff notification.
	SendAck    bool   `yaml:"send_ack"`
	OrgName    string `yaml:"org_name"`
	AckSubject string `yaml:"ack_subject"`

	SESRegion           string `yaml:"ses_region"`
	SESAccessKeyID      string `yaml:"ses_access_key_id"`
	SESSecretAccessKey  string `yaml:"ses_secret_access_key"`
	SESConfigurationSet string `yaml:"ses_configuration_set"`

	DKIMDomain   string `yaml:"dkim_domain"`
	DKIMSelector string `yaml:"dkim_selector"`
	DKIMKeyFile  string `yaml:"dkim_key_file"`
}

// RateLimitConfig holds the sliding window settings for the contact endpoint.
type RateLimitConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=memory redis"`
	Window     time.Duration `yaml:"window" validate:"gt=0"`
	Max        int           `yaml:"max" validate:"gt=0"`
	MaxBuckets int           `yaml:"max_buckets" validate:"gte=0"`
}

// RedisConfig is only consulted when RateLimit.Backend is "redis".
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// StaticConfig points at the site's asset directory.
type StaticConfig struct {
	Root string `yaml:"root"`
}

var validate = validator.New()

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile uses a YAML file as the base layer, then overrides with
// environment variables.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints. A missing SMTP credential is not a
// validation failure: the gateway still starts and reports itself unavailable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// Configured reports whether every field the selected provider needs is set.
func (m MailConfig) Configured() bool {
	if m.To == "" || m.From == "" {
		return false
	}
	switch m.Provider {
	case ProviderSMTP:
		return m.Host != "" && m.User != "" && m.Password != "" && m.Port > 0 && m.Port <= 65535
	case ProviderSES:
		return m.SESRegion != ""
	case ProviderStdout:
		return true
	}
	return false
}

// DKIMEnabled returns true if all DKIM signing fields are set.
func (m MailConfig) DKIMEnabled() bool {
	return m.DKIMDomain != "" && m.DKIMSelector != "" && m.DKIMKeyFile != ""
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

func (c *Config) applyDefaults() {
	c.Server = ServerConfig{
		Host:           "0.0.0.0",
		Port:           5000,
		BodyLimitBytes: 50 << 10,
	}
	c.Mail = MailConfig{
		Provider:       ProviderSMTP,
		Port:           465,
		FromName:       "DAFC Website",
		SubjectPrefix:  "[DAFC Contact]",
		RequireTLS:     true,
		OrgName:        "Darley Abbey FC",
		SendTimeout:    15 * time.Second,
		SendsPerSecond: 2,
	}
	c.RateLimit = RateLimitConfig{
		Backend:    "memory",
		Window:     10 * time.Minute,
		Max:        5,
		MaxBuckets: 10000,
	}
	c.Redis.Addr = "localhost:6379"
	c.Database = DatabaseConfig{
		Host:    "localhost",
		Port:    "5432",
		User:    "postgres",
		DBName:  "contact_gateway",
		SSLMode: "disable",
	}
	c.Static.Root = "."
}

// applyEnvVars overrides configuration with non-empty environment values.
// Numeric values that fail to parse are reported rather than silently dropped.
func (c *Config) applyEnvVars() error {
	var errs []string
	intVar := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key+": "+err.Error())
				return
			}
			*dst = n
		}
	}

	setString(&c.Server.Host, "SERVER_HOST")
	intVar("PORT", &c.Server.Port)
	c.Server.TrustProxy = getBoolEnv("TRUST_PROXY", c.Server.TrustProxy)
	if v := os.Getenv("BODY_LIMIT_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, "BODY_LIMIT_BYTES: "+err.Error())
		} else {
			c.Server.BodyLimitBytes = n
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		c.Mail.Provider = strings.ToLower(v)
	}
	setString(&c.Mail.Host, "SMTP_HOST")
	intVar("SMTP_PORT", &c.Mail.Port)
	setString(&c.Mail.User, "SMTP_USER")
	setString(&c.Mail.Password, "SMTP_PASS")
	setString(&c.Mail.To, "CONTACT_TO")
	setString(&c.Mail.From, "CONTACT_FROM")
	setString(&c.Mail.FromName, "CONTACT_FROM_NAME")
	setString(&c.Mail.SubjectPrefix, "CONTACT_SUBJECT_PREFIX")
	c.Mail.RequireTLS = getBoolEnv("SMTP_REQUIRE_TLS", c.Mail.RequireTLS)
	c.Mail.SendAck = getBoolEnv("CONTACT_SEND_ACK", c.Mail.SendAck)
	setString(&c.Mail.OrgName, "CONTACT_ORG_NAME")
	setString(&c.Mail.AckSubject, "CONTACT_ACK_SUBJECT")
	c.Mail.SendTimeout = getDurationEnv("MAIL_SEND_TIMEOUT", c.Mail.SendTimeout)
	if v := os.Getenv("MAIL_SENDS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, "MAIL_SENDS_PER_SECOND: "+err.Error())
		} else {
			c.Mail.SendsPerSecond = f
		}
	}
	setString(&c.Mail.SESRegion, "SES_REGION")
	setString(&c.Mail.SESAccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.Mail.SESSecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.Mail.SESConfigurationSet, "SES_CONFIGURATION_SET")
	setString(&c.Mail.DKIMDomain, "DKIM_DOMAIN")
	setString(&c.Mail.DKIMSelector, "DKIM_SELECTOR")
	setString(&c.Mail.DKIMKeyFile, "DKIM_KEY_FILE")

	// The staff inbox and sender fall back to the SMTP account.
	if c.Mail.To == "" {
		c.Mail.To = c.Mail.User
	}
	if c.Mail.From == "" {
		c.Mail.From = c.Mail.User
	}

	if v := os.Getenv("RATE_LIMIT_BACKEND"); v != "" {
		c.RateLimit.Backend = strings.ToLower(v)
	}
	var windowMs int
	intVar("CONTACT_RATE_WINDOW_MS", &windowMs)
	if windowMs != 0 {
		c.RateLimit.Window = time.Duration(windowMs) * time.Millisecond
	}
	intVar("CONTACT_RATE_MAX", &c.RateLimit.Max)
	intVar("CONTACT_RATE_MAX_BUCKETS", &c.RateLimit.MaxBuckets)

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	intVar("REDIS_DB", &c.Redis.DB)

	c.Database.Enabled = getBoolEnv("DB_ENABLED", c.Database.Enabled)
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.DBName, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSLMODE")

	setString(&c.Static.Root, "STATIC_ROOT")

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// getBoolEnv returns a boolean from environment variable or default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go duration syntax ("15s") or a bare number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
