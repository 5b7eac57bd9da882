// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the inquiry relay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen         = ":8080"
	defaultConnectTimeout = 10 * time.Second
	defaultSendTimeout    = 30 * time.Second

	defaultMaxCount      = 5
	defaultMaxItemBytes  = 10 << 20
	defaultMaxTotalBytes = 20 << 20
	defaultMaxBodyBytes  = 256 << 20
	defaultMaxFieldBytes = 64 << 10
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider"`
	HTTP     HTTPConfig    `yaml:"http"`
	TLS      TLSConfig     `yaml:"tls"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	Mail     MailConfig    `yaml:"mail"`
	Relay    RelayConfig   `yaml:"relay"`
	Quota    QuotaConfig   `yaml:"quota"`
	Form     FormConfig    `yaml:"form"`
	Logging  LoggingConfig `yaml:"logging"`
}

// HTTPConfig holds the listener settings.
type HTTPConfig struct {
	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// TLSConfig holds certificate file paths for serving HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SMTPConfig holds the outbound SMTP relay settings.
type SMTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ImplicitTLS bool   `yaml:"implicit_tls"`
	HeloName    string `yaml:"helo_name"`
	CAFile      string `yaml:"ca_file"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// MailConfig holds the notification envelope.
type MailConfig struct {
	Sender        string   `yaml:"sender"`
	Recipients    []string `yaml:"recipients"`
	SubjectPrefix string   `yaml:"subject_prefix"`
}

// RelayConfig bounds handshakes and sends.
type RelayConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
}

// QuotaConfig holds the attachment limits.
type QuotaConfig struct {
	MaxCount      int    `yaml:"max_count"`
	MaxItemBytes  int64  `yaml:"max_item_bytes"`
	MaxTotalBytes int64  `yaml:"max_total_bytes"`
	Mode          string `yaml:"mode"`
}

// FormConfig holds the form decoding settings.
type FormConfig struct {
	RequiredFields []string `yaml:"required_fields"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	MaxFieldBytes  int64    `yaml:"max_field_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
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

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// SMTPConfigured returns true if an SMTP relay host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// SESConfigured returns true if an SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// GraphConfigured returns true if all three Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// SMTPPort returns the configured port, or the conventional one for the
// TLS mode: 465 for implicit TLS, 587 otherwise.
func (c *Config) SMTPPort() int {
	if c.SMTP.Port > 0 {
		return c.SMTP.Port
	}
	if c.SMTP.ImplicitTLS {
		return 465
	}
	return 587
}

// Validate reports every setting that would stop the service from
// delivering. It is called once at startup.
func (c *Config) Validate() error {
	var errs []error

	if c.Mail.Sender == "" {
		errs = append(errs, errors.New("MAIL_SENDER is required"))
	}
	if len(c.Mail.Recipients) == 0 {
		errs = append(errs, errors.New("MAIL_RECIPIENT is required"))
	}

	switch c.Provider {
	case "", "stdout":
	case "smtp":
		if !c.SMTPConfigured() {
			errs = append(errs, errors.New("smtp provider selected but SMTP_HOST is not set"))
		}
	case "ses":
		if !c.SESConfigured() {
			errs = append(errs, errors.New("ses provider selected but SES_REGION is not set"))
		}
	case "graph":
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	switch c.Quota.Mode {
	case "drop", "reject":
	default:
		errs = append(errs, fmt.Errorf("unknown quota mode %q (want drop or reject)", c.Quota.Mode))
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}

	if c.Quota.MaxTotalBytes > 0 && c.Form.MaxBodyBytes > 0 && c.Form.MaxBodyBytes < c.Quota.MaxTotalBytes {
		errs = append(errs, fmt.Errorf("FORM_MAX_BODY_BYTES (%d) is smaller than QUOTA_MAX_TOTAL_BYTES (%d)",
			c.Form.MaxBodyBytes, c.Quota.MaxTotalBytes))
	}

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = defaultListen
	c.Relay.ConnectTimeout = defaultConnectTimeout
	c.Relay.SendTimeout = defaultSendTimeout
	c.Quota.MaxCount = defaultMaxCount
	c.Quota.MaxItemBytes = defaultMaxItemBytes
	c.Quota.MaxTotalBytes = defaultMaxTotalBytes
	c.Quota.Mode = "drop"
	c.Form.RequiredFields = []string{"name", "email", "message"}
	c.Form.MaxBodyBytes = defaultMaxBodyBytes
	c.Form.MaxFieldBytes = defaultMaxFieldBytes
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	setString(&c.Provider, "PROVIDER")
	c.Provider = strings.ToLower(c.Provider)

	setString(&c.HTTP.Listen, "HTTP_LISTEN")
	setList(&c.HTTP.CORSOrigins, "HTTP_CORS_ORIGINS")
	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	setString(&c.SMTP.Host, "SMTP_HOST")
	setInt(&c.SMTP.Port, "SMTP_PORT")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setBool(&c.SMTP.ImplicitTLS, "SMTP_IMPLICIT_TLS")
	setString(&c.SMTP.HeloName, "SMTP_HELO_NAME")
	setString(&c.SMTP.CAFile, "SMTP_CA_FILE")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")

	setString(&c.Mail.Sender, "MAIL_SENDER")
	setList(&c.Mail.Recipients, "MAIL_RECIPIENT")
	setString(&c.Mail.SubjectPrefix, "MAIL_SUBJECT_PREFIX")

	setDuration(&c.Relay.ConnectTimeout, "RELAY_CONNECT_TIMEOUT")
	setDuration(&c.Relay.SendTimeout, "RELAY_SEND_TIMEOUT")

	setInt(&c.Quota.MaxCount, "QUOTA_MAX_COUNT")
	setInt64(&c.Quota.MaxItemBytes, "QUOTA_MAX_ITEM_BYTES")
	setInt64(&c.Quota.MaxTotalBytes, "QUOTA_MAX_TOTAL_BYTES")
	setString(&c.Quota.Mode, "QUOTA_MODE")
	c.Quota.Mode = strings.ToLower(c.Quota.Mode)

	setList(&c.Form.RequiredFields, "FORM_REQUIRED_FIELDS")
	setInt64(&c.Form.MaxBodyBytes, "FORM_MAX_BODY_BYTES")
	setInt64(&c.Form.MaxFieldBytes, "FORM_MAX_FIELD_BYTES")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma-separated value, dropping empty entries.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
