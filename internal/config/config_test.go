package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Listen != ":8080" {
		t.Errorf("HTTP.Listen: got %q, want %q", cfg.HTTP.Listen, ":8080")
	}
	if cfg.Relay.ConnectTimeout != 10*time.Second {
		t.Errorf("Relay.ConnectTimeout: got %v, want 10s", cfg.Relay.ConnectTimeout)
	}
	if cfg.Relay.SendTimeout != 30*time.Second {
		t.Errorf("Relay.SendTimeout: got %v, want 30s", cfg.Relay.SendTimeout)
	}
	if cfg.Quota.MaxCount != 5 {
		t.Errorf("Quota.MaxCount: got %d, want 5", cfg.Quota.MaxCount)
	}
	if cfg.Quota.MaxItemBytes != 10<<20 {
		t.Errorf("Quota.MaxItemBytes: got %d, want %d", cfg.Quota.MaxItemBytes, 10<<20)
	}
	if cfg.Quota.MaxTotalBytes != 20<<20 {
		t.Errorf("Quota.MaxTotalBytes: got %d, want %d", cfg.Quota.MaxTotalBytes, 20<<20)
	}
	if cfg.Quota.Mode != "drop" {
		t.Errorf("Quota.Mode: got %q, want %q", cfg.Quota.Mode, "drop")
	}
	if cfg.Form.MaxBodyBytes != 256<<20 {
		t.Errorf("Form.MaxBodyBytes: got %d, want %d", cfg.Form.MaxBodyBytes, 256<<20)
	}
	if want := []string{"name", "email", "message"}; !reflect.DeepEqual(cfg.Form.RequiredFields, want) {
		t.Errorf("Form.RequiredFields: got %v, want %v", cfg.Form.RequiredFields, want)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Provider != "" {
		t.Errorf("Provider: got %q, want empty", cfg.Provider)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("PROVIDER", "SMTP")
	t.Setenv("HTTP_LISTEN", "127.0.0.1:9000")
	t.Setenv("HTTP_CORS_ORIGINS", "https://example.com, https://www.example.com,")
	t.Setenv("SMTP_HOST", "mail.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("SMTP_USERNAME", "relay")
	t.Setenv("SMTP_PASSWORD", "secret")
	t.Setenv("SMTP_IMPLICIT_TLS", "true")
	t.Setenv("MAIL_SENDER", "Website <web@example.com>")
	t.Setenv("MAIL_RECIPIENT", "sales@example.com,support@example.com")
	t.Setenv("MAIL_SUBJECT_PREFIX", "Contact")
	t.Setenv("RELAY_CONNECT_TIMEOUT", "3s")
	t.Setenv("RELAY_SEND_TIMEOUT", "1m")
	t.Setenv("QUOTA_MAX_COUNT", "3")
	t.Setenv("QUOTA_MAX_ITEM_BYTES", "1024")
	t.Setenv("QUOTA_MAX_TOTAL_BYTES", "4096")
	t.Setenv("QUOTA_MODE", "Reject")
	t.Setenv("FORM_REQUIRED_FIELDS", "name,email")
	t.Setenv("FORM_MAX_BODY_BYTES", "8192")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider != "smtp" {
		t.Errorf("Provider: got %q, want %q", cfg.Provider, "smtp")
	}
	if cfg.HTTP.Listen != "127.0.0.1:9000" {
		t.Errorf("HTTP.Listen: got %q", cfg.HTTP.Listen)
	}
	if want := []string{"https://example.com", "https://www.example.com"}; !reflect.DeepEqual(cfg.HTTP.CORSOrigins, want) {
		t.Errorf("HTTP.CORSOrigins: got %v, want %v", cfg.HTTP.CORSOrigins, want)
	}
	if cfg.SMTP.Host != "mail.example.com" || cfg.SMTP.Port != 2525 {
		t.Errorf("SMTP: got %s:%d", cfg.SMTP.Host, cfg.SMTP.Port)
	}
	if cfg.SMTP.Username != "relay" || cfg.SMTP.Password != "secret" {
		t.Errorf("SMTP credentials not applied: %+v", cfg.SMTP)
	}
	if !cfg.SMTP.ImplicitTLS {
		t.Error("SMTP.ImplicitTLS: got false, want true")
	}
	if cfg.Mail.Sender != "Website <web@example.com>" {
		t.Errorf("Mail.Sender: got %q", cfg.Mail.Sender)
	}
	if want := []string{"sales@example.com", "support@example.com"}; !reflect.DeepEqual(cfg.Mail.Recipients, want) {
		t.Errorf("Mail.Recipients: got %v, want %v", cfg.Mail.Recipients, want)
	}
	if cfg.Mail.SubjectPrefix != "Contact" {
		t.Errorf("Mail.SubjectPrefix: got %q", cfg.Mail.SubjectPrefix)
	}
	if cfg.Relay.ConnectTimeout != 3*time.Second || cfg.Relay.SendTimeout != time.Minute {
		t.Errorf("Relay timeouts: got %v/%v", cfg.Relay.ConnectTimeout, cfg.Relay.SendTimeout)
	}
	if cfg.Quota.MaxCount != 3 || cfg.Quota.MaxItemBytes != 1024 || cfg.Quota.MaxTotalBytes != 4096 {
		t.Errorf("Quota limits: got %+v", cfg.Quota)
	}
	if cfg.Quota.Mode != "reject" {
		t.Errorf("Quota.Mode: got %q, want %q", cfg.Quota.Mode, "reject")
	}
	if want := []string{"name", "email"}; !reflect.DeepEqual(cfg.Form.RequiredFields, want) {
		t.Errorf("Form.RequiredFields: got %v, want %v", cfg.Form.RequiredFields, want)
	}
	if cfg.Form.MaxBodyBytes != 8192 {
		t.Errorf("Form.MaxBodyBytes: got %d", cfg.Form.MaxBodyBytes)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_InvalidNumbersIgnored(t *testing.T) {
	t.Setenv("SMTP_PORT", "not-a-number")
	t.Setenv("QUOTA_MAX_COUNT", "five")
	t.Setenv("RELAY_SEND_TIMEOUT", "soon")
	t.Setenv("SMTP_IMPLICIT_TLS", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTP.Port != 0 {
		t.Errorf("SMTP.Port: got %d, want 0", cfg.SMTP.Port)
	}
	if cfg.Quota.MaxCount != 5 {
		t.Errorf("Quota.MaxCount: got %d, want 5", cfg.Quota.MaxCount)
	}
	if cfg.Relay.SendTimeout != 30*time.Second {
		t.Errorf("Relay.SendTimeout: got %v, want 30s", cfg.Relay.SendTimeout)
	}
	if cfg.SMTP.ImplicitTLS {
		t.Error("SMTP.ImplicitTLS: got true, want false")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
provider: graph
http:
  listen: ":9090"
  cors_origins:
    - https://example.com
graph:
  tenant_id: tenant
  client_id: client
  client_secret: secret
mail:
  sender: web@example.com
  recipients:
    - inbox@example.com
relay:
  connect_timeout: 5s
quota:
  max_count: 2
  mode: reject
logging:
  level: warn
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider != "graph" {
		t.Errorf("Provider: got %q, want %q", cfg.Provider, "graph")
	}
	if cfg.HTTP.Listen != ":9090" {
		t.Errorf("HTTP.Listen: got %q, want %q", cfg.HTTP.Listen, ":9090")
	}
	if len(cfg.HTTP.CORSOrigins) != 1 || cfg.HTTP.CORSOrigins[0] != "https://example.com" {
		t.Errorf("HTTP.CORSOrigins: got %v", cfg.HTTP.CORSOrigins)
	}
	if !cfg.GraphConfigured() {
		t.Error("GraphConfigured(): got false, want true")
	}
	if cfg.Relay.ConnectTimeout != 5*time.Second {
		t.Errorf("Relay.ConnectTimeout: got %v, want 5s", cfg.Relay.ConnectTimeout)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Relay.SendTimeout != 30*time.Second {
		t.Errorf("Relay.SendTimeout: got %v, want 30s", cfg.Relay.SendTimeout)
	}
	if cfg.Quota.MaxCount != 2 || cfg.Quota.Mode != "reject" {
		t.Errorf("Quota: got %+v", cfg.Quota)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "warn")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate(): unexpected error: %v", err)
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
http:
  listen: ":9090"
mail:
  subject_prefix: From YAML
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("HTTP_LISTEN", ":7070")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Listen != ":7070" {
		t.Errorf("HTTP.Listen: got %q, want %q (env should override YAML)", cfg.HTTP.Listen, ":7070")
	}
	if cfg.Mail.SubjectPrefix != "From YAML" {
		t.Errorf("Mail.SubjectPrefix: got %q, want %q", cfg.Mail.SubjectPrefix, "From YAML")
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("error: got %q", err.Error())
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("http: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("error: got %q", err.Error())
	}
}

func TestSMTPPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		port     int
		implicit bool
		want     int
	}{
		{"explicit port", 2525, false, 2525},
		{"starttls default", 0, false, 587},
		{"implicit tls default", 0, true, 465},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{SMTP: SMTPConfig{Port: tt.port, ImplicitTLS: tt.implicit}}
			if got := cfg.SMTPPort(); got != tt.want {
				t.Errorf("SMTPPort(): got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProviderConfigured(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if cfg.SMTPConfigured() || cfg.SESConfigured() || cfg.GraphConfigured() {
		t.Fatal("empty config should not report any provider as configured")
	}

	cfg.Graph = GraphConfig{TenantID: "t", ClientID: "c"}
	if cfg.GraphConfigured() {
		t.Error("GraphConfigured(): got true with missing secret")
	}
	cfg.Graph.ClientSecret = "s"
	if !cfg.GraphConfigured() {
		t.Error("GraphConfigured(): got false with all credentials")
	}

	cfg.SES.Region = "eu-west-1"
	if !cfg.SESConfigured() {
		t.Error("SESConfigured(): got false with region set")
	}
	cfg.SMTP.Host = "mail.example.com"
	if !cfg.SMTPConfigured() {
		t.Error("SMTPConfigured(): got false with host set")
	}
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Mail.Sender = "web@example.com"
	cfg.Mail.Recipients = []string{"inbox@example.com"}
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name: "missing envelope",
			mutate: func(c *Config) {
				c.Mail.Sender = ""
				c.Mail.Recipients = nil
			},
			wantErr: []string{"MAIL_SENDER", "MAIL_RECIPIENT"},
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider = "carrier-pigeon" },
			wantErr: []string{`unknown provider "carrier-pigeon"`},
		},
		{
			name:    "smtp without host",
			mutate:  func(c *Config) { c.Provider = "smtp" },
			wantErr: []string{"SMTP_HOST"},
		},
		{
			name:    "ses without region",
			mutate:  func(c *Config) { c.Provider = "ses" },
			wantErr: []string{"SES_REGION"},
		},
		{
			name:    "graph without credentials",
			mutate:  func(c *Config) { c.Provider = "graph" },
			wantErr: []string{"GRAPH_TENANT_ID"},
		},
		{
			name:    "unknown quota mode",
			mutate:  func(c *Config) { c.Quota.Mode = "truncate" },
			wantErr: []string{`unknown quota mode "truncate"`},
		},
		{
			name:    "half tls pair",
			mutate:  func(c *Config) { c.TLS.CertFile = "cert.pem" },
			wantErr: []string{"must be set together"},
		},
		{
			name:    "body cap below aggregate quota",
			mutate:  func(c *Config) { c.Form.MaxBodyBytes = 1024 },
			wantErr: []string{"FORM_MAX_BODY_BYTES"},
		},
		{
			name:   "stdout explicit",
			mutate: func(c *Config) { c.Provider = "stdout" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err.Error(), want)
				}
			}
		})
	}
}
