// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the research mailer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in PROVIDER.
const (
	ProviderSendGrid = "sendgrid"
	ProviderSES      = "ses"
	ProviderResend   = "resend"
	ProviderGraph    = "msgraph"
	ProviderStdout   = "stdout"
)

const (
	defaultSendTimeout  = 30 * time.Second
	defaultSendGridHost = "https://api.sendgrid.com"
	defaultModel        = "gpt-4o-mini"
	defaultListen       = ":7860"
)

// Config holds the complete application configuration.
type Config struct {
	Email    EmailConfig    `yaml:"email"`
	Provider string         `yaml:"provider"`
	Send     SendConfig     `yaml:"send"`
	SendGrid SendGridConfig `yaml:"sendgrid"`
	Resend   ResendConfig   `yaml:"resend"`
	SES      SESConfig      `yaml:"ses"`
	Graph    GraphConfig    `yaml:"graph"`
	Research ResearchConfig `yaml:"research"`
	HTTP     HTTPConfig     `yaml:"http"`
	TLS      TLSConfig      `yaml:"tls"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// EmailConfig holds the report sender and recipient. Both may be empty at
// load time; the dispatcher checks them when sending.
type EmailConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// SendConfig bounds each outbound email request.
type SendConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SendGridConfig holds SendGrid API settings.
type SendGridConfig struct {
	APIKey string `yaml:"api_key"`
	Host   string `yaml:"host"`
}

// ResendConfig holds Resend API settings.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// SESConfig holds AWS SES configuration. Static keys are optional; without
// them the default AWS credential chain is used.
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

// ResearchConfig holds the model settings for report generation.
type ResearchConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// HTTPConfig holds the web UI listener settings.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	TLS    bool   `yaml:"tls"`

	// MetricsListen moves /metrics to its own plain HTTP listener when set.
	MetricsListen string `yaml:"metrics_listen"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
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
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports settings that make the process unable to start. Missing
// sender, recipient, or credential are not errors here.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderSendGrid, ProviderSES, ProviderResend, ProviderGraph, ProviderStdout:
	default:
		return fmt.Errorf("unknown provider %q (want one of sendgrid, ses, resend, msgraph, stdout)", c.Provider)
	}
	if c.Send.Timeout < 0 {
		return fmt.Errorf("send timeout must not be negative, got %s", c.Send.Timeout)
	}
	return nil
}

// Credential returns the setting name and value of the credential the
// selected provider authenticates with. The stdout provider needs none and
// reports its own name so the dispatcher's credential check passes.
func (c *Config) Credential() (name, value string) {
	switch c.Provider {
	case ProviderSES:
		return "SES_REGION", c.SES.Region
	case ProviderResend:
		return "RESEND_API_KEY", c.Resend.APIKey
	case ProviderGraph:
		return "GRAPH_CLIENT_SECRET", c.Graph.ClientSecret
	case ProviderStdout:
		return "PROVIDER", ProviderStdout
	default:
		return "SENDGRID_API_KEY", c.SendGrid.APIKey
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = ProviderSendGrid
	c.Send.Timeout = defaultSendTimeout
	c.SendGrid.Host = defaultSendGridHost
	c.Research.Model = defaultModel
	c.HTTP.Listen = defaultListen
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	setString(&c.Email.From, "EMAIL_FROM")
	setString(&c.Email.To, "EMAIL_TO")

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("SEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SEND_TIMEOUT %q: %w", v, err)
		}
		c.Send.Timeout = d
	}

	setString(&c.SendGrid.APIKey, "SENDGRID_API_KEY")
	setString(&c.SendGrid.Host, "SENDGRID_HOST")
	setString(&c.Resend.APIKey, "RESEND_API_KEY")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")

	setString(&c.Research.APIKey, "OPENAI_API_KEY")
	setString(&c.Research.BaseURL, "OPENAI_BASE_URL")
	setString(&c.Research.Model, "RESEARCH_MODEL")

	setString(&c.HTTP.Listen, "HTTP_LISTEN")
	setString(&c.HTTP.MetricsListen, "METRICS_LISTEN")
	if v := os.Getenv("HTTP_TLS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_TLS %q: %w", v, err)
		}
		c.HTTP.TLS = enabled
	}

	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
