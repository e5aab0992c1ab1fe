package config

import (
	"bytes"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models hubtrack.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		// JWTSecret and SessionSecret are normally supplied through the environment.
		JWTSecret     string `yaml:"jwt_secret"`
		SessionSecret string `yaml:"session_secret"`
		JWKSURL       string `yaml:"jwks_url"`
		Issuer        string `yaml:"issuer"`
		Audience      string `yaml:"audience"`
		DevLogin      bool   `yaml:"dev_login"`
	} `yaml:"auth"`
	Authorization struct {
		Emails                   []string `yaml:"emails"`
		RestrictInnovationCreate bool     `yaml:"restrict_innovation_create"`
	} `yaml:"authorization"`
	Notify NotifyConfig `yaml:"notify"`
}

type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	Timezone       string `yaml:"timezone"`
	ZoneLabel      string `yaml:"zone_label"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the outbound webhook timeout.
func (n NotifyConfig) Timeout() time.Duration {
	if n.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Auth.JWKSURL != "" && c.Auth.Audience == "" {
		return fmt.Errorf("config.auth.audience is required when jwks_url is set")
	}
	for _, email := range c.Authorization.Emails {
		if strings.TrimSpace(email) == "" {
			return fmt.Errorf("config.authorization.emails contains an empty entry")
		}
		if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
			return fmt.Errorf("config.authorization.emails: invalid address %q", email)
		}
	}
	if c.Notify.Timezone != "" {
		if _, err := time.LoadLocation(c.Notify.Timezone); err != nil {
			return fmt.Errorf("config.notify.timezone: %w", err)
		}
	}
	if c.Notify.TimeoutSeconds < 0 {
		return fmt.Errorf("config.notify.timeout_seconds must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "hubtrack.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with hubtrack config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the default config if the file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Missing keys keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api

auth:
  # HUBTRACK_JWT_SECRET and HUBTRACK_SESSION_SECRET override these.
  jwt_secret: ""
  session_secret: ""
  # Federated ID tokens (e.g. https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com)
  jwks_url: ""
  issuer: ""
  audience: ""
  dev_login: false

authorization:
  # Emails allowed to archive, delete and edit records after creation.
  emails: []
  restrict_innovation_create: false

notify:
  # HUBTRACK_NOTIFY_WEBHOOK_URL overrides this.
  webhook_url: ""
  timezone: Africa/Lagos
  zone_label: WAT
  timeout_seconds: 5
`
