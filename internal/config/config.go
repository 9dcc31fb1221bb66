// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DirectoryConfig holds connection and layout settings for the account
// directory (LDAP).
type DirectoryConfig struct {
	URL            string `yaml:"url"`
	BindDN         string `yaml:"bind_dn"`
	Password       string `yaml:"password"`
	BaseDN         string `yaml:"base_dn"`
	EveryoneGroup  string `yaml:"everyone_group"`
	CommunityGroup string `yaml:"community_group"`
}

// ObjectStoreConfig holds settings for the data-store REST backend.
type ObjectStoreConfig struct {
	URL string `yaml:"url"`

	// ServicesUser and AdminUser are the two service principals that must
	// own every provisioned home collection.
	ServicesUser string `yaml:"services_user"`
	AdminUser    string `yaml:"admin_user"`

	Timeout time.Duration `yaml:"timeout"`
}

// JobsConfig holds settings for the batch-job backend used for
// asynchronous deletions, including the client-credentials grant used to
// authenticate with it.
type JobsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	IssuerURL    string `yaml:"issuer_url"`
	Realm        string `yaml:"realm"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	SystemID     string `yaml:"system_id"`
	AppName      string `yaml:"app_name"`

	// AppID may be set to pin the deletion app; when empty it is resolved
	// lazily by name lookup.
	AppID string `yaml:"app_id"`

	Timeout time.Duration `yaml:"timeout"`
}

// TokenEndpoint builds the identity-provider token endpoint URL for the
// client-credentials grant.
func (j *JobsConfig) TokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token",
		strings.TrimRight(j.IssuerURL, "/"), j.Realm)
}

// MailConfig holds mailing-list (Mailman admin) settings.
type MailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// SMTPConfig holds outbound email delivery settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
	UseSSL   bool   `yaml:"use_ssl"`
	From     string `yaml:"from"`
}

// Config holds the configuration for the conductor HTTP API and its
// backing-system clients.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	Env        string `yaml:"env"`

	// AdminAPIKey protects the API when set; empty disables auth.
	AdminAPIKey string `yaml:"admin_api_key"`

	// RecordsDBPath points at the auxiliary SQLite records store. Empty
	// disables the records endpoints and CLI phases that need it.
	RecordsDBPath string `yaml:"records_db_path"`

	// Rate limiting
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	Directory DirectoryConfig   `yaml:"directory"`
	Store     ObjectStoreConfig `yaml:"store"`
	Jobs      JobsConfig        `yaml:"jobs"`
	Mail      MailConfig        `yaml:"mail"`
	SMTP      SMTPConfig        `yaml:"smtp"`

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string `yaml:"-"`
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads configuration from the YAML file named by CONDUCTOR_CONFIG
// (when present) and then applies environment variables on top. Environment
// variables always win over file values.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONDUCTOR_CONFIG"); path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Env, "ENV")
	setString(&c.AdminAPIKey, "ADMIN_API_KEY")
	setString(&c.RecordsDBPath, "RECORDS_DB_PATH")

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimitBurst = n
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = splitTrimmed(v)
	}

	setString(&c.Directory.URL, "LDAP_URL")
	setString(&c.Directory.BindDN, "LDAP_USER")
	setString(&c.Directory.Password, "LDAP_PASSWORD")
	setString(&c.Directory.BaseDN, "LDAP_BASE_DN")
	setString(&c.Directory.EveryoneGroup, "LDAP_EVERYONE_GROUP")
	setString(&c.Directory.CommunityGroup, "LDAP_COMMUNITY_GROUP")

	setString(&c.Store.URL, "DATASTORE_URL")
	setString(&c.Store.ServicesUser, "DATASTORE_SERVICES_USER")
	setString(&c.Store.AdminUser, "DATASTORE_ADMIN_USER")

	if v := os.Getenv("JOBS_ENABLED"); v != "" {
		c.Jobs.Enabled = parseBool(v, c.Jobs.Enabled)
	}
	setString(&c.Jobs.URL, "JOBS_URL")
	setString(&c.Jobs.IssuerURL, "JOBS_ISSUER_URL")
	setString(&c.Jobs.Realm, "JOBS_REALM")
	setString(&c.Jobs.ClientID, "JOBS_CLIENT_ID")
	setString(&c.Jobs.ClientSecret, "JOBS_CLIENT_SECRET")
	setString(&c.Jobs.SystemID, "JOBS_SYSTEM_ID")
	setString(&c.Jobs.AppName, "JOBS_APP_NAME")
	setString(&c.Jobs.AppID, "JOBS_APP_ID")

	if v := os.Getenv("MAILMAN_ENABLED"); v != "" {
		c.Mail.Enabled = parseBool(v, c.Mail.Enabled)
	}
	setString(&c.Mail.URL, "MAILMAN_URL")
	setString(&c.Mail.Password, "MAILMAN_PASSWORD")

	setString(&c.SMTP.Host, "SMTP_HOST")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = n
		}
	}
	setString(&c.SMTP.User, "SMTP_USER")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	if v := os.Getenv("SMTP_USE_TLS"); v != "" {
		c.SMTP.UseTLS = parseBool(v, c.SMTP.UseTLS)
	}
	if v := os.Getenv("SMTP_USE_SSL"); v != "" {
		c.SMTP.UseSSL = parseBool(v, c.SMTP.UseSSL)
	}
	setString(&c.SMTP.From, "SMTP_FROM")
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RateLimitRPS == 0 {
		c.RateLimitRPS = 100
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 200
	}
	if len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = []string{"*"}
	}
	if c.Directory.CommunityGroup == "" {
		c.Directory.CommunityGroup = "community"
	}
	if c.Store.ServicesUser == "" {
		c.Store.ServicesUser = "ipcservices"
	}
	if c.Store.AdminUser == "" {
		c.Store.AdminUser = "rodsadmin"
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = 30 * time.Second
	}
	if c.Jobs.Timeout == 0 {
		c.Jobs.Timeout = 30 * time.Second
	}
	if c.SMTP.Host == "" {
		c.SMTP.Host = "localhost"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 25
	}
	if c.SMTP.From == "" {
		c.SMTP.From = "noreply@localhost"
	}
	if c.AdminAPIKey == "" {
		c.Warnings = append(c.Warnings, "ADMIN_API_KEY not set — API authentication is disabled")
	}
	if !c.Mail.Enabled {
		c.Warnings = append(c.Warnings, "mailing-list integration is disabled (MAILMAN_ENABLED)")
	}
	if !c.Jobs.Enabled {
		c.Warnings = append(c.Warnings, "job backend is disabled — asynchronous deletion is unavailable (JOBS_ENABLED)")
	}
}

func (c *Config) validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"LDAP_URL", c.Directory.URL},
		{"LDAP_USER", c.Directory.BindDN},
		{"LDAP_PASSWORD", c.Directory.Password},
		{"LDAP_BASE_DN", c.Directory.BaseDN},
		{"LDAP_EVERYONE_GROUP", c.Directory.EveryoneGroup},
		{"DATASTORE_URL", c.Store.URL},
	}
	if c.Mail.Enabled {
		required = append(required,
			struct{ name, value string }{"MAILMAN_URL", c.Mail.URL},
			struct{ name, value string }{"MAILMAN_PASSWORD", c.Mail.Password},
		)
	}
	if c.Jobs.Enabled {
		required = append(required,
			struct{ name, value string }{"JOBS_URL", c.Jobs.URL},
			struct{ name, value string }{"JOBS_ISSUER_URL", c.Jobs.IssuerURL},
			struct{ name, value string }{"JOBS_REALM", c.Jobs.Realm},
			struct{ name, value string }{"JOBS_CLIENT_ID", c.Jobs.ClientID},
			struct{ name, value string }{"JOBS_CLIENT_SECRET", c.Jobs.ClientSecret},
			struct{ name, value string }{"JOBS_SYSTEM_ID", c.Jobs.SystemID},
		)
		if c.Jobs.AppID == "" && c.Jobs.AppName == "" {
			return fmt.Errorf("one of JOBS_APP_ID or JOBS_APP_NAME must be set when the job backend is enabled")
		}
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("required configuration field %s is not set", f.name)
		}
	}

	// Production mode: insecure defaults are fatal errors.
	if c.IsProduction() {
		if c.AdminAPIKey == "" {
			return fmt.Errorf("ADMIN_API_KEY must be set in production (ENV=production)")
		}
		if len(c.CORSAllowedOrigins) == 1 && c.CORSAllowedOrigins[0] == "*" {
			return fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func parseBool(v string, defaultVal bool) bool {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "0", "false", "no", "off":
		return false
	case "1", "true", "yes", "on":
		return true
	}
	return defaultVal
}

func splitTrimmed(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be in KEY=VALUE format. Comments (#) and blank
// lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
