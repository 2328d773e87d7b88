// Package config loads the tool server's configuration with
// github.com/spf13/viper, the same backbone the teacher wires in
// cmd/falcon/main.go and cmd/zap/main.go (SetConfigFile/SetConfigName/
// AutomaticEnv, then Get*-per-key reads — the teacher never calls
// viper.Unmarshal, so neither do we). Settings are layered: defaults ->
// optional YAML overlay file -> environment variables (env vars win).
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds every recognized option from spec.md §6.
type Config struct {
	// Upstream endpoints (C5, C7).
	SchemaURL    string
	APIBaseURL   string
	DocsURL      string
	AcceptHeader string

	// C5 refresh/cache.
	SchemaRefreshInterval time.Duration
	CatalogCachePath      string

	// C7 execution policy.
	AllowWrites             bool
	RequestTimeout          time.Duration
	MaxRetries              int
	ReadCacheTTL            time.Duration
	ExecuteMaxBodyBytes     int
	ExecuteBodyPreviewChars int
	UpstreamRPS             float64

	// Transport / caller identity.
	UserIDHeader string

	// C1/C7 secrets.
	WriteConfirmationSecret string

	// C2 token store.
	TokenStorePath     string
	TokenEncryptionKey string

	// C3 OAuth.
	OAuthClientID     string
	OAuthClientSecret string
	OAuthScope        string
	OAuthAuthorizeURL string
	OAuthTokenURL     string
	OAuthRedirectURI  string

	// Ambient.
	LogLevel string
}

// envBindings maps each viper key to the environment variable this project
// exposes it under, mirroring the teacher's flat key naming but with
// explicit BindEnv calls since our env var names don't match the key
// strings the way the teacher's "web_ui.enabled"-shaped keys happen to.
var envBindings = map[string]string{
	"schema_url":                 "HEROKU_SCHEMA_URL",
	"api_base_url":               "HEROKU_API_BASE_URL",
	"docs_url":                   "HEROKU_DOCS_URL",
	"accept_header":              "HEROKU_ACCEPT_HEADER",
	"schema_refresh_interval":    "SCHEMA_REFRESH_INTERVAL",
	"catalog_cache_path":         "CATALOG_CACHE_PATH",
	"allow_writes":               "ALLOW_WRITES",
	"request_timeout":            "REQUEST_TIMEOUT",
	"max_retries":                "MAX_RETRIES",
	"read_cache_ttl":             "READ_CACHE_TTL_MS",
	"execute_max_body_bytes":     "EXECUTE_MAX_BODY_BYTES",
	"execute_body_preview_chars": "EXECUTE_BODY_PREVIEW_CHARS",
	"upstream_rps":               "UPSTREAM_RPS",
	"user_id_header":             "USER_ID_HEADER",
	"write_confirmation_secret":  "WRITE_CONFIRMATION_SECRET",
	"token_store_path":           "TOKEN_STORE_PATH",
	"token_encryption_key":       "TOKEN_ENCRYPTION_KEY",
	"oauth_client_id":            "OAUTH_CLIENT_ID",
	"oauth_client_secret":        "OAUTH_CLIENT_SECRET",
	"oauth_scope":                "OAUTH_SCOPE",
	"oauth_authorize_url":        "OAUTH_AUTHORIZE_URL",
	"oauth_token_url":            "OAUTH_TOKEN_URL",
	"oauth_redirect_uri":         "OAUTH_REDIRECT_URI",
	"log_level":                  "LOG_LEVEL",
}

// Load returns config with defaults overridden by an optional YAML file at
// path (if non-empty and present) and then by environment variables, the
// way cmd/falcon/main.go layers viper: SetConfigFile -> ReadInConfig
// (absence/malformed ignored) -> AutomaticEnv.
func Load(yamlPath string) *Config {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	v.AutomaticEnv()

	if yamlPath != "" {
		v.SetConfigFile(yamlPath)
		_ = v.ReadInConfig()
	}

	return &Config{
		SchemaURL:               v.GetString("schema_url"),
		APIBaseURL:              v.GetString("api_base_url"),
		DocsURL:                 v.GetString("docs_url"),
		AcceptHeader:            v.GetString("accept_header"),
		SchemaRefreshInterval:   v.GetDuration("schema_refresh_interval"),
		CatalogCachePath:        v.GetString("catalog_cache_path"),
		AllowWrites:             v.GetBool("allow_writes"),
		RequestTimeout:          v.GetDuration("request_timeout"),
		MaxRetries:              v.GetInt("max_retries"),
		ReadCacheTTL:            time.Duration(v.GetInt64("read_cache_ttl")) * time.Millisecond,
		ExecuteMaxBodyBytes:     v.GetInt("execute_max_body_bytes"),
		ExecuteBodyPreviewChars: v.GetInt("execute_body_preview_chars"),
		UpstreamRPS:             v.GetFloat64("upstream_rps"),
		UserIDHeader:            v.GetString("user_id_header"),
		WriteConfirmationSecret: v.GetString("write_confirmation_secret"),
		TokenStorePath:          v.GetString("token_store_path"),
		TokenEncryptionKey:      v.GetString("token_encryption_key"),
		OAuthClientID:           v.GetString("oauth_client_id"),
		OAuthClientSecret:       v.GetString("oauth_client_secret"),
		OAuthScope:              v.GetString("oauth_scope"),
		OAuthAuthorizeURL:       v.GetString("oauth_authorize_url"),
		OAuthTokenURL:           v.GetString("oauth_token_url"),
		OAuthRedirectURI:        v.GetString("oauth_redirect_uri"),
		LogLevel:                v.GetString("log_level"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("accept_header", "application/json")
	v.SetDefault("schema_refresh_interval", 1*time.Hour)
	v.SetDefault("catalog_cache_path", "./.heroku-mcp/catalog-cache.json")
	v.SetDefault("allow_writes", false)
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("max_retries", 2)
	v.SetDefault("read_cache_ttl", 0)
	v.SetDefault("execute_max_body_bytes", 200_000)
	v.SetDefault("execute_body_preview_chars", 500)
	v.SetDefault("upstream_rps", 0.0)
	v.SetDefault("user_id_header", "x-user-id")
	v.SetDefault("token_store_path", "./.heroku-mcp/tokens.json")
	v.SetDefault("oauth_scope", "global")
	v.SetDefault("log_level", "info")
}
