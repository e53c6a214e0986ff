// Package config loads Latchflow's process configuration from the
// environment: a typed struct populated via os.Getenv with
// defaults, no reflection-based env binding.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EvaluationMode mirrors pkg/authz.EvaluationMode without importing it, so
// config stays dependency-free of the authorizer it configures.
type EvaluationMode string

const (
	ModeEnforce EvaluationMode = "enforce"
	ModeShadow  EvaluationMode = "shadow"
	ModeOff     EvaluationMode = "off"
)

// Config holds every environment flag the server reads.
type Config struct {
	DatabaseURL string
	Port        string

	PluginsPath string

	QueueDriver     string
	QueueConfigJSON string

	StorageDriver string
	StorageBucket string
	StoragePrefix string

	EncryptionMode         string // "none" | "aes-gcm"
	EncryptionMasterKeyB64 string

	AuthCookieDomain string
	AuthCookieSecure bool

	AuthSessionTTLHours      int
	RecipientSessionTTLHours int

	AdminMagicLinkTTLMin int
	RecipientOTPTTLMin   int
	RecipientOTPLength   int

	DeviceCodeTTLMin    int
	DeviceCodeIntervalS int

	APITokenTTLDays       int // 0 means no expiry
	APITokenScopesDefault []string
	APITokenPrefix        string

	HistorySnapshotInterval int
	HistoryMaxChainDepth    int
	SystemUserID            string

	AuthzV2       bool
	AuthzV2Shadow bool

	AuthzRequireAdmin2FA bool
	AuthzReauthWindowMin int

	AdminUIOrigin string
	NodeEnv       string
}

// EvaluationMode resolves AUTHZ_V2/AUTHZ_V2_SHADOW into the three-way mode
// the authorizer evaluates under.
func (c *Config) EvaluationMode() EvaluationMode {
	if !c.AuthzV2 {
		return ModeOff
	}
	if c.AuthzV2Shadow {
		return ModeShadow
	}
	return ModeEnforce
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// Load reads Config from the environment, applying defaults.
// DATABASE_URL is the only required flag; its absence is a caller-visible
// error rather than a silent fallback.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	nodeEnv := getenv("NODE_ENV", "production")
	secureDefault := nodeEnv != "development"

	return &Config{
		DatabaseURL: dbURL,
		Port:        getenv("PORT", "3001"),

		PluginsPath: os.Getenv("PLUGINS_PATH"),

		QueueDriver:     getenv("QUEUE_DRIVER", "memory"),
		QueueConfigJSON: os.Getenv("QUEUE_CONFIG_JSON"),

		StorageDriver: getenv("STORAGE_DRIVER", "local"),
		StorageBucket: os.Getenv("STORAGE_BUCKET"),
		StoragePrefix: os.Getenv("STORAGE_PREFIX"),

		EncryptionMode:         getenv("ENCRYPTION_MODE", "none"),
		EncryptionMasterKeyB64: os.Getenv("ENCRYPTION_MASTER_KEY_B64"),

		AuthCookieDomain: os.Getenv("AUTH_COOKIE_DOMAIN"),
		AuthCookieSecure: getenvBool("AUTH_COOKIE_SECURE", secureDefault),

		AuthSessionTTLHours:      getenvInt("AUTH_SESSION_TTL_HOURS", 12),
		RecipientSessionTTLHours: getenvInt("RECIPIENT_SESSION_TTL_HOURS", 2),

		AdminMagicLinkTTLMin: getenvInt("ADMIN_MAGICLINK_TTL_MIN", 15),
		RecipientOTPTTLMin:   getenvInt("RECIPIENT_OTP_TTL_MIN", 10),
		RecipientOTPLength:   getenvInt("RECIPIENT_OTP_LENGTH", 6),

		DeviceCodeTTLMin:    getenvInt("DEVICE_CODE_TTL_MIN", 10),
		DeviceCodeIntervalS: getenvInt("DEVICE_CODE_INTERVAL_SEC", 5),

		APITokenTTLDays:       getenvInt("API_TOKEN_TTL_DAYS", 0),
		APITokenScopesDefault: getenvList("API_TOKEN_SCOPES_DEFAULT", []string{"core:read", "core:write"}),
		APITokenPrefix:        getenv("API_TOKEN_PREFIX", "lfk_"),

		HistorySnapshotInterval: getenvInt("HISTORY_SNAPSHOT_INTERVAL", 20),
		HistoryMaxChainDepth:    getenvInt("HISTORY_MAX_CHAIN_DEPTH", 200),
		SystemUserID:            getenv("SYSTEM_USER_ID", "system"),

		AuthzV2:       getenvBool("AUTHZ_V2", false),
		AuthzV2Shadow: getenvBool("AUTHZ_V2_SHADOW", false),

		AuthzRequireAdmin2FA: getenvBool("AUTHZ_REQUIRE_ADMIN_2FA", false),
		AuthzReauthWindowMin: getenvInt("AUTHZ_REAUTH_WINDOW_MIN", 60),

		AdminUIOrigin: os.Getenv("ADMIN_UI_ORIGIN"),
		NodeEnv:       nodeEnv,
	}, nil
}
