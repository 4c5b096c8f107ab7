package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aegis-id/aegis/internal/auth/domain"
)

type Config struct {
	Issuer string // Required: issuer claim for tokens

	Algorithm      string        // Optional: JWT signing algorithm (RS256, ES256, EdDSA) (default: EdDSA)
	RSABits        int           // Optional: RSA key size for RS256 (default: 4096)
	KeyStorageMode string        // Optional: key storage mode (ephemeral, persistent) (default: ephemeral)
	KeyGracePeriod time.Duration // Optional: grace period for retired keys (default: 30 days)
	MasterKeyPath  string        // Optional: path to master encryption key file (for persistent keys)

	DatabaseFile  string // Optional: path to SQLite database file (default: ./auth.db)
	RedisAddr     string // Optional: redis host:port (default: localhost:6379)
	RedisPassword string
	RedisDB       int

	// Flow policy
	EnforceMFAEnrollment bool
	RequiredMechanisms   []domain.Mechanism
	EmailFallbackEnabled bool
	ConsentRequired      bool
	CodeTTL              time.Duration // authorization session + challenge lifetime

	// Throttling
	AttemptWindow       time.Duration
	EmailIssueThreshold int64
	SMSIssueThreshold   int64
	VerifyThreshold     int64
	OTPMaxFailures      int64
	LoginThreshold      int64
	AssertThreshold     int64 // failed passkey assertions per (email, ip)

	// Remember-device
	RememberDeviceEnabled bool
	RememberDeviceTTL     time.Duration

	// Token TTLs
	AccessTTLInteractive time.Duration
	AccessTTLMachine     time.Duration
	IDTokenTTL           time.Duration
	RefreshTTL           time.Duration

	// WebAuthn relying party
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	CeremonyTTL   time.Duration

	// Social sign-in providers, comma separated "name|issuerURL|clientID"
	FederatedProviders []string

	DefaultRoleID      string
	DefaultLocale      string
	ExpiredRedirectURL string // where expired step polls are sent

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:         getEnvOrDefault("AUTH_ISSUER", "aegis-auth"),
		Algorithm:      getEnvOrDefault("AUTH_ALGORITHM", "EdDSA"),
		RSABits:        getEnvIntOrDefault("AUTH_RSA_BITS", 0),
		KeyStorageMode: getEnvOrDefault("AUTH_KEY_STORAGE_MODE", "ephemeral"),
		KeyGracePeriod: getEnvDurationOrDefault("AUTH_KEY_GRACE_PERIOD", 30*24*time.Hour),
		MasterKeyPath:  os.Getenv("AUTH_MASTER_KEY_PATH"),

		DatabaseFile:  getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		RedisAddr:     getEnvOrDefault("AUTH_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("AUTH_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("AUTH_REDIS_DB", 0),

		EnforceMFAEnrollment: getEnvBoolOrDefault("AUTH_ENFORCE_MFA_ENROLLMENT", false),
		EmailFallbackEnabled: getEnvBoolOrDefault("AUTH_EMAIL_FALLBACK", true),
		ConsentRequired:      getEnvBoolOrDefault("AUTH_CONSENT_REQUIRED", true),
		CodeTTL:              getEnvDurationOrDefault("AUTH_CODE_TTL", 5*time.Minute),

		AttemptWindow:       getEnvDurationOrDefault("AUTH_ATTEMPT_WINDOW", 10*time.Minute),
		EmailIssueThreshold: getEnvInt64OrDefault("AUTH_EMAIL_ISSUE_THRESHOLD", 5),
		SMSIssueThreshold:   getEnvInt64OrDefault("AUTH_SMS_ISSUE_THRESHOLD", 3),
		VerifyThreshold:     getEnvInt64OrDefault("AUTH_VERIFY_THRESHOLD", 5),
		OTPMaxFailures:      getEnvInt64OrDefault("AUTH_OTP_MAX_FAILURES", 5),
		LoginThreshold:      getEnvInt64OrDefault("AUTH_LOGIN_THRESHOLD", 10),
		AssertThreshold:     getEnvInt64OrDefault("AUTH_ASSERT_THRESHOLD", 5),

		RememberDeviceEnabled: getEnvBoolOrDefault("AUTH_REMEMBER_DEVICE", false),
		RememberDeviceTTL:     getEnvDurationOrDefault("AUTH_REMEMBER_DEVICE_TTL", 30*24*time.Hour),

		AccessTTLInteractive: getEnvDurationOrDefault("AUTH_ACCESS_TTL", 15*time.Minute),
		AccessTTLMachine:     getEnvDurationOrDefault("AUTH_ACCESS_TTL_MACHINE", 1*time.Hour),
		IDTokenTTL:           getEnvDurationOrDefault("AUTH_ID_TOKEN_TTL", 15*time.Minute),
		RefreshTTL:           getEnvDurationOrDefault("AUTH_REFRESH_TTL", 30*24*time.Hour),

		RPID:          getEnvOrDefault("AUTH_RP_ID", "localhost"),
		RPDisplayName: getEnvOrDefault("AUTH_RP_DISPLAY_NAME", "Aegis"),
		RPOrigins:     splitEnv("AUTH_RP_ORIGINS", []string{"http://localhost:8080"}),
		CeremonyTTL:   getEnvDurationOrDefault("AUTH_CEREMONY_TTL", 5*time.Minute),

		FederatedProviders: splitEnv("AUTH_FEDERATED_PROVIDERS", nil),

		DefaultRoleID:      getEnvOrDefault("AUTH_DEFAULT_ROLE_ID", "user"),
		DefaultLocale:      getEnvOrDefault("AUTH_DEFAULT_LOCALE", "en"),
		ExpiredRedirectURL: getEnvOrDefault("AUTH_EXPIRED_REDIRECT_URL", "/login/expired"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	for _, raw := range splitEnv("AUTH_REQUIRED_MECHANISMS", nil) {
		if m, err := domain.ParseMechanism(raw); err == nil {
			cfg.RequiredMechanisms = append(cfg.RequiredMechanisms, m)
		}
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	return int64(getEnvIntOrDefault(key, int(defaultValue)))
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}
	return defaultValue
}

func splitEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
