package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Connection ConnectionConfig `yaml:"connection"`
	Query      QueryConfig      `yaml:"query"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
}

// ServerConfig locates the backend.
type ServerConfig struct {
	WSURL  string `yaml:"ws_url"`  // e.g. "ws://localhost:8090/ws"
	APIURL string `yaml:"api_url"` // e.g. "http://localhost:8090"
}

// AuthConfig identifies the user the client authenticates as.
type AuthConfig struct {
	UserID string `yaml:"user_id"`
	Token  string `yaml:"token"` // may be "enc:..."
}

// ConnectionConfig holds connection manager settings.
type ConnectionConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // 0 disables
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	MaxAttempts       int           `yaml:"max_attempts"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// QueryConfig holds settings for the query call that starts a reasoning stream.
type QueryConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	RatePerSecond   float64       `yaml:"rate_per_second"` // 0 = unlimited
	Burst           int           `yaml:"burst"`
	CompletionGrace time.Duration `yaml:"completion_grace"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the query client.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"` // open -> half-open
}

// SimulatorConfig configures the local development backend.
type SimulatorConfig struct {
	Addr           string           `yaml:"addr"`
	StepDelay      time.Duration    `yaml:"step_delay"`
	Tokens         []SimTokenConfig `yaml:"tokens"`
	RequestsPerMin int              `yaml:"requests_per_min"` // per caller on the query endpoint; 0 = unlimited
	Burst          int              `yaml:"burst"`
}

// SimTokenConfig is one static token accepted by the development backend.
type SimTokenConfig struct {
	Name   string `yaml:"name"`
	UserID string `yaml:"user_id"`
	Token  string `yaml:"token"` // may be "enc:..."
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config pointing at a local development backend.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			WSURL:  "ws://localhost:8090/ws",
			APIURL: "http://localhost:8090",
		},
		Auth: AuthConfig{
			UserID: "student",
			Token:  "dev-token",
		},
		Connection: ConnectionConfig{
			HeartbeatInterval: 25 * time.Second,
			BackoffBase:       time.Second,
			BackoffMax:        30 * time.Second,
			MaxAttempts:       5,
			DialTimeout:       10 * time.Second,
			WriteTimeout:      5 * time.Second,
		},
		Query: QueryConfig{
			Timeout:         2 * time.Minute,
			RatePerSecond:   2,
			Burst:           4,
			CompletionGrace: 3 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
			},
		},
		Simulator: SimulatorConfig{
			Addr:      "127.0.0.1:8090",
			StepDelay: 400 * time.Millisecond,
			Tokens: []SimTokenConfig{
				{Name: "dev", UserID: "student", Token: "dev-token"},
			},
			RequestsPerMin: 60,
			Burst:          10,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("TUTORSTREAM_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps TUTORSTREAM_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TUTORSTREAM_WS_URL"); v != "" {
		cfg.Server.WSURL = v
	}
	if v := os.Getenv("TUTORSTREAM_API_URL"); v != "" {
		cfg.Server.APIURL = v
	}
	if v := os.Getenv("TUTORSTREAM_USER_ID"); v != "" {
		cfg.Auth.UserID = v
	}
	if v := os.Getenv("TUTORSTREAM_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("TUTORSTREAM_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Connection.MaxAttempts = n
		}
	}
	if v := os.Getenv("TUTORSTREAM_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Connection.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("TUTORSTREAM_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Query.Timeout = d
		}
	}
	if v := os.Getenv("TUTORSTREAM_SIM_ADDR"); v != "" {
		cfg.Simulator.Addr = v
	}
	if v := os.Getenv("TUTORSTREAM_SIM_TOKENS"); v != "" {
		// Format: "user:token,user:token".
		var tokens []SimTokenConfig
		for _, pair := range splitAndTrim(v, ",") {
			user, tok, ok := strings.Cut(pair, ":")
			if !ok || user == "" || tok == "" {
				continue
			}
			tokens = append(tokens, SimTokenConfig{Name: user, UserID: user, Token: tok})
		}
		if len(tokens) > 0 {
			cfg.Simulator.Tokens = tokens
		}
	}
	if v := os.Getenv("TUTORSTREAM_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("TUTORSTREAM_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("TUTORSTREAM_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("TUTORSTREAM_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("TUTORSTREAM_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values in tokens and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Auth.Token, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Auth.Token, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("auth token: %w", err)
		}
		cfg.Auth.Token = decrypted
	}

	for i := range cfg.Simulator.Tokens {
		tok := cfg.Simulator.Tokens[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("simulator token %s: %w", cfg.Simulator.Tokens[i].Name, err)
			}
			cfg.Simulator.Tokens[i].Token = decrypted
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue (without the "enc:" prefix).
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others,
// since they may hold tokens.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
