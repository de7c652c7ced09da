package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Connection.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Connection.MaxAttempts)
	}
	if cfg.Query.CompletionGrace != 3*time.Second {
		t.Errorf("CompletionGrace = %v, want 3s", cfg.Query.CompletionGrace)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.WSURL != "ws://localhost:8090/ws" {
		t.Errorf("expected defaults, got WSURL=%q", cfg.Server.WSURL)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  ws_url: "wss://tutor.example.com/ws"
  api_url: "https://tutor.example.com"
auth:
  user_id: "u-42"
  token: "abc"
connection:
  heartbeat_interval: 10s
  max_attempts: 8
query:
  completion_grace: 500ms
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.WSURL != "wss://tutor.example.com/ws" {
		t.Errorf("WSURL = %q", cfg.Server.WSURL)
	}
	if cfg.Auth.UserID != "u-42" || cfg.Auth.Token != "abc" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if cfg.Connection.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 10s", cfg.Connection.HeartbeatInterval)
	}
	if cfg.Connection.MaxAttempts != 8 {
		t.Errorf("MaxAttempts = %d, want 8", cfg.Connection.MaxAttempts)
	}
	if cfg.Query.CompletionGrace != 500*time.Millisecond {
		t.Errorf("CompletionGrace = %v, want 500ms", cfg.Query.CompletionGrace)
	}
	// Untouched sections keep their defaults.
	if cfg.Connection.BackoffMax != 30*time.Second {
		t.Errorf("BackoffMax = %v, want 30s", cfg.Connection.BackoffMax)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  ws_url: \"http://wrong\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("err = %T, want *ValidationError", err)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  user_id: x\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("expected permissions error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TUTORSTREAM_WS_URL", "ws://other:9000/ws")
	t.Setenv("TUTORSTREAM_USER_ID", "env-user")
	t.Setenv("TUTORSTREAM_MAX_ATTEMPTS", "9")
	t.Setenv("TUTORSTREAM_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("TUTORSTREAM_LOGGER_LEVEL", "debug")
	t.Setenv("TUTORSTREAM_TRACER_ENABLED", "true")
	t.Setenv("TUTORSTREAM_TRACER_EXPORTER", "stdout")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Server.WSURL != "ws://other:9000/ws" {
		t.Errorf("WSURL = %q", cfg.Server.WSURL)
	}
	if cfg.Auth.UserID != "env-user" {
		t.Errorf("UserID = %q", cfg.Auth.UserID)
	}
	if cfg.Connection.MaxAttempts != 9 {
		t.Errorf("MaxAttempts = %d, want 9", cfg.Connection.MaxAttempts)
	}
	if cfg.Connection.HeartbeatInterval != 2*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 2s", cfg.Connection.HeartbeatInterval)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if !cfg.Tracer.Enabled || cfg.Tracer.Exporter != "stdout" {
		t.Errorf("Tracer = %+v", cfg.Tracer)
	}
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("TUTORSTREAM_MAX_ATTEMPTS", "many")
	t.Setenv("TUTORSTREAM_QUERY_TIMEOUT", "soon")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Connection.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want default 5", cfg.Connection.MaxAttempts)
	}
	if cfg.Query.Timeout != 2*time.Minute {
		t.Errorf("Query.Timeout = %v, want default", cfg.Query.Timeout)
	}
}

func TestEnvOverridesSimTokens(t *testing.T) {
	t.Setenv("TUTORSTREAM_SIM_TOKENS", "alice:a1, bob:b2, broken")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if len(cfg.Simulator.Tokens) != 2 {
		t.Fatalf("Tokens = %+v, want 2", cfg.Simulator.Tokens)
	}
	if cfg.Simulator.Tokens[1].UserID != "bob" || cfg.Simulator.Tokens[1].Token != "b2" {
		t.Errorf("Tokens[1] = %+v", cfg.Simulator.Tokens[1])
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "tok-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(encrypted, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	cases := map[string]string{
		"no separator": "abcdef",
		"bad salt":     "zz:00",
		"bad data":     "00:zz",
		"too short":    "00:00",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecryptValue(in, "pass"); err == nil {
				t.Errorf("DecryptValue(%q) succeeded", in)
			}
		})
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "config-key"
	enc, err := EncryptValue("real-token", passphrase)
	if err != nil {
		t.Fatal(err)
	}
	simEnc, err := EncryptValue("sim-token", passphrase)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "auth:\n  user_id: u1\n  token: \"enc:" + enc + "\"\n" +
		"simulator:\n  tokens:\n    - name: dev\n      user_id: u1\n      token: \"enc:" + simEnc + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TUTORSTREAM_CONFIG_KEY", passphrase)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Token != "real-token" {
		t.Errorf("Auth.Token = %q, want real-token", cfg.Auth.Token)
	}
	if cfg.Simulator.Tokens[0].Token != "sim-token" {
		t.Errorf("Simulator token = %q, want sim-token", cfg.Simulator.Tokens[0].Token)
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  token: \"enc:00:00\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TUTORSTREAM_CONFIG_KEY", "k")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "decrypt secrets") {
		t.Fatalf("expected decrypt error, got %v", err)
	}
}

func TestDecryptSecretsNoEncPrefix(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.Token = "plain"
	if err := decryptSecrets(cfg, "k"); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.Auth.Token != "plain" {
		t.Errorf("Token = %q, want plain", cfg.Auth.Token)
	}
}
