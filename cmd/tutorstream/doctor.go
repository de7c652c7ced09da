package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tutorstream/internal/adapter/wsclient"
	"tutorstream/internal/domain"
	"tutorstream/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Credentials", Fn: checkCredentials},
		{Name: "Backend health", Fn: checkBackendHealth},
		{Name: "Reasoning stream", Fn: checkStream},
		{Name: "Log output", Fn: checkLogOutput},
	}

	fmt.Println("tutorstream doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn == 0 {
		fmt.Println("\nAll checks passed.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loads. A missing
// file is only a warning: the defaults target a local development backend.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Fix the reported fields in " + cfgPath,
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create config.yaml or pass --config",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkCredentials(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if cfg.Auth.UserID == "" || cfg.Auth.Token == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "auth.user_id and auth.token are required",
			Fix:     "Set them in config.yaml or via TUTORSTREAM_USER_ID / TUTORSTREAM_TOKEN",
		}
	}
	if strings.HasPrefix(cfg.Auth.Token, "enc:") {
		return CheckResult{
			Status:  StatusFail,
			Message: "auth.token is encrypted but TUTORSTREAM_CONFIG_KEY is not set",
			Fix:     "Export TUTORSTREAM_CONFIG_KEY with the passphrase used by 'tutorstream encrypt'",
		}
	}
	if cfg.Auth.Token == config.Defaults().Auth.Token {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("using the development token for user %s", cfg.Auth.UserID),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("credentials configured for user %s", cfg.Auth.UserID),
	}
}

// checkBackendHealth probes the backend's /healthz endpoint.
func checkBackendHealth(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint := strings.TrimRight(cfg.Server.APIURL, "/") + "/healthz"
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Start the backend ('tutorstream sim' for local development) and check server.api_url",
		}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s answered %d", endpoint, resp.StatusCode),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("backend reachable (latency: %dms)", latency.Milliseconds()),
	}
}

// checkStream opens the WebSocket and authenticates once.
func checkStream(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := wsclient.Dialer{URL: cfg.Server.WSURL}.Dial(ctx)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Server.WSURL, err),
			Fix:     "Check server.ws_url and that the backend accepts WebSocket upgrades",
		}
	}
	defer conn.Close("doctor done")

	auth := domain.AuthenticatePayload{UserID: cfg.Auth.UserID, Token: cfg.Auth.Token}
	if err := conn.Send(ctx, domain.EventAuthenticate, auth); err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("send authenticate: %v", err)}
	}
	for {
		ev, err := conn.Receive(ctx)
		if err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("no authentication reply: %v", err),
			}
		}
		msg, ok := ev.Message.(domain.Authenticated)
		if !ok {
			continue
		}
		if !msg.Success {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("authentication rejected: %s", msg.Error),
				Fix:     "Check auth.user_id and auth.token",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("authenticated as %s", cfg.Auth.UserID),
		}
	}
}

func checkLogOutput(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	switch strings.ToLower(cfg.Logger.Output) {
	case "", "stdout", "stderr", "discard":
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("logging to %s (the chat screen discards console logs)", orDefault(cfg.Logger.Output, "stderr")),
		}
	}
	dir := filepath.Dir(cfg.Logger.Output)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("log directory %s does not exist", dir),
			Fix:     "Create the directory or change logger.output",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("logging to %s", cfg.Logger.Output),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
