package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tutorstream/internal/adapter/tui/chat"
	"tutorstream/internal/domain"
	"tutorstream/internal/infra/config"
	"tutorstream/internal/infra/logger"
	"tutorstream/internal/infra/observe"
	"tutorstream/internal/infra/tracer"
)

func main() {
	cmd, _ := parseCommand(os.Args[1:])
	if cmd == "help" || hasFlag("--help") || hasFlag("-h") {
		showUsage()
		return
	}

	var err error
	switch cmd {
	case "chat":
		err = runChat()
	case "ask":
		err = runAsk()
	case "sim":
		err = runSim()
	case "encrypt":
		err = runEncrypt()
	case "doctor":
		err = runDoctor()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'tutorstream --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`tutorstream - live reasoning stream client for the tutoring backend

USAGE:
    tutorstream [COMMAND] [FLAGS]

COMMANDS:
    chat             Interactive chat with a live reasoning pane (default)
    ask QUESTION     Ask one question and print the reasoning as it arrives
    sim              Run the local development backend
    encrypt VALUE    Encrypt a secret for the config file
    doctor           Run health checks on your setup

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --session ID       Session to ask in (ask only; default: new session)
    --metrics          Print client metrics in Prometheus text format on exit

CONFIGURATION:
    Config file: ./config.yaml (defaults target a local 'tutorstream sim')
    Environment: TUTORSTREAM_* variables override config
    Secrets:     values written as enc:... are decrypted with TUTORSTREAM_CONFIG_KEY

EXAMPLES:
    tutorstream sim                            # Start the dev backend
    tutorstream                                # Chat against it
    tutorstream ask "What is a derivative?"    # One-shot question
    tutorstream ask --session s1 --metrics "And the chain rule?"
    TUTORSTREAM_CONFIG_KEY=pass tutorstream encrypt my-token`)
}

func configPath() string {
	if v, ok := flagValue("--config"); ok {
		return v
	}
	if p := os.Getenv("TUTORSTREAM_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// flagValue finds "--name value" or "--name=value" in os.Args.
func flagValue(name string) (string, bool) {
	for i, arg := range os.Args {
		if arg == name && i+1 < len(os.Args) {
			return os.Args[i+1], true
		}
		if strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"="), true
		}
	}
	return "", false
}

func hasFlag(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}

// valueFlags take the following argument as their value.
var valueFlags = map[string]bool{"--config": true, "--session": true}

// parseCommand picks the subcommand and its positional arguments out of args.
// Flags may come before or after the command; the first bare word is the
// command and defaults to chat.
func parseCommand(args []string) (string, []string) {
	var cmd string
	var pos []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case valueFlags[arg]:
			i++
		case arg == "-h" || strings.HasPrefix(arg, "--"):
		case cmd == "":
			cmd = arg
		default:
			pos = append(pos, arg)
		}
	}
	if cmd == "" {
		cmd = "chat"
	}
	return cmd, pos
}

// positional returns the arguments after the subcommand that are not flags
// or flag values.
func positional() []string {
	_, pos := parseCommand(os.Args[1:])
	return pos
}

// runtime holds the ambient services every command shares.
type runtime struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics
	obs     domain.Observer
	close   func()
}

func initRuntime(ctx context.Context, quietConsole bool) (*runtime, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// The terminal UI owns the screen; console log output would tear it.
	logCfg := cfg.Logger
	if quietConsole && (logCfg.Output == "" || logCfg.Output == "stderr" || logCfg.Output == "stdout") {
		logCfg.Output = "discard"
	}
	log, logCloser, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	slog.SetDefault(log)

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, fmt.Errorf("tracer: %w", err)
	}

	metrics := observe.NewMetrics()
	rt := &runtime{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		obs:     observe.Multi{metrics, observe.NewLogObserver(logger.Component(log, "observe"))},
	}
	rt.close = func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
		if hasFlag("--metrics") {
			metrics.WritePrometheus(os.Stdout)
		}
		logCloser()
	}
	return rt, nil
}

func runChat() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := initRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.close()

	client := initClient(rt)
	defer client.Close()

	// A failed first dial keeps retrying in the background; the status bar shows it.
	if _, err := client.Connect(ctx); err != nil {
		rt.log.Warn("initial connect failed", "error", err)
	}
	client.Surface.OpenDraft(ctx)

	rt.log.Info("tutorstream chat starting", "ws_url", rt.cfg.Server.WSURL, "user_id", rt.cfg.Auth.UserID)
	return chat.NewProgram(client.Surface, client.Manager, logger.Component(rt.log, "tui")).Run(ctx)
}

func runEncrypt() error {
	args := positional()
	if len(args) != 1 {
		return fmt.Errorf("usage: tutorstream encrypt VALUE")
	}
	passphrase := os.Getenv("TUTORSTREAM_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("TUTORSTREAM_CONFIG_KEY must be set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
