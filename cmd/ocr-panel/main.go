package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/ocr-panel/internal/clipboard"
	"github.com/zombor/ocr-panel/internal/panel"
	"github.com/zombor/ocr-panel/internal/scanning"
	"github.com/zombor/ocr-panel/internal/web"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	port              int
	scanner           string
	apiKey            string
	ninjasURL         string
	geminiKey         string
	geminiModel       string
	ollamaURL         string
	ollamaModel       string
	visionCredentials string
	clipboard         string
	toastDuration     time.Duration
	requestTimeout    time.Duration
	sessionTTL        time.Duration
	authUser          string
	authPass          string
	logLevel          string
	logFormat         string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; real environment variables still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
		os.Exit(1)
	}

	var cfg config
	fs := ff.NewFlagSet("ocr-panel")
	fs.IntVar(&cfg.port, 0, "port", 8080, "HTTP server port")
	fs.StringVar(&cfg.scanner, 0, "scanner", "ninjas", "OCR backend: 'ninjas', 'gemini', 'ollama' or 'vision'")
	fs.StringVar(&cfg.apiKey, 0, "api-key", "", "API Ninjas key (or set NINJAS_API_KEY env var)")
	fs.StringVar(&cfg.ninjasURL, 0, "ninjas-url", scanning.DefaultNinjasURL, "API Ninjas imagetotext endpoint")
	fs.StringVar(&cfg.geminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	fs.StringVar(&cfg.geminiModel, 0, "gemini-model", "gemini-2.5-pro", "Google Gemini model name")
	fs.StringVar(&cfg.ollamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	fs.StringVar(&cfg.ollamaModel, 0, "ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
	fs.StringVar(&cfg.visionCredentials, 0, "vision-credentials", "", "Google Cloud service account JSON for the vision scanner (default: application default credentials)")
	fs.StringVar(&cfg.clipboard, 0, "clipboard", "browser", "Clipboard target: 'browser' (the user's), 'system' (the server host's) or 'memory'")
	fs.DurationVar(&cfg.toastDuration, 0, "toast-duration", 3*time.Second, "How long notifications stay visible")
	fs.DurationVar(&cfg.requestTimeout, 0, "request-timeout", 30*time.Second, "Timeout for a single OCR request")
	fs.DurationVar(&cfg.sessionTTL, 0, "session-ttl", 30*time.Minute, "Idle time after which a browser session is discarded")
	fs.StringVar(&cfg.authUser, 0, "auth-user", "", "Basic auth username (optional)")
	fs.StringVar(&cfg.authPass, 0, "auth-pass", "", "Basic auth password (optional)")
	fs.StringVar(&cfg.logLevel, 0, "log-level", "info", "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.logFormat, 0, "log-format", "text", "Log format: 'text' or 'json'")
	fs.StringLong("config", "", "Config file (optional)")
	showVersion := fs.BoolLong("version", "Show version information")

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("OCR_PANEL"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(cfg.logLevel, cfg.logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: want text or json", format)
	}
}

func run(cfg config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner, err := newScanner(ctx, cfg)
	if err != nil {
		return err
	}
	defer scanner.Close()

	cb, err := newClipboard(cfg.clipboard)
	if err != nil {
		return err
	}

	sessions := web.NewSessions(func() *panel.Panel {
		return panel.New(ctx, scanner, cb, panel.Options{
			ToastDuration:  cfg.toastDuration,
			RequestTimeout: cfg.requestTimeout,
		})
	}, cfg.sessionTTL)
	defer sessions.Close()

	basicAuth := web.BasicAuth{
		Username: cfg.authUser,
		Password: cfg.authPass,
	}
	server := web.NewServer(sessions, basicAuth)

	addr := fmt.Sprintf(":%d", cfg.port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, addr)
	})

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "scanner", cfg.scanner)
	if cfg.authUser != "" || cfg.authPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.authUser)
	}

	err = g.Wait()
	slog.Info("Shutting down...")
	return err
}

func newScanner(ctx context.Context, cfg config) (scanning.Scanner, error) {
	switch cfg.scanner {
	case "ninjas":
		apiKey := cfg.apiKey
		if apiKey == "" {
			apiKey = os.Getenv("NINJAS_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("api ninjas key is required: set --api-key flag or NINJAS_API_KEY environment variable")
		}
		slog.Info("Initializing API Ninjas scanner...", "url", cfg.ninjasURL)
		return scanning.NewNinjas(cfg.ninjasURL, apiKey, cfg.requestTimeout)
	case "gemini":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini api key is required: set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
		slog.Info("Initializing Gemini scanner...", "model", cfg.geminiModel)
		return scanning.NewGemini(ctx, apiKey, cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	case "vision":
		slog.Info("Initializing Cloud Vision scanner...")
		return scanning.NewVision(ctx, cfg.visionCredentials)
	default:
		return nil, fmt.Errorf("invalid scanner type %q: want ninjas, gemini, ollama or vision", cfg.scanner)
	}
}

// newClipboard returns the server-side clipboard. It is nil in browser mode,
// where the page writes the user's clipboard and reports the outcome.
func newClipboard(kind string) (clipboard.Clipboard, error) {
	switch kind {
	case "browser":
		return nil, nil
	case "memory":
		slog.Warn("Copied text stays in server memory and never reaches a user's clipboard")
		return clipboard.NewMemory(), nil
	case "system":
		cb, err := clipboard.NewSystem()
		if err != nil {
			return nil, fmt.Errorf("opening system clipboard: %w", err)
		}
		return cb, nil
	default:
		return nil, fmt.Errorf("invalid clipboard %q: want browser, system or memory", kind)
	}
}
