package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/splitbill/internal/logging"
	"github.com/zombor/splitbill/internal/parser"
	"github.com/zombor/splitbill/internal/persist"
	"github.com/zombor/splitbill/internal/scanning"
	"github.com/zombor/splitbill/internal/session"
	"github.com/zombor/splitbill/internal/settle"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	defaults := scanning.DefaultOptions()
	exportDefaults := settle.DefaultExportOptions()

	fs := ff.NewFlagSet("splitbill")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		storeType     = fs.StringLong("store", "bolt", "Bill store: 'bolt' or 'redis'")
		dbPath        = fs.StringLong("db", "splitbill.db", "Database file path (bolt store)")
		redisAddr     = fs.StringLong("redis-addr", "localhost:6379", "Redis address (redis store)")
		redisPassword = fs.StringLong("redis-password", "", "Redis password")
		redisDB       = fs.IntLong("redis-db", 0, "Redis database number")
		redisTTL      = fs.DurationLong("redis-ttl", 0, "Expire bills untouched for this long (0 keeps them)")
		imagesPath    = fs.StringLong("images", "./receipts", "Directory for uploaded receipt photos")
		scannerType   = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'none'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		ocrLang       = fs.StringLong("ocr-lang", defaults.Languages, "Receipt languages, joined by '+'")
		ocrPSM        = fs.IntLong("ocr-psm", defaults.PageSegMode, "Page segmentation mode")
		ocrMaxSize    = fs.IntLong("ocr-max-size", scanning.DefaultMaxImageSize, "Longest image side before recognition (0 keeps the original)")
		scanTimeout   = fs.DurationLong("scan-timeout", 0, "Upper bound for a single scan (0 means none)")
		idleTimeout   = fs.DurationLong("idle-timeout", session.DefaultIdleTimeout, "Drop bills from memory after this long without a request")
		localePath    = fs.StringLong("locale", "", "YAML file overriding the receipt vocabulary (optional)")
		currency      = fs.StringLong("currency", exportDefaults.Currency, "Currency sign in the exported summary")
		zeroLabel     = fs.StringLong("zero-label", exportDefaults.ZeroLabel, "Shown instead of a zero amount")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SPLITBILL"),
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

	logging.Setup(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize bill store
	var kv persist.KV
	switch *storeType {
	case "bolt":
		slog.Info("Initializing database...", "path", *dbPath)
		db, err := persist.NewBoltStore(*dbPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		kv = db
	case "redis":
		slog.Info("Connecting to redis...", "address", *redisAddr, "db", *redisDB)
		rdb := persist.NewRedisStore(*redisAddr, *redisPassword, *redisDB, persist.WithTTL(*redisTTL))
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Error("Failed to connect to redis", "error", err)
			os.Exit(1)
		}
		kv = rdb
	default:
		slog.Error("Invalid store type", "type", *storeType, "valid", "bolt or redis")
		os.Exit(1)
	}
	defer kv.Close()

	// Initialize recognizer based on type
	opts := scanning.Options{Languages: *ocrLang, PageSegMode: *ocrPSM}
	var recognizer scanning.Recognizer
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		g, err := scanning.NewGemini(ctx, apiKey, *geminiModel, opts)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		recognizer = g
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer = scanning.NewOllama(*ollamaURL, *ollamaModel, opts)
	case "none":
		slog.Warn("No scanner configured; receipts must be entered by hand")
		recognizer = scanning.Disabled{}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini, ollama or none")
		os.Exit(1)
	}
	defer recognizer.Close()

	// Initialize receipt vocabulary
	locale := parser.DefaultLocale()
	if *localePath != "" {
		var err error
		locale, err = parser.LoadLocale(*localePath)
		if err != nil {
			slog.Error("Failed to load locale", "path", *localePath, "error", err)
			os.Exit(1)
		}
	}
	lineParser, err := parser.New(locale)
	if err != nil {
		slog.Error("Invalid locale", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	slog.Info("Initializing storage...", "path", *imagesPath)
	images, err := session.NewLocalStorage(*imagesPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	service := session.NewService(kv, recognizer, lineParser, images, session.NewMetrics(registry), session.Options{
		MaxImageSize: *ocrMaxSize,
		ScanTimeout:  *scanTimeout,
		IdleTimeout:  *idleTimeout,
		Shared:       *storeType == "redis",
		Export:       settle.ExportOptions{Currency: *currency, ZeroLabel: *zeroLabel},
	})

	basicAuth := session.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := session.NewServer(service, basicAuth, registry)

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}
}
