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

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/grafostech/fleet-console/internal/console"
	"github.com/grafostech/fleet-console/internal/directory"
	apperrors "github.com/grafostech/fleet-console/internal/errors"
	"github.com/grafostech/fleet-console/internal/metrics"
	"github.com/grafostech/fleet-console/internal/recognition"
	"github.com/grafostech/fleet-console/internal/session"
	"github.com/grafostech/fleet-console/internal/storage"
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

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	fs := ff.NewFlagSet("fleet-console")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "fleet-console.db", "Directory database file path")
		storagePath    = fs.StringLong("storage", "./uploads", "Uploaded image directory path")
		recognizerType = fs.StringLong("recognizer", "gemini", "Recognition backend: 'gemini', 'vertex' or 'ollama'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY / API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", recognition.DefaultGeminiModel, "Google Gemini model name")
		vertexProject  = fs.StringLong("vertex-project", "", "Google Cloud project for Vertex AI (API key is used when empty)")
		vertexLocation = fs.StringLong("vertex-location", "us-central1", "Vertex AI location")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		timeout        = fs.DurationLong("recognition-timeout", recognition.DefaultTimeout, "Time limit for one recognition call")
		maxAnalyses    = fs.IntLong("max-concurrent-analyses", 0, "Fiscal-note analyses run at once per session (0 = unlimited)")
		sessionTTL     = fs.DurationLong("session-ttl", session.DefaultTTL, "Idle time after which a session is dropped")
		adminEmail     = fs.StringLong("admin-email", "admin@grafostech.com.br", "E-mail of the administrator created on first start")
		adminPassword  = fs.StringLong("admin-password", "", "Password of the administrator created on first start (generated and logged when empty)")
		allowedOrigins = fs.StringLong("allowed-origins", "", "Comma-separated browser origins allowed to call the API with credentials")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FLEET_CONSOLE"),
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

	ctx := context.Background()

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		slog.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := directory.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	dir := directory.NewService(db)
	if err := dir.Seed(directory.SeedAdmin{Email: *adminEmail, Password: *adminPassword}); err != nil {
		slog.Error("Failed to seed directory", "error", err)
		os.Exit(1)
	}

	// Initialize recognition backend. A missing credential does not stop the
	// console: every analysis then fails with a configuration error.
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("API_KEY")
	}

	var backend recognition.Backend
	switch *recognizerType {
	case "gemini":
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		backend, err = recognition.NewGemini(ctx, apiKey, *geminiModel)
	case "vertex":
		slog.Info("Initializing Vertex recognizer...", "project", *vertexProject, "location", *vertexLocation, "model", *geminiModel)
		backend, err = recognition.NewVertex(ctx, recognition.VertexConfig{
			Project:  *vertexProject,
			Location: *vertexLocation,
			APIKey:   apiKey,
			Model:    *geminiModel,
		})
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *ollamaURL, "model", *ollamaModel)
		backend = recognition.NewOllama(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid recognizer type", "type", *recognizerType, "valid", "gemini, vertex or ollama")
		os.Exit(1)
	}
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrConfig) {
			slog.Error("Failed to initialize recognizer", "error", err)
			os.Exit(1)
		}
		slog.Warn("Recognition is not configured; analyses will fail until it is", "recognizer", *recognizerType, "error", err)
		backend = recognition.Unconfigured{Reason: err.Error()}
	}
	client := recognition.NewClient(backend,
		recognition.WithTimeout(*timeout),
		recognition.WithMetrics(m),
	)
	defer client.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := storage.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	sessions := session.NewManager(dir, session.Config{
		Recognizer:            client,
		Images:                store,
		Metrics:               m,
		TTL:                   *sessionTTL,
		MaxConcurrentAnalyses: *maxAnalyses,
	})
	defer sessions.Close()

	origins := strings.Split(*allowedOrigins, ",")
	server := console.NewServer(dir, sessions, m, console.WithAllowedOrigins(origins...))

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down server", "error", err)
	}
}
