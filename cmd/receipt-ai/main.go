package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
	"github.com/PStewardYUL/receipt-ai/internal/imageprep"
	"github.com/PStewardYUL/receipt-ai/internal/llm"
	"github.com/PStewardYUL/receipt-ai/internal/logo"
	"github.com/PStewardYUL/receipt-ai/internal/ocr"
	"github.com/PStewardYUL/receipt-ai/internal/parser"
	"github.com/PStewardYUL/receipt-ai/internal/pdftext"
	"github.com/PStewardYUL/receipt-ai/internal/receipt"
	"github.com/PStewardYUL/receipt-ai/internal/validate"
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

	fs := ff.NewFlagSet("receipt-ai")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "receipt-ai.db", "Database file path")
		inboxPath    = fs.StringLong("inbox", "./inbox", "Inbox directory for uploads and batch runs")
		backend      = fs.StringLong("backend", "ollama", "Model backend: 'ollama', 'gemini' or 'none'")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		visionModel  = fs.StringLong("vision-model", "llava", "Ollama multimodal model for OCR fallback and logos")
		textModel    = fs.StringLong("text-model", "llama3.1", "Ollama model for field extraction")
		ollamaRate   = fs.Float64Long("ollama-rate", 0, "Maximum Ollama requests per second (0 for no limit)")
		tessdata     = fs.StringLong("tessdata", "", "Tesseract model directory (defaults to TESSDATA_PREFIX)")
		languages    = fs.StringLong("languages", "eng,fra", "Comma separated Tesseract languages")
		timeout      = fs.DurationLong("timeout", 300*time.Second, "Processing time limit per document")
		force        = fs.BoolLong("force", "Ignore cached OCR text")
		batchOnStart = fs.BoolLong("batch", "Process the inbox once the server is up")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_AI"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize model clients
	var vision, text llm.Generator
	switch *backend {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini...", "model", *geminiModel)
		gemini, err := llm.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		vision, text = gemini, gemini
	case "ollama":
		slog.Info("Initializing Ollama...", "url", *ollamaURL, "vision_model", *visionModel, "text_model", *textModel)
		visionClient := llm.NewOllama(*ollamaURL, *visionModel)
		textClient := llm.NewOllama(*ollamaURL, *textModel)
		if *ollamaRate > 0 {
			visionClient.WithRateLimit(*ollamaRate, 1)
			textClient.WithRateLimit(*ollamaRate, 1)
		}
		vision, text = visionClient, textClient
	case "none":
		slog.Info("No model backend, using local OCR and anchors only")
	default:
		slog.Error("Invalid backend", "backend", *backend, "valid", "ollama, gemini or none")
		os.Exit(1)
	}
	if vision != nil {
		defer vision.Close()
	}
	if text != nil && text != vision {
		defer text.Close()
	}

	// Initialize the recognizers
	tessCfg := ocr.DefaultTesseractConfig()
	tessCfg.DataDir = *tessdata
	tessCfg.Languages = splitList(*languages)
	tesseract := ocr.NewTesseract(tessCfg)
	defer tesseract.Close()

	stages := []ocr.Stage{{Recognizer: tesseract, Provenance: extraction.ProvenanceLocalOCR}}
	var identifier ocr.LogoIdentifier
	if vision != nil {
		stages = append(stages, ocr.Stage{Recognizer: ocr.NewVision(vision, 40), Provenance: extraction.ProvenanceVisionModel})
		identifier = logo.NewIdentifier(vision, logo.DefaultConfig())
	}
	adapter := ocr.NewAdapter(ocr.DefaultConfig(),
		pdftext.NewResolver(pdftext.DefaultConfig(), pdftext.DefaultRasterizer()),
		imageprep.New(imageprep.DefaultConfig()),
		identifier,
		stages...,
	)

	receiptParser, err := parser.New(text, validate.New(validate.DefaultConfig()), parser.DefaultConfig())
	if err != nil {
		slog.Error("Failed to initialize parser", "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*inboxPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	cfg := receipt.DefaultConfig()
	cfg.Timeout = *timeout
	var engines []receipt.Engine
	for _, st := range adapter.Stages() {
		engines = append(engines, st.Recognizer)
	}
	receiptService := receipt.NewService(db, store, adapter, receiptParser, cfg).WithEngines(engines...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if files := fs.GetArgs(); len(files) > 0 {
		if err := processFiles(ctx, receiptService, files, *force); err != nil {
			slog.Error("Processing failed", "error", err)
			os.Exit(1)
		}
		return
	}

	batch := receipt.NewBatchRunner(receiptService)
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, batch, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if *batchOnStart {
		if _, err := batch.Start(ctx, *force); err != nil {
			slog.Error("Failed to start batch", "error", err)
		}
	}

	<-ctx.Done()

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

// processFiles runs each file through the pipeline and prints the outcomes
// as JSON, one per line.
func processFiles(ctx context.Context, service *receipt.Service, files []string, force bool) error {
	enc := json.NewEncoder(os.Stdout)
	var errs []error
	for _, path := range files {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		outcome, err := service.ProcessFile(ctx, path, force)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := enc.Encode(outcome); err != nil {
			return fmt.Errorf("writing outcome: %w", err)
		}
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
