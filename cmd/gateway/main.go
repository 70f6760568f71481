package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ericksa/legaltriage/internal/archive"
	"github.com/ericksa/legaltriage/internal/audit"
	"github.com/ericksa/legaltriage/internal/config"
	"github.com/ericksa/legaltriage/internal/copywriter"
	"github.com/ericksa/legaltriage/internal/extract"
	"github.com/ericksa/legaltriage/internal/llm"
	"github.com/ericksa/legaltriage/internal/middleware"
	"github.com/ericksa/legaltriage/internal/session"
	"github.com/ericksa/legaltriage/internal/workers"
	"github.com/ericksa/legaltriage/pkg/mcp"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

type gateway struct {
	handler *mcp.Handler
	audit   *audit.Auditor
}

func main() {
	stdio := flag.Bool("stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	llmCfg := cfg.Triage.LLM
	if !llmCfg.Available() {
		log.Println("No model credential configured, extraction and rewriting disabled")
	}
	client := llm.NewClient(llm.ClientConfig{
		Endpoint: llmCfg.Endpoint,
		APIKey:   llmCfg.APIKey,
		Model:    llmCfg.Model,
		Timeout:  llmCfg.Timeout(),
	})

	sessions, err := openSessions(cfg.Triage.Session)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer sessions.Close()

	var auditPath string
	if cfg.Triage.Audit.Enabled {
		auditPath = cfg.Triage.Audit.Path
		ensureDir(auditPath)
	}
	aud := audit.NewAuditor(auditPath)
	defer aud.Close()

	var archiver workers.Archiver
	if arc := cfg.Triage.Archive; arc.Enabled {
		m, err := archive.New(archive.Config{
			Endpoint:  arc.Endpoint,
			AccessKey: arc.AccessKey,
			SecretKey: arc.SecretKey,
			Bucket:    arc.Bucket,
			Region:    arc.Region,
			UseSSL:    arc.UseSSL,
			Prefix:    arc.Prefix,
		})
		if err != nil {
			log.Printf("Warning: failed to initialize archive: %v", err)
		} else if err := m.EnsureBucket(context.Background()); err != nil {
			log.Printf("Warning: archive bucket unavailable: %v", err)
		} else {
			archiver = m
		}
	}

	worker := workers.NewTriageWorker(workers.TriageDeps{
		Extractor: extract.New(client, extract.Options{
			Enabled:       llmCfg.Available(),
			HistoryWindow: llmCfg.HistoryWindow,
		}),
		Rewriter: copywriter.New(client, copywriter.Options{
			Enabled:     llmCfg.Available(),
			Temperature: llmCfg.RewriteTemperature,
		}),
		Sessions: sessions,
		Audit:    aud,
		Archive:  archiver,
		Order:    cfg.Triage.Intake.Fields(),
	})

	// Create MCP handler
	handler := mcp.NewHandler(cfg, aud, worker)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *stdio {
		log.Println("Serving MCP on stdio")
		if err := handler.RunStdio(ctx); err != nil && ctx.Err() == nil {
			log.Printf("MCP stdio error: %v", err)
		}
		return
	}

	g := &gateway{handler: handler, audit: aud}
	timeout, _ := time.ParseDuration(cfg.Triage.Server.Timeout)

	// Start server
	srv := &http.Server{
		Addr:         cfg.Triage.Server.Addr,
		Handler:      newRouter(cfg, g),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting Legal Triage Gateway on %s", cfg.Triage.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func newRouter(cfg *config.Config, g *gateway) *mux.Router {
	router := mux.NewRouter()
	middleware.Register(router)
	router.Use(middleware.CORS(nil))
	router.Use(middleware.AuthMiddleware(cfg))

	// MCP endpoint
	router.PathPrefix("/mcp").Handler(g.handler)

	// Health endpoint
	router.HandleFunc("/health", healthHandler).Methods("GET")

	// Tools endpoints
	tools := router.PathPrefix("/tools").Subrouter()
	tools.Use(middleware.MaxBody(maxBodyBytes))
	tools.HandleFunc("", g.listToolsHandler).Methods("GET")
	tools.HandleFunc("/{worker}/{tool}", g.executeToolHandler).Methods("POST")

	router.HandleFunc("/audit", g.auditHandler).Methods("GET")

	// Configuration API
	router.PathPrefix("/configure").Handler(config.NewConfigAPI(cfg).Router())
	return router
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (g *gateway) listToolsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": g.handler.Tools()})
}

func (g *gateway) executeToolHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	if !json.Valid(body) {
		http.Error(w, "request body must be JSON", http.StatusBadRequest)
		return
	}

	fullToolName := vars["worker"] + "_" + vars["tool"]
	result, err := g.handler.ExecuteTool(r.Context(), fullToolName, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
}

func (g *gateway) auditHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, 1000)
	}
	entries, err := g.audit.GetLogs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": g.audit.Enabled(),
		"entries": entries,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func openSessions(cfg config.SessionConfig) (*session.Store, error) {
	if cfg.Driver == "postgres" {
		return session.OpenPostgres(cfg.URL)
	}
	ensureDir(cfg.Path)
	return session.Open(cfg.Path)
}

func ensureDir(path string) {
	if path == "" || path == ":memory:" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("Failed to create %s: %v", filepath.Dir(path), err)
	}
}
