package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

// ConfigAPI provides HTTP endpoints to view, validate and reload configuration
type ConfigAPI struct {
	cfg    *Config
	mu     sync.RWMutex
	router *mux.Router
	load   func() (*Config, error)
}

func NewConfigAPI(cfg *Config) *ConfigAPI {
	api := &ConfigAPI{
		cfg:    cfg,
		router: mux.NewRouter(),
		load:   Load,
	}
	api.routes()
	return api
}

func (api *ConfigAPI) Router() *mux.Router {
	return api.router
}

func (api *ConfigAPI) routes() {
	api.router.HandleFunc("/configure", api.getConfig).Methods("GET")
	api.router.HandleFunc("/configure/", api.getConfig).Methods("GET")
	api.router.HandleFunc("/configure/reload", api.reloadConfig).Methods("POST")
	api.router.HandleFunc("/configure/validate", api.validateConfig).Methods("POST")
	api.router.HandleFunc("/configure/llm", api.getLLMConfig).Methods("GET")
}

func (api *ConfigAPI) getConfig(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()
	safeCfg := api.safeConfigCopy()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(safeCfg)
}

// reloadConfig re-reads configuration. Components built at startup keep the
// options they were constructed with until the gateway restarts.
func (api *ConfigAPI) reloadConfig(w http.ResponseWriter, r *http.Request) {
	api.mu.Lock()
	defer api.mu.Unlock()
	reloadedCfg, err := api.load()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to reload config: %v", err), http.StatusInternalServerError)
		return
	}
	if err := reloadedCfg.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid configuration: %v", err), http.StatusBadRequest)
		return
	}
	*api.cfg = *reloadedCfg
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.safeConfigCopy())
}

func (api *ConfigAPI) validateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid configuration: %v", err), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"valid": true, "message": "configuration is valid"})
}

func (api *ConfigAPI) getLLMConfig(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()
	llmCfg := api.safeConfigCopy().Triage.LLM
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"available": api.cfg.Triage.LLM.Available(),
		"config":    llmCfg,
	})
}

func (api *ConfigAPI) safeConfigCopy() *Config {
	bytes, _ := json.Marshal(api.cfg)
	var copyCfg Config
	json.Unmarshal(bytes, &copyCfg)
	if copyCfg.Triage.LLM.APIKey != "" {
		copyCfg.Triage.LLM.APIKey = "***"
	}
	if copyCfg.Triage.Session.URL != "" {
		copyCfg.Triage.Session.URL = "***"
	}
	if copyCfg.Triage.Archive.SecretKey != "" {
		copyCfg.Triage.Archive.SecretKey = "***"
	}
	if copyCfg.Triage.Auth.Token != "" {
		copyCfg.Triage.Auth.Token = "***"
	}
	return &copyCfg
}
