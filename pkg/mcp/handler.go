package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ericksa/legaltriage/internal/audit"
	"github.com/ericksa/legaltriage/internal/config"
	"github.com/ericksa/legaltriage/internal/workers"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type Worker = workers.Worker

type Handler struct {
	config  *config.Config
	audit   *audit.Auditor
	workers map[string]Worker
	server  *mcp.Server
	http    http.Handler
}

func NewHandler(cfg *config.Config, aud *audit.Auditor, triage *workers.TriageWorker) *Handler {
	h := &Handler{
		config:  cfg,
		audit:   aud,
		workers: make(map[string]Worker),
	}
	h.workers["triage"] = triage

	h.initMCPServer()
	return h
}

func (h *Handler) initMCPServer() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "Legal Triage Gateway",
		Version: "1.0.0",
	}, nil)

	w := h.workers["triage"]
	addTool[workers.ParseAnswerInput](h, server, "triage", w, "parse_answer")
	addTool[workers.NextFieldInput](h, server, "triage", w, "next_field")
	addTool[workers.QuestionInput](h, server, "triage", w, "question")
	addTool[workers.ExtractInput](h, server, "triage", w, "extract")
	addTool[workers.RewriteInput](h, server, "triage", w, "rewrite")
	addTool[workers.ValidateRewriteInput](h, server, "triage", w, "validate_rewrite")
	addTool[workers.IntakeInput](h, server, "triage", w, "intake")
	addTool[workers.SessionInput](h, server, "triage", w, "session_get")

	h.server = server
	h.http = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

// addTool registers one worker tool with a typed input so clients get its schema.
func addTool[In any](h *Handler, server *mcp.Server, prefix string, w Worker, name string) {
	var desc string
	for _, t := range w.GetTools() {
		if t.Name == name {
			desc = t.Description
			break
		}
	}
	toolName := fmt.Sprintf("%s_%s", prefix, name)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolName,
		Description: desc,
	}, wrapTool[In](h, toolName))
}

func wrapTool[In any](h *Handler, toolName string) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, any, error) {
		inputBytes, _ := json.Marshal(input)
		result, err := h.ExecuteTool(ctx, toolName, inputBytes)
		if err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{
					&mcp.TextContent{Text: err.Error()},
				},
			}, nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: string(result)},
			},
		}, nil, nil
	}
}

// Server returns the underlying MCP server.
func (h *Handler) Server() *mcp.Server {
	return h.server
}

// ServeHTTP serves MCP over the streamable HTTP transport.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.server == nil {
		http.Error(w, "MCP server not initialized", http.StatusInternalServerError)
		return
	}
	h.http.ServeHTTP(w, r)
}

// RunStdio serves MCP over stdin/stdout until ctx is done or the client leaves.
func (h *Handler) RunStdio(ctx context.Context) error {
	return h.server.Run(ctx, &mcp.StdioTransport{})
}

// Tools lists every tool by its full name.
func (h *Handler) Tools() []workers.ToolDef {
	var out []workers.ToolDef
	for name, worker := range h.workers {
		for _, t := range worker.GetTools() {
			out = append(out, workers.ToolDef{Name: name + "_" + t.Name, Description: t.Description})
		}
	}
	return out
}

func (h *Handler) ExecuteTool(ctx context.Context, toolName string, args json.RawMessage) ([]byte, error) {
	for name, worker := range h.workers {
		fullPrefix := name + "_"
		if shortName, ok := strings.CutPrefix(toolName, fullPrefix); ok && shortName != "" {
			result, err := worker.Execute(ctx, shortName, args)
			h.audit.Log(toolName, args, result, err)
			return result, err
		}
	}
	return nil, fmt.Errorf("tool not found: %s", toolName)
}
