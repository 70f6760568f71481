package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownTool = errors.New("unknown tool")

type ToolDef struct {
	Name        string
	Description string
}

// Worker is a named group of tools callable over MCP and HTTP.
type Worker interface {
	GetTools() []ToolDef
	Execute(ctx context.Context, name string, input json.RawMessage) ([]byte, error)
}

func decode(input json.RawMessage, dst any) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, dst); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}
