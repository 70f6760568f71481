// Package extract fills triage fields from free text with a language model.
// Extraction is best effort: every failure yields an empty result.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/ericksa/legaltriage/internal/llm"
	"github.com/ericksa/legaltriage/internal/triage"
)

const systemPrompt = `You are a field extraction assistant for a legal triage system.
Your task: Extract contractType, location, and department from conversations.
Rules:
- Use ONLY the most recent conversation context
- Return canonical values (e.g., "Employment", "NDA", "Sales", "Australia")
- Use null for unclear values
- NEVER invent information
Output format: {"contractType": string|null, "location": string|null, "department": string|null}`

const instructions = "Fill only fields you are confident about based on the conversation. " +
	"Prefer country for location; prefer contract type/category for contractType; " +
	"keep department short (e.g. Engineering, Marketing)."

// FieldsSchema is the only shape the model may answer with.
var FieldsSchema = llm.MustSchema("TriageFields", llm.Closed(map[string]*jsonschema.Schema{
	string(triage.FieldContractType): llm.NullableString("Type of contract (e.g., Employment, NDA, Service Agreement)"),
	string(triage.FieldLocation):     llm.NullableString("Country or jurisdiction (e.g., Australia, United States)"),
	string(triage.FieldDepartment):   llm.NullableString("Department name (e.g., Sales, Engineering, HR)"),
}, string(triage.FieldContractType), string(triage.FieldLocation), string(triage.FieldDepartment)))

var errDisabled = errors.New("no model credential configured")

// Outcome classifies an extraction attempt.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeDisabled    Outcome = "disabled"
	OutcomeUnavailable Outcome = "unavailable"
)

// Extraction is the result of Extract. Fields only ever holds canonical
// values and is empty unless Outcome is OutcomeOK.
type Extraction struct {
	Fields  triage.SessionState
	Outcome Outcome
	Err     error
}

// Temperature is fixed so extraction stays reproducible. It is not configurable.
const Temperature = 0.0

// Options are fixed when the extractor is built.
type Options struct {
	// Enabled is false when no model credential is configured.
	Enabled       bool
	HistoryWindow int
	Logger        *log.Logger
}

// Input is the conversation context for one extraction.
type Input struct {
	History []triage.HistoryEntry
	Known   triage.SessionState
}

type Extractor struct {
	completer llm.Completer
	opts      Options
	logger    *log.Logger
}

func New(completer llm.Completer, opts Options) *Extractor {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = triage.HistoryWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Extractor{completer: completer, opts: opts, logger: logger}
}

// Available reports whether Extract will call the model at all.
func (e *Extractor) Available() bool {
	return e != nil && e.opts.Enabled && e.completer != nil
}

type payload struct {
	Message       string                `json:"message"`
	Known         triage.SessionState   `json:"known"`
	RecentHistory []triage.HistoryEntry `json:"recentHistory"`
	Instructions  string                `json:"instructions"`
}

type fields struct {
	ContractType *string `json:"contractType"`
	Location     *string `json:"location"`
	Department   *string `json:"department"`
}

// Extract asks the model for all three fields and normalizes its answer.
func (e *Extractor) Extract(ctx context.Context, message string, in Input) Extraction {
	if !e.Available() {
		return Extraction{Fields: triage.SessionState{}, Outcome: OutcomeDisabled, Err: errDisabled}
	}

	known := in.Known.Clone()
	body, err := json.Marshal(payload{
		Message:       message,
		Known:         known,
		RecentHistory: triage.RecentHistory(in.History, e.opts.HistoryWindow),
		Instructions:  instructions,
	})
	if err != nil {
		return e.fail(err)
	}

	raw, err := e.completer.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		Schema:       FieldsSchema,
		Messages:     []llm.Message{{Role: string(triage.RoleUser), Content: string(body)}},
		Temperature:  Temperature,
	})
	if err != nil {
		return e.fail(err)
	}

	var parsed fields
	if err := FieldsSchema.Decode(raw, &parsed); err != nil {
		return e.fail(err)
	}

	out := triage.SessionState{}
	set := func(f triage.Field, v *string) {
		if v == nil {
			return
		}
		if canonical := triage.Normalize(f, *v); canonical != "" {
			out[f] = canonical
		}
	}
	set(triage.FieldContractType, parsed.ContractType)
	set(triage.FieldLocation, parsed.Location)
	set(triage.FieldDepartment, parsed.Department)

	return Extraction{Fields: out, Outcome: OutcomeOK}
}

func (e *Extractor) fail(err error) Extraction {
	e.logger.Printf("[extract] failed to extract fields with LLM: %v", err)
	return Extraction{Fields: triage.SessionState{}, Outcome: OutcomeUnavailable, Err: err}
}
