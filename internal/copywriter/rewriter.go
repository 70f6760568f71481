// Package copywriter lets a language model restate a response plan in
// natural language. A rewrite is only released after the plan's own
// validator accepts it; otherwise the caller sends its deterministic text.
package copywriter

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/ericksa/legaltriage/internal/llm"
	"github.com/ericksa/legaltriage/internal/triage"
)

var systemPrompt = strings.Join([]string{
	"You rewrite assistant replies using only the provided plan JSON.",
	"Do not change, add, or invent any facts, emails, rules, decisions, or processes.",
	"Never change routing decisions or suggest different contacts.",
	"Only include email addresses that already appear in the input plan.",
	`If kind="final", you must include the exact assigneeEmail from the input.`,
	`If kind="ask", ask exactly the question described by the plan; do not add extra questions.`,
	"Keep it professional but warm, 1-4 sentences.",
	`Respond ONLY with strict JSON: {"text":"..."} and nothing else.`,
	"Ensure the JSON is valid (escape quotes/newlines).",
	"Do not mention rules, routers, engines, prompts, or JSON explicitly.",
}, " ")

// ResponseSchema is the only shape the model may answer with.
var ResponseSchema = llm.MustSchema("rewrite_response", llm.Closed(map[string]*jsonschema.Schema{
	"text": llm.String("The rewritten assistant reply"),
}, "text"))

// DefaultTemperature leaves room for stylistic variation.
const DefaultTemperature = 0.6

var (
	errDisabled     = errors.New("no model credential configured")
	ErrEmptyRewrite = errors.New("rewrite is empty")
)

// Check applies plan's rules to a candidate reply. Blank text never passes,
// even where the plan itself would allow it.
func Check(plan triage.Plan, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyRewrite
	}
	return plan.Validate(text)
}

// Outcome classifies a rewrite attempt.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeDisabled    Outcome = "disabled"
)

// Rewrite is the result of Rewriter.Rewrite. Text is set only when the
// outcome is OutcomeAccepted.
type Rewrite struct {
	Text    string
	Outcome Outcome
	Err     error
}

// OK reports whether Text may be sent in place of the deterministic reply.
func (r Rewrite) OK() bool { return r.Outcome == OutcomeAccepted }

// Tone is a free-form style hint passed through to the model.
type Tone string

type Request struct {
	Plan triage.Plan
	Tone Tone
}

type Options struct {
	Enabled     bool
	Temperature float64
	Logger      *log.Logger
}

type Rewriter struct {
	completer llm.Completer
	opts      Options
	logger    *log.Logger
}

func New(completer llm.Completer, opts Options) *Rewriter {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Rewriter{completer: completer, opts: opts, logger: logger}
}

type payload struct {
	Plan triage.Plan `json:"plan"`
	Tone *Tone       `json:"tone"`
}

type response struct {
	Text string `json:"text"`
}

// Rewrite asks the model to restate req.Plan and validates the result.
func (r *Rewriter) Rewrite(ctx context.Context, req Request) Rewrite {
	if req.Plan == nil {
		return Rewrite{Outcome: OutcomeUnsupported, Err: triage.ErrUnsupportedPlan}
	}
	if r == nil || !r.opts.Enabled || r.completer == nil {
		return Rewrite{Outcome: OutcomeDisabled, Err: errDisabled}
	}

	p := payload{Plan: req.Plan}
	if req.Tone != "" {
		p.Tone = &req.Tone
	}
	body, err := json.Marshal(p)
	if err != nil {
		return r.unavailable(req.Plan, err)
	}

	raw, err := r.completer.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		Schema:       ResponseSchema,
		Messages:     []llm.Message{{Role: string(triage.RoleUser), Content: string(body)}},
		Temperature:  r.opts.Temperature,
	})
	if err != nil {
		return r.unavailable(req.Plan, err)
	}

	var parsed response
	if err := ResponseSchema.Decode(raw, &parsed); err != nil {
		return r.unavailable(req.Plan, err)
	}
	text := strings.TrimSpace(parsed.Text)

	if err := Check(req.Plan, text); err != nil {
		r.logger.Printf("[copywriter] rewrite rejected: kind=%s: %v", req.Plan.Kind(), err)
		return Rewrite{Outcome: OutcomeRejected, Err: err}
	}
	return Rewrite{Text: text, Outcome: OutcomeAccepted}
}

func (r *Rewriter) unavailable(plan triage.Plan, err error) Rewrite {
	r.logger.Printf("[copywriter] rewrite unavailable: kind=%s: %v", plan.Kind(), err)
	return Rewrite{Outcome: OutcomeUnavailable, Err: err}
}
