package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ericksa/legaltriage/internal/audit"
	"github.com/ericksa/legaltriage/internal/copywriter"
	"github.com/ericksa/legaltriage/internal/extract"
	"github.com/ericksa/legaltriage/internal/session"
	"github.com/ericksa/legaltriage/internal/triage"
)

var ErrNoSessions = errors.New("session store not configured")

// Archiver stores a copy of a finished conversation and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, sess *session.Session) (string, error)
}

// TriageWorker exposes the field resolver, extractor and copy rewriter as tools.
type TriageWorker struct {
	extractor *extract.Extractor
	rewriter  *copywriter.Rewriter
	sessions  *session.Store
	audit     *audit.Auditor
	archive   Archiver
	order     []triage.Field

	mu    sync.Mutex
	turns map[string]*turnLock
}

// turnLock serializes intake turns for one session id.
type turnLock struct {
	sync.Mutex
	waiters int
}

type TriageDeps struct {
	Extractor *extract.Extractor
	Rewriter  *copywriter.Rewriter
	Sessions  *session.Store
	Audit     *audit.Auditor
	// Archive receives each session once intake completes. Optional.
	Archive Archiver
	// Order is the required field order. DefaultOrder when empty.
	Order []triage.Field
}

func NewTriageWorker(deps TriageDeps) *TriageWorker {
	order := deps.Order
	if len(order) == 0 {
		order = triage.DefaultOrder
	}
	return &TriageWorker{
		extractor: deps.Extractor,
		rewriter:  deps.Rewriter,
		sessions:  deps.Sessions,
		audit:     deps.Audit,
		archive:   deps.Archive,
		order:     order,
		turns:     make(map[string]*turnLock),
	}
}

// lockSession blocks until no other intake turn for id is running and
// returns the matching unlock.
func (w *TriageWorker) lockSession(id string) func() {
	w.mu.Lock()
	l, ok := w.turns[id]
	if !ok {
		l = &turnLock{}
		w.turns[id] = l
	}
	l.waiters++
	w.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		w.mu.Lock()
		if l.waiters--; l.waiters == 0 {
			delete(w.turns, id)
		}
		w.mu.Unlock()
	}
}

func (w *TriageWorker) GetTools() []ToolDef {
	return []ToolDef{
		{Name: "parse_answer", Description: "Normalize a user message into the canonical value for one field"},
		{Name: "next_field", Description: "Pick the next missing field in the required order"},
		{Name: "question", Description: "Get the deterministic question for a field"},
		{Name: "extract", Description: "Extract all triage fields from a message using the model"},
		{Name: "rewrite", Description: "Rewrite a reply plan's text with the model and validate it"},
		{Name: "validate_rewrite", Description: "Check a candidate reply against a plan's rules"},
		{Name: "intake", Description: "Run one intake turn for a stored conversation"},
		{Name: "session_get", Description: "Get a stored conversation's fields and history"},
	}
}

func (w *TriageWorker) Execute(ctx context.Context, name string, input json.RawMessage) ([]byte, error) {
	switch strings.TrimPrefix(name, "triage_") {
	case "parse_answer":
		return w.parseAnswer(input)
	case "next_field":
		return w.nextField(input)
	case "question":
		return w.question(input)
	case "extract":
		return w.extract(ctx, input)
	case "rewrite":
		return w.rewrite(ctx, input)
	case "validate_rewrite":
		return w.validateRewrite(input)
	case "intake":
		return w.intake(ctx, input)
	case "session_get":
		return w.sessionGet(ctx, input)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

type ParseAnswerInput struct {
	Field   triage.Field `json:"field" jsonschema:"contractType, location or department"`
	Message string       `json:"message"`
}

type ParseAnswerResult struct {
	Field triage.Field `json:"field"`
	Value string       `json:"value,omitempty"`
	Found bool         `json:"found"`
}

func (w *TriageWorker) parseAnswer(input json.RawMessage) ([]byte, error) {
	var req ParseAnswerInput
	if err := decode(input, &req); err != nil {
		return nil, err
	}
	v := triage.ParseAnswerForField(req.Field, req.Message)
	return json.Marshal(ParseAnswerResult{Field: req.Field, Value: v, Found: v != ""})
}

type NextFieldInput struct {
	Missing       []triage.Field `json:"missing"`
	RequiredOrder []triage.Field `json:"requiredOrder,omitempty" jsonschema:"defaults to the configured order"`
}

type NextFieldResult struct {
	Field triage.Field `json:"field,omitempty"`
	Found bool         `json:"found"`
}

func (w *TriageWorker) nextField(input json.RawMessage) ([]byte, error) {
	var req NextFieldInput
	if err := decode(input, &req); err != nil {
		return nil, err
	}
	order := req.RequiredOrder
	if len(order) == 0 {
		order = w.order
	}
	f, ok := triage.ChooseNextField(req.Missing, order)
	return json.Marshal(NextFieldResult{Field: f, Found: ok})
}

type QuestionInput struct {
	Field triage.Field `json:"field"`
}

func (w *TriageWorker) question(input json.RawMessage) ([]byte, error) {
	var req QuestionInput
	if err := decode(input, &req); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"question": triage.QuestionForField(req.Field)})
}

type ExtractInput struct {
	Message string                `json:"message"`
	History []triage.HistoryEntry `json:"history,omitempty"`
	Known   triage.SessionState   `json:"known,omitempty"`
}

type ExtractResult struct {
	Fields  triage.SessionState `json:"fields"`
	Outcome extract.Outcome     `json:"outcome"`
	Error   string              `json:"error,omitempty"`
}

func (w *TriageWorker) extract(ctx context.Context, input json.RawMessage) ([]byte, error) {
	var req ExtractInput
	if err := decode(input, &req); err != nil {
		return nil, err
	}
	res := w.runExtract(ctx, req.Message, extract.Input{History: req.History, Known: req.Known})
	return json.Marshal(ExtractResult{Fields: res.Fields, Outcome: res.Outcome, Error: errString(res.Err)})
}

func (w *TriageWorker) runExtract(ctx context.Context, message string, in extract.Input) extract.Extraction {
	if w.extractor == nil {
		return extract.Extraction{Fields: triage.SessionState{}, Outcome: extract.OutcomeDisabled}
	}
	res := w.extractor.Extract(ctx, message, in)
	w.audit.Record(audit.KindExtract, string(res.Outcome), res.Err)
	return res
}

type RewriteInput struct {
	Plan triage.PlanSpec `json:"plan"`
	Tone copywriter.Tone `json:"tone,omitempty" jsonschema:"optional style hint"`
}

type RewriteResult struct {
	Text    string             `json:"text,omitempty"`
	Outcome copywriter.Outcome `json:"outcome"`
	Error   string             `json:"error,omitempty"`
}

func (w *TriageWorker) rewrite(ctx context.Context, input json.RawMessage) ([]byte, error) {
	var req RewriteInput
	if err := decode(input, &req); err != nil {
		return nil, err
	}
	plan, err := req.Plan.Plan()
	if err != nil && !errors.Is(err, triage.ErrUnsupportedPlan) {
		return nil, err
	}
	// an unsupported kind leaves plan nil, which the rewriter reports as unsupported
	res := w.runRewrite(ctx, copywriter.Request{Plan: plan, Tone: req.Tone})
	return json.Marshal(RewriteResult{Text: res.Text, Outcome: res.Outcome, Error: errString(res.Err)})
}

func (w *TriageWorker) runRewrite(ctx context.Context, req copywriter.Request) copywriter.Rewrite {
	res := w.rewriter.Rewrite(ctx, req)
	w.audit.Record(audit.KindRewrite, string(res.Outcome), res.Err)
	return res
}

type ValidateRewriteInput struct {
	Plan triage.PlanSpec `json:"plan"`
	Text string          `json:"text"`
}

type ValidateRewriteResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (w *TriageWorker) validateRewrite(input json.RawMessage) ([]byte, error) {
	var req ValidateRewriteInput
	if err := decode(input, &req); err != nil {
		return nil, err
	}
	plan, err := req.Plan.Plan()
	if err != nil {
		return nil, err
	}
	verr := copywriter.Check(plan, strings.TrimSpace(req.Text))
	return json.Marshal(ValidateRewriteResult{Valid: verr == nil, Error: errString(verr)})
}

type IntakeInput struct {
	SessionID string          `json:"sessionId"`
	Message   string          `json:"message"`
	Tone      copywriter.Tone `json:"tone,omitempty" jsonschema:"optional style hint for the next question"`
}

type IntakeResult struct {
	SessionID string              `json:"sessionId"`
	State     triage.SessionState `json:"state"`
	NextField triage.Field        `json:"nextField,omitempty"`
	Question  string              `json:"question,omitempty"`
	Complete  bool                `json:"complete"`
	Extracted extract.Outcome     `json:"extracted,omitempty"`
	Rewritten bool                `json:"rewritten"`
	Archived  string              `json:"archived,omitempty"`
}

// Intake runs one conversational turn: the message answers the pending field
// if it can, the model fills remaining gaps, and the next question is chosen
// and recorded. Turns for the same session run one at a time. Routing once
// Complete is left to the caller.
func (w *TriageWorker) Intake(ctx context.Context, req IntakeInput) (*IntakeResult, error) {
	if w.sessions == nil {
		return nil, ErrNoSessions
	}
	if err := session.ValidID(req.SessionID); err != nil {
		return nil, err
	}
	defer w.lockSession(req.SessionID)()

	sess, err := w.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	state := sess.State.Clone()
	history := sess.History
	res := &IntakeResult{SessionID: req.SessionID}

	if pending, ok := triage.ChooseNextField(state.Missing(w.order), w.order); ok {
		if v := triage.ParseAnswerForField(pending, req.Message); v != "" {
			state.Merge(triage.SessionState{pending: v})
		}
	}

	if len(state.Missing(w.order)) > 0 && w.extractor != nil && w.extractor.Available() {
		ext := w.runExtract(ctx, req.Message, extract.Input{History: history, Known: state})
		res.Extracted = ext.Outcome
		state.Fill(ext.Fields)
	}

	user := triage.HistoryEntry{Role: triage.RoleUser, Content: req.Message}
	entries := []triage.HistoryEntry{user}

	next, ok := triage.ChooseNextField(state.Missing(w.order), w.order)
	if ok {
		res.NextField = next
		res.Question = triage.QuestionForField(next)
		rw := w.runRewrite(ctx, copywriter.Request{
			Plan: triage.AskPlan{Field: next, Question: res.Question},
			Tone: req.Tone,
		})
		if rw.OK() {
			res.Question = rw.Text
			res.Rewritten = true
		}
		entries = append(entries, triage.HistoryEntry{Role: triage.RoleAssistant, Content: res.Question})
	} else {
		res.Complete = true
	}

	if err := w.sessions.SaveTurn(ctx, req.SessionID, state, entries...); err != nil {
		return nil, err
	}
	res.State = state

	if res.Complete && w.archive != nil {
		done := &session.Session{ID: req.SessionID, State: state, History: append(sess.History, entries...)}
		key, err := w.archive.Archive(ctx, done)
		if err != nil {
			log.Printf("[archive] %v", err)
		} else {
			res.Archived = key
		}
	}
	return res, nil
}

func (w *TriageWorker) intake(ctx context.Context, input json.RawMessage) ([]byte, error) {
	var req IntakeInput
	if err := decode(input, &req); err != nil {
		return nil, err
	}
	res, err := w.Intake(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

type SessionInput struct {
	SessionID string `json:"sessionId"`
}

func (w *TriageWorker) sessionGet(ctx context.Context, input json.RawMessage) ([]byte, error) {
	if w.sessions == nil {
		return nil, ErrNoSessions
	}
	var req SessionInput
	if err := decode(input, &req); err != nil {
		return nil, err
	}
	sess, err := w.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sess)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
