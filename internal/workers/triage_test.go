package workers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericksa/legaltriage/internal/audit"
	"github.com/ericksa/legaltriage/internal/copywriter"
	"github.com/ericksa/legaltriage/internal/extract"
	"github.com/ericksa/legaltriage/internal/llm"
	"github.com/ericksa/legaltriage/internal/session"
	"github.com/ericksa/legaltriage/internal/triage"
)

// scriptedModel answers extraction and rewrite requests with fixed bodies.
type scriptedModel struct {
	fields  string
	rewrite string
	err     error
	calls   []llm.Request
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return "", m.err
	}
	if req.Schema == extract.FieldsSchema {
		return m.fields, nil
	}
	return m.rewrite, nil
}

var quiet = log.New(io.Discard, "", 0)

func newWorker(t *testing.T, model llm.Completer) (*TriageWorker, *audit.Auditor) {
	t.Helper()
	store, err := session.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	aud := audit.NewAuditor(":memory:")
	t.Cleanup(aud.Close)

	deps := TriageDeps{Sessions: store, Audit: aud}
	if model != nil {
		deps.Extractor = extract.New(model, extract.Options{Enabled: true, HistoryWindow: triage.HistoryWindow, Logger: quiet})
		deps.Rewriter = copywriter.New(model, copywriter.Options{Enabled: true, Temperature: copywriter.DefaultTemperature, Logger: quiet})
	}
	return NewTriageWorker(deps), aud
}

func execute[T any](t *testing.T, w *TriageWorker, tool string, input any) T {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	out, err := w.Execute(context.Background(), tool, raw)
	require.NoError(t, err)
	var res T
	require.NoError(t, json.Unmarshal(out, &res))
	return res
}

func TestTriageWorker_GetTools(t *testing.T) {
	w, _ := newWorker(t, nil)
	names := map[string]bool{}
	for _, tool := range w.GetTools() {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.Description)
	}
	for _, want := range []string{"parse_answer", "next_field", "question", "extract", "rewrite", "validate_rewrite", "intake", "session_get"} {
		assert.True(t, names[want], want)
	}
}

func TestTriageWorker_UnknownTool(t *testing.T) {
	w, _ := newWorker(t, nil)
	_, err := w.Execute(context.Background(), "triage_delete_everything", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestTriageWorker_ParseAnswer(t *testing.T) {
	w, _ := newWorker(t, nil)

	res := execute[ParseAnswerResult](t, w, "parse_answer", ParseAnswerInput{Field: triage.FieldContractType, Message: "we need an NDA signed"})
	assert.True(t, res.Found)
	assert.Equal(t, "NDA", res.Value)

	res = execute[ParseAnswerResult](t, w, "triage_parse_answer", ParseAnswerInput{Field: "budget", Message: "NDA"})
	assert.False(t, res.Found)
	assert.Empty(t, res.Value)
}

func TestTriageWorker_NextFieldAndQuestion(t *testing.T) {
	w, _ := newWorker(t, nil)

	next := execute[NextFieldResult](t, w, "next_field", NextFieldInput{
		Missing: []triage.Field{triage.FieldDepartment, triage.FieldLocation},
	})
	assert.True(t, next.Found)
	assert.Equal(t, triage.FieldLocation, next.Field)

	next = execute[NextFieldResult](t, w, "next_field", NextFieldInput{})
	assert.False(t, next.Found)

	q := execute[map[string]string](t, w, "question", QuestionInput{Field: triage.FieldDepartment})
	assert.Equal(t, "Which department are you in?", q["question"])
}

func TestTriageWorker_ExtractRecordsOutcome(t *testing.T) {
	model := &scriptedModel{fields: `{"contractType":"nda","location":"Sydney","department":null}`}
	w, aud := newWorker(t, model)

	res := execute[ExtractResult](t, w, "extract", ExtractInput{Message: "mutual nda for our sydney office"})
	assert.Equal(t, extract.OutcomeOK, res.Outcome)
	assert.Equal(t, triage.SessionState{triage.FieldContractType: "NDA", triage.FieldLocation: "Australia"}, res.Fields)

	logs, err := aud.GetLogs(10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, audit.KindExtract, logs[0].Kind)
	assert.Equal(t, "ok", logs[0].Outcome)
}

func TestTriageWorker_ExtractWithoutModel(t *testing.T) {
	w, _ := newWorker(t, nil)
	res := execute[ExtractResult](t, w, "extract", ExtractInput{Message: "NDA"})
	assert.Equal(t, extract.OutcomeDisabled, res.Outcome)
	assert.Empty(t, res.Fields)
}

func TestTriageWorker_Rewrite(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		plan    triage.PlanSpec
		outcome copywriter.Outcome
	}{
		{
			name:    "accepted question",
			reply:   `{"text":"Which country are you based in?"}`,
			plan:    triage.PlanSpec{Kind: triage.KindAsk, Field: triage.FieldLocation},
			outcome: copywriter.OutcomeAccepted,
		},
		{
			name:    "question mark missing",
			reply:   `{"text":"Tell me your country."}`,
			plan:    triage.PlanSpec{Kind: triage.KindAsk, Field: triage.FieldLocation},
			outcome: copywriter.OutcomeRejected,
		},
		{
			name:    "leaked email",
			reply:   `{"text":"Contact legal@acme.com or boss@acme.com."}`,
			plan:    triage.PlanSpec{Kind: triage.KindFinal, AssigneeEmail: "legal@acme.com"},
			outcome: copywriter.OutcomeRejected,
		},
		{
			name:    "unsupported kind",
			reply:   `{"text":"hello?"}`,
			plan:    triage.PlanSpec{Kind: "escalate"},
			outcome: copywriter.OutcomeUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := newWorker(t, &scriptedModel{rewrite: tt.reply})
			res := execute[RewriteResult](t, w, "rewrite", RewriteInput{Plan: tt.plan})
			assert.Equal(t, tt.outcome, res.Outcome)
			if tt.outcome == copywriter.OutcomeAccepted {
				assert.NotEmpty(t, res.Text)
			} else {
				assert.Empty(t, res.Text)
				assert.NotEmpty(t, res.Error)
			}
		})
	}
}

func TestTriageWorker_RewriteInvalidPlan(t *testing.T) {
	w, _ := newWorker(t, &scriptedModel{})
	raw, _ := json.Marshal(RewriteInput{Plan: triage.PlanSpec{Kind: triage.KindFinal}})
	_, err := w.Execute(context.Background(), "rewrite", raw)
	assert.Error(t, err)
}

func TestTriageWorker_ValidateRewrite(t *testing.T) {
	w, _ := newWorker(t, nil)

	res := execute[ValidateRewriteResult](t, w, "validate_rewrite", ValidateRewriteInput{
		Plan: triage.PlanSpec{Kind: triage.KindFinal, AssigneeEmail: "legal@acme.com"},
		Text: "Your request is with legal@acme.com.",
	})
	assert.True(t, res.Valid)

	res = execute[ValidateRewriteResult](t, w, "validate_rewrite", ValidateRewriteInput{
		Plan: triage.PlanSpec{Kind: triage.KindFallback, FallbackEmail: "help@acme.com"},
		Text: "Email other@acme.com instead.",
	})
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Error)

	res = execute[ValidateRewriteResult](t, w, "validate_rewrite", ValidateRewriteInput{
		Plan: triage.PlanSpec{Kind: triage.KindFallback, FallbackEmail: "help@acme.com"},
		Text: "   ",
	})
	assert.False(t, res.Valid)
	assert.Equal(t, copywriter.ErrEmptyRewrite.Error(), res.Error)
}

func TestTriageWorker_IntakeDeterministic(t *testing.T) {
	w, _ := newWorker(t, nil)
	ctx := context.Background()

	res, err := w.Intake(ctx, IntakeInput{SessionID: "s1", Message: "I need an NDA"})
	require.NoError(t, err)
	assert.Equal(t, triage.SessionState{triage.FieldContractType: "NDA"}, res.State)
	assert.Equal(t, triage.FieldLocation, res.NextField)
	assert.Equal(t, triage.QuestionForField(triage.FieldLocation), res.Question)
	assert.False(t, res.Complete)
	assert.False(t, res.Rewritten)

	// an answer that does not parse leaves the pending field open
	res, err = w.Intake(ctx, IntakeInput{SessionID: "s1", Message: "somewhere nice"})
	require.NoError(t, err)
	assert.Equal(t, triage.FieldLocation, res.NextField)

	res, err = w.Intake(ctx, IntakeInput{SessionID: "s1", Message: "Berlin"})
	require.NoError(t, err)
	assert.Equal(t, "Germany", res.State[triage.FieldLocation])
	assert.Equal(t, triage.FieldDepartment, res.NextField)

	res, err = w.Intake(ctx, IntakeInput{SessionID: "s1", Message: "engineering"})
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Empty(t, res.Question)
	assert.Equal(t, "Engineering", res.State[triage.FieldDepartment])

	sess := execute[session.Session](t, w, "session_get", SessionInput{SessionID: "s1"})
	assert.Equal(t, res.State, sess.State)
	// three questions asked, four answers given
	assert.Len(t, sess.History, 7)
	assert.Equal(t, triage.RoleUser, sess.History[0].Role)
	assert.Equal(t, triage.RoleAssistant, sess.History[1].Role)
}

func TestTriageWorker_IntakeWithModel(t *testing.T) {
	model := &scriptedModel{
		fields:  `{"contractType":"Sales","location":"Berlin","department":null}`,
		rewrite: `{"text":"Thanks! Which team are you on?"}`,
	}
	w, aud := newWorker(t, model)

	res, err := w.Intake(context.Background(), IntakeInput{SessionID: "s2", Message: "NDA for our Berlin office", Tone: "friendly"})
	require.NoError(t, err)

	// the deterministic answer for the pending field wins over the model
	assert.Equal(t, "NDA", res.State[triage.FieldContractType])
	assert.Equal(t, "Germany", res.State[triage.FieldLocation])
	assert.Equal(t, extract.OutcomeOK, res.Extracted)
	assert.Equal(t, triage.FieldDepartment, res.NextField)
	assert.True(t, res.Rewritten)
	assert.Equal(t, "Thanks! Which team are you on?", res.Question)

	logs, err := aud.GetLogs(10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestTriageWorker_IntakeModelDown(t *testing.T) {
	model := &scriptedModel{err: errors.New("connection refused")}
	w, _ := newWorker(t, model)

	res, err := w.Intake(context.Background(), IntakeInput{SessionID: "s3", Message: "employment contract"})
	require.NoError(t, err)
	assert.Equal(t, "Employment", res.State[triage.FieldContractType])
	assert.Equal(t, extract.OutcomeUnavailable, res.Extracted)
	assert.False(t, res.Rewritten)
	assert.Equal(t, triage.QuestionForField(triage.FieldLocation), res.Question)
}

func TestTriageWorker_IntakeRequiresSessionID(t *testing.T) {
	w, _ := newWorker(t, nil)
	_, err := w.Intake(context.Background(), IntakeInput{Message: "NDA"})
	assert.ErrorIs(t, err, session.ErrInvalidID)
}

func TestTriageWorker_IntakeRejectsPathLikeID(t *testing.T) {
	w, _ := newWorker(t, nil)
	_, err := w.Intake(context.Background(), IntakeInput{SessionID: "../../other/x", Message: "NDA"})
	assert.ErrorIs(t, err, session.ErrInvalidID)
	assert.Empty(t, w.turns)
}

func TestTriageWorker_IntakeConcurrentTurns(t *testing.T) {
	w, _ := newWorker(t, nil)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Intake(ctx, IntakeInput{SessionID: "c1", Message: "hello"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	sess := execute[session.Session](t, w, "session_get", SessionInput{SessionID: "c1"})
	assert.Len(t, sess.History, 2*n)
	for i, h := range sess.History {
		if i%2 == 0 {
			assert.Equal(t, triage.RoleUser, h.Role)
		} else {
			assert.Equal(t, triage.RoleAssistant, h.Role)
		}
	}
	assert.Empty(t, w.turns)
}

func TestTriageWorker_IntakeStoreFailure(t *testing.T) {
	store, err := session.Open(":memory:")
	require.NoError(t, err)
	w := NewTriageWorker(TriageDeps{Sessions: store})
	require.NoError(t, store.Close())

	res, err := w.Intake(context.Background(), IntakeInput{SessionID: "f1", Message: "NDA"})
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestTriageWorker_NoSessionStore(t *testing.T) {
	w := NewTriageWorker(TriageDeps{})
	_, err := w.Intake(context.Background(), IntakeInput{SessionID: "x", Message: "NDA"})
	assert.ErrorIs(t, err, ErrNoSessions)
}

type memArchive struct {
	saved []*session.Session
	err   error
}

func (a *memArchive) Archive(ctx context.Context, sess *session.Session) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.saved = append(a.saved, sess)
	return "sessions/" + sess.ID + ".json", nil
}

func TestTriageWorker_IntakeArchivesCompletedSession(t *testing.T) {
	store, err := session.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	arch := &memArchive{}
	w := NewTriageWorker(TriageDeps{Sessions: store, Archive: arch, Order: []triage.Field{triage.FieldContractType}})

	res, err := w.Intake(context.Background(), IntakeInput{SessionID: "a1", Message: "offer letter for a new hire"})
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, "sessions/a1.json", res.Archived)
	require.Len(t, arch.saved, 1)
	assert.Equal(t, "Employment", arch.saved[0].State[triage.FieldContractType])
	assert.Len(t, arch.saved[0].History, 1)

	// archive failures never fail the turn
	arch.err = errors.New("bucket gone")
	res, err = w.Intake(context.Background(), IntakeInput{SessionID: "a2", Message: "NDA"})
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Empty(t, res.Archived)
}
