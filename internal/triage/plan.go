package triage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags the variant of a Plan.
type Kind string

const (
	KindAsk      Kind = "ask"
	KindFinal    Kind = "final"
	KindFallback Kind = "fallback"
)

// ErrUnsupportedPlan is returned when a plan kind has no variant.
var ErrUnsupportedPlan = errors.New("unsupported plan kind")

// Plan is the fact-bearing instruction for the next reply. It is produced by
// the routing rules and only ever read here. Every variant carries its own
// rewrite validator, so a new kind cannot exist without one.
type Plan interface {
	Kind() Kind
	// Validate reports why text cannot stand in for the plan, or nil.
	Validate(text string) error
	plan()
}

// AskPlan asks the user for a missing field.
type AskPlan struct {
	Field    Field  `json:"field"`
	Question string `json:"question,omitempty"`
}

// FinalPlan routes the request to a single assignee.
type FinalPlan struct {
	AssigneeEmail string `json:"assigneeEmail"`
	Text          string `json:"text,omitempty"`
}

// FallbackPlan is used when no rule matched. FallbackEmail may be empty.
type FallbackPlan struct {
	FallbackEmail string `json:"fallbackEmail,omitempty"`
	Text          string `json:"text,omitempty"`
}

func (AskPlan) Kind() Kind { return KindAsk }
func (FinalPlan) Kind() Kind { return KindFinal }
func (FallbackPlan) Kind() Kind { return KindFallback }

func (AskPlan) plan() {}
func (FinalPlan) plan() {}
func (FallbackPlan) plan() {}

func (p AskPlan) MarshalJSON() ([]byte, error) {
	type alias AskPlan
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{KindAsk, alias(p)})
}

func (p FinalPlan) MarshalJSON() ([]byte, error) {
	type alias FinalPlan
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{KindFinal, alias(p)})
}

func (p FallbackPlan) MarshalJSON() ([]byte, error) {
	type alias FallbackPlan
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		alias
	}{KindFallback, alias(p)})
}

// PlanSpec is the flat wire form of a Plan.
type PlanSpec struct {
	Kind          Kind   `json:"kind" jsonschema:"one of ask, final or fallback"`
	Field         Field  `json:"field,omitempty" jsonschema:"field being asked for when kind is ask"`
	Question      string `json:"question,omitempty"`
	AssigneeEmail string `json:"assigneeEmail,omitempty" jsonschema:"routing email when kind is final"`
	FallbackEmail string `json:"fallbackEmail,omitempty" jsonschema:"allowed email when kind is fallback"`
	Text          string `json:"text,omitempty" jsonschema:"deterministic reply text"`
}

// Plan builds the variant named by s.Kind.
func (s PlanSpec) Plan() (Plan, error) {
	switch s.Kind {
	case KindAsk:
		if s.Field == "" {
			return nil, errors.New("ask plan requires a field")
		}
		q := s.Question
		if q == "" {
			q = QuestionForField(s.Field)
		}
		return AskPlan{Field: s.Field, Question: q}, nil
	case KindFinal:
		if s.AssigneeEmail == "" {
			return nil, errors.New("final plan requires an assignee email")
		}
		return FinalPlan{AssigneeEmail: s.AssigneeEmail, Text: s.Text}, nil
	case KindFallback:
		return FallbackPlan{FallbackEmail: s.FallbackEmail, Text: s.Text}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlan, s.Kind)
	}
}
