package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChooseNextField_FollowsRequiredOrder(t *testing.T) {
	next, ok := ChooseNextField([]Field{FieldDepartment, FieldContractType}, DefaultOrder)
	assert.True(t, ok)
	assert.Equal(t, FieldContractType, next)

	next, ok = ChooseNextField([]Field{FieldDepartment, FieldLocation}, DefaultOrder)
	assert.True(t, ok)
	assert.Equal(t, FieldLocation, next)
}

func TestChooseNextField_NothingMissing(t *testing.T) {
	_, ok := ChooseNextField(nil, DefaultOrder)
	assert.False(t, ok)

	_, ok = ChooseNextField([]Field{"budget"}, DefaultOrder)
	assert.False(t, ok)

	_, ok = ChooseNextField([]Field{FieldLocation}, []Field{FieldContractType})
	assert.False(t, ok)
}

func TestQuestionForField(t *testing.T) {
	assert.Equal(t, "Is this Sales, Employment, or NDA?", QuestionForField(FieldContractType))
	assert.Equal(t, "Which country or region are you currently in?", QuestionForField(FieldLocation))
	assert.Equal(t, "Which department are you in?", QuestionForField(FieldDepartment))
	assert.Equal(t, GenericQuestion, QuestionForField("budget"))
}

func TestParseAnswerForField(t *testing.T) {
	assert.Equal(t, "NDA", ParseAnswerForField(FieldContractType, "just an nda"))
	assert.Equal(t, "Canada", ParseAnswerForField(FieldLocation, "Toronto"))
	assert.Equal(t, "Finance", ParseAnswerForField(FieldDepartment, "accounting"))
	assert.Equal(t, "", ParseAnswerForField("budget", "Sales"))
}

func TestFirstTurnAsksForContractType(t *testing.T) {
	state := SessionState{}
	next, ok := ChooseNextField(state.Missing(DefaultOrder), DefaultOrder)
	assert.True(t, ok)
	assert.Equal(t, FieldContractType, next)
	assert.Equal(t, "Is this Sales, Employment, or NDA?", QuestionForField(next))
}

func TestSessionState_MergeNeverClears(t *testing.T) {
	state := SessionState{FieldContractType: "NDA"}
	state.Merge(SessionState{FieldContractType: "", FieldLocation: "Japan"})
	assert.Equal(t, SessionState{FieldContractType: "NDA", FieldLocation: "Japan"}, state)

	state.Merge(SessionState{FieldContractType: "Sales"})
	assert.Equal(t, "Sales", state[FieldContractType])
}

func TestSessionState_FillKeepsKnownValues(t *testing.T) {
	state := SessionState{FieldContractType: "NDA"}
	state.Fill(SessionState{FieldContractType: "Sales", FieldDepartment: "HR", FieldLocation: ""})
	assert.Equal(t, SessionState{FieldContractType: "NDA", FieldDepartment: "HR"}, state)
	assert.Equal(t, []Field{FieldLocation}, state.Missing(DefaultOrder))
}

func TestRecentHistory(t *testing.T) {
	var history []HistoryEntry
	for i := 0; i < 9; i++ {
		history = append(history, HistoryEntry{Role: RoleUser, Content: string(rune('a' + i))})
	}
	recent := RecentHistory(history, HistoryWindow)
	assert.Len(t, recent, 6)
	assert.Equal(t, "d", recent[0].Content)
	assert.Equal(t, "i", recent[5].Content)

	recent[0].Content = "changed"
	assert.Equal(t, "d", history[3].Content)

	assert.Len(t, RecentHistory(history[:2], HistoryWindow), 2)
}
