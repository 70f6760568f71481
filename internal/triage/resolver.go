package triage

// ParseAnswerForField normalizes message as an answer to field. Fields this
// package does not know about yield "" rather than an error.
func ParseAnswerForField(field Field, message string) string {
	if !field.Known() {
		return ""
	}
	return Normalize(field, message)
}

// ChooseNextField returns the first field of requiredOrder that appears in
// missing. The order of missing itself is irrelevant. ok is false once every
// required field is satisfied.
func ChooseNextField(missing []Field, requiredOrder []Field) (next Field, ok bool) {
	if len(missing) == 0 {
		return "", false
	}
	pending := make(map[Field]struct{}, len(missing))
	for _, f := range missing {
		pending[f] = struct{}{}
	}
	for _, f := range requiredOrder {
		if _, found := pending[f]; found {
			return f, true
		}
	}
	return "", false
}

// GenericQuestion is asked for fields without a dedicated prompt.
const GenericQuestion = "Please provide more information."

var questions = map[Field]string{
	FieldContractType: "Is this Sales, Employment, or NDA?",
	FieldLocation:     "Which country or region are you currently in?",
	FieldDepartment:   "Which department are you in?",
}

// QuestionForField returns the prompt used to ask the user for field.
func QuestionForField(field Field) string {
	if q, ok := questions[field]; ok {
		return q
	}
	return GenericQuestion
}
