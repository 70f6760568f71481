// Package triage holds the deterministic half of legal-triage intake: field
// normalization, question ordering, response plans and rewrite validation.
package triage

// Field identifies one of the facts collected before a request can be routed.
type Field string

const (
	FieldContractType Field = "contractType"
	FieldLocation     Field = "location"
	FieldDepartment   Field = "department"
)

// DefaultOrder is the product priority for asking about missing fields.
var DefaultOrder = []Field{FieldContractType, FieldLocation, FieldDepartment}

// Known reports whether f is one of the collected fields.
func (f Field) Known() bool {
	switch f {
	case FieldContractType, FieldLocation, FieldDepartment:
		return true
	}
	return false
}

// SessionState maps fields to canonical values. An absent key means the
// field is still unknown; empty strings are never stored.
type SessionState map[Field]string

// Clone returns an independent copy of s.
func (s SessionState) Clone() SessionState {
	out := make(SessionState, len(s))
	for f, v := range s {
		if v != "" {
			out[f] = v
		}
	}
	return out
}

// Merge copies every non-empty value from other into s, replacing what s
// held for that field. Empty values in other never clear a known field.
func (s SessionState) Merge(other SessionState) {
	for f, v := range other {
		if v != "" {
			s[f] = v
		}
	}
}

// Fill copies non-empty values from other only for fields s does not know yet.
func (s SessionState) Fill(other SessionState) {
	for f, v := range other {
		if v == "" {
			continue
		}
		if _, ok := s[f]; !ok {
			s[f] = v
		}
	}
}

// Missing returns the fields of order that s has no value for, in order.
func (s SessionState) Missing(order []Field) []Field {
	var missing []Field
	for _, f := range order {
		if s[f] == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one turn of a conversation.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// HistoryWindow is how many trailing turns are sent to the model as context.
const HistoryWindow = 6

// RecentHistory returns a copy of the last n entries of history.
func RecentHistory(history []HistoryEntry, n int) []HistoryEntry {
	if n <= 0 {
		return []HistoryEntry{}
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]HistoryEntry, len(history))
	for i, h := range history {
		out[i] = HistoryEntry{Role: h.Role, Content: h.Content}
	}
	return out
}
