package triage

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNotQuestion     = errors.New("reply is not a question")
	ErrMissingEmail    = errors.New("reply is missing the assignee email")
	ErrUnexpectedEmail = errors.New("reply contains an email that is not in the plan")
	emailPattern       = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// ExtractEmails returns every email-shaped substring of text, in order.
func ExtractEmails(text string) []string {
	return emailPattern.FindAllString(text, -1)
}

// Validate requires a question mark somewhere in text.
func (p AskPlan) Validate(text string) error {
	if !strings.Contains(text, "?") {
		return ErrNotQuestion
	}
	return nil
}

// Validate requires the exact assignee email and no other address.
func (p FinalPlan) Validate(text string) error {
	if p.AssigneeEmail == "" || !strings.Contains(text, p.AssigneeEmail) {
		return ErrMissingEmail
	}
	for _, email := range ExtractEmails(text) {
		if !sameEmail(email, p.AssigneeEmail) {
			return fmt.Errorf("%w: %s", ErrUnexpectedEmail, email)
		}
	}
	return nil
}

// Validate allows text without any email. Any email present must be the
// fallback address, so dropping the fallback email entirely still passes.
func (p FallbackPlan) Validate(text string) error {
	for _, email := range ExtractEmails(text) {
		if !sameEmail(email, p.FallbackEmail) {
			return fmt.Errorf("%w: %s", ErrUnexpectedEmail, email)
		}
	}
	return nil
}

// sameEmail compares addresses ignoring ASCII case only. Unicode folding
// would let the Kelvin sign or long s stand in for k and s.
func sameEmail(a, b string) bool {
	return asciiLower(a) == asciiLower(b)
}

func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
