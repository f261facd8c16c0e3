package entries

import (
	"context"
	"strings"

	"fieldtally/api/internal/project"
	"fieldtally/api/internal/store"
)

// Scope selects which rows a uniqueness rule compares against.
type Scope string

const (
	// ScopeHierarchy restricts candidates to siblings sharing the same
	// parent entry.
	ScopeHierarchy Scope = "hierarchy"
	// ScopeForm restricts candidates to the whole form, or to the owner's
	// branch group when the entry under validation is itself a branch.
	ScopeForm Scope = "form"
)

// Validator decides whether a candidate answer value is a permitted
// duplicate (an edit of the same record) or a uniqueness violation.
type Validator struct {
	store *store.EntryStore
}

func NewValidator(st *store.EntryStore) *Validator {
	return &Validator{store: st}
}

// IsUnique reports whether the answer may be persisted for inputRef on the
// entry described by s. A match whose uuid equals s.UUID is permitted.
func (v *Validator) IsUnique(ctx context.Context, s *Structure, scope Scope, input *project.Input, inputRef, answer string) (bool, error) {
	candidates, err := v.candidates(ctx, s, scope, inputRef)
	if err != nil {
		return false, err
	}
	for _, candidate := range candidates {
		if !answersEqual(answer, candidate.Answer, input) {
			continue
		}
		if candidate.UUID == s.UUID {
			continue
		}
		return false, nil
	}
	return true, nil
}

func (v *Validator) candidates(ctx context.Context, s *Structure, scope Scope, inputRef string) ([]store.ScopedAnswer, error) {
	switch {
	case scope == ScopeHierarchy:
		return v.store.HierarchyAnswers(ctx, s.ProjectID, s.FormRef, s.ParentUUID, inputRef)
	case s.Branch:
		return v.store.BranchAnswers(ctx, s.ProjectID, s.OwnerUUID, s.OwnerInputRef, inputRef)
	default:
		return v.store.FormAnswers(ctx, s.ProjectID, s.FormRef, inputRef)
	}
}

// answersEqual compares two answers case-insensitively. Date and time
// inputs compare only the portion of the timestamp the project's display
// format tracks, so components the project doesn't collect can't break a
// duplicate match.
func answersEqual(a, b string, input *project.Input) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if b == "" {
		return false
	}
	if input != nil {
		switch input.Type {
		case project.TypeDate:
			ka, kb := dateKey(a, input.DatetimeFormat), dateKey(b, input.DatetimeFormat)
			return ka != "" && ka == kb
		case project.TypeTime:
			ka, kb := timeKey(a, input.DatetimeFormat), timeKey(b, input.DatetimeFormat)
			return ka != "" && ka == kb
		}
	}
	return a == b
}

// dateKey reduces a timestamp-shaped value (yyyy-mm-ddThh:mm:ss...) to the
// date components the format tracks.
func dateKey(value, format string) string {
	if len(value) < 10 {
		return ""
	}
	date := value[:10]
	switch format {
	case "MM/YYYY":
		return date[:7]
	case "dd/MM":
		return date[5:]
	default:
		// dd/MM/YYYY, MM/dd/YYYY, YYYY/MM/dd all track the full date.
		return date
	}
}

// timeKey reduces a timestamp-shaped value to the time components the
// format tracks.
func timeKey(value, format string) string {
	if len(value) < 19 {
		return ""
	}
	clock := value[11:19]
	switch format {
	case "hh:mm", "HH:mm":
		return clock[:5]
	case "mm:ss":
		return clock[3:]
	default:
		// HH:mm:ss tracks the full time of day.
		return clock
	}
}
