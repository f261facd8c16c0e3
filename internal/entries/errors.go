package entries

import (
	"errors"
	"fmt"
)

// Error sources keying the per-operation error map.
const (
	SourceEntryCreate  = "entry_create"
	SourceEntryUpdate  = "entry_update"
	SourceEntryArchive = "entry_archive"
	SourceProjectErase = "project_erase"
	SourceEntryLock    = "entry_lock"
	SourceBranchOwner  = "branch_owner"
	SourceUniqueness   = "unique_answer"
)

// OpError is a failure keyed to the operation or input that produced it.
type OpError struct {
	Source string
	Err    error
}

func (e *OpError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(source string, err error) *OpError {
	return &OpError{Source: source, Err: err}
}

// Bag collects keyed failure messages; it is the errors half of the
// boolean-plus-errors result returned to callers.
type Bag map[string][]string

func (b Bag) Add(source, message string) {
	b[source] = append(b[source], message)
}

func (b Bag) AddError(fallbackSource string, err error) {
	var op *OpError
	if errors.As(err, &op) {
		b.Add(op.Source, op.Err.Error())
		return
	}
	b.Add(fallbackSource, err.Error())
}

func (b Bag) OK() bool {
	return len(b) == 0
}
