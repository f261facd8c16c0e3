package entries

import (
	"encoding/json"
	"fmt"
	"time"

	"fieldtally/api/internal/store"
)

// TimestampLayout is the shape of capture timestamps inside entry payloads.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Answer is one validated answer keyed by input ref inside an entry payload.
type Answer struct {
	Answer    any  `json:"answer"`
	WasJumped bool `json:"was_jumped"`
}

// EntryData is the serialized answer set persisted in the entry_data column.
type EntryData struct {
	Title     string            `json:"title"`
	CreatedAt string            `json:"created_at"`
	Answers   map[string]Answer `json:"answers"`
}

// Structure is the normalized representation of one incoming entry or
// branch-entry payload. It is produced once per request by the upstream
// validation layer; every engine component reads it, none mutate it.
type Structure struct {
	ProjectID int64
	UUID      string
	FormRef   string

	// Hierarchy pointers, empty for top-level entries.
	ParentUUID    string
	ParentFormRef string

	// Branch ownership, set only when Branch is true.
	OwnerEntryID  int64
	OwnerUUID     string
	OwnerInputRef string

	Title     string
	Answers   map[string]Answer
	GeoJSON   []byte
	CreatedAt time.Time
	DeviceID  string
	Platform  string
	UserID    int64

	Branch     bool
	BulkUpload bool

	// Existing row located by uuid before construction; non-nil means edit.
	ExistingEntry  *store.Entry
	ExistingBranch *store.BranchEntry

	// AssignUserID requests an explicit owner reassignment on edit.
	AssignUserID *int64
}

func (s *Structure) IsEdit() bool {
	if s.Branch {
		return s.ExistingBranch != nil
	}
	return s.ExistingEntry != nil
}

// existingData returns the stored serialized payload for the row being
// edited, or nil for a create.
func (s *Structure) existingData() []byte {
	if s.Branch {
		if s.ExistingBranch != nil {
			return s.ExistingBranch.EntryData
		}
		return nil
	}
	if s.ExistingEntry != nil {
		return s.ExistingEntry.EntryData
	}
	return nil
}

// buildEntryData assembles the outgoing serialized answer set.
func buildEntryData(s *Structure) *EntryData {
	answers := make(map[string]Answer, len(s.Answers))
	for ref, answer := range s.Answers {
		answers[ref] = answer
	}
	return &EntryData{
		Title:     s.Title,
		CreatedAt: s.CreatedAt.UTC().Format(TimestampLayout),
		Answers:   answers,
	}
}

func decodeEntryData(raw []byte) (*EntryData, error) {
	var data EntryData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode entry data: %w", err)
	}
	if data.Answers == nil {
		data.Answers = make(map[string]Answer)
	}
	return &data, nil
}
