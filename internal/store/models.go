package store

import "time"

type Project struct {
	ID         int64
	Name       string
	Slug       string
	Status     string
	Definition []byte
	CreatedAt  time.Time
}

// Entry is one submission of a project form, possibly nested under a
// parent entry from the immediate parent form.
type Entry struct {
	ID            int64
	ProjectID     int64
	UUID          string
	FormRef       string
	ParentUUID    string
	ParentFormRef string
	UserID        int64
	Platform      string
	DeviceID      string
	Title         string
	EntryData     []byte
	GeoJSONData   []byte
	ChildCounts   int
	BranchCounts  []byte
	CreatedAt     time.Time
	UploadedAt    time.Time
}

// BranchEntry is one instance of a repeating branch group, owned by a
// single entry. Branches are always leaves.
type BranchEntry struct {
	ID            int64
	ProjectID     int64
	UUID          string
	FormRef       string
	OwnerEntryID  int64
	OwnerUUID     string
	OwnerInputRef string
	UserID        int64
	Platform      string
	DeviceID      string
	Title         string
	EntryData     []byte
	GeoJSONData   []byte
	CreatedAt     time.Time
	UploadedAt    time.Time
}

// ScopedAnswer is one candidate row for a uniqueness check: the row's
// uuid plus the answer extracted for the input under validation.
type ScopedAnswer struct {
	UUID   string
	Answer string
}

// EntryPayload is the slim projection used by the erase loop to collect
// media answers before rows are deleted.
type EntryPayload struct {
	UUID      string
	FormRef   string
	EntryData []byte
}

// BranchPayload is the branch-entry counterpart of EntryPayload; the owner
// input ref locates the branch inputs in the project definition.
type BranchPayload struct {
	UUID          string
	FormRef       string
	OwnerInputRef string
	EntryData     []byte
}
