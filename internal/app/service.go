package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldtally/api/internal/config"
	"fieldtally/api/internal/entries"
	"fieldtally/api/internal/project"
	"fieldtally/api/internal/store"
)

const (
	uploadTypeEntry       = "entry"
	uploadTypeBranchEntry = "branch_entry"
)

// UploadInput is an already schema-validated entry or branch-entry payload.
type UploadInput struct {
	Type          string                     `json:"type"`
	UUID          string                     `json:"uuid"`
	FormRef       string                     `json:"formRef"`
	ParentUUID    string                     `json:"parentUuid,omitempty"`
	ParentFormRef string                     `json:"parentFormRef,omitempty"`
	OwnerUUID     string                     `json:"ownerUuid,omitempty"`
	OwnerInputRef string                     `json:"ownerInputRef,omitempty"`
	Title         string                     `json:"title"`
	Answers       map[string]entries.Answer  `json:"answers"`
	GeoJSON       json.RawMessage            `json:"geoJson,omitempty"`
	CreatedAt     time.Time                  `json:"createdAt"`
	DeviceID      string                     `json:"deviceId,omitempty"`
	Platform      string                     `json:"platform,omitempty"`
	UserID        int64                      `json:"userId,omitempty"`
	BulkUpload    bool                       `json:"bulkUpload,omitempty"`
	AssignUserID  *int64                     `json:"assignUserId,omitempty"`
}

// Result is the boolean-plus-errors outcome returned by every operation.
type Result struct {
	OK     bool        `json:"ok"`
	Errors entries.Bag `json:"errors,omitempty"`
}

func failure(bag entries.Bag) Result {
	return Result{OK: false, Errors: bag}
}

type entryStore interface {
	GetProjectBySlug(context.Context, string) (store.Project, error)
	GetEntryByUUID(context.Context, int64, string) (*store.Entry, error)
	GetBranchEntryByUUID(context.Context, int64, string) (*store.BranchEntry, error)
	UpdateProjectStatus(context.Context, int64, string) error
	Ping(ctx context.Context) error
}

type entrySaver interface {
	Save(context.Context, *project.Definition, *entries.Structure) error
}

type uniqueChecker interface {
	IsUnique(context.Context, *entries.Structure, entries.Scope, *project.Input, string, string) (bool, error)
}

type entryArchiver interface {
	Archive(context.Context, *project.Definition, int64, string, string) error
	ArchiveBranch(context.Context, *project.Definition, int64, string) error
	EraseProject(context.Context, int64) error
}

type Service struct {
	cfg       config.Config
	store     entryStore
	saver     entrySaver
	validator uniqueChecker
	archiver  entryArchiver
}

func New(cfg config.Config, dataStore entryStore, saver entrySaver, validator uniqueChecker, archiver entryArchiver) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		saver:     saver,
		validator: validator,
		archiver:  archiver,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Upload persists one validated entry or branch entry: structure
// normalization, uniqueness checks, then the transactional save.
func (s *Service) Upload(ctx context.Context, projectSlug string, input UploadInput) Result {
	proj, def, bag := s.loadProject(ctx, projectSlug)
	if !bag.OK() {
		return failure(bag)
	}

	structure, bag := s.buildStructure(ctx, proj.ID, def, input)
	if !bag.OK() {
		return failure(bag)
	}

	// A uniqueness violation is keyed to the offending input ref and does
	// not abort the remaining checks.
	bag = entries.Bag{}
	for ref, answer := range structure.Answers {
		inputDef := def.Input(structure.FormRef, ref)
		if inputDef == nil || inputDef.Uniqueness == project.UniquenessNone {
			continue
		}
		unique, err := s.validator.IsUnique(ctx, structure, entries.Scope(inputDef.Uniqueness), inputDef, ref, answerString(answer))
		if err != nil {
			bag.AddError(entries.SourceUniqueness, err)
			continue
		}
		if !unique {
			bag.Add(ref, "answer is not unique")
		}
	}
	if !bag.OK() {
		return failure(bag)
	}

	if err := s.saver.Save(ctx, def, structure); err != nil {
		bag.AddError(entries.SourceEntryCreate, err)
		return failure(bag)
	}
	return Result{OK: true}
}

// Archive moves an entry and its whole subtree into the archive mirrors.
func (s *Service) Archive(ctx context.Context, projectSlug, formRef, entryUUID string) Result {
	proj, def, bag := s.loadProject(ctx, projectSlug)
	if !bag.OK() {
		return failure(bag)
	}
	if err := s.archiver.Archive(ctx, def, proj.ID, formRef, entryUUID); err != nil {
		bag.AddError(entries.SourceEntryArchive, err)
		return failure(bag)
	}
	return Result{OK: true}
}

// ArchiveBranch archives a single branch entry and refreshes its owner's
// branch counts.
func (s *Service) ArchiveBranch(ctx context.Context, projectSlug, branchUUID string) Result {
	proj, def, bag := s.loadProject(ctx, projectSlug)
	if !bag.OK() {
		return failure(bag)
	}
	if err := s.archiver.ArchiveBranch(ctx, def, proj.ID, branchUUID); err != nil {
		bag.AddError(entries.SourceEntryArchive, err)
		return failure(bag)
	}
	return Result{OK: true}
}

// ArchiveProject marks a project archived, the precondition for erasure.
func (s *Service) ArchiveProject(ctx context.Context, projectSlug string) Result {
	proj, _, bag := s.loadProject(ctx, projectSlug)
	if !bag.OK() {
		return failure(bag)
	}
	if err := s.store.UpdateProjectStatus(ctx, proj.ID, entries.StatusArchived); err != nil {
		bag.AddError(entries.SourceProjectErase, err)
		return failure(bag)
	}
	return Result{OK: true}
}

// EraseProject permanently removes an archived project and all of its data.
func (s *Service) EraseProject(ctx context.Context, projectSlug string) Result {
	proj, _, bag := s.loadProject(ctx, projectSlug)
	if !bag.OK() {
		return failure(bag)
	}
	if err := s.archiver.EraseProject(ctx, proj.ID); err != nil {
		bag.AddError(entries.SourceProjectErase, err)
		return failure(bag)
	}
	return Result{OK: true}
}

func (s *Service) loadProject(ctx context.Context, slug string) (store.Project, *project.Definition, entries.Bag) {
	bag := entries.Bag{}
	proj, err := s.store.GetProjectBySlug(ctx, slug)
	if errors.Is(err, sql.ErrNoRows) {
		bag.Add("project", fmt.Sprintf("project %q not found", slug))
		return store.Project{}, nil, bag
	}
	if err != nil {
		bag.Add("project", err.Error())
		return store.Project{}, nil, bag
	}
	def, err := project.Parse(proj.Definition)
	if err != nil {
		bag.Add("project", err.Error())
		return store.Project{}, nil, bag
	}
	return proj, def, bag
}

// buildStructure normalizes the payload into the engine's value object:
// identifier validation, form resolution, existing-row lookup for edits and
// owner resolution for branches.
func (s *Service) buildStructure(ctx context.Context, projectID int64, def *project.Definition, input UploadInput) (*entries.Structure, entries.Bag) {
	bag := entries.Bag{}

	if _, err := uuid.Parse(input.UUID); err != nil {
		bag.Add("uuid", fmt.Sprintf("invalid uuid %q", input.UUID))
		return nil, bag
	}
	form := def.Form(input.FormRef)
	if form == nil {
		bag.Add("form_ref", fmt.Sprintf("unknown form %q", input.FormRef))
		return nil, bag
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	answers := input.Answers
	if answers == nil {
		answers = map[string]entries.Answer{}
	}

	structure := &entries.Structure{
		ProjectID:     projectID,
		UUID:          input.UUID,
		FormRef:       input.FormRef,
		ParentUUID:    input.ParentUUID,
		ParentFormRef: input.ParentFormRef,
		OwnerUUID:     input.OwnerUUID,
		OwnerInputRef: input.OwnerInputRef,
		Title:         input.Title,
		Answers:       answers,
		GeoJSON:       input.GeoJSON,
		CreatedAt:     createdAt,
		DeviceID:      input.DeviceID,
		Platform:      input.Platform,
		UserID:        input.UserID,
		Branch:        input.Type == uploadTypeBranchEntry,
		BulkUpload:    input.BulkUpload,
		AssignUserID:  input.AssignUserID,
	}

	if structure.Branch {
		if form.Branch(input.OwnerInputRef) == nil {
			bag.Add("owner_input_ref", fmt.Sprintf("form %q has no branch %q", input.FormRef, input.OwnerInputRef))
			return nil, bag
		}
		owner, err := s.store.GetEntryByUUID(ctx, projectID, input.OwnerUUID)
		if err != nil {
			bag.AddError(entries.SourceBranchOwner, err)
			return nil, bag
		}
		if owner == nil {
			bag.Add(entries.SourceBranchOwner, fmt.Sprintf("owner entry %s not found", input.OwnerUUID))
			return nil, bag
		}
		structure.OwnerEntryID = owner.ID

		existing, err := s.store.GetBranchEntryByUUID(ctx, projectID, input.UUID)
		if err != nil {
			bag.AddError(entries.SourceEntryUpdate, err)
			return nil, bag
		}
		structure.ExistingBranch = existing
		return structure, bag
	}

	existing, err := s.store.GetEntryByUUID(ctx, projectID, input.UUID)
	if err != nil {
		bag.AddError(entries.SourceEntryUpdate, err)
		return nil, bag
	}
	structure.ExistingEntry = existing
	return structure, bag
}

// answerString renders an answer value the way the store extracts it for
// uniqueness comparison.
func answerString(answer entries.Answer) string {
	switch value := answer.Answer.(type) {
	case string:
		return value
	case nil:
		return ""
	default:
		encoded, _ := json.Marshal(value)
		return string(encoded)
	}
}
