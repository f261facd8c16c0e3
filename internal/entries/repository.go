package entries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldtally/api/internal/locks"
	"fieldtally/api/internal/project"
	"fieldtally/api/internal/search"
	"fieldtally/api/internal/store"
)

// Repository is the transactional entry point for inserting a new entry or
// branch entry, or applying an edit located by uuid. Every write and its
// counter maintenance commit or roll back as one unit.
type Repository struct {
	store  *store.EntryStore
	locks  *locks.Locker
	search *search.Index
}

// NewRepository creates a repository. locker and index may be nil.
func NewRepository(st *store.EntryStore, locker *locks.Locker, index *search.Index) *Repository {
	return &Repository{store: st, locks: locker, search: index}
}

func (r *Repository) Save(ctx context.Context, def *project.Definition, s *Structure) error {
	source := SourceEntryCreate
	if s.IsEdit() {
		source = SourceEntryUpdate
	}

	if r.locks != nil {
		held, err := r.locks.Held(ctx, locks.ProjectKey(s.ProjectID))
		if err != nil {
			return opError(source, err)
		}
		if held {
			return opError(SourceEntryLock, fmt.Errorf("project %d is being archived", s.ProjectID))
		}
	}

	now := time.Now().UTC()
	out := buildEntryData(s)
	if s.IsEdit() && s.BulkUpload {
		if err := r.applyBulkCorrections(def, s, out); err != nil {
			return opError(source, err)
		}
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return opError(source, fmt.Errorf("marshal entry data: %w", err))
	}

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return opError(source, err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.Branch {
		err = r.saveBranch(ctx, tx, def, s, payload, now)
	} else {
		err = r.saveEntry(ctx, tx, def, s, payload, now)
	}
	if err != nil {
		return opError(source, err)
	}

	if err := tx.Commit(); err != nil {
		return opError(source, fmt.Errorf("commit entry write: %w", err))
	}

	if r.search != nil && !s.Branch {
		r.search.IndexEntry(search.EntryDoc{
			UUID:       s.UUID,
			ProjectID:  s.ProjectID,
			FormRef:    s.FormRef,
			Title:      s.Title,
			UploadedAt: now,
		})
	}
	return nil
}

func (r *Repository) saveEntry(ctx context.Context, tx store.Querier, def *project.Definition, s *Structure, payload []byte, now time.Time) error {
	var entryID int64
	if s.ExistingEntry != nil {
		affected, err := r.store.UpdateEntry(ctx, tx, s.ExistingEntry.ID, s.Title, payload, s.GeoJSON, now, s.AssignUserID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("entry %s: update affected no rows", s.UUID)
		}
		entryID = s.ExistingEntry.ID
	} else {
		id, err := r.store.InsertEntry(ctx, tx, store.Entry{
			ProjectID:     s.ProjectID,
			UUID:          s.UUID,
			FormRef:       s.FormRef,
			ParentUUID:    s.ParentUUID,
			ParentFormRef: s.ParentFormRef,
			UserID:        s.UserID,
			Platform:      s.Platform,
			DeviceID:      s.DeviceID,
			Title:         s.Title,
			EntryData:     payload,
			GeoJSONData:   s.GeoJSON,
			CreatedAt:     s.CreatedAt,
			UploadedAt:    now,
		})
		if err != nil {
			return err
		}
		entryID = id
	}
	return maintainEntryCounts(ctx, tx, r.store, def, s.ProjectID, entryID, s.UUID, s.FormRef, s.ParentUUID)
}

func (r *Repository) saveBranch(ctx context.Context, tx store.Querier, def *project.Definition, s *Structure, payload []byte, now time.Time) error {
	if s.ExistingBranch != nil {
		affected, err := r.store.UpdateBranchEntry(ctx, tx, s.ExistingBranch.ID, s.Title, payload, s.GeoJSON, now, s.AssignUserID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("branch entry %s: update affected no rows", s.UUID)
		}
	} else {
		if _, err := r.store.InsertBranchEntry(ctx, tx, store.BranchEntry{
			ProjectID:     s.ProjectID,
			UUID:          s.UUID,
			FormRef:       s.FormRef,
			OwnerEntryID:  s.OwnerEntryID,
			OwnerUUID:     s.OwnerUUID,
			OwnerInputRef: s.OwnerInputRef,
			UserID:        s.UserID,
			Platform:      s.Platform,
			DeviceID:      s.DeviceID,
			Title:         s.Title,
			EntryData:     payload,
			GeoJSONData:   s.GeoJSON,
			CreatedAt:     s.CreatedAt,
			UploadedAt:    now,
		}); err != nil {
			return err
		}
	}
	return maintainOwnerCounts(ctx, tx, r.store, def, s.ProjectID, s.OwnerUUID, s.FormRef)
}

// applyBulkCorrections rewrites the outgoing payload for edits arriving via
// bulk import. The imported payload is not trustworthy for two aspects:
// clients stamp created_at with the current time, and media answers arrive
// as empty placeholders because the import cannot carry binary media.
func (r *Repository) applyBulkCorrections(def *project.Definition, s *Structure, out *EntryData) error {
	stored, err := decodeEntryData(s.existingData())
	if err != nil {
		return err
	}

	var storedCreatedAt time.Time
	if s.Branch {
		storedCreatedAt = s.ExistingBranch.CreatedAt
	} else {
		storedCreatedAt = s.ExistingEntry.CreatedAt
	}

	preserveBulkEditFields(out, storedCreatedAt, stored.Answers, mediaRefsFor(def, s))
	return nil
}

func mediaRefsFor(def *project.Definition, s *Structure) []string {
	form := def.Form(s.FormRef)
	if form == nil {
		return nil
	}
	if s.Branch {
		branch := form.Branch(s.OwnerInputRef)
		if branch == nil {
			return nil
		}
		return branch.MediaInputRefs()
	}
	return form.MediaInputRefs()
}

// preserveBulkEditFields copies the stored capture time and stored media
// answers over the submitted ones.
func preserveBulkEditFields(out *EntryData, storedCreatedAt time.Time, storedAnswers map[string]Answer, mediaRefs []string) {
	out.CreatedAt = storedCreatedAt.UTC().Format(TimestampLayout)
	for _, ref := range mediaRefs {
		if answer, ok := storedAnswers[ref]; ok {
			out.Answers[ref] = answer
		}
	}
}
