package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so write-path methods
// can run inside the caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type EntryStore struct {
	db *sql.DB
}

func NewEntryStore(db *sql.DB) *EntryStore {
	return &EntryStore{db: db}
}

func (s *EntryStore) DB() *sql.DB {
	return s.db
}

func (s *EntryStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

// Ping verifies the database connection is alive
func (s *EntryStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetEntryByUUID is FindEntryByUUID outside any transaction.
func (s *EntryStore) GetEntryByUUID(ctx context.Context, projectID int64, uuid string) (*Entry, error) {
	return s.FindEntryByUUID(ctx, s.db, projectID, uuid)
}

// GetBranchEntryByUUID is FindBranchEntryByUUID outside any transaction.
func (s *EntryStore) GetBranchEntryByUUID(ctx context.Context, projectID int64, uuid string) (*BranchEntry, error) {
	return s.FindBranchEntryByUUID(ctx, s.db, projectID, uuid)
}

func (s *EntryStore) GetProject(ctx context.Context, projectID int64) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, status, definition, created_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.Slug, &item.Status, &item.Definition, &item.CreatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return item, nil
}

func (s *EntryStore) GetProjectBySlug(ctx context.Context, slug string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, status, definition, created_at
		FROM projects
		WHERE slug=$1
	`, slug).Scan(&item.ID, &item.Name, &item.Slug, &item.Status, &item.Definition, &item.CreatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *EntryStore) UpdateProjectStatus(ctx context.Context, projectID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE projects SET status=$2 WHERE id=$1`, projectID, status)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	return nil
}

const entryColumns = `id, project_id, uuid, form_ref, parent_uuid, parent_form_ref, user_id, platform, device_id, title, entry_data, COALESCE(geo_json_data, 'null'::jsonb), child_counts, branch_counts, created_at, uploaded_at`

// FindEntryByUUID returns nil when no live entry carries the uuid.
func (s *EntryStore) FindEntryByUUID(ctx context.Context, q Querier, projectID int64, uuid string) (*Entry, error) {
	var item Entry
	err := q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE project_id=$1 AND uuid=$2
	`, projectID, uuid).Scan(
		&item.ID,
		&item.ProjectID,
		&item.UUID,
		&item.FormRef,
		&item.ParentUUID,
		&item.ParentFormRef,
		&item.UserID,
		&item.Platform,
		&item.DeviceID,
		&item.Title,
		&item.EntryData,
		&item.GeoJSONData,
		&item.ChildCounts,
		&item.BranchCounts,
		&item.CreatedAt,
		&item.UploadedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find entry by uuid: %w", err)
	}
	return &item, nil
}

const branchEntryColumns = `id, project_id, uuid, form_ref, owner_entry_id, owner_uuid, owner_input_ref, user_id, platform, device_id, title, entry_data, COALESCE(geo_json_data, 'null'::jsonb), created_at, uploaded_at`

// FindBranchEntryByUUID returns nil when no live branch entry carries the uuid.
func (s *EntryStore) FindBranchEntryByUUID(ctx context.Context, q Querier, projectID int64, uuid string) (*BranchEntry, error) {
	var item BranchEntry
	err := q.QueryRowContext(ctx, `
		SELECT `+branchEntryColumns+`
		FROM branch_entries
		WHERE project_id=$1 AND uuid=$2
	`, projectID, uuid).Scan(
		&item.ID,
		&item.ProjectID,
		&item.UUID,
		&item.FormRef,
		&item.OwnerEntryID,
		&item.OwnerUUID,
		&item.OwnerInputRef,
		&item.UserID,
		&item.Platform,
		&item.DeviceID,
		&item.Title,
		&item.EntryData,
		&item.GeoJSONData,
		&item.CreatedAt,
		&item.UploadedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find branch entry by uuid: %w", err)
	}
	return &item, nil
}

func (s *EntryStore) InsertEntry(ctx context.Context, q Querier, item Entry) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO entries (project_id, uuid, form_ref, parent_uuid, parent_form_ref, user_id, platform, device_id, title, entry_data, geo_json_data, created_at, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12, $13)
		RETURNING id
	`, item.ProjectID, item.UUID, item.FormRef, item.ParentUUID, item.ParentFormRef, item.UserID, item.Platform, item.DeviceID, item.Title, item.EntryData, nullableJSON(item.GeoJSONData), item.CreatedAt, item.UploadedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	return id, nil
}

// UpdateEntry rewrites only the mutable field set; the stored created_at
// and hierarchy pointers survive edits. A nil userID leaves the owner
// unchanged, a nil geoJSON keeps the stored location.
func (s *EntryStore) UpdateEntry(ctx context.Context, q Querier, id int64, title string, entryData, geoJSON []byte, uploadedAt time.Time, userID *int64) (int64, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE entries
		SET title=$2, entry_data=$3::jsonb, geo_json_data=COALESCE($4::jsonb, geo_json_data), uploaded_at=$5, user_id=COALESCE($6, user_id)
		WHERE id=$1
	`, id, title, entryData, nullableJSON(geoJSON), uploadedAt, userID)
	if err != nil {
		return 0, fmt.Errorf("update entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update entry rows: %w", err)
	}
	return affected, nil
}

func (s *EntryStore) InsertBranchEntry(ctx context.Context, q Querier, item BranchEntry) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO branch_entries (project_id, uuid, form_ref, owner_entry_id, owner_uuid, owner_input_ref, user_id, platform, device_id, title, entry_data, geo_json_data, created_at, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb, $13, $14)
		RETURNING id
	`, item.ProjectID, item.UUID, item.FormRef, item.OwnerEntryID, item.OwnerUUID, item.OwnerInputRef, item.UserID, item.Platform, item.DeviceID, item.Title, item.EntryData, nullableJSON(item.GeoJSONData), item.CreatedAt, item.UploadedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert branch entry: %w", err)
	}
	return id, nil
}

func (s *EntryStore) UpdateBranchEntry(ctx context.Context, q Querier, id int64, title string, entryData, geoJSON []byte, uploadedAt time.Time, userID *int64) (int64, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE branch_entries
		SET title=$2, entry_data=$3::jsonb, geo_json_data=COALESCE($4::jsonb, geo_json_data), uploaded_at=$5, user_id=COALESCE($6, user_id)
		WHERE id=$1
	`, id, title, entryData, nullableJSON(geoJSON), uploadedAt, userID)
	if err != nil {
		return 0, fmt.Errorf("update branch entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update branch entry rows: %w", err)
	}
	return affected, nil
}

func (s *EntryStore) CountChildEntries(ctx context.Context, q Querier, projectID int64, parentUUID, childFormRef string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries
		WHERE project_id=$1 AND parent_uuid=$2 AND form_ref=$3
	`, projectID, parentUUID, childFormRef).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count child entries: %w", err)
	}
	return count, nil
}

// CountBranchEntries returns live branch counts grouped by owner input ref.
func (s *EntryStore) CountBranchEntries(ctx context.Context, q Querier, projectID int64, ownerUUID, formRef string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT owner_input_ref, COUNT(*)::int
		FROM branch_entries
		WHERE project_id=$1 AND owner_uuid=$2 AND form_ref=$3
		GROUP BY owner_input_ref
	`, projectID, ownerUUID, formRef)
	if err != nil {
		return nil, fmt.Errorf("count branch entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var ref string
		var count int
		if err := rows.Scan(&ref, &count); err != nil {
			return nil, fmt.Errorf("scan branch count: %w", err)
		}
		counts[ref] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branch counts: %w", err)
	}
	return counts, nil
}

func (s *EntryStore) UpdateEntryCounts(ctx context.Context, q Querier, id int64, childCounts int, branchCounts []byte) error {
	result, err := q.ExecContext(ctx, `
		UPDATE entries SET child_counts=$2, branch_counts=$3::jsonb WHERE id=$1
	`, id, childCounts, branchCounts)
	if err != nil {
		return fmt.Errorf("update entry counts: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entry counts rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update entry counts: entry %d not found", id)
	}
	return nil
}

func (s *EntryStore) UpdateChildCountsByUUID(ctx context.Context, q Querier, projectID int64, uuid string, childCounts int) error {
	_, err := q.ExecContext(ctx, `
		UPDATE entries SET child_counts=$3 WHERE project_id=$1 AND uuid=$2
	`, projectID, uuid, childCounts)
	if err != nil {
		return fmt.Errorf("update child counts: %w", err)
	}
	return nil
}

func (s *EntryStore) UpdateBranchCountsByUUID(ctx context.Context, q Querier, projectID int64, uuid string, branchCounts []byte) error {
	_, err := q.ExecContext(ctx, `
		UPDATE entries SET branch_counts=$3::jsonb WHERE project_id=$1 AND uuid=$2
	`, projectID, uuid, branchCounts)
	if err != nil {
		return fmt.Errorf("update branch counts: %w", err)
	}
	return nil
}

// HierarchyAnswers returns candidate answers among siblings that share a
// parent, for hierarchy-scoped uniqueness checks.
func (s *EntryStore) HierarchyAnswers(ctx context.Context, projectID int64, formRef, parentUUID, inputRef string) ([]ScopedAnswer, error) {
	return s.scopedAnswers(ctx, `
		SELECT uuid, entry_data->'answers'->($4::text)->>'answer'
		FROM entries
		WHERE project_id=$1 AND form_ref=$2 AND parent_uuid=$3
		  AND entry_data->'answers' ? ($4::text)
	`, projectID, formRef, parentUUID, inputRef)
}

// FormAnswers returns candidate answers across the whole form within the
// project, for form-scoped uniqueness checks on non-branch entries.
func (s *EntryStore) FormAnswers(ctx context.Context, projectID int64, formRef, inputRef string) ([]ScopedAnswer, error) {
	return s.scopedAnswers(ctx, `
		SELECT uuid, entry_data->'answers'->($3::text)->>'answer'
		FROM entries
		WHERE project_id=$1 AND form_ref=$2
		  AND entry_data->'answers' ? ($3::text)
	`, projectID, formRef, inputRef)
}

// BranchAnswers returns candidate answers among branch entries of the same
// owner's branch group.
func (s *EntryStore) BranchAnswers(ctx context.Context, projectID int64, ownerUUID, ownerInputRef, inputRef string) ([]ScopedAnswer, error) {
	return s.scopedAnswers(ctx, `
		SELECT uuid, entry_data->'answers'->($4::text)->>'answer'
		FROM branch_entries
		WHERE project_id=$1 AND owner_uuid=$2 AND owner_input_ref=$3
		  AND entry_data->'answers' ? ($4::text)
	`, projectID, ownerUUID, ownerInputRef, inputRef)
}

func (s *EntryStore) scopedAnswers(ctx context.Context, query string, args ...any) ([]ScopedAnswer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scoped answers: %w", err)
	}
	defer rows.Close()

	items := make([]ScopedAnswer, 0)
	for rows.Next() {
		var item ScopedAnswer
		var answer sql.NullString
		if err := rows.Scan(&item.UUID, &answer); err != nil {
			return nil, fmt.Errorf("scan scoped answer: %w", err)
		}
		item.Answer = answer.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scoped answers: %w", err)
	}
	return items, nil
}

// nullableJSON maps an absent JSON value to SQL NULL so COALESCE keeps the
// stored column.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
