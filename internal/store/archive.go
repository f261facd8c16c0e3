package store

import (
	"context"
	"database/sql"
	"fmt"
)

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	items := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan uuid: %w", err)
		}
		items = append(items, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uuids: %w", err)
	}
	return items, nil
}

// ChildEntryUUIDs expands one frontier of the descendant closure: the uuids
// of live entries whose parent is any of the given uuids.
func (s *EntryStore) ChildEntryUUIDs(ctx context.Context, q Querier, projectID int64, parentUUIDs []string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT uuid FROM entries
		WHERE project_id=$1 AND parent_uuid = ANY($2)
		ORDER BY id
	`, projectID, parentUUIDs)
	if err != nil {
		return nil, fmt.Errorf("child entry uuids: %w", err)
	}
	return collectStrings(rows)
}

// BranchEntryUUIDs returns the uuids of branch entries owned by any of the
// given entries.
func (s *EntryStore) BranchEntryUUIDs(ctx context.Context, q Querier, projectID int64, ownerUUIDs []string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT uuid FROM branch_entries
		WHERE project_id=$1 AND owner_uuid = ANY($2)
		ORDER BY id
	`, projectID, ownerUUIDs)
	if err != nil {
		return nil, fmt.Errorf("branch entry uuids: %w", err)
	}
	return collectStrings(rows)
}

// CopyEntriesToArchive upserts live rows into the archive mirror keyed by
// uuid, so re-archiving after a retry never duplicates.
func (s *EntryStore) CopyEntriesToArchive(ctx context.Context, q Querier, projectID int64, uuids []string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO entries_archive (project_id, uuid, form_ref, parent_uuid, parent_form_ref, user_id, platform, device_id, title, entry_data, geo_json_data, child_counts, branch_counts, created_at, uploaded_at)
		SELECT project_id, uuid, form_ref, parent_uuid, parent_form_ref, user_id, platform, device_id, title, entry_data, geo_json_data, child_counts, branch_counts, created_at, uploaded_at
		FROM entries
		WHERE project_id=$1 AND uuid = ANY($2)
		ON CONFLICT (uuid) DO UPDATE SET
			title=EXCLUDED.title,
			entry_data=EXCLUDED.entry_data,
			geo_json_data=EXCLUDED.geo_json_data,
			child_counts=EXCLUDED.child_counts,
			branch_counts=EXCLUDED.branch_counts,
			uploaded_at=EXCLUDED.uploaded_at
	`, projectID, uuids)
	if err != nil {
		return fmt.Errorf("copy entries to archive: %w", err)
	}
	return nil
}

func (s *EntryStore) CopyBranchEntriesToArchive(ctx context.Context, q Querier, projectID int64, uuids []string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO branch_entries_archive (project_id, uuid, form_ref, owner_entry_id, owner_uuid, owner_input_ref, user_id, platform, device_id, title, entry_data, geo_json_data, created_at, uploaded_at)
		SELECT project_id, uuid, form_ref, owner_entry_id, owner_uuid, owner_input_ref, user_id, platform, device_id, title, entry_data, geo_json_data, created_at, uploaded_at
		FROM branch_entries
		WHERE project_id=$1 AND uuid = ANY($2)
		ON CONFLICT (uuid) DO UPDATE SET
			title=EXCLUDED.title,
			entry_data=EXCLUDED.entry_data,
			geo_json_data=EXCLUDED.geo_json_data,
			uploaded_at=EXCLUDED.uploaded_at
	`, projectID, uuids)
	if err != nil {
		return fmt.Errorf("copy branch entries to archive: %w", err)
	}
	return nil
}

func (s *EntryStore) DeleteEntriesByUUID(ctx context.Context, q Querier, projectID int64, uuids []string) (int64, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM entries WHERE project_id=$1 AND uuid = ANY($2)
	`, projectID, uuids)
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete entries rows: %w", err)
	}
	return affected, nil
}

func (s *EntryStore) DeleteBranchEntriesByUUID(ctx context.Context, q Querier, projectID int64, uuids []string) (int64, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM branch_entries WHERE project_id=$1 AND uuid = ANY($2)
	`, projectID, uuids)
	if err != nil {
		return 0, fmt.Errorf("delete branch entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete branch entries rows: %w", err)
	}
	return affected, nil
}

// EntryChunk returns the next batch of live entries for the erase loop,
// with their payloads so media answers can be collected before deletion.
func (s *EntryStore) EntryChunk(ctx context.Context, projectID int64, limit int) ([]EntryPayload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, form_ref, entry_data
		FROM entries
		WHERE project_id=$1
		ORDER BY id
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("entry chunk: %w", err)
	}
	defer rows.Close()

	items := make([]EntryPayload, 0)
	for rows.Next() {
		var item EntryPayload
		if err := rows.Scan(&item.UUID, &item.FormRef, &item.EntryData); err != nil {
			return nil, fmt.Errorf("scan entry chunk: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry chunk: %w", err)
	}
	return items, nil
}

// BranchPayloadsByOwners returns branch entry payloads owned by any of the
// given entries.
func (s *EntryStore) BranchPayloadsByOwners(ctx context.Context, projectID int64, ownerUUIDs []string) ([]BranchPayload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, form_ref, owner_input_ref, entry_data
		FROM branch_entries
		WHERE project_id=$1 AND owner_uuid = ANY($2)
		ORDER BY id
	`, projectID, ownerUUIDs)
	if err != nil {
		return nil, fmt.Errorf("branch payloads: %w", err)
	}
	defer rows.Close()

	items := make([]BranchPayload, 0)
	for rows.Next() {
		var item BranchPayload
		if err := rows.Scan(&item.UUID, &item.FormRef, &item.OwnerInputRef, &item.EntryData); err != nil {
			return nil, fmt.Errorf("scan branch payload: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branch payloads: %w", err)
	}
	return items, nil
}

func (s *EntryStore) DeleteProject(ctx context.Context, projectID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func (s *EntryStore) LiveEntryCount(ctx context.Context, projectID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE project_id=$1`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count live entries: %w", err)
	}
	return count, nil
}
