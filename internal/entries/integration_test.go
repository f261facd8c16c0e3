package entries

import (
	"context"
	"os"
	"testing"
	"time"

	"fieldtally/api/internal/project"
	"fieldtally/api/internal/store"
)

const integrationDefinition = `{
	"forms": [
		{"ref": "form-1", "name": "Households", "inputs": []},
		{"ref": "form-2", "name": "Visits", "inputs": []}
	]
}`

func setupEngineIntegration(t *testing.T) (*store.EntryStore, *project.Definition, int64) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := store.Open(ctx, url)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := store.ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	st := store.NewEntryStore(db)

	var projectID int64
	err = db.QueryRowContext(ctx, `
		INSERT INTO projects (name, slug, status, definition)
		VALUES ('Engine Integration', 'it-'||md5(random()::text), 'active', $1::jsonb)
		RETURNING id
	`, integrationDefinition).Scan(&projectID)
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx := context.Background()
		_, _ = db.ExecContext(cleanupCtx, `DELETE FROM entries_archive WHERE project_id=$1`, projectID)
		_, _ = db.ExecContext(cleanupCtx, `DELETE FROM branch_entries_archive WHERE project_id=$1`, projectID)
		_, _ = db.ExecContext(cleanupCtx, `DELETE FROM branch_entries WHERE project_id=$1`, projectID)
		_, _ = db.ExecContext(cleanupCtx, `DELETE FROM entries WHERE project_id=$1`, projectID)
		_, _ = db.ExecContext(cleanupCtx, `DELETE FROM projects WHERE id=$1`, projectID)
	})

	def, err := project.Parse([]byte(integrationDefinition))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}
	return st, def, projectID
}

func saveTestEntry(t *testing.T, repo *Repository, def *project.Definition, projectID int64, entryUUID, formRef, parentUUID, parentFormRef, title string) {
	t.Helper()
	s := &Structure{
		ProjectID:     projectID,
		UUID:          entryUUID,
		FormRef:       formRef,
		ParentUUID:    parentUUID,
		ParentFormRef: parentFormRef,
		Title:         title,
		Answers:       map[string]Answer{},
		CreatedAt:     time.Now().UTC(),
	}
	if err := repo.Save(context.Background(), def, s); err != nil {
		t.Fatalf("save entry %s: %v", entryUUID, err)
	}
}

func parentChildCounts(t *testing.T, st *store.EntryStore, projectID int64, parentUUID string) int {
	t.Helper()
	parent, err := st.GetEntryByUUID(context.Background(), projectID, parentUUID)
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if parent == nil {
		t.Fatalf("parent %s not found", parentUUID)
	}
	return parent.ChildCounts
}

func TestSaveRecomputesParentChildCounts(t *testing.T) {
	st, def, projectID := setupEngineIntegration(t)
	repo := NewRepository(st, nil, nil)

	saveTestEntry(t, repo, def, projectID, "cc-parent", "form-1", "", "", "Parent")
	if n := parentChildCounts(t, st, projectID, "cc-parent"); n != 0 {
		t.Errorf("child_counts after parent save = %d, want 0", n)
	}

	saveTestEntry(t, repo, def, projectID, "cc-child-1", "form-2", "cc-parent", "form-1", "Child 1")
	if n := parentChildCounts(t, st, projectID, "cc-parent"); n != 1 {
		t.Errorf("child_counts after first child = %d, want 1", n)
	}

	saveTestEntry(t, repo, def, projectID, "cc-child-2", "form-2", "cc-parent", "form-1", "Child 2")
	if n := parentChildCounts(t, st, projectID, "cc-parent"); n != 2 {
		t.Errorf("child_counts after second child = %d, want 2", n)
	}
}

func TestArchiveRecomputesParentChildCounts(t *testing.T) {
	st, def, projectID := setupEngineIntegration(t)
	repo := NewRepository(st, nil, nil)
	archiver := NewArchiver(st, nil, nil, nil, ArchiverOptions{})
	ctx := context.Background()

	saveTestEntry(t, repo, def, projectID, "ac-parent", "form-1", "", "", "Parent")
	saveTestEntry(t, repo, def, projectID, "ac-child-1", "form-2", "ac-parent", "form-1", "Child 1")
	saveTestEntry(t, repo, def, projectID, "ac-child-2", "form-2", "ac-parent", "form-1", "Child 2")
	if n := parentChildCounts(t, st, projectID, "ac-parent"); n != 2 {
		t.Fatalf("child_counts before archive = %d, want 2", n)
	}

	if err := archiver.Archive(ctx, def, projectID, "form-2", "ac-child-1"); err != nil {
		t.Fatalf("archive child: %v", err)
	}

	if n := parentChildCounts(t, st, projectID, "ac-parent"); n != 1 {
		t.Errorf("child_counts after archiving one child = %d, want 1", n)
	}
	gone, err := st.GetEntryByUUID(ctx, projectID, "ac-child-1")
	if err != nil {
		t.Fatalf("get archived child: %v", err)
	}
	if gone != nil {
		t.Error("archived child still live")
	}
}

func TestArchiveRollsBackWholeCascadeOnFailure(t *testing.T) {
	st, def, projectID := setupEngineIntegration(t)
	repo := NewRepository(st, nil, nil)
	// Chunk size 1 so the root is copied in its own statement before the
	// failing descendant.
	archiver := NewArchiver(st, nil, nil, nil, ArchiverOptions{ChunkSize: 1})
	ctx := context.Background()

	saveTestEntry(t, repo, def, projectID, "rb-parent", "form-1", "", "", "Parent")
	saveTestEntry(t, repo, def, projectID, "rb-child", "form-2", "rb-parent", "form-1", "poison")

	// Make the descendant's archive copy fail mid-cascade.
	if _, err := st.DB().ExecContext(ctx, `
		ALTER TABLE entries_archive ADD CONSTRAINT entries_archive_no_poison CHECK (title <> 'poison')
	`); err != nil {
		t.Fatalf("add constraint: %v", err)
	}
	t.Cleanup(func() {
		_, _ = st.DB().ExecContext(context.Background(), `
			ALTER TABLE entries_archive DROP CONSTRAINT IF EXISTS entries_archive_no_poison
		`)
	})

	if err := archiver.Archive(ctx, def, projectID, "form-1", "rb-parent"); err == nil {
		t.Fatal("expected archive to fail on the poisoned descendant")
	}

	// Nothing may have moved: both rows still live, neither in the mirror.
	for _, entryUUID := range []string{"rb-parent", "rb-child"} {
		live, err := st.GetEntryByUUID(ctx, projectID, entryUUID)
		if err != nil {
			t.Fatalf("get %s: %v", entryUUID, err)
		}
		if live == nil {
			t.Errorf("entry %s was deleted despite the rollback", entryUUID)
		}
	}
	var archived int
	err := st.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries_archive WHERE project_id=$1
	`, projectID).Scan(&archived)
	if err != nil {
		t.Fatalf("count archived: %v", err)
	}
	if archived != 0 {
		t.Errorf("archive mirror has %d rows, want 0 after rollback", archived)
	}
}
