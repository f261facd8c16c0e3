package entries

import (
	"context"
	"fmt"
	"log"
	"time"

	"fieldtally/api/internal/locks"
	"fieldtally/api/internal/media"
	"fieldtally/api/internal/project"
	"fieldtally/api/internal/search"
	"fieldtally/api/internal/store"
)

// StatusArchived is the project status required before erasure.
const StatusArchived = "archived"

// ArchiverOptions bound the cascade's chunk sizes and the advisory lock TTL.
type ArchiverOptions struct {
	ChunkSize      int
	EraseChunkSize int
	LockTTL        time.Duration
}

// Archiver moves an entry and all of its descendants and branches into the
// archive mirrors, and permanently erases whole projects in chunks.
type Archiver struct {
	store          *store.EntryStore
	locks          *locks.Locker
	media          *media.Store
	search         *search.Index
	chunkSize      int
	eraseChunkSize int
	lockTTL        time.Duration
}

// NewArchiver creates an archiver. locker, mediaStore and index may be nil.
func NewArchiver(st *store.EntryStore, locker *locks.Locker, mediaStore *media.Store, index *search.Index, opts ArchiverOptions) *Archiver {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 100
	}
	if opts.EraseChunkSize <= 0 {
		opts.EraseChunkSize = 100
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Archiver{
		store:          st,
		locks:          locker,
		media:          mediaStore,
		search:         index,
		chunkSize:      opts.ChunkSize,
		eraseChunkSize: opts.EraseChunkSize,
		lockTTL:        opts.LockTTL,
	}
}

// Archive copies the entry, its transitive descendants and all owned branch
// entries into the archive mirrors, then deletes the live rows. Everything
// runs in one transaction: a failure anywhere leaves every row live.
func (a *Archiver) Archive(ctx context.Context, def *project.Definition, projectID int64, formRef, entryUUID string) error {
	release, err := a.acquireProjectLock(ctx, projectID, SourceEntryArchive)
	if err != nil {
		return err
	}
	defer release()

	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return opError(SourceEntryArchive, err)
	}
	defer func() { _ = tx.Rollback() }()

	root, err := a.store.FindEntryByUUID(ctx, tx, projectID, entryUUID)
	if err != nil {
		return opError(SourceEntryArchive, err)
	}
	if root == nil {
		return opError(SourceEntryArchive, fmt.Errorf("entry %s not found", entryUUID))
	}
	if formRef != "" && root.FormRef != formRef {
		return opError(SourceEntryArchive, fmt.Errorf("entry %s belongs to form %s, not %s", entryUUID, root.FormRef, formRef))
	}

	descendants, err := a.descendants(ctx, tx, def, projectID, entryUUID)
	if err != nil {
		return opError(SourceEntryArchive, err)
	}

	for _, chunk := range chunkStrings(descendants, a.chunkSize) {
		if err := a.store.CopyEntriesToArchive(ctx, tx, projectID, chunk); err != nil {
			return opError(SourceEntryArchive, err)
		}
	}

	for _, owners := range chunkStrings(descendants, a.chunkSize) {
		branchUUIDs, err := a.store.BranchEntryUUIDs(ctx, tx, projectID, owners)
		if err != nil {
			return opError(SourceEntryArchive, err)
		}
		if err := a.archiveBranchRows(ctx, tx, projectID, branchUUIDs); err != nil {
			return opError(SourceEntryArchive, err)
		}
	}

	for _, chunk := range chunkStrings(descendants, a.chunkSize) {
		if _, err := a.store.DeleteEntriesByUUID(ctx, tx, projectID, chunk); err != nil {
			return opError(SourceEntryArchive, err)
		}
	}

	// The cascade removed one of the parent's live children, so the parent's
	// child count must be re-derived before the same commit. The parent
	// itself survives: the closure only walks downward from the root.
	if root.ParentUUID != "" {
		n, err := a.store.CountChildEntries(ctx, tx, projectID, root.ParentUUID, root.FormRef)
		if err != nil {
			return opError(SourceEntryArchive, err)
		}
		if err := a.store.UpdateChildCountsByUUID(ctx, tx, projectID, root.ParentUUID, n); err != nil {
			return opError(SourceEntryArchive, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return opError(SourceEntryArchive, fmt.Errorf("commit archive: %w", err))
	}

	if a.search != nil {
		a.search.RemoveEntries(descendants)
	}
	return nil
}

// ArchiveBranch archives a single branch entry in its own transaction and
// re-derives the owner's branch counts. Like Save, it refuses while a
// project-wide cascade holds the advisory lock.
func (a *Archiver) ArchiveBranch(ctx context.Context, def *project.Definition, projectID int64, branchUUID string) error {
	if a.locks != nil {
		held, err := a.locks.Held(ctx, locks.ProjectKey(projectID))
		if err != nil {
			return opError(SourceEntryArchive, err)
		}
		if held {
			return opError(SourceEntryLock, fmt.Errorf("project %d is being archived", projectID))
		}
	}

	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return opError(SourceEntryArchive, err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := a.store.FindBranchEntryByUUID(ctx, tx, projectID, branchUUID)
	if err != nil {
		return opError(SourceEntryArchive, err)
	}
	if row == nil {
		return opError(SourceEntryArchive, fmt.Errorf("branch entry %s not found", branchUUID))
	}

	if err := a.archiveBranchRows(ctx, tx, projectID, []string{branchUUID}); err != nil {
		return opError(SourceEntryArchive, err)
	}
	if err := maintainOwnerCounts(ctx, tx, a.store, def, projectID, row.OwnerUUID, row.FormRef); err != nil {
		return opError(SourceEntryArchive, err)
	}

	if err := tx.Commit(); err != nil {
		return opError(SourceEntryArchive, fmt.Errorf("commit branch archive: %w", err))
	}
	return nil
}

// archiveBranchRows copies branch entries to the mirror and deletes the live
// rows inside the caller's open transaction, so a branch failure rolls back
// the whole outer operation.
func (a *Archiver) archiveBranchRows(ctx context.Context, q store.Querier, projectID int64, uuids []string) error {
	for _, chunk := range chunkStrings(uuids, a.chunkSize) {
		if err := a.store.CopyBranchEntriesToArchive(ctx, q, projectID, chunk); err != nil {
			return err
		}
		if _, err := a.store.DeleteBranchEntriesByUUID(ctx, q, projectID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// descendants computes the closure rooted at entryUUID by iterative frontier
// expansion. The walk is bounded by the number of forms, since an entry's
// children always belong to the next form down.
func (a *Archiver) descendants(ctx context.Context, q store.Querier, def *project.Definition, projectID int64, entryUUID string) ([]string, error) {
	out := []string{entryUUID}
	frontier := []string{entryUUID}
	for depth := 1; depth < def.Depth() && len(frontier) > 0; depth++ {
		next, err := a.store.ChildEntryUUIDs(ctx, q, projectID, frontier)
		if err != nil {
			return nil, err
		}
		out = append(out, next...)
		frontier = next
	}
	return out, nil
}

// EraseProject permanently deletes a project's entries, branch entries and
// media in chunks, then removes the project row. The project must already be
// archived. Each chunk commits independently: this is unrecoverable cleanup
// of a project already taken offline, not an atomic operation.
func (a *Archiver) EraseProject(ctx context.Context, projectID int64) error {
	proj, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return opError(SourceProjectErase, err)
	}
	if proj.Status != StatusArchived {
		return opError(SourceProjectErase, fmt.Errorf("project %d has status %q, must be %q", projectID, proj.Status, StatusArchived))
	}
	def, err := project.Parse(proj.Definition)
	if err != nil {
		return opError(SourceProjectErase, err)
	}

	release, err := a.acquireProjectLock(ctx, projectID, SourceProjectErase)
	if err != nil {
		return err
	}
	defer release()

	db := a.store.DB()
	for {
		chunk, err := a.store.EntryChunk(ctx, projectID, a.eraseChunkSize)
		if err != nil {
			return opError(SourceProjectErase, err)
		}
		if len(chunk) == 0 {
			break
		}

		owners := make([]string, 0, len(chunk))
		for _, item := range chunk {
			owners = append(owners, item.UUID)
		}

		branches, err := a.store.BranchPayloadsByOwners(ctx, projectID, owners)
		if err != nil {
			return opError(SourceProjectErase, err)
		}
		mediaNames := collectMediaNames(def, chunk, branches)

		if len(branches) > 0 {
			branchUUIDs := make([]string, 0, len(branches))
			for _, item := range branches {
				branchUUIDs = append(branchUUIDs, item.UUID)
			}
			if _, err := a.store.DeleteBranchEntriesByUUID(ctx, db, projectID, branchUUIDs); err != nil {
				return opError(SourceProjectErase, err)
			}
		}
		if _, err := a.store.DeleteEntriesByUUID(ctx, db, projectID, owners); err != nil {
			return opError(SourceProjectErase, err)
		}

		if a.media != nil && len(mediaNames) > 0 {
			if err := a.media.Remove(ctx, projectID, mediaNames); err != nil {
				log.Printf("erase: remove media for project %d: %v", projectID, err)
			}
		}
		if a.search != nil {
			a.search.RemoveEntries(owners)
		}
	}

	remaining, err := a.store.LiveEntryCount(ctx, projectID)
	if err != nil {
		return opError(SourceProjectErase, err)
	}
	if remaining > 0 {
		return opError(SourceProjectErase, fmt.Errorf("project %d still has %d live entries after erase", projectID, remaining))
	}

	if err := a.store.DeleteProject(ctx, projectID); err != nil {
		return opError(SourceProjectErase, err)
	}
	return nil
}

func (a *Archiver) acquireProjectLock(ctx context.Context, projectID int64, source string) (func(), error) {
	if a.locks == nil {
		return func() {}, nil
	}
	key := locks.ProjectKey(projectID)
	ok, err := a.locks.Acquire(ctx, key, a.lockTTL)
	if err != nil {
		return nil, opError(source, err)
	}
	if !ok {
		return nil, opError(SourceEntryLock, fmt.Errorf("project %d archive already in progress", projectID))
	}
	return func() {
		if err := a.locks.Release(context.Background(), key); err != nil {
			log.Printf("archive: release lock %s: %v", key, err)
		}
	}, nil
}

// collectMediaNames gathers the stored file names of media answers from the
// rows about to be erased.
func collectMediaNames(def *project.Definition, items []store.EntryPayload, branches []store.BranchPayload) []string {
	names := make([]string, 0)

	for _, item := range items {
		form := def.Form(item.FormRef)
		if form == nil {
			continue
		}
		names = appendMediaAnswers(names, item.EntryData, form.MediaInputRefs())
	}

	for _, item := range branches {
		form := def.Form(item.FormRef)
		if form == nil {
			continue
		}
		branch := form.Branch(item.OwnerInputRef)
		if branch == nil {
			continue
		}
		names = appendMediaAnswers(names, item.EntryData, branch.MediaInputRefs())
	}
	return names
}

func appendMediaAnswers(names []string, raw []byte, mediaRefs []string) []string {
	if len(mediaRefs) == 0 {
		return names
	}
	data, err := decodeEntryData(raw)
	if err != nil {
		return names
	}
	for _, ref := range mediaRefs {
		answer, ok := data.Answers[ref]
		if !ok {
			continue
		}
		if name, ok := answer.Answer.(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}

func chunkStrings(items []string, size int) [][]string {
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
