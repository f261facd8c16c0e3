package entries

import (
	"context"
	"encoding/json"
	"fmt"

	"fieldtally/api/internal/project"
	"fieldtally/api/internal/store"
)

// Counter maintenance always re-derives aggregates from live rows inside
// the transaction of the triggering write. Nothing is incremented in place,
// so edits, deletes and archive cascades cannot drift the counters.

// maintainEntryCounts recomputes the written entry's child and branch
// counts, and the parent's child count when the entry has a parent.
func maintainEntryCounts(ctx context.Context, q store.Querier, st *store.EntryStore, def *project.Definition, projectID, entryID int64, uuid, formRef, parentUUID string) error {
	childCounts := 0
	if childRef := def.ChildFormRef(formRef); childRef != "" {
		n, err := st.CountChildEntries(ctx, q, projectID, uuid, childRef)
		if err != nil {
			return err
		}
		childCounts = n
	}

	encoded, err := deriveBranchCounts(ctx, q, st, def, projectID, uuid, formRef)
	if err != nil {
		return err
	}
	if err := st.UpdateEntryCounts(ctx, q, entryID, childCounts, encoded); err != nil {
		return err
	}

	// A write can invalidate two rows' aggregates: this entry's own counts
	// and the parent's child count.
	if parentUUID != "" {
		n, err := st.CountChildEntries(ctx, q, projectID, parentUUID, formRef)
		if err != nil {
			return err
		}
		if err := st.UpdateChildCountsByUUID(ctx, q, projectID, parentUUID, n); err != nil {
			return err
		}
	}
	return nil
}

// maintainOwnerCounts recomputes the owner entry's branch counts after a
// branch entry write or removal.
func maintainOwnerCounts(ctx context.Context, q store.Querier, st *store.EntryStore, def *project.Definition, projectID int64, ownerUUID, formRef string) error {
	encoded, err := deriveBranchCounts(ctx, q, st, def, projectID, ownerUUID, formRef)
	if err != nil {
		return err
	}
	return st.UpdateBranchCountsByUUID(ctx, q, projectID, ownerUUID, encoded)
}

func deriveBranchCounts(ctx context.Context, q store.Querier, st *store.EntryStore, def *project.Definition, projectID int64, ownerUUID, formRef string) ([]byte, error) {
	var refs []string
	if form := def.Form(formRef); form != nil {
		refs = form.BranchRefs()
	}

	live := map[string]int{}
	if len(refs) > 0 {
		grouped, err := st.CountBranchEntries(ctx, q, projectID, ownerUUID, formRef)
		if err != nil {
			return nil, err
		}
		live = grouped
	}

	encoded, err := json.Marshal(overlayBranchCounts(refs, live))
	if err != nil {
		return nil, fmt.Errorf("marshal branch counts: %w", err)
	}
	return encoded, nil
}

// overlayBranchCounts defaults every defined branch ref to zero, then
// overlays the grouped live counts.
func overlayBranchCounts(refs []string, live map[string]int) map[string]int {
	counts := make(map[string]int, len(refs))
	for _, ref := range refs {
		counts[ref] = 0
	}
	for ref, n := range live {
		counts[ref] = n
	}
	return counts
}
