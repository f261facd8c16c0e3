// Package search maintains an optional Meilisearch index of entry titles.
package search

import (
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxEntries = "fieldtally_entries"

// EntryDoc is the indexed projection of an entry.
type EntryDoc struct {
	UUID       string    `json:"uuid"`
	ProjectID  int64     `json:"projectId"`
	FormRef    string    `json:"formRef"`
	Title      string    `json:"title"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Index wraps the Meilisearch client. It is best effort: the engine's
// consistency guarantees never depend on it, and an unreachable server only
// degrades search.
type Index struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// New creates a Meilisearch client and configures the entry index. The
// caller should proceed without search if the server stays unreachable.
func New(url, apiKey string) *Index {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	i := &Index{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		i.healthy.Store(false)
	} else {
		i.healthy.Store(true)
		i.configureIndex()
	}

	go i.healthLoop()
	return i
}

func (i *Index) configureIndex() {
	if _, err := i.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxEntries,
		PrimaryKey: "uuid",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxEntries, err)
	}

	index := i.client.Index(idxEntries)
	filterable := []interface{}{"projectId", "formRef"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxEntries, err)
	}
	searchable := []string{"title"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxEntries, err)
	}
}

func (i *Index) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-i.done:
			return
		case <-ticker.C:
			_, err := i.client.Health()
			wasHealthy := i.healthy.Load()
			i.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				i.configureIndex()
			}
		}
	}
}

// Healthy reports whether Meilisearch is reachable.
func (i *Index) Healthy() bool {
	return i.healthy.Load()
}

// Close stops the background health monitor.
func (i *Index) Close() {
	close(i.done)
}

// IndexEntry adds or updates an entry document (fire-and-forget).
func (i *Index) IndexEntry(doc EntryDoc) {
	if !i.healthy.Load() {
		return
	}
	go func() {
		if _, err := i.client.Index(idxEntries).AddDocuments([]EntryDoc{doc}, nil); err != nil {
			log.Printf("search: index entry %s: %v", doc.UUID, err)
		}
	}()
}

// RemoveEntries removes entry documents by uuid (fire-and-forget).
func (i *Index) RemoveEntries(uuids []string) {
	if !i.healthy.Load() || len(uuids) == 0 {
		return
	}
	go func() {
		for _, uuid := range uuids {
			if _, err := i.client.Index(idxEntries).DeleteDocument(uuid, nil); err != nil {
				log.Printf("search: delete entry %s: %v", uuid, err)
			}
		}
	}()
}
