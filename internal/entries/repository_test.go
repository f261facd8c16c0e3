package entries

import (
	"testing"
	"time"
)

func TestBuildEntryDataFormatsCreatedAt(t *testing.T) {
	createdAt := time.Date(2026, 3, 14, 8, 15, 30, 0, time.UTC)
	s := &Structure{
		Title:     "Household 12",
		CreatedAt: createdAt,
		Answers: map[string]Answer{
			"name": {Answer: "Alice"},
		},
	}

	out := buildEntryData(s)
	if out.Title != "Household 12" {
		t.Errorf("Title = %q", out.Title)
	}
	if out.CreatedAt != "2026-03-14T08:15:30.000Z" {
		t.Errorf("CreatedAt = %q", out.CreatedAt)
	}
	if out.Answers["name"].Answer != "Alice" {
		t.Errorf("Answers[name] = %+v", out.Answers["name"])
	}
}

func TestPreserveBulkEditFields(t *testing.T) {
	storedCreatedAt := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	storedAnswers := map[string]Answer{
		"photo": {Answer: "photo-abc.jpg"},
		"name":  {Answer: "Old Name"},
	}

	// The bulk import stamps its own created_at and cannot carry media, so
	// the submitted payload arrives with a fresh timestamp and an empty
	// photo answer.
	out := &EntryData{
		CreatedAt: "2026-03-14T08:15:30.000Z",
		Answers: map[string]Answer{
			"photo": {Answer: ""},
			"name":  {Answer: "New Name"},
		},
	}

	preserveBulkEditFields(out, storedCreatedAt, storedAnswers, []string{"photo"})

	if out.CreatedAt != "2026-01-02T10:00:00.000Z" {
		t.Errorf("CreatedAt = %q, want stored capture time", out.CreatedAt)
	}
	if out.Answers["photo"].Answer != "photo-abc.jpg" {
		t.Errorf("photo answer = %v, want stored media answer", out.Answers["photo"].Answer)
	}
	if out.Answers["name"].Answer != "New Name" {
		t.Errorf("name answer = %v, non-media answers must take the edit", out.Answers["name"].Answer)
	}
}

func TestPreserveBulkEditFieldsMissingStoredMedia(t *testing.T) {
	out := &EntryData{
		CreatedAt: "2026-03-14T08:15:30.000Z",
		Answers: map[string]Answer{
			"photo": {Answer: ""},
		},
	}

	preserveBulkEditFields(out, time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC), map[string]Answer{}, []string{"photo"})

	if out.Answers["photo"].Answer != "" {
		t.Errorf("photo answer = %v, want untouched when nothing is stored", out.Answers["photo"].Answer)
	}
}

func TestDecodeEntryData(t *testing.T) {
	data, err := decodeEntryData([]byte(`{"title":"T","created_at":"2026-01-02T10:00:00.000Z","answers":{"name":{"answer":"Alice","was_jumped":false}}}`))
	if err != nil {
		t.Fatalf("decodeEntryData failed: %v", err)
	}
	if data.Title != "T" || data.Answers["name"].Answer != "Alice" {
		t.Errorf("unexpected decode: %+v", data)
	}

	data, err = decodeEntryData([]byte(`{}`))
	if err != nil {
		t.Fatalf("decodeEntryData on empty object failed: %v", err)
	}
	if data.Answers == nil {
		t.Error("Answers must be non-nil after decode")
	}

	if _, err := decodeEntryData([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}
