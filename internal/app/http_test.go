package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fieldtally/api/internal/project"
)

func newTestServer(st *fakeStore, saver *fakeSaver, checker *fakeChecker, archiver *fakeArchiver) http.Handler {
	return NewHTTPServer(newTestService(st, saver, checker, archiver)).Handler()
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestUploadEndpoint(t *testing.T) {
	handler := newTestServer(nil, nil, nil, nil)

	body := `{
		"type": "entry",
		"uuid": "` + testEntryUUID + `",
		"formRef": "form-1",
		"title": "Household 12",
		"answers": {"name": {"answer": "Alice", "was_jumped": false}}
	}`
	req := httptest.NewRequest(http.MethodPost, "/projects/census/entries", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUploadEndpointMalformedBody(t *testing.T) {
	handler := newTestServer(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/projects/census/entries", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestUploadEndpointValidationFailure(t *testing.T) {
	handler := newTestServer(nil, nil, nil, nil)

	body := `{"type": "entry", "uuid": "not-a-uuid", "formRef": "form-1"}`
	req := httptest.NewRequest(http.MethodPost, "/projects/census/entries", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}

	var result Result
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if result.OK {
		t.Error("expected ok=false")
	}
	if len(result.Errors["uuid"]) == 0 {
		t.Errorf("errors = %v, want uuid key", result.Errors)
	}
}

func TestArchiveEndpointPassesFormRef(t *testing.T) {
	var gotFormRef, gotUUID string
	archiver := &fakeArchiver{
		archiveFn: func(_ context.Context, _ *project.Definition, _ int64, formRef, entryUUID string) error {
			gotFormRef, gotUUID = formRef, entryUUID
			return nil
		},
	}
	handler := newTestServer(nil, nil, nil, archiver)

	req := httptest.NewRequest(http.MethodPost, "/projects/census/entries/"+testEntryUUID+"/archive?form_ref=form-1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotFormRef != "form-1" || gotUUID != testEntryUUID {
		t.Errorf("archiver called with %q/%q", gotFormRef, gotUUID)
	}
}

func TestEraseEndpoint(t *testing.T) {
	var erased int64
	archiver := &fakeArchiver{
		eraseProjectFn: func(_ context.Context, projectID int64) error {
			erased = projectID
			return nil
		},
	}
	handler := newTestServer(nil, nil, nil, archiver)

	req := httptest.NewRequest(http.MethodDelete, "/projects/census", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if erased != 1 {
		t.Errorf("erased project id = %d, want 1", erased)
	}
}

func TestUnknownRoute(t *testing.T) {
	handler := newTestServer(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}
