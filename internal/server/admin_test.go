package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"autopost/internal/moderation"
	"autopost/internal/storage/storagetest"
	"autopost/internal/types"
)

func newTestAdmin(t *testing.T) (*Admin, *storagetest.MemoryStore) {
	t.Helper()
	store := storagetest.New()
	gate := moderation.NewGate(store, make(chan *types.ProcessedItem, 4), nil)
	return NewAdmin(":0", gate, nil), store
}

func adminMux(a *Admin) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("POST /moderation/{id}/decision", a.handleDecision)
	return mux
}

func seedPending(t *testing.T, store *storagetest.MemoryStore, id string) {
	t.Helper()
	now := time.Now().UTC()
	item := &types.ProcessedItem{
		ID:        id,
		RawID:     "raw-" + id,
		Score:     0.45,
		State:     types.StatePendingModeration,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Processed().Create(context.Background(), item); err != nil {
		t.Fatalf("seeding item: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	admin, _ := newTestAdmin(t)

	rec := httptest.NewRecorder()
	adminMux(admin).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %q, want ok status", rec.Body.String())
	}
}

func TestHandleDecision_Approve(t *testing.T) {
	admin, store := newTestAdmin(t)
	seedPending(t, store, "item-1")

	body := strings.NewReader(`{"approver":"alice","verdict":"approve","comment":"fine"}`)
	rec := httptest.NewRecorder()
	adminMux(admin).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/moderation/item-1/decision", body))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}

	item, err := store.Processed().Get(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.State != types.StateApproved {
		t.Errorf("state = %s, want approved", item.State)
	}
}

func TestHandleDecision_SecondDecisionConflicts(t *testing.T) {
	admin, store := newTestAdmin(t)
	seedPending(t, store, "item-1")
	mux := adminMux(admin)

	first := httptest.NewRecorder()
	mux.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/moderation/item-1/decision",
		strings.NewReader(`{"approver":"alice","verdict":"approve"}`)))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first decision status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	mux.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/moderation/item-1/decision",
		strings.NewReader(`{"approver":"bob","verdict":"reject"}`)))
	if second.Code != http.StatusConflict {
		t.Errorf("second decision status = %d, want 409", second.Code)
	}
}

func TestHandleDecision_ValidatesInput(t *testing.T) {
	admin, store := newTestAdmin(t)
	seedPending(t, store, "item-1")
	mux := adminMux(admin)

	cases := []struct {
		name string
		body string
	}{
		{"bad verdict", `{"approver":"alice","verdict":"maybe"}`},
		{"missing approver", `{"verdict":"approve"}`},
		{"broken json", `{"approver":`},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/moderation/item-1/decision",
			strings.NewReader(tc.body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}
