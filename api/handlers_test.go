package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"tasklist/domain"
)

type memSlot struct {
	mu      sync.Mutex
	tasks   []domain.Task
	saveErr error
}

func (m *memSlot) Save(_ context.Context, tasks []domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.tasks = append([]domain.Task(nil), tasks...)
	return nil
}

func (m *memSlot) Load(context.Context) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Task{}, m.tasks...), nil
}

func (m *memSlot) failWith(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

type stubBoard struct {
	addFn       func(ctx context.Context, title string, priority domain.Priority, description string) (domain.Task, error)
	toggleFn    func(ctx context.Context, id string) (domain.Task, bool, error)
	deleteFn    func(ctx context.Context, id string) (bool, error)
	setFilterFn func(ctx context.Context, filter string) domain.View
}

func (s *stubBoard) Add(ctx context.Context, title string, priority domain.Priority, description string) (domain.Task, error) {
	return s.addFn(ctx, title, priority, description)
}

func (s *stubBoard) ToggleComplete(ctx context.Context, id string) (domain.Task, bool, error) {
	return s.toggleFn(ctx, id)
}

func (s *stubBoard) Delete(ctx context.Context, id string) (bool, error) {
	return s.deleteFn(ctx, id)
}

func (s *stubBoard) View(string) domain.View { return domain.View{Filter: domain.FilterAll} }

func (s *stubBoard) Stats() domain.Stats { return domain.Stats{} }

func (s *stubBoard) SetFilter(ctx context.Context, filter string) domain.View {
	if s.setFilterFn == nil {
		return domain.View{Filter: domain.FilterAll}
	}
	return s.setFilterFn(ctx, filter)
}

func newTestEcho(t *testing.T, board Board, deduper Deduper) *echo.Echo {
	t.Helper()
	logger, _ := test.NewNullLogger()
	e := echo.New()
	Register(e, board, deduper, nil, logger)
	return e
}

func newTestBoard(t *testing.T) (*domain.Store, *memSlot) {
	t.Helper()
	slot := &memSlot{}
	logger, _ := test.NewNullLogger()
	store := domain.NewStore(slot, domain.WithLogger(logger))
	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	return store, slot
}

func doRequest(e *echo.Echo, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeTasksResponse(t *testing.T, rec *httptest.ResponseRecorder) tasksResponse {
	t.Helper()
	var resp tasksResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v, body: %s", err, rec.Body.String())
	}
	return resp
}

func TestPostTaskCreatesTask(t *testing.T) {
	store, slot := newTestBoard(t)
	e := newTestEcho(t, store, nil)

	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":"  Buy milk ","priority":"high"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created taskView
	if err := sonic.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created.ID, "task-") {
		t.Fatalf("unexpected id %q", created.ID)
	}
	if created.Title != "Buy milk" {
		t.Fatalf("expected trimmed title, got %q", created.Title)
	}
	if created.Description != domain.DefaultDescription {
		t.Fatalf("expected default description, got %q", created.Description)
	}
	if created.Completed {
		t.Fatalf("new task must not be completed")
	}
	if created.CreatedLabel != "today" {
		t.Fatalf("expected createdLabel today, got %q", created.CreatedLabel)
	}
	if len(slot.tasks) != 1 || slot.tasks[0].ID != created.ID {
		t.Fatalf("expected task persisted, got %+v", slot.tasks)
	}
}

func TestPostTaskValidation(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "empty title", body: `{"title":"   ","priority":"low"}`, wantField: "title"},
		{name: "bad priority", body: `{"title":"x","priority":"urgent"}`, wantField: "priority"},
		{name: "missing priority", body: `{"title":"x"}`, wantField: "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, slot := newTestBoard(t)
			e := newTestEcho(t, store, nil)

			rec := doRequest(e, http.MethodPost, "/api/tasks", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			var resp errorResponse
			if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Field != tt.wantField {
				t.Fatalf("expected field %q, got %q", tt.wantField, resp.Field)
			}
			if len(store.All()) != 0 || slot.tasks != nil {
				t.Fatalf("validation failure must not change or save the collection")
			}
		})
	}
}

func TestPostTaskRejectsMalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `title=x`},
		{name: "unknown field", body: `{"title":"x","priority":"low","owner":"me"}`},
		{name: "too large", body: `{"title":"` + strings.Repeat("a", postTaskMaxSize) + `","priority":"low"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestBoard(t)
			e := newTestEcho(t, store, nil)
			rec := doRequest(e, http.MethodPost, "/api/tasks", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if len(store.All()) != 0 {
				t.Fatalf("expected no tasks")
			}
		})
	}
}

func TestPostTaskPersistenceErrors(t *testing.T) {
	tests := []struct {
		name     string
		saveErr  error
		wantCode int
	}{
		{name: "unavailable", saveErr: fmt.Errorf("%w: dial tcp", domain.ErrStorageUnavailable), wantCode: http.StatusServiceUnavailable},
		{name: "other", saveErr: errors.New("quota exceeded"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, slot := newTestBoard(t)
			slot.failWith(tt.saveErr)
			e := newTestEcho(t, store, nil)

			rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":"x","priority":"low"}`, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if len(store.All()) != 0 {
				t.Fatalf("failed save must leave collection unchanged")
			}
		})
	}
}

func TestPostTaskIdempotencyKey(t *testing.T) {
	_, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	store, _ := newTestBoard(t)
	e := newTestEcho(t, store, deduper)
	headers := map[string]string{headerIdempotencyKey: "req-1"}

	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":"x","priority":"low"}`, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec = doRequest(e, http.MethodPost, "/api/tasks", `{"title":"x","priority":"low"}`, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on replay, got %d", rec.Code)
	}
	if n := len(store.All()); n != 1 {
		t.Fatalf("expected 1 task, got %d", n)
	}
}

func TestPostTaskFailureReleasesIdempotencyKey(t *testing.T) {
	_, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	calls := 0
	board := &stubBoard{
		addFn: func(_ context.Context, title string, priority domain.Priority, _ string) (domain.Task, error) {
			calls++
			if calls == 1 {
				return domain.Task{}, domain.NewPersistenceError("save", domain.ErrStorageUnavailable)
			}
			return domain.Task{ID: "task-1", Title: title, Priority: priority, CreatedAt: time.Now()}, nil
		},
	}
	e := newTestEcho(t, board, deduper)
	headers := map[string]string{headerIdempotencyKey: "retry-me"}

	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":"x","priority":"low"}`, headers)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	rec = doRequest(e, http.MethodPost, "/api/tasks", `{"title":"x","priority":"low"}`, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected retry to succeed, got %d", rec.Code)
	}
}

func TestGetTasksFilters(t *testing.T) {
	store, _ := newTestBoard(t)
	ctx := context.Background()
	hi, _ := store.Add(ctx, "urgent", domain.PriorityHigh, "")
	lo, _ := store.Add(ctx, "later", domain.PriorityLow, "")
	if _, _, err := store.ToggleComplete(ctx, lo.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	e := newTestEcho(t, store, nil)

	tests := []struct {
		query    string
		wantMode domain.FilterMode
		wantIDs  []string
	}{
		{query: "", wantMode: domain.FilterAll, wantIDs: []string{hi.ID, lo.ID}},
		{query: "?filter=active", wantMode: domain.FilterActive, wantIDs: []string{hi.ID}},
		{query: "?filter=completed", wantMode: domain.FilterCompleted, wantIDs: []string{lo.ID}},
		{query: "?filter=high", wantMode: domain.FilterHigh, wantIDs: []string{hi.ID}},
		{query: "?filter=bogus", wantMode: domain.FilterAll, wantIDs: []string{hi.ID, lo.ID}},
	}

	for _, tt := range tests {
		t.Run("filter"+tt.query, func(t *testing.T) {
			rec := doRequest(e, http.MethodGet, "/api/tasks"+tt.query, "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			resp := decodeTasksResponse(t, rec)
			if resp.Filter != tt.wantMode {
				t.Fatalf("expected mode %q, got %q", tt.wantMode, resp.Filter)
			}
			if len(resp.Tasks) != len(tt.wantIDs) {
				t.Fatalf("expected %d tasks, got %d", len(tt.wantIDs), len(resp.Tasks))
			}
			for i, id := range tt.wantIDs {
				if resp.Tasks[i].ID != id {
					t.Fatalf("task %d: expected %s, got %s", i, id, resp.Tasks[i].ID)
				}
			}
			want := domain.Stats{Total: 2, High: 1, Low: 1, Completed: 1, Active: 1}
			if resp.Stats != want {
				t.Fatalf("stats must cover the whole collection, got %+v", resp.Stats)
			}
		})
	}
}

func TestToggleAndDeleteTask(t *testing.T) {
	store, _ := newTestBoard(t)
	task, err := store.Add(context.Background(), "x", domain.PriorityMedium, "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	e := newTestEcho(t, store, nil)

	rec := doRequest(e, http.MethodPost, "/api/tasks/"+task.ID+"/toggle", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var toggled taskView
	if err := sonic.Unmarshal(rec.Body.Bytes(), &toggled); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !toggled.Completed {
		t.Fatalf("expected task completed after toggle")
	}

	rec = doRequest(e, http.MethodDelete, "/api/tasks/"+task.ID, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(store.All()) != 0 {
		t.Fatalf("expected task removed")
	}
}

func TestUnknownTaskReturnsNotFound(t *testing.T) {
	store, slot := newTestBoard(t)
	e := newTestEcho(t, store, nil)

	rec := doRequest(e, http.MethodPost, "/api/tasks/nope/toggle", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("toggle: expected 404, got %d", rec.Code)
	}
	rec = doRequest(e, http.MethodDelete, "/api/tasks/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete: expected 404, got %d", rec.Code)
	}
	if slot.tasks != nil {
		t.Fatalf("unknown ids must not trigger a save")
	}
}

func TestToggleAndDeletePersistenceErrors(t *testing.T) {
	boom := errors.New("disk full")
	board := &stubBoard{
		toggleFn: func(context.Context, string) (domain.Task, bool, error) {
			return domain.Task{}, false, domain.NewPersistenceError("save", boom)
		},
		deleteFn: func(context.Context, string) (bool, error) {
			return false, domain.NewPersistenceError("save", fmt.Errorf("%w: timeout", domain.ErrStorageUnavailable))
		},
	}
	e := newTestEcho(t, board, nil)

	if rec := doRequest(e, http.MethodPost, "/api/tasks/a/toggle", "", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("toggle: expected 500, got %d", rec.Code)
	}
	if rec := doRequest(e, http.MethodDelete, "/api/tasks/a", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("delete: expected 503, got %d", rec.Code)
	}
}

func TestPutFilterChangesCurrentMode(t *testing.T) {
	store, _ := newTestBoard(t)
	ctx := context.Background()
	if _, err := store.Add(ctx, "a", domain.PriorityHigh, ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.Add(ctx, "b", domain.PriorityLow, ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	e := newTestEcho(t, store, nil)

	rec := doRequest(e, http.MethodPut, "/api/filter", `{"filter":"HIGH"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeTasksResponse(t, rec)
	if resp.Filter != domain.FilterHigh || len(resp.Tasks) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rec = doRequest(e, http.MethodGet, "/api/tasks", "", nil)
	resp = decodeTasksResponse(t, rec)
	if resp.Filter != domain.FilterHigh {
		t.Fatalf("expected current mode to persist across requests, got %q", resp.Filter)
	}
	if store.Filter() != domain.FilterHigh {
		t.Fatalf("store filter not updated")
	}
}

func TestPutFilterRespondsWithViewItSet(t *testing.T) {
	high := domain.Task{ID: "h", Title: "urgent", Priority: domain.PriorityHigh, Column: "todo", CreatedAt: time.Now()}
	board := &stubBoard{
		setFilterFn: func(_ context.Context, filter string) domain.View {
			if filter != "high" {
				t.Errorf("unexpected filter %q", filter)
			}
			return domain.View{
				Filter: domain.FilterHigh,
				Tasks:  []domain.Task{high},
				Stats:  domain.Stats{Total: 3, High: 1, Active: 3},
			}
		},
	}
	e := newTestEcho(t, board, nil)

	// The stub's View reports FilterAll, as if another request switched the
	// mode right after this one.
	rec := doRequest(e, http.MethodPut, "/api/filter", `{"filter":"high"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeTasksResponse(t, rec)
	if resp.Filter != domain.FilterHigh || len(resp.Tasks) != 1 || resp.Tasks[0].ID != "h" {
		t.Fatalf("response does not match the view this request set: %+v", resp)
	}
	if resp.Stats != (domain.Stats{Total: 3, High: 1, Active: 3}) {
		t.Fatalf("unexpected stats %+v", resp.Stats)
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	board := &stubBoard{
		addFn: func(context.Context, string, domain.Priority, string) (domain.Task, error) {
			return domain.Task{}, domain.ErrIDExhausted
		},
		toggleFn: func(context.Context, string) (domain.Task, bool, error) {
			return domain.Task{}, false, domain.NewPersistenceError("save", errors.New("disk full at /var/lib/tasks"))
		},
	}
	e := newTestEcho(t, board, nil)

	rec := doRequest(e, http.MethodPost, "/api/tasks", `{"title":"x","priority":"low"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := rec.Body.String(); strings.Contains(body, domain.ErrIDExhausted.Error()) || !strings.Contains(body, "internal error") {
		t.Fatalf("unexpected error body %s", body)
	}

	rec = doRequest(e, http.MethodPost, "/api/tasks/a/toggle", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := rec.Body.String(); strings.Contains(body, "/var/lib/tasks") || !strings.Contains(body, "storage failure") {
		t.Fatalf("unexpected error body %s", body)
	}
}

func TestGetStats(t *testing.T) {
	store, _ := newTestBoard(t)
	if _, err := store.Add(context.Background(), "a", domain.PriorityMedium, ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	e := newTestEcho(t, store, nil)

	rec := doRequest(e, http.MethodGet, "/api/stats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats domain.Stats
	if err := sonic.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats != (domain.Stats{Total: 1, Medium: 1, Active: 1}) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestHealthz(t *testing.T) {
	store, _ := newTestBoard(t)
	e := newTestEcho(t, store, nil)
	if rec := doRequest(e, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreatedLabel(t *testing.T) {
	now := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		created time.Time
		want    string
	}{
		{name: "same day", created: now.Add(-3 * time.Hour), want: "today"},
		{name: "yesterday", created: now.Add(-24 * time.Hour), want: "Apr 30"},
		{name: "last year", created: time.Date(2023, 12, 9, 0, 0, 0, 0, time.UTC), want: "Dec 9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := createdLabel(tt.created, now); got != tt.want {
				t.Fatalf("createdLabel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegisterDefaultsLogger(t *testing.T) {
	store, _ := newTestBoard(t)
	e := echo.New()
	Register(e, store, nil, nil, nil)
	if rec := doRequest(e, http.MethodGet, "/api/tasks", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
