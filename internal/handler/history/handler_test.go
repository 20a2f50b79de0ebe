package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/lifeddx/steve/backend/internal/middleware"
	"github.com/lifeddx/steve/backend/internal/model/specialist"
	historyService "github.com/lifeddx/steve/backend/internal/service/history"
	"github.com/lifeddx/steve/backend/internal/service/session"
)

type fakeCompactor struct {
	threadID    string
	assistantID string
	err         error
}

func (f *fakeCompactor) Compact(_ context.Context, threadID, assistantID string) (historyService.Result, error) {
	f.threadID = threadID
	f.assistantID = assistantID
	if f.err != nil {
		return historyService.Result{}, f.err
	}
	if threadID == "" {
		return historyService.Result{}, historyService.ErrNoThread
	}
	return historyService.Result{Entries: 2, Summary: "S"}, nil
}

func setupRouter(compactor Compactor, threadID string) *chi.Mux {
	sess := session.New("sess-1", specialist.NewMemoryStore(specialist.Seed()).Default())
	if threadID != "" {
		sess.EnsureThread(context.Background(), func(context.Context) (string, error) { return threadID, nil })
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithSession(r.Context(), sess)))
		})
	})
	New(compactor).RegisterRoutes(r)
	return r
}

func compact(r http.Handler) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/history/compact", nil))
	return resp
}

func TestCompactUsesActiveSpecialist(t *testing.T) {
	compactor := &fakeCompactor{}
	resp := compact(setupRouter(compactor, "thread_1"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if compactor.threadID != "thread_1" || compactor.assistantID != specialist.Seed()[0].AssistantID {
		t.Fatalf("unexpected compaction target %+v", compactor)
	}
}

func TestCompactWithoutThread(t *testing.T) {
	resp := compact(setupRouter(&fakeCompactor{}, ""))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestCompactRemoteFailure(t *testing.T) {
	resp := compact(setupRouter(&fakeCompactor{err: errors.New("upstream 500")}, "thread_1"))
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}

func TestCompactUnavailable(t *testing.T) {
	resp := compact(setupRouter(nil, "thread_1"))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}
