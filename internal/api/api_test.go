package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/churchcast/reelforge/internal/quota"
)

// withURLParam injects a chi URL parameter into the request context, the
// same way the router's mux would populate it at dispatch time.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestGetJobRejectsInvalidUUID(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/not-a-uuid", nil)
	req = withURLParam(req, "id", "not-a-uuid")
	w := httptest.NewRecorder()

	h.GetJob(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCancelJobRejectsInvalidUUID(t *testing.T) {
	h := &Handler{}
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/not-a-uuid/cancel", nil)
	req = withURLParam(req, "id", "not-a-uuid")
	w := httptest.NewRecorder()

	h.CancelJob(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRespondSubmissionErrorMapsQuotaExceededTo429(t *testing.T) {
	w := httptest.NewRecorder()
	respondSubmissionError(w, quota.ErrQuotaExceeded)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

func TestRespondSubmissionErrorMapsOtherErrorsTo400(t *testing.T) {
	w := httptest.NewRecorder()
	respondSubmissionError(w, errors.New("title is required"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHumanizeDurationProducesNonEmptyString(t *testing.T) {
	if got := humanizeDuration(186); got == "" {
		t.Error("expected a non-empty humanized duration")
	}
}
