package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/churchcast/reelforge/internal/models"
	"github.com/churchcast/reelforge/internal/quota"
	"github.com/churchcast/reelforge/internal/submission"
)

// Handler implements the inbound API surface (spec §6): submit_job,
// get_job, cancel_job, regenerate_job.
type Handler struct {
	submitter *submission.Submitter
}

func NewHandler(submitter *submission.Submitter) *Handler {
	return &Handler{submitter: submitter}
}

// submitJobRequest mirrors submission.JobSubmission field-for-field; kept as
// its own type so the wire shape can evolve independently of the internal
// DTO (spec §9 "dynamic typing at API boundaries").
type submitJobRequest struct {
	TenantID       uuid.UUID  `json:"tenant_id"`
	UserID         uuid.UUID  `json:"user_id"`
	AudioBlobURL   string     `json:"audio_blob_url"`
	Title          string     `json:"title"`
	LayoutID       *uuid.UUID `json:"layout_id,omitempty"`
	GenerationMode *string    `json:"generation_mode,omitempty"`
	ClipOverride   []string   `json:"clip_override,omitempty"`
	BGMBlobURL     *string    `json:"bgm_blob_url,omitempty"`
	BGMGain        float64    `json:"bgm_gain"`
}

type submitJobResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

// SubmitJob handles POST /v1/jobs (spec §6 "submit_job(tenant_id, user_id,
// audio_blob_url, title, options) → job_id").
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub := submission.JobSubmission{
		TenantID:       req.TenantID,
		UserID:         req.UserID,
		AudioBlobURL:   req.AudioBlobURL,
		Title:          req.Title,
		LayoutID:       req.LayoutID,
		GenerationMode: req.GenerationMode,
		ClipOverride:   req.ClipOverride,
		BGMBlobURL:     req.BGMBlobURL,
		BGMGain:        req.BGMGain,
	}

	jobID, err := h.submitter.Submit(r.Context(), sub)
	if err != nil {
		respondSubmissionError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, submitJobResponse{JobID: jobID})
}

// jobResponse wraps the job record with a couple of human-readable fields a
// dashboard can display without reimplementing relative-time/duration
// formatting client-side (spec §9's "localized message" surface, extended to
// the get_job success path).
type jobResponse struct {
	*models.Job
	CreatedAgo      string  `json:"created_ago"`
	DurationHuman   *string `json:"duration_human,omitempty"`
}

// GetJob handles GET /v1/jobs/{id} (spec §6 "get_job(job_id) → JobRecord").
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.submitter.Get(r.Context(), jobID)
	if err != nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := jobResponse{Job: job, CreatedAgo: humanize.Time(job.CreatedAt)}
	if job.DurationSeconds != nil {
		human := humanizeDuration(*job.DurationSeconds)
		resp.DurationHuman = &human
	}

	respondJSON(w, http.StatusOK, resp)
}

// CancelJob handles POST /v1/jobs/{id}/cancel (spec §6 "cancel_job(job_id) —
// sets the cancellation flag; idempotent").
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.submitter.Cancel(r.Context(), jobID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "cancel_requested"})
}

type regenerateJobRequest struct {
	Title          *string    `json:"title,omitempty"`
	LayoutID       *uuid.UUID `json:"layout_id,omitempty"`
	GenerationMode *string    `json:"generation_mode,omitempty"`
	ClipOverride   []string   `json:"clip_override,omitempty"`
	BGMBlobURL     *string    `json:"bgm_blob_url,omitempty"`
	BGMGain        *float64   `json:"bgm_gain,omitempty"`
}

type regenerateJobResponse struct {
	JobID uuid.UUID `json:"job_id"`
}

// RegenerateJob handles POST /v1/jobs/{id}/regenerate (spec §6
// "regenerate_job(job_id, overrides) → new_job_id — copies the source audio
// and layout and submits a new job").
func (h *Handler) RegenerateJob(w http.ResponseWriter, r *http.Request) {
	sourceJobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var req regenerateJobRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	overrides := submission.RegenerationOverrides{
		Title:          req.Title,
		LayoutID:       req.LayoutID,
		GenerationMode: req.GenerationMode,
		ClipOverride:   req.ClipOverride,
		BGMBlobURL:     req.BGMBlobURL,
		BGMGain:        req.BGMGain,
	}

	newJobID, err := h.submitter.Regenerate(r.Context(), sourceJobID, overrides)
	if err != nil {
		respondSubmissionError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, regenerateJobResponse{JobID: newJobID})
}

// Health check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondSubmissionError maps submission-layer errors onto HTTP status
// codes (spec §7 "the surface maps each kind to a localized message").
// QuotaExceeded is the one submission-time error kind the spec names
// explicitly; everything else Validate/Submit can return is a BadInput-flavored
// validation failure.
func respondSubmissionError(w http.ResponseWriter, err error) {
	if errors.Is(err, quota.ErrQuotaExceeded) {
		respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error_kind": models.ErrorQuotaExceeded,
			"detail":     "no weekly credits remain for this tenant",
		})
		return
	}
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error_kind": models.ErrorBadInput,
		"detail":     err.Error(),
	})
}

// humanizeDuration renders a video's duration as "3 minutes" rather than a
// raw float, for get_job's duration_human field.
func humanizeDuration(seconds float64) string {
	now := time.Now()
	return humanize.RelTime(now, now.Add(time.Duration(seconds*float64(time.Second))), "", "")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
