package queue

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nullstream/unmutual/internal/db"
	"github.com/nullstream/unmutual/internal/httpserver"
)

// Handler provides HTTP handlers for job admission and inspection.
type Handler struct {
	queue   *Queue
	queries *db.Queries
	logger  *slog.Logger
}

// NewHandler creates a job Handler.
func NewHandler(queue *Queue, queries *db.Queries, logger *slog.Logger) *Handler {
	return &Handler{queue: queue, queries: queries, logger: logger}
}

// Routes returns a chi.Router with all job routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/initiate", h.handleInitiate)
	r.Get("/{id}", h.handleGet)
	r.Get("/", h.handleList)
	return r
}

type initiateRequest struct {
	UserID       int64  `json:"user_id" validate:"required"`
	TargetHandle string `json:"target_handle" validate:"required"`
}

type jobResponse struct {
	ID            uuid.UUID  `json:"id"`
	UserID        int64      `json:"user_id"`
	TargetHandle  string     `json:"target_handle"`
	Status        db.JobStatus `json:"status"`
	Progress      int32      `json:"progress"`
	QueuePosition *int32     `json:"queue_position,omitempty"`
	FollowersN    *int32     `json:"followers_n,omitempty"`
	FollowingN    *int32     `json:"following_n,omitempty"`
	NonMutualN    *int32     `json:"non_mutual_n,omitempty"`
	ArtifactPath  *string    `json:"artifact_path,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`

	NonMutual []db.NonMutualRecord `json:"non_mutual,omitempty"`
}

func toJobResponse(j db.Job) jobResponse {
	return jobResponse{
		ID: j.ID, UserID: j.UserID, TargetHandle: j.TargetHandle, Status: j.Status,
		Progress: j.Progress, QueuePosition: j.QueuePosition, FollowersN: j.FollowersN,
		FollowingN: j.FollowingN, NonMutualN: j.NonMutualN, ArtifactPath: j.ArtifactPath,
		ErrorMessage: j.ErrorMessage,
	}
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	job, err := h.queue.Admit(r.Context(), req.UserID, req.TargetHandle)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			httpserver.RespondError(w, http.StatusPaymentRequired, "insufficient_balance", "not enough credit to start a check")
			return
		}
		h.logger.Error("admitting job", "error", err, "user_id", req.UserID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to admit job")
		return
	}

	httpserver.Respond(w, http.StatusOK, toJobResponse(job))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}

	job, err := h.queries.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		h.logger.Error("getting job", "error", err, "job_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get job")
		return
	}

	resp := toJobResponse(job)
	if job.Status == db.JobStatusCompleted {
		records, err := h.queries.ListNonMutualByJob(r.Context(), id)
		if err != nil {
			h.logger.Error("listing non-mutual records", "error", err, "job_id", id)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load results")
			return
		}
		resp.NonMutual = records
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "user_id is required")
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	jobs, err := h.queries.ListJobsByUser(r.Context(), userID, int32(params.PageSize), int32(params.Offset))
	if err != nil {
		h.logger.Error("listing jobs", "error", err, "user_id", userID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}

	total, err := h.queries.CountJobsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("counting jobs", "error", err, "user_id", userID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}

	items := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, toJobResponse(j))
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, total))
}
