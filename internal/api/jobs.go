package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/canon/internal/builder"
	"github.com/kalambet/canon/internal/content"
	"github.com/kalambet/canon/internal/graph"
)

// CreateContentRequest asks for one generated entity.
type CreateContentRequest struct {
	Type       string `json:"type" validate:"required"`
	UniverseID string `json:"universeId"`
}

// CreateContentResponse acknowledges a queued build.
type CreateContentResponse struct {
	JobID      string `json:"jobId"`
	Message    string `json:"message"`
	Status     string `json:"status"`
	UniverseID string `json:"universeId,omitempty"`
}

func handleCreateContent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateContentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		t, err := content.ParseType(req.Type)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if req.UniverseID != "" && deps.Graph != nil {
			if _, err := deps.Graph.GetUniverse(r.Context(), req.UniverseID); errors.Is(err, graph.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "universe %s not found", req.UniverseID)
				return
			} else if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to look up universe: %v", err)
				return
			}
		}

		jobID, err := deps.Queue.Submit(r.Context(), t, req.UniverseID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, CreateContentResponse{
			JobID:      jobID,
			Message:    fmt.Sprintf("%s generation job queued", t),
			Status:     "queued",
			UniverseID: req.UniverseID,
		})
	}
}

func handleJobStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		st, err := deps.Status.JobStatus(r.Context(), jobID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job status: %v", err)
			return
		}
		if st == nil {
			httpError(w, http.StatusNotFound, "not_found_error", "job not found")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleQueueStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Status.QueueStats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get queue stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// WebhookResponse wraps the completion outcome.
type WebhookResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Result  builder.Ack `json:"result"`
}

func handleBuildComplete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p builder.WebhookPayload
		if !decodeBody(w, r, &p) {
			return
		}

		ack := deps.Completer.Handle(r.Context(), p)
		writeJSON(w, http.StatusOK, WebhookResponse{
			Success: true,
			Message: "Webhook processed successfully",
			Result:  ack,
		})
	}
}

// LangflowCheck is the /test/langflow answer.
type LangflowCheck struct {
	Success bool   `json:"success"`
	Flows   int    `json:"flows,omitempty"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func handleTestLangflow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Langflow == nil {
			writeJSON(w, http.StatusServiceUnavailable, LangflowCheck{
				Message: "Langflow client not configured",
			})
			return
		}
		n, err := deps.Langflow.Ping(r.Context())
		if err != nil {
			writeJSON(w, http.StatusOK, LangflowCheck{
				Error:   err.Error(),
				Message: "Failed to connect to Langflow or retrieve flows",
			})
			return
		}
		writeJSON(w, http.StatusOK, LangflowCheck{
			Success: true,
			Flows:   n,
			Message: fmt.Sprintf("Found %d flows", n),
		})
	}
}
