// Package api exposes the build queue and the generated universes over HTTP
// and as MCP tools.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kalambet/canon/internal/builder"
	"github.com/kalambet/canon/internal/graph"
	"github.com/kalambet/canon/internal/queue"
)

const maxRequestBodySize = 1 << 20 // 1MB

// FlowPinger checks the generation backend.
type FlowPinger interface {
	Ping(ctx context.Context) (int, error)
}

// Deps holds what the handlers need.
type Deps struct {
	Queue     *queue.Queue
	Status    *queue.StatusService
	Completer *builder.Completer
	Graph     graph.Store
	Langflow  FlowPinger // optional; /test/langflow reports unavailable when nil
	Token     string
}

// NewHandler returns the Canon HTTP API. /health is always public; every
// other route sits behind BearerAuth when a token is configured.
func NewHandler(deps Deps) http.Handler {
	if deps.Status == nil && deps.Queue != nil {
		deps.Status = queue.NewStatusService(deps.Queue)
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/content/create", handleCreateContent(deps))
		r.Get("/job/{jobId}/status", handleJobStatus(deps))
		r.Get("/queue/stats", handleQueueStats(deps))
		r.Post("/webhook/build-complete", handleBuildComplete(deps))

		r.Post("/universes", handleCreateUniverse(deps))
		r.Get("/universes", handleListUniverses(deps))
		r.Get("/universes/{id}", handleGetUniverse(deps))
		r.Get("/universes/{id}/entities", handleListEntities(deps))
		r.Get("/entities/{id}", handleGetEntity(deps))

		r.Get("/test/langflow", handleTestLangflow(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

var validate = validator.New()

// validationMessage turns the first validator failure into a short message.
func validationMessage(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed on '%s' validation", fe.Field(), fe.Tag())
	}
	return err.Error()
}

// decodeBody reads a JSON body into v and validates it. It writes the 400
// response itself and reports whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", validationMessage(err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
