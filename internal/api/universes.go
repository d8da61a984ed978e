package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/canon/internal/content"
	"github.com/kalambet/canon/internal/graph"
)

// CreateUniverseRequest names a new universe.
type CreateUniverseRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// listResponse is the envelope used for collections.
type listResponse[T any] struct {
	Success bool `json:"success"`
	Data    []T  `json:"data"`
	Count   int  `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Success: true, Data: items, Count: len(items)}
}

func handleCreateUniverse(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUniverseRequest
		if !decodeBody(w, r, &req) {
			return
		}

		u, err := deps.Graph.CreateUniverse(r.Context(), graph.NewUniverse(req.Name, req.Description, time.Now()))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create universe: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, u)
	}
}

func handleListUniverses(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Graph.ListUniverses(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list universes: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newList(list))
	}
}

func handleGetUniverse(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := deps.Graph.GetUniverse(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, graph.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "universe not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get universe: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func handleListEntities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var t content.Type
		if raw := r.URL.Query().Get("type"); raw != "" {
			parsed, err := content.ParseType(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			t = parsed
		}

		if _, err := deps.Graph.GetUniverse(r.Context(), id); errors.Is(err, graph.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "universe not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get universe: %v", err)
			return
		}

		list, err := deps.Graph.ListEntities(r.Context(), id, t)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list entities: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newList(list))
	}
}

func handleGetEntity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := deps.Graph.GetEntity(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, graph.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "entity not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get entity: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}
