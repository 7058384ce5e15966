package localapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/florianilch/devpilot/internal/tokenstore"
)

type tokenHandlers struct {
	store TokenStore
}

type setTokenRequest struct {
	Value *string `json:"value"`
}

type tokenResponse struct {
	Value string `json:"value"`
}

type validResponse struct {
	Valid bool `json:"valid"`
}

type extendResponse struct {
	Extended bool `json:"extended"`
}

type keysResponse struct {
	Keys []string `json:"keys"`
}

func (h *tokenHandlers) set(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("key")

	var req setTokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(ctx, w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Value == nil {
		respondError(ctx, w, "missing value", http.StatusBadRequest)
		return
	}

	if err := h.store.Set(ctx, key, *req.Value); err != nil {
		if errors.Is(err, tokenstore.ErrEmptyKey) {
			respondError(ctx, w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "failed to store token", "key", key, "error", err)
		respondError(ctx, w, "failed to store token", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *tokenHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	value, err := h.store.Get(ctx, r.PathValue("key"))
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			respondError(ctx, w, err.Error(), http.StatusNotFound)
			return
		}
		respondError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	respondJSON(ctx, w, tokenResponse{Value: value}, http.StatusOK)
}

func (h *tokenHandlers) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("key")

	if err := h.store.Remove(ctx, key); err != nil {
		slog.ErrorContext(ctx, "failed to remove token", "key", key, "error", err)
		respondError(ctx, w, "failed to remove token", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *tokenHandlers) clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.store.Clear(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to clear tokens", "error", err)
		respondError(ctx, w, "failed to clear tokens", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *tokenHandlers) valid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	valid, err := h.store.IsValid(ctx, r.PathValue("key"))
	if err != nil {
		respondError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	respondJSON(ctx, w, validResponse{Valid: valid}, http.StatusOK)
}

func (h *tokenHandlers) extend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("key")

	extended, err := h.store.Extend(ctx, key)
	if err != nil {
		slog.ErrorContext(ctx, "failed to extend token", "key", key, "error", err)
		respondError(ctx, w, "failed to extend token", http.StatusInternalServerError)
		return
	}

	respondJSON(ctx, w, extendResponse{Extended: extended}, http.StatusOK)
}

func (h *tokenHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	keys, err := h.store.Keys(ctx)
	if err != nil {
		respondError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	respondJSON(ctx, w, keysResponse{Keys: keys}, http.StatusOK)
}
