package httpx

import (
	"net/http"

	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
)

// keyCreatedView is the one response that ever carries a raw key. The key is
// not recoverable afterwards; only its hash is stored.
type keyCreatedView struct {
	Key    *model.APIKey `json:"key"`
	APIKey string        `json:"api_key"`
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		WriteAppError(w, apperrors.Transient("key store unavailable"))
		return
	}
	keys, err := s.keys.List(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if keys == nil {
		keys = []*model.APIKey{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		WriteAppError(w, apperrors.Transient("key store unavailable"))
		return
	}
	var req model.CreateAPIKeyRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteAppError(w, apperrors.Validation(err.Error()))
		return
	}
	key, raw, err := s.keys.Create(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "api key created", "key_id", key.ID, "name", key.Name)
	WriteJSON(w, http.StatusOK, keyCreatedView{Key: key, APIKey: raw})
}

func (s *Server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		WriteAppError(w, apperrors.Transient("key store unavailable"))
		return
	}
	id := r.PathValue("id")
	var req model.UpdateAPIKeyRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteAppError(w, apperrors.Validation(err.Error()))
		return
	}
	key, err := s.keys.Update(r.Context(), id, req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "api key updated", "key_id", key.ID, "active", key.Active)
	WriteJSON(w, http.StatusOK, map[string]any{"key": key})
}
