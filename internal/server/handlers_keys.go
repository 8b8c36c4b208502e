package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rooflinehq/roofline/internal/auth"
	"github.com/rooflinehq/roofline/internal/ctxutil"
	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/storage"
)

// HandleCreateAPIKey mints a new API key. The raw key appears in the response
// exactly once; only its argon2id hash is stored. Admin callers must name the
// organization; key-scoped callers mint for their own.
func (h *Handlers) HandleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var orgID uuid.UUID
	switch {
	case isAdmin(r.Context()):
		if req.OrgID == nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "org_id is required for admin requests")
			return
		}
		orgID = *req.OrgID
	default:
		claims := ctxutil.ClaimsFromContext(r.Context())
		if claims == nil {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no credential in context")
			return
		}
		if req.OrgID != nil && *req.OrgID != claims.OrgID {
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "cannot mint keys for another organization")
			return
		}
		orgID = claims.OrgID
	}

	// Ensure the organization exists before minting a credential for it.
	if _, err := h.db.GetOrganization(r.Context(), orgID); err != nil {
		writeStorageError(w, r, err)
		return
	}

	rawKey, prefix, err := model.GenerateRawKey()
	if err != nil {
		h.logger.Error("generate api key", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	hash, err := auth.HashAPIKey(rawKey)
	if err != nil {
		h.logger.Error("hash api key", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	key, err := h.db.CreateAPIKey(r.Context(), model.APIKey{
		Prefix:  prefix,
		KeyHash: hash,
		OrgID:   orgID,
		Label:   req.Label,
	}, storage.ChangeLogEntry{
		RequestID:    ctxutil.RequestIDFromContext(r.Context()),
		OrgID:        orgID,
		Actor:        ctxutil.Actor(r.Context()),
		Operation:    "create_api_key",
		ResourceType: "api_key",
		Metadata:     map[string]any{"label": req.Label},
	})
	if err != nil {
		writeStorageError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, model.CreateAPIKeyResponse{Key: key, RawKey: rawKey})
}

// HandleListAPIKeys lists the caller organization's API keys (hashes never
// leave the database).
func (h *Handlers) HandleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requestOrg(w, r)
	if !ok {
		return
	}

	keys, err := h.db.ListAPIKeys(r.Context(), orgID)
	if err != nil {
		writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"keys": keys})
}

// HandleRevokeAPIKey revokes one API key. Revocation is immediate for raw-key
// authentication; outstanding session tokens expire on their own.
func (h *Handlers) HandleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requestOrg(w, r)
	if !ok {
		return
	}
	keyID, err := uuid.Parse(r.PathValue("key_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid key id")
		return
	}

	if err := h.db.RevokeAPIKey(r.Context(), orgID, keyID, storage.ChangeLogEntry{
		RequestID:    ctxutil.RequestIDFromContext(r.Context()),
		OrgID:        orgID,
		Actor:        ctxutil.Actor(r.Context()),
		Operation:    "revoke_api_key",
		ResourceType: "api_key",
		Metadata:     map[string]any{"key_id": keyID},
	}); err != nil {
		writeStorageError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
