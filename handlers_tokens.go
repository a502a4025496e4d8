package main

import (
	"encoding/json"
	"net/http"
)

// HandleCreateToken mints a new API token. The token value is only ever
// returned from this endpoint; owner_id defaults to the caller.
// POST /tokens
func (a *App) HandleCreateToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TokenName string `json:"token_name"`
		OwnerID   int64  `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeServiceError(w, errMalformed)
		return
	}
	if in.TokenName == "" {
		writeServiceError(w, errMalformed)
		return
	}
	actor, _ := userFromContext(r.Context())
	tok, err := a.CreateAPIToken(r.Context(), actor, in.OwnerID, in.TokenName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

// HandleListTokens lists all API tokens. The stored token value is included
// to match the existing API contract; mask it here if that contract can ever
// be broken.
// GET /tokens
func (a *App) HandleListTokens(w http.ResponseWriter, r *http.Request) {
	actor, _ := userFromContext(r.Context())
	tokens, err := a.ListAPITokens(r.Context(), actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// HandleDeleteToken revokes an API token.
// DELETE /tokens/{id}
func (a *App) HandleDeleteToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, errMalformed)
		return
	}
	actor, _ := userFromContext(r.Context())
	tok, err := a.DeleteAPIToken(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}
