package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// HandleLogin verifies credentials and issues a session token.
// POST /token
func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeServiceError(w, errMalformed)
		return
	}
	user, err := a.authenticate(r.Context(), in.Username, in.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	token, err := issueSessionToken(user.Email, a.SessionTTL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

// HandleMe returns the caller's own profile.
// GET /users/me
func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := userFromContext(r.Context())
	user, err := a.ReadSelf(r.Context(), actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleListUsers lists all users.
// GET /users
func (a *App) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	actor, _ := userFromContext(r.Context())
	users, err := a.ListUsers(r.Context(), actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleCreateUser registers a new user.
// POST /users
func (a *App) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		UserType string `json:"user_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeServiceError(w, errMalformed)
		return
	}
	if in.Email == "" || in.Password == "" {
		writeServiceError(w, errMalformed)
		return
	}
	if in.UserType == "" {
		in.UserType = string(RoleUser)
	}
	role, err := ParseRole(in.UserType)
	if err != nil {
		writeServiceError(w, errMalformed)
		return
	}
	actor, _ := userFromContext(r.Context())
	user, err := a.CreateUser(r.Context(), actor, in.Email, in.Password, role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// HandleDeleteUser deletes a user and returns the deleted profile.
// DELETE /users/{id}
func (a *App) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, errMalformed)
		return
	}
	actor, _ := userFromContext(r.Context())
	user, err := a.DeleteUser(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleChangeRole updates a user's role.
// PUT /users/{id}/type
func (a *App) HandleChangeRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, errMalformed)
		return
	}
	var in struct {
		UserType string `json:"user_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeServiceError(w, errMalformed)
		return
	}
	role, err := ParseRole(in.UserType)
	if err != nil {
		writeServiceError(w, errMalformed)
		return
	}
	actor, _ := userFromContext(r.Context())
	user, err := a.ChangeRole(r.Context(), actor, id, role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleChangePassword changes a user's password after verifying the old one.
// PUT /users/{id}/password
func (a *App) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, errMalformed)
		return
	}
	var in struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeServiceError(w, errMalformed)
		return
	}
	if in.NewPassword == "" {
		writeServiceError(w, errMalformed)
		return
	}
	actor, _ := userFromContext(r.Context())
	user, err := a.ChangePassword(r.Context(), actor, id, in.OldPassword, in.NewPassword)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
