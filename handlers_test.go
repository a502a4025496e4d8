package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, h http.Handler, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, email, password string) string {
	t.Helper()
	rec := doJSON(t, h, "POST", "/token", "", map[string]string{
		"username": email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Equal(t, "bearer", out.TokenType)
	require.NotEmpty(t, out.AccessToken)
	return out.AccessToken
}

// Seeded admin logs in, creates a user through the API, and the response
// carries the new profile without any password material.
func TestAdminCreatesUserFlow(t *testing.T) {
	app := newTestApp(t)
	router := app.routes()
	require.NoError(t, seedAdmin(context.Background(), app.DB, "a@x.com", "P1"))

	token := login(t, router, "a@x.com", "P1")

	rec := doJSON(t, router, "POST", "/users", token, map[string]string{
		"email":     "b@x.com",
		"password":  "P2",
		"user_type": "user",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotContains(t, rec.Body.String(), "password")

	var created User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.NotZero(t, created.ID)
	require.Equal(t, "b@x.com", created.Email)
	require.Equal(t, RoleUser, created.Role)
}

func TestLoginFailures(t *testing.T) {
	app := newTestApp(t)
	router := app.routes()
	mustCreateUser(t, app.DB, "a@x.com", "P1", RoleAdmin)

	rec := doJSON(t, router, "POST", "/token", "", map[string]string{
		"username": "a@x.com",
		"password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	// unknown user gets the identical response
	rec2 := doJSON(t, router, "POST", "/token", "", map[string]string{
		"username": "nobody@x.com",
		"password": "P1",
	})
	require.Equal(t, rec.Code, rec2.Code)
	require.Equal(t, rec.Body.String(), rec2.Body.String())

	rec = doJSON(t, router, "POST", "/token", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnauthenticatedRequests(t *testing.T) {
	app := newTestApp(t)
	router := app.routes()
	mustCreateUser(t, app.DB, "a@x.com", "P1", RoleAdmin)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/users/me"},
		{"GET", "/users"},
		{"POST", "/users"},
		{"DELETE", "/users/1"},
		{"PUT", "/users/1/type"},
		{"PUT", "/users/1/password"},
		{"POST", "/tokens"},
		{"GET", "/tokens"},
		{"DELETE", "/tokens/1"},
	} {
		rec := doJSON(t, router, tc.method, tc.path, "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}

	rec := doJSON(t, router, "GET", "/users/me", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestForbiddenForNonAdmin(t *testing.T) {
	app := newTestApp(t)
	router := app.routes()
	admin := mustCreateUser(t, app.DB, "a@x.com", "P1", RoleAdmin)
	mustCreateUser(t, app.DB, "b@x.com", "P2", RoleUser)
	token := login(t, router, "b@x.com", "P2")

	for _, tc := range []struct {
		method, path string
		body         interface{}
	}{
		{"GET", "/users", nil},
		{"POST", "/users", map[string]string{"email": "c@x.com", "password": "x"}},
		{"DELETE", "/users/42", nil},
		{"PUT", "/users/42/type", map[string]string{"user_type": "admin"}},
		{"POST", "/tokens", map[string]string{"token_name": "nope"}},
		{"GET", "/tokens", nil},
		{"DELETE", "/tokens/42", nil},
	} {
		rec := doJSON(t, router, tc.method, tc.path, token, tc.body)
		require.Equal(t, http.StatusForbidden, rec.Code, "%s %s: %s", tc.method, tc.path, rec.Body.String())
	}

	// forbidden regardless of whether the target exists
	rec := doJSON(t, router, "DELETE", "/users/"+itoa(admin.ID), token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestUsersMe(t *testing.T) {
	app := newTestApp(t)
	router := app.routes()
	mustCreateUser(t, app.DB, "b@x.com", "P2", RoleUser)
	token := login(t, router, "b@x.com", "P2")

	rec := doJSON(t, router, "GET", "/users/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var me User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	require.Equal(t, "b@x.com", me.Email)
	require.Equal(t, RoleUser, me.Role)
}

func TestUserAdminEndpoints(t *testing.T) {
	app := newTestApp(t)
	router := app.routes()
	mustCreateUser(t, app.DB, "a@x.com", "P1", RoleAdmin)
	user := mustCreateUser(t, app.DB, "b@x.com", "P2", RoleUser)
	token := login(t, router, "a@x.com", "P1")

	rec := doJSON(t, router, "GET", "/users", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&users))
	require.Len(t, users, 2)

	rec = doJSON(t, router, "PUT", "/users/"+itoa(user.ID)+"/type", token, map[string]string{"user_type": "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	require.Equal(t, RoleAdmin, updated.Role)

	// unknown roles are rejected at the boundary
	rec = doJSON(t, router, "PUT", "/users/"+itoa(user.ID)+"/type", token, map[string]string{"user_type": "superuser"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "PUT", "/users/99/type", token, map[string]string{"user_type": "user"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, "DELETE", "/users/"+itoa(user.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, router, "DELETE", "/users/"+itoa(user.ID), token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChangePasswordEndpoint(t *testing.T) {
	app := newTestApp(t)
	router := app.routes()
	user := mustCreateUser(t, app.DB, "b@x.com", "P2", RoleUser)
	token := login(t, router, "b@x.com", "P2")

	rec := doJSON(t, router, "PUT", "/users/"+itoa(user.ID)+"/password", token, map[string]string{
		"old_password": "nope",
		"new_password": "P3",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "PUT", "/users/"+itoa(user.ID)+"/password", token, map[string]string{
		"old_password": "P2",
		"new_password": "P3",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	login(t, router, "b@x.com", "P3")
}

func TestAPITokenEndpoints(t *testing.T) {
	app := newTestApp(t)
	router := app.routes()
	mustCreateUser(t, app.DB, "a@x.com", "P1", RoleAdmin)
	token := login(t, router, "a@x.com", "P1")

	rec := doJSON(t, router, "POST", "/tokens", token, map[string]string{"token_name": "ci"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created APIToken
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.Equal(t, "ci", created.Name)
	require.NotEmpty(t, created.Token)

	// the minted value works as a bearer credential
	rec = doJSON(t, router, "GET", "/users/me", created.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "a@x.com"))

	rec = doJSON(t, router, "GET", "/tokens", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tokens []APIToken
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tokens))
	require.Len(t, tokens, 1)

	rec = doJSON(t, router, "DELETE", "/tokens/"+itoa(created.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// revoked: the same value no longer authenticates
	rec = doJSON(t, router, "GET", "/users/me", created.Token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, "DELETE", "/tokens/"+itoa(created.ID), token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, "POST", "/tokens", token, map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	app := newTestApp(t)
	router := app.routes()

	rec := doJSON(t, router, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
