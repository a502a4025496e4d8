package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	cfg "github.com/example/idhub/internal/config"
)

const ssoStateCookie = "idhub_sso_state"

// ssoProvider is the relying-party side of the external identity provider.
// Users arriving through it end up as ordinary User records; the bearer-token
// model is unchanged.
type ssoProvider struct {
	verifier *oidc.IDTokenVerifier
	oauth2   *oauth2.Config
}

func newSSOProvider(ctx context.Context, c *cfg.Config) (*ssoProvider, error) {
	provider, err := oidc.NewProvider(ctx, c.OIDCIssuerURL)
	if err != nil {
		return nil, err
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: c.OIDCClientID})
	oc := &oauth2.Config{
		ClientID:     c.OIDCClientID,
		ClientSecret: c.OIDCClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  c.OIDCRedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	return &ssoProvider{verifier: verifier, oauth2: oc}, nil
}

// HandleSSOLogin redirects the browser to the identity provider.
// GET /login
func (a *App) HandleSSOLogin(w http.ResponseWriter, r *http.Request) {
	state, err := genToken(16)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ssoStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((5 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.sso.oauth2.AuthCodeURL(state), http.StatusFound)
}

// HandleSSOCallback exchanges the authorization code, verifies the ID token
// and issues a session token for the mapped user, provisioning the account on
// first login.
// GET /auth/callback
func (a *App) HandleSSOCallback(w http.ResponseWriter, r *http.Request) {
	state, err := r.Cookie(ssoStateCookie)
	if err != nil || state.Value == "" || r.URL.Query().Get("state") != state.Value {
		writeError(w, http.StatusBadRequest, "INVALID_STATE", "State mismatch")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing authorization code")
		return
	}

	oauth2Token, err := a.sso.oauth2.Exchange(r.Context(), code)
	if err != nil {
		writeServiceError(w, errUnauthenticated)
		return
	}
	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		writeServiceError(w, errUnauthenticated)
		return
	}
	idToken, err := a.sso.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		writeServiceError(w, errUnauthenticated)
		return
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil || claims.Email == "" {
		writeServiceError(w, errUnauthenticated)
		return
	}

	user, err := a.provisionSSOUser(r.Context(), claims.Email)
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

// provisionSSOUser maps a verified external identity onto a local account,
// creating one with an unguessable password on first login.
func (a *App) provisionSSOUser(ctx context.Context, email string) (*User, error) {
	user, err := a.DB.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, errNotFound) {
		return nil, err
	}
	random, err := genToken(32)
	if err != nil {
		return nil, err
	}
	hash, err := hashPassword(random)
	if err != nil {
		return nil, err
	}
	user, err = a.DB.CreateUser(ctx, email, hash, RoleUser)
	if errors.Is(err, errConflict) {
		// lost a provisioning race; the account exists now
		return a.DB.GetUserByEmail(ctx, email)
	}
	return user, err
}
