package main

import (
	"context"
	"errors"
	"time"
)

// Account and token management operations. Every method takes the already
// resolved actor, checks the policy, and only then touches the store, so a
// denied call leaves no observable side effect.

// ReadSelf returns the actor's own profile.
func (a *App) ReadSelf(ctx context.Context, actor *User) (*User, error) {
	if actor == nil || !authorize(actor, actionReadSelf, actor.ID) {
		return nil, errUnauthenticated
	}
	return actor, nil
}

func (a *App) CreateUser(ctx context.Context, actor *User, email, password string, role Role) (*User, error) {
	if !authorize(actor, actionCreateUser, 0) {
		return nil, errForbidden
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	return a.DB.CreateUser(ctx, email, hash, role)
}

func (a *App) ListUsers(ctx context.Context, actor *User) ([]*User, error) {
	if !authorize(actor, actionListUsers, 0) {
		return nil, errForbidden
	}
	return a.DB.ListUsers(ctx)
}

// DeleteUser removes a user and, through the store, every API token they own.
func (a *App) DeleteUser(ctx context.Context, actor *User, id int64) (*User, error) {
	if !authorize(actor, actionDeleteUser, id) {
		return nil, errForbidden
	}
	return a.DB.DeleteUser(ctx, id)
}

func (a *App) ChangeRole(ctx context.Context, actor *User, id int64, role Role) (*User, error) {
	if !authorize(actor, actionChangeRole, id) {
		return nil, errForbidden
	}
	return a.DB.UpdateUserRole(ctx, id, role)
}

// ChangePassword verifies the old password before storing a new hash. A wrong
// old password leaves the stored hash untouched.
func (a *App) ChangePassword(ctx context.Context, actor *User, id int64, oldPassword, newPassword string) (*User, error) {
	if !authorize(actor, actionChangePassword, id) {
		return nil, errForbidden
	}
	user, err := a.DB.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !comparePassword(user.PasswordHash, oldPassword) {
		return nil, errInvalidCredential
	}
	hash, err := hashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	if err := a.DB.UpdateUserPassword(ctx, id, hash); err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	return user, nil
}

// CreateAPIToken mints a signed token for ownerID (the actor when zero) with
// expiry now + the configured TTL. The token value is returned in full here
// and only here.
func (a *App) CreateAPIToken(ctx context.Context, actor *User, ownerID int64, name string) (*APIToken, error) {
	if !authorize(actor, actionCreateAPIToken, 0) {
		return nil, errForbidden
	}
	owner := actor
	if ownerID != 0 && ownerID != actor.ID {
		var err error
		owner, err = a.DB.GetUserByID(ctx, ownerID)
		if err != nil {
			return nil, err
		}
	}
	expiresAt := time.Now().Add(a.TokenTTL)
	value, err := mintAPIToken(owner.Email, expiresAt)
	if err != nil {
		return nil, err
	}
	tok, err := a.DB.CreateAPIToken(ctx, owner.ID, name, value, expiresAt)
	if errors.Is(err, errConflict) {
		// token id collision; one retry with a fresh mint
		if value, err = mintAPIToken(owner.Email, expiresAt); err != nil {
			return nil, err
		}
		return a.DB.CreateAPIToken(ctx, owner.ID, name, value, expiresAt)
	}
	return tok, err
}

func (a *App) ListAPITokens(ctx context.Context, actor *User) ([]*APIToken, error) {
	if !authorize(actor, actionListAPITokens, 0) {
		return nil, errForbidden
	}
	return a.DB.ListAPITokens(ctx)
}

func (a *App) DeleteAPIToken(ctx context.Context, actor *User, id int64) (*APIToken, error) {
	if !authorize(actor, actionDeleteAPIToken, 0) {
		return nil, errForbidden
	}
	return a.DB.DeleteAPIToken(ctx, id)
}
