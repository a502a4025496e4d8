package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// jwtSecret is process-wide signing key material, set once at startup and
// never logged.
var jwtSecret []byte

func genToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

// comparePassword reports whether p matches the bcrypt digest. A malformed
// digest compares as a mismatch.
func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

// issueSessionToken mints a signed bearer token carrying the subject email
// and an absolute expiry.
func issueSessionToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// mintAPIToken produces the opaque value of an API token: the same signed
// structure a session token uses, plus a random token id that makes every
// minted string unique.
func mintAPIToken(subject string, expiresAt time.Time) (string, error) {
	id, err := genToken(16)
	if err != nil {
		return "", err
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// validateSessionToken returns the subject of a valid session token. Why a
// token fails (malformed, bad signature, expired) only matters for logs;
// callers see a single failure. Tokens carrying a token id are API tokens and
// are honored only through the store, so deleting one revokes it.
func validateSessionToken(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" || claims.ID != "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// authenticate verifies email/password against the store. Unknown email and
// wrong password are indistinguishable to the caller.
func (a *App) authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := a.DB.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, errUnauthenticated
		}
		return nil, err
	}
	if !comparePassword(user.PasswordHash, password) {
		return nil, errUnauthenticated
	}
	return user, nil
}

// resolveIdentity maps a bearer token to a user. API tokens are checked
// against the store first: they are individually revocable, so presence in
// the store is part of their validity. Anything not found there is treated as
// a self-contained session token.
func (a *App) resolveIdentity(ctx context.Context, bearer string) (*User, error) {
	tok, err := a.DB.GetAPITokenByValue(ctx, bearer)
	switch {
	case err == nil:
		if time.Now().After(tok.ExpiresAt) {
			return nil, errUnauthenticated
		}
		owner, err := a.DB.GetUserByID(ctx, tok.OwnerID)
		if err != nil {
			if errors.Is(err, errNotFound) {
				return nil, errUnauthenticated
			}
			return nil, err
		}
		return owner, nil
	case !errors.Is(err, errNotFound):
		return nil, err
	}

	subject, err := validateSessionToken(bearer)
	if err != nil {
		return nil, errUnauthenticated
	}
	user, err := a.DB.GetUserByEmail(ctx, subject)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, errUnauthenticated
		}
		return nil, err
	}
	return user, nil
}
