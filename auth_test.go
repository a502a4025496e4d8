package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	jwtSecret = []byte("test-secret")
	return &App{
		DB:         NewMemoryDB(),
		SessionTTL: time.Hour,
		TokenTTL:   24 * time.Hour,
		limiter:    newLoginLimiter(1000),
	}
}

func mustCreateUser(t *testing.T, db Store, email, password string, role Role) *User {
	t.Helper()
	hash, err := hashPassword(password)
	require.NoError(t, err)
	u, err := db.CreateUser(context.Background(), email, hash, role)
	require.NoError(t, err)
	return u
}

func TestHashPassword(t *testing.T) {
	h1, err := hashPassword("s3cret")
	require.NoError(t, err)
	h2, err := hashPassword("s3cret")
	require.NoError(t, err)

	require.NotEqual(t, h1, h2, "salted hashes of the same password must differ")
	require.True(t, comparePassword(h1, "s3cret"))
	require.True(t, comparePassword(h2, "s3cret"))
	require.False(t, comparePassword(h1, "wrong"))
	require.False(t, comparePassword("not-a-bcrypt-digest", "s3cret"))
	require.False(t, comparePassword("", "s3cret"))
}

func TestSessionTokenRoundTrip(t *testing.T) {
	jwtSecret = []byte("test-secret")

	tok, err := issueSessionToken("a@x.com", time.Hour)
	require.NoError(t, err)

	subject, err := validateSessionToken(tok)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", subject)
}

func TestSessionTokenExpired(t *testing.T) {
	jwtSecret = []byte("test-secret")

	tok, err := issueSessionToken("a@x.com", -time.Minute)
	require.NoError(t, err)

	_, err = validateSessionToken(tok)
	require.Error(t, err)
}

func TestSessionTokenTampered(t *testing.T) {
	jwtSecret = []byte("test-secret")

	tok, err := issueSessionToken("a@x.com", time.Hour)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = validateSessionToken(tampered)
	require.Error(t, err)
}

func TestSessionTokenWrongSecret(t *testing.T) {
	jwtSecret = []byte("right-secret")
	tok, err := issueSessionToken("a@x.com", time.Hour)
	require.NoError(t, err)

	jwtSecret = []byte("wrong-secret")
	_, err = validateSessionToken(tok)
	require.Error(t, err)
}

func TestSessionTokenMalformed(t *testing.T) {
	jwtSecret = []byte("test-secret")
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		_, err := validateSessionToken(tok)
		require.Error(t, err, "token %q", tok)
	}
}

// API tokens are session-codec strings plus a token id; the codec refuses
// them so revocation by store deletion cannot be bypassed.
func TestValidateRejectsAPIToken(t *testing.T) {
	jwtSecret = []byte("test-secret")

	tok, err := mintAPIToken("a@x.com", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = validateSessionToken(tok)
	require.Error(t, err)
}

func TestMintAPITokenUnique(t *testing.T) {
	jwtSecret = []byte("test-secret")
	exp := time.Now().Add(time.Hour)

	t1, err := mintAPIToken("a@x.com", exp)
	require.NoError(t, err)
	t2, err := mintAPIToken("a@x.com", exp)
	require.NoError(t, err)
	require.NotEqual(t, t1, t2)
}

func TestAuthenticate(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	mustCreateUser(t, app.DB, "a@x.com", "P1", RoleAdmin)

	u, err := app.authenticate(ctx, "a@x.com", "P1")
	require.NoError(t, err)
	require.Equal(t, "a@x.com", u.Email)

	_, err = app.authenticate(ctx, "a@x.com", "wrong")
	require.ErrorIs(t, err, errUnauthenticated)

	// unknown email fails the same way as a wrong password
	_, err = app.authenticate(ctx, "nobody@x.com", "P1")
	require.ErrorIs(t, err, errUnauthenticated)
}

func TestResolveIdentitySession(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	mustCreateUser(t, app.DB, "a@x.com", "P1", RoleAdmin)

	tok, err := issueSessionToken("a@x.com", time.Hour)
	require.NoError(t, err)

	u, err := app.resolveIdentity(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", u.Email)

	_, err = app.resolveIdentity(ctx, "garbage")
	require.ErrorIs(t, err, errUnauthenticated)
}

func TestResolveIdentitySubjectGone(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	admin := mustCreateUser(t, app.DB, "a@x.com", "P1", RoleAdmin)

	tok, err := issueSessionToken("a@x.com", time.Hour)
	require.NoError(t, err)

	_, err = app.DB.DeleteUser(ctx, admin.ID)
	require.NoError(t, err)

	_, err = app.resolveIdentity(ctx, tok)
	require.ErrorIs(t, err, errUnauthenticated)
}

func TestResolveIdentityAPIToken(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	admin := mustCreateUser(t, app.DB, "a@x.com", "P1", RoleAdmin)

	tok, err := app.CreateAPIToken(ctx, admin, 0, "ci")
	require.NoError(t, err)

	u, err := app.resolveIdentity(ctx, tok.Token)
	require.NoError(t, err)
	require.Equal(t, admin.ID, u.ID)

	// deletion revokes the token even though the string is still signed
	_, err = app.DeleteAPIToken(ctx, admin, tok.ID)
	require.NoError(t, err)
	_, err = app.resolveIdentity(ctx, tok.Token)
	require.ErrorIs(t, err, errUnauthenticated)
}

func TestResolveIdentityExpiredAPIToken(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	admin := mustCreateUser(t, app.DB, "a@x.com", "P1", RoleAdmin)

	past := time.Now().Add(-time.Hour)
	value, err := mintAPIToken(admin.Email, past)
	require.NoError(t, err)
	_, err = app.DB.CreateAPIToken(ctx, admin.ID, "stale", value, past)
	require.NoError(t, err)

	_, err = app.resolveIdentity(ctx, value)
	require.ErrorIs(t, err, errUnauthenticated)
}
