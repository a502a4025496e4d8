package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSQLiteTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	s, err := NewSQLiteDB(filepath.Join(t.TempDir(), "idhub_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.close() })
	return s
}

func TestSQLiteUsers(t *testing.T) {
	s := newSQLiteTestDB(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "a@x.com", "hash-1", RoleAdmin)
	require.NoError(t, err)
	require.NotZero(t, u.ID)

	_, err = s.CreateUser(ctx, "a@x.com", "hash-2", RoleUser)
	require.ErrorIs(t, err, errConflict)

	got, err := s.GetUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, RoleAdmin, got.Role)

	_, err = s.GetUserByEmail(ctx, "nobody@x.com")
	require.ErrorIs(t, err, errNotFound)

	updated, err := s.UpdateUserRole(ctx, u.ID, RoleUser)
	require.NoError(t, err)
	require.Equal(t, RoleUser, updated.Role)

	require.NoError(t, s.UpdateUserPassword(ctx, u.ID, "hash-3"))
	got, err = s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "hash-3", got.PasswordHash)

	require.ErrorIs(t, s.UpdateUserPassword(ctx, 99, "x"), errNotFound)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestSQLiteTokenCascade(t *testing.T) {
	s := newSQLiteTestDB(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "a@x.com", "hash", RoleUser)
	require.NoError(t, err)

	expires := time.Now().Add(time.Hour)
	t1, err := s.CreateAPIToken(ctx, u.ID, "one", "tok-one", expires)
	require.NoError(t, err)
	_, err = s.CreateAPIToken(ctx, u.ID, "two", "tok-two", expires)
	require.NoError(t, err)

	_, err = s.CreateAPIToken(ctx, u.ID, "dup", "tok-one", expires)
	require.ErrorIs(t, err, errConflict)

	byValue, err := s.GetAPITokenByValue(ctx, "tok-one")
	require.NoError(t, err)
	require.Equal(t, t1.ID, byValue.ID)
	require.WithinDuration(t, expires, byValue.ExpiresAt, time.Second)

	tokens, err := s.ListAPITokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	deleted, err := s.DeleteUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", deleted.Email)

	tokens, err = s.ListAPITokens(ctx)
	require.NoError(t, err)
	require.Empty(t, tokens)

	_, err = s.DeleteUser(ctx, u.ID)
	require.ErrorIs(t, err, errNotFound)

	_, err = s.DeleteAPIToken(ctx, t1.ID)
	require.ErrorIs(t, err, errNotFound)
}
