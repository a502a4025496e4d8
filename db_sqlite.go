package main

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteDB is a file-backed Store. Timestamps are stored as unix seconds so
// round trips do not depend on driver time parsing.
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at INTEGER NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS api_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token_name TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			expires_at INTEGER NOT NULL,
			owner_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL);`,
		`CREATE INDEX IF NOT EXISTS idx_api_tokens_owner ON api_tokens(owner_id);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// sqliteErr translates driver errors into store error kinds.
func sqliteErr(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return errNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE") {
		return errConflict
	}
	return err
}

func (s *SQLiteDB) CreateUser(ctx context.Context, email, passwordHash string, role Role) (*User, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(email,password_hash,role,created_at) VALUES(?,?,?,?)`,
		email, passwordHash, string(role), now.Unix())
	if err != nil {
		return nil, sqliteErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Email: email, PasswordHash: passwordHash, Role: role, CreatedAt: now}, nil
}

func (s *SQLiteDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	var role string
	var created int64
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &created); err != nil {
		return nil, sqliteErr(err)
	}
	u.Role = Role(role)
	u.CreatedAt = time.Unix(created, 0)
	return &u, nil
}

func (s *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id,email,password_hash,role,created_at FROM users WHERE email = ?`, email))
}

func (s *SQLiteDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id,email,password_hash,role,created_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteDB) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,email,password_hash,role,created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		var u User
		var role string
		var created int64
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &created); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		u.CreatedAt = time.Unix(created, 0)
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *SQLiteDB) UpdateUserRole(ctx context.Context, id int64, role Role) (*User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, string(role), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errNotFound
	}
	return s.GetUserByID(ctx, id)
}

func (s *SQLiteDB) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNotFound
	}
	return nil
}

// DeleteUser removes the user and all their tokens in one transaction.
func (s *SQLiteDB) DeleteUser(ctx context.Context, id int64) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var u User
	var role string
	var created int64
	err = tx.QueryRowContext(ctx,
		`SELECT id,email,password_hash,role,created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &created)
	if err != nil {
		return nil, sqliteErr(err)
	}
	u.Role = Role(role)
	u.CreatedAt = time.Unix(created, 0)

	if _, err := tx.ExecContext(ctx, `DELETE FROM api_tokens WHERE owner_id = ?`, id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteDB) CreateAPIToken(ctx context.Context, ownerID int64, name, token string, expiresAt time.Time) (*APIToken, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_tokens(token_name,token,expires_at,owner_id,created_at) VALUES(?,?,?,?,?)`,
		name, token, expiresAt.Unix(), ownerID, now.Unix())
	if err != nil {
		return nil, sqliteErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &APIToken{ID: id, Name: name, Token: token, ExpiresAt: expiresAt, OwnerID: ownerID, CreatedAt: now}, nil
}

func (s *SQLiteDB) scanToken(row *sql.Row) (*APIToken, error) {
	var t APIToken
	var expires, created int64
	if err := row.Scan(&t.ID, &t.Name, &t.Token, &expires, &t.OwnerID, &created); err != nil {
		return nil, sqliteErr(err)
	}
	t.ExpiresAt = time.Unix(expires, 0)
	t.CreatedAt = time.Unix(created, 0)
	return &t, nil
}

func (s *SQLiteDB) GetAPITokenByID(ctx context.Context, id int64) (*APIToken, error) {
	return s.scanToken(s.db.QueryRowContext(ctx,
		`SELECT id,token_name,token,expires_at,owner_id,created_at FROM api_tokens WHERE id = ?`, id))
}

func (s *SQLiteDB) GetAPITokenByValue(ctx context.Context, token string) (*APIToken, error) {
	return s.scanToken(s.db.QueryRowContext(ctx,
		`SELECT id,token_name,token,expires_at,owner_id,created_at FROM api_tokens WHERE token = ?`, token))
}

func (s *SQLiteDB) ListAPITokens(ctx context.Context) ([]*APIToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,token_name,token,expires_at,owner_id,created_at FROM api_tokens ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []*APIToken
	for rows.Next() {
		var t APIToken
		var expires, created int64
		if err := rows.Scan(&t.ID, &t.Name, &t.Token, &expires, &t.OwnerID, &created); err != nil {
			return nil, err
		}
		t.ExpiresAt = time.Unix(expires, 0)
		t.CreatedAt = time.Unix(created, 0)
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

func (s *SQLiteDB) DeleteAPIToken(ctx context.Context, id int64) (*APIToken, error) {
	t, err := s.GetAPITokenByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
