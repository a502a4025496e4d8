package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresDB is the production Store. Schema comes from migrations/; the
// adapter relies on the UNIQUE constraints and the owner_id ON DELETE CASCADE
// defined there.
type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(); err != nil {
		d.Close()
		return nil, err
	}
	return &PostgresDB{db: d, dsn: dsn}, nil
}

// pgErr translates driver errors into store error kinds.
func pgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound
	}
	var perr *pq.Error
	if errors.As(err, &perr) && perr.Code == "23505" {
		return errConflict
	}
	return err
}

func (p *PostgresDB) CreateUser(ctx context.Context, email, passwordHash string, role Role) (*User, error) {
	u := &User{}
	var roleStr string
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO users(email,password_hash,role) VALUES($1,$2,$3)
		 RETURNING id,email,password_hash,role,created_at`,
		email, passwordHash, string(role)).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &roleStr, &u.CreatedAt)
	if err != nil {
		return nil, pgErr(err)
	}
	u.Role = Role(roleStr)
	return u, nil
}

func scanPGUser(row *sql.Row) (*User, error) {
	u := &User{}
	var roleStr string
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &roleStr, &u.CreatedAt); err != nil {
		return nil, pgErr(err)
	}
	u.Role = Role(roleStr)
	return u, nil
}

func (p *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanPGUser(p.db.QueryRowContext(ctx,
		`SELECT id,email,password_hash,role,created_at FROM users WHERE email = $1`, email))
}

func (p *PostgresDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanPGUser(p.db.QueryRowContext(ctx,
		`SELECT id,email,password_hash,role,created_at FROM users WHERE id = $1`, id))
}

func (p *PostgresDB) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id,email,password_hash,role,created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		u := &User{}
		var roleStr string
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &roleStr, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = Role(roleStr)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *PostgresDB) UpdateUserRole(ctx context.Context, id int64, role Role) (*User, error) {
	return scanPGUser(p.db.QueryRowContext(ctx,
		`UPDATE users SET role = $2 WHERE id = $1
		 RETURNING id,email,password_hash,role,created_at`, id, string(role)))
}

func (p *PostgresDB) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNotFound
	}
	return nil
}

// DeleteUser is a single statement; token cleanup rides on the foreign key
// cascade, so the whole delete is one database transaction.
func (p *PostgresDB) DeleteUser(ctx context.Context, id int64) (*User, error) {
	return scanPGUser(p.db.QueryRowContext(ctx,
		`DELETE FROM users WHERE id = $1
		 RETURNING id,email,password_hash,role,created_at`, id))
}

func (p *PostgresDB) CreateAPIToken(ctx context.Context, ownerID int64, name, token string, expiresAt time.Time) (*APIToken, error) {
	t := &APIToken{}
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO api_tokens(token_name,token,expires_at,owner_id) VALUES($1,$2,$3,$4)
		 RETURNING id,token_name,token,expires_at,owner_id,created_at`,
		name, token, expiresAt, ownerID).
		Scan(&t.ID, &t.Name, &t.Token, &t.ExpiresAt, &t.OwnerID, &t.CreatedAt)
	if err != nil {
		return nil, pgErr(err)
	}
	return t, nil
}

func scanPGToken(row *sql.Row) (*APIToken, error) {
	t := &APIToken{}
	if err := row.Scan(&t.ID, &t.Name, &t.Token, &t.ExpiresAt, &t.OwnerID, &t.CreatedAt); err != nil {
		return nil, pgErr(err)
	}
	return t, nil
}

func (p *PostgresDB) GetAPITokenByID(ctx context.Context, id int64) (*APIToken, error) {
	return scanPGToken(p.db.QueryRowContext(ctx,
		`SELECT id,token_name,token,expires_at,owner_id,created_at FROM api_tokens WHERE id = $1`, id))
}

func (p *PostgresDB) GetAPITokenByValue(ctx context.Context, token string) (*APIToken, error) {
	return scanPGToken(p.db.QueryRowContext(ctx,
		`SELECT id,token_name,token,expires_at,owner_id,created_at FROM api_tokens WHERE token = $1`, token))
}

func (p *PostgresDB) ListAPITokens(ctx context.Context) ([]*APIToken, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id,token_name,token,expires_at,owner_id,created_at FROM api_tokens ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []*APIToken
	for rows.Next() {
		t := &APIToken{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Token, &t.ExpiresAt, &t.OwnerID, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (p *PostgresDB) DeleteAPIToken(ctx context.Context, id int64) (*APIToken, error) {
	return scanPGToken(p.db.QueryRowContext(ctx,
		`DELETE FROM api_tokens WHERE id = $1
		 RETURNING id,token_name,token,expires_at,owner_id,created_at`, id))
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
